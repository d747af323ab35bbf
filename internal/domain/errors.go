package domain

import "errors"

// Validation errors surfaced synchronously to the caller.
var (
	ErrInsufficientFunds           = errors.New("insufficient account funds")
	ErrNoPositionsAvailable        = errors.New("no positions available to sell")
	ErrNotEnoughAvailablePositions = errors.New("not enough available positions to sell")
	ErrInvalidExchange             = errors.New("invalid order exchange")
	ErrNotTradingTime              = errors.New("outside trading hours")
	ErrUserTerminated              = errors.New("account is terminated")
)

// ErrEntityDoesNotExist is returned by repositories and caches when a
// lookup finds nothing.
var ErrEntityDoesNotExist = errors.New("entity does not exist")

// Auth errors mapped to 401/403 by the HTTP layer.
var (
	ErrAuthHeaderNotFound = errors.New("authorization header not found")
	ErrWrongTokenFormat   = errors.New("wrong authorization token format")
	ErrInvalidTokenPrefix = errors.New("invalid authorization token prefix")
	ErrInvalidAuthToken   = errors.New("invalid authorization token")
	ErrInvalidUserID      = errors.New("invalid user id")
)
