// Package events provides the in-process event bus the trading engines
// communicate through.
package events

import (
	"time"
)

// EventType represents different event types
type EventType string

const (
	// Order lifecycle events, consumed by the persistence handlers
	OrderCreate       EventType = "ORDER_CREATE_EVENT"
	OrderUpdate       EventType = "ORDER_UPDATE_EVENT"
	OrderUpdateStatus EventType = "ORDER_UPDATE_STATUS_EVENT"
	OrderUpdateFrozen EventType = "ORDER_UPDATE_FROZEN_EVENT"

	// Settlement events
	StatementCreate  EventType = "STATEMENT_CREATE_EVENT"
	UserUpdateAssets EventType = "USER_UPDATE_ASSETS_EVENT"
	Unfreeze         EventType = "UNFREEZE_EVENT"

	// Session events
	MarketClose EventType = "MARKET_CLOSE_EVENT"
)

// Event represents a system event with typed data
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data,omitempty"`
}

// Handler processes one event. A non-nil error is logged by the bus and
// the event is still considered delivered; later handlers run regardless.
type Handler func(event *Event) error
