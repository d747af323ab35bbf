package domain

import (
	"encoding/hex"
	"regexp"

	"github.com/google/uuid"
)

var userIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{24}$`)

// NewUserID returns a fresh opaque 24-hex account identifier.
func NewUserID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:12])
}

// ValidUserID reports whether id has the 24-hex account id shape.
func ValidUserID(id string) bool {
	return userIDPattern.MatchString(id)
}

// NewEntrustID returns a fresh public order correlation key.
func NewEntrustID() string {
	return uuid.NewString()
}
