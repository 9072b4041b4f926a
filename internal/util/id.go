package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random hex id for request correlation.
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewMessageID returns a client-side id for a chat message.
func NewMessageID() string {
	return uuid.NewString()
}
