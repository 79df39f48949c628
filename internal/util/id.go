package util

import "github.com/google/uuid"

// NewID returns a random RFC 4122 identifier for conversations, messages and outputs.
func NewID() string {
	return uuid.NewString()
}
