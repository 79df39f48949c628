package store

import (
	"errors"

	"paper2slides/pkg/domain"
)

// ErrConversationNotFound is returned when a conversation id is unknown to the store.
var ErrConversationNotFound = errors.New("conversation not found")

// Persister mirrors the conversation list to durable storage.
// Implementations receive snapshots that already have preview handles stripped.
type Persister interface {
	// Load returns conversations in display order (newest first).
	Load() ([]domain.Conversation, error)
	// Save replaces the stored list with convs.
	Save(convs []domain.Conversation) error
	// Clear removes every stored conversation.
	Clear() error
}

// ConversationPatch carries optional field updates for UpdateConversation.
type ConversationPatch struct {
	Title  *string
	Config *domain.GenerationConfig
}

// PreviewReleaser invalidates a process-local preview handle once a permanent URL exists.
type PreviewReleaser func(handle string)
