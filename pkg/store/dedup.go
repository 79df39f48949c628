package store

import (
	"time"

	"paper2slides/pkg/domain"
)

// DuplicateWindow is how close two identical messages must be to count as one.
const DuplicateWindow = 3 * time.Second

// IsDuplicateMessage reports whether incoming repeats existing.
//
// Assistant messages that share a non-empty ppt or poster URL are the same result.
// Otherwise two messages with the same role and content authored within
// DuplicateWindow of each other are treated as one submission delivered twice.
// This is a heuristic: a user who sends the same text twice inside the window
// loses the second copy. Swap this predicate for an idempotency key check if the
// backend starts issuing one.
func IsDuplicateMessage(existing, incoming domain.Message) bool {
	if incoming.Role == domain.RoleAssistant && existing.Role == domain.RoleAssistant {
		if sameNonEmpty(existing.PPTURL, incoming.PPTURL) || sameNonEmpty(existing.PosterURL, incoming.PosterURL) {
			return true
		}
	}
	if existing.Role != incoming.Role || existing.Content != incoming.Content {
		return false
	}
	if existing.Timestamp.IsZero() || incoming.Timestamp.IsZero() {
		return false
	}
	delta := existing.Timestamp.Sub(incoming.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta < DuplicateWindow
}

// IsDuplicateOutput reports whether two outputs point at the same artifact.
func IsDuplicateOutput(existing, incoming domain.GeneratedOutput) bool {
	return sameNonEmpty(existing.PPTURL, incoming.PPTURL) || sameNonEmpty(existing.PosterURL, incoming.PosterURL)
}

func sameNonEmpty(a, b string) bool {
	return a != "" && a == b
}

func containsDuplicateMessage(list []domain.Message, msg domain.Message) bool {
	for _, existing := range list {
		if IsDuplicateMessage(existing, msg) {
			return true
		}
	}
	return false
}

func containsDuplicateOutput(list []domain.GeneratedOutput, out domain.GeneratedOutput) bool {
	for _, existing := range list {
		if IsDuplicateOutput(existing, out) {
			return true
		}
	}
	return false
}
