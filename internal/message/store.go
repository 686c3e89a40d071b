package message

import (
	"context"
	"time"
)

// Store defines the interface for message persistence.
type Store interface {
	// Create appends a message to a session and returns it with its
	// store-assigned ID.
	Create(ctx context.Context, sessionID string, role Role, content string, state State) (*Message, error)

	// Get retrieves a message by ID.
	Get(ctx context.Context, id int64) (*Message, error)

	// ListBySession returns all messages for a session, oldest first.
	ListBySession(ctx context.Context, sessionID string) ([]*Message, error)

	// ListPending returns Pending messages created before the given time.
	ListPending(ctx context.Context, before time.Time) ([]*Message, error)

	// Transition moves a Pending message to a terminal state.
	Transition(ctx context.Context, id int64, to State) error

	// DeleteBySession removes all messages for a session.
	DeleteBySession(ctx context.Context, sessionID string) error
}
