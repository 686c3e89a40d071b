// Package session provides chat session persistence.
package session

import (
	"context"
	"time"
)

// PlaceholderTitle is the title a session carries until its first
// successful reply gives it a real one.
const PlaceholderTitle = "New Chat"

// Session represents a conversation session.
type Session struct {
	ID        string    `json:"session_id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasPlaceholderTitle reports whether the session has not been renamed yet.
func (s *Session) HasPlaceholderTitle() bool {
	return s.Title == PlaceholderTitle
}

// Store defines the interface for session persistence.
type Store interface {
	// Create creates a new session. It fails if the ID already exists.
	Create(ctx context.Context, id, title, model string) (*Session, error)

	// Upsert creates the session or overwrites its title and model.
	Upsert(ctx context.Context, id, title, model string) (*Session, error)

	// Ensure creates the session with the placeholder title if absent,
	// otherwise it only updates the model.
	Ensure(ctx context.Context, id, model string) (*Session, error)

	// Get retrieves a session by ID.
	Get(ctx context.Context, id string) (*Session, error)

	// List returns all sessions ordered by created_at descending.
	List(ctx context.Context) ([]*Session, error)

	// IDs returns the identifiers of all sessions.
	IDs(ctx context.Context) ([]string, error)

	// Search searches sessions by title keyword.
	Search(ctx context.Context, keyword string) ([]*Session, error)

	// UpdateTitle updates the title of a session.
	UpdateTitle(ctx context.Context, id, title string) error

	// UpdateModel updates the model of a session.
	UpdateModel(ctx context.Context, id, model string) error

	// Delete removes a session by ID.
	Delete(ctx context.Context, id string) error
}
