// Package events defines domain-specific event types for the pub/sub system.
package events

import "time"

// SessionEventType represents session-specific event types.
type SessionEventType string

// Session event type constants.
const (
	SessionEventCreated      SessionEventType = "created"
	SessionEventRenamed      SessionEventType = "renamed"
	SessionEventModelChanged SessionEventType = "model_changed"
	SessionEventDeleted      SessionEventType = "deleted"
)

// SessionEvent represents a session lifecycle event.
type SessionEvent struct {
	SessionID string
	Title     string
	Model     string
	Type      SessionEventType
	Timestamp time.Time
}

// NewSessionCreatedEvent creates a session created event.
func NewSessionCreatedEvent(id, title, model string) SessionEvent {
	return SessionEvent{
		SessionID: id,
		Title:     title,
		Model:     model,
		Type:      SessionEventCreated,
		Timestamp: time.Now(),
	}
}

// NewSessionRenamedEvent creates a session renamed event.
func NewSessionRenamedEvent(id, title string) SessionEvent {
	return SessionEvent{
		SessionID: id,
		Title:     title,
		Type:      SessionEventRenamed,
		Timestamp: time.Now(),
	}
}

// NewSessionModelChangedEvent creates a model change event.
func NewSessionModelChangedEvent(id, model string) SessionEvent {
	return SessionEvent{
		SessionID: id,
		Model:     model,
		Type:      SessionEventModelChanged,
		Timestamp: time.Now(),
	}
}

// NewSessionDeletedEvent creates a session deleted event.
func NewSessionDeletedEvent(id string) SessionEvent {
	return SessionEvent{
		SessionID: id,
		Type:      SessionEventDeleted,
		Timestamp: time.Now(),
	}
}
