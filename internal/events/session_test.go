//nolint:goconst // Test files use literal strings for clarity.
package events

import (
	"errors"
	"testing"
	"time"
)

func TestSessionEventTypes(t *testing.T) {
	types := []SessionEventType{
		SessionEventCreated,
		SessionEventRenamed,
		SessionEventModelChanged,
		SessionEventDeleted,
	}

	seen := make(map[SessionEventType]bool)
	for _, typ := range types {
		if seen[typ] {
			t.Errorf("duplicate event type: %s", typ)
		}
		seen[typ] = true

		if string(typ) == "" {
			t.Error("event type should have non-empty string value")
		}
	}
}

func TestNewSessionCreatedEvent(t *testing.T) {
	before := time.Now()
	event := NewSessionCreatedEvent("session-123", "New Chat", "openai/gpt-4.1-mini")
	after := time.Now()

	if event.SessionID != "session-123" {
		t.Errorf("expected SessionID 'session-123', got %q", event.SessionID)
	}
	if event.Title != "New Chat" {
		t.Errorf("expected Title 'New Chat', got %q", event.Title)
	}
	if event.Model != "openai/gpt-4.1-mini" {
		t.Errorf("expected Model 'openai/gpt-4.1-mini', got %q", event.Model)
	}
	if event.Type != SessionEventCreated {
		t.Errorf("expected Type SessionEventCreated, got %q", event.Type)
	}
	if event.Timestamp.Before(before) || event.Timestamp.After(after) {
		t.Error("timestamp should be within test bounds")
	}
}

func TestNewSessionRenamedEvent(t *testing.T) {
	t.Run("carries new title", func(t *testing.T) {
		event := NewSessionRenamedEvent("s", "Arithmetic Question")
		if event.Type != SessionEventRenamed || event.Title != "Arithmetic Question" {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("handles special characters in title", func(t *testing.T) {
		title := "Session with 日本語 and émojis 🎉"
		event := NewSessionRenamedEvent("s", title)
		if event.Title != title {
			t.Errorf("expected Title %q, got %q", title, event.Title)
		}
	})
}

func TestNewSessionModelChangedEvent(t *testing.T) {
	event := NewSessionModelChangedEvent("s", "m2")
	if event.Type != SessionEventModelChanged || event.Model != "m2" {
		t.Errorf("unexpected event: %+v", event)
	}
	if event.Title != "" {
		t.Error("Title should be empty for model change events")
	}
}

func TestNewSessionDeletedEvent(t *testing.T) {
	event := NewSessionDeletedEvent("session-789")

	if event.SessionID != "session-789" {
		t.Errorf("expected SessionID 'session-789', got %q", event.SessionID)
	}
	if event.Type != SessionEventDeleted {
		t.Errorf("expected Type SessionEventDeleted, got %q", event.Type)
	}
}

func TestMessageEvents(t *testing.T) {
	t.Run("submitted", func(t *testing.T) {
		event := NewMessageSubmittedEvent(7, "s", "m1")
		if event.Type != MessageEventSubmitted || event.MessageID != 7 || event.Model != "m1" {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("completed carries duration", func(t *testing.T) {
		event := NewMessageCompletedEvent(7, "s", "m1", 2*time.Second)
		if event.Type != MessageEventCompleted || event.Duration != 2*time.Second {
			t.Errorf("unexpected event: %+v", event)
		}
		if event.Error != nil {
			t.Error("Error should be nil for completed events")
		}
	})

	t.Run("failed carries error", func(t *testing.T) {
		cause := errors.New("upstream down")
		event := NewMessageFailedEvent(7, "s", "m1", time.Second, cause)
		if event.Type != MessageEventFailed || !errors.Is(event.Error, cause) {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("skipped", func(t *testing.T) {
		event := NewMessageSkippedEvent(7, "s")
		if event.Type != MessageEventSkipped {
			t.Errorf("unexpected event: %+v", event)
		}
	})
}
