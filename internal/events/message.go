package events

import (
	"time"
)

// MessageEventType represents message processing event types.
type MessageEventType string

// Message event type constants.
const (
	MessageEventSubmitted MessageEventType = "submitted"
	MessageEventCompleted MessageEventType = "completed"
	MessageEventFailed    MessageEventType = "failed"
	MessageEventSkipped   MessageEventType = "skipped"
)

// MessageEvent reports progress of a user message through the pipeline.
type MessageEvent struct { //nolint:govet // fieldalignment: preserving logical field order
	MessageID int64
	SessionID string
	Model     string
	Type      MessageEventType
	Timestamp time.Time

	Duration time.Duration // For Completed and Failed
	Error    error         // For Failed
}

// NewMessageSubmittedEvent creates an event for a message written Pending.
func NewMessageSubmittedEvent(messageID int64, sessionID, model string) MessageEvent {
	return MessageEvent{
		MessageID: messageID,
		SessionID: sessionID,
		Model:     model,
		Type:      MessageEventSubmitted,
		Timestamp: time.Now(),
	}
}

// NewMessageCompletedEvent creates an event for a successful reply.
func NewMessageCompletedEvent(messageID int64, sessionID, model string, took time.Duration) MessageEvent {
	return MessageEvent{
		MessageID: messageID,
		SessionID: sessionID,
		Model:     model,
		Type:      MessageEventCompleted,
		Timestamp: time.Now(),
		Duration:  took,
	}
}

// NewMessageFailedEvent creates an event for a message marked Failed.
func NewMessageFailedEvent(messageID int64, sessionID, model string, took time.Duration, err error) MessageEvent {
	return MessageEvent{
		MessageID: messageID,
		SessionID: sessionID,
		Model:     model,
		Type:      MessageEventFailed,
		Timestamp: time.Now(),
		Duration:  took,
		Error:     err,
	}
}

// NewMessageSkippedEvent creates an event for a duplicate job that found
// its message already processed.
func NewMessageSkippedEvent(messageID int64, sessionID string) MessageEvent {
	return MessageEvent{
		MessageID: messageID,
		SessionID: sessionID,
		Type:      MessageEventSkipped,
		Timestamp: time.Now(),
	}
}
