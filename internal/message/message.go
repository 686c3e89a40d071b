// Package message provides chat message persistence and the message
// state machine.
package message

import (
	"fmt"
	"strings"
	"time"
)

// Role represents the role of a message sender.
type Role string

// Role constants.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole normalizes a role name. Roles are case-insensitive on input
// and always stored lower-case.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleUser, RoleAssistant:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// State is the processing state of a message.
type State string

// State constants.
const (
	StatePending   State = "Pending"
	StateCompleted State = "Completed"
	StateFailed    State = "Failed"
)

// IsTerminal reports whether no further transition is allowed from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	return s == StatePending || s.IsTerminal()
}

// CanTransition reports whether a message may move from one state to another.
// Only Pending messages move, and only to a terminal state.
func CanTransition(from, to State) bool {
	return from == StatePending && to.IsTerminal()
}

// Message represents a conversation message.
type Message struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	State     State     `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
