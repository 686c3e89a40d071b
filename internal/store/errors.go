package store

import (
	"errors"

	"github.com/guilhermegouw/relay/internal/message"
	"github.com/guilhermegouw/relay/internal/session"
)

// Error is a persistence fault annotated with the gateway operation that
// hit it. Every error returned by Gateway is an *Error.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return "store: " + e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the session or message does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, session.ErrNotFound) || errors.Is(err, message.ErrNotFound)
}

// IsConflict reports whether err means a message was no longer Pending.
func IsConflict(err error) bool {
	return errors.Is(err, message.ErrInvalidTransition)
}
