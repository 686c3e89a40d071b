// Package delivery gets a finished result back to the client that asked
// for it, either by push over a live connection or by letting the client
// poll storage.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/guilhermegouw/relay/internal/registry"
)

// ErrNoConnection means no live connection is registered for the session.
var ErrNoConnection = errors.New("no live connection for session")

// Frame types.
const (
	TypeMessage     = "message"
	TypeError       = "error"
	TypeTitleUpdate = "title_update"
)

// Notification is the frame sent to a client when a message finishes.
type Notification struct {
	Type    string `json:"type"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	Title   string `json:"title,omitempty"`
	Message string `json:"message,omitempty"`
}

// Reply builds a success frame.
func Reply(content, title string) Notification {
	return Notification{Type: TypeMessage, Role: "assistant", Content: content, Title: title}
}

// Failure builds an error frame.
func Failure(msg string) Notification {
	return Notification{Type: TypeError, Message: msg}
}

// TitleUpdate builds the frame announcing a renamed session.
func TitleUpdate(title string) Notification {
	return Notification{Type: TypeTitleUpdate, Title: title}
}

// Mode selects how a result is delivered.
type Mode string

// ModeAuto pushes when the session has a live connection and otherwise
// leaves the result for the client to poll.
const (
	ModeAuto Mode = "auto"
	ModePoll Mode = "poll"
	ModePush Mode = "push"
)

// ParseMode accepts "auto", "poll" and "push" in any case. An empty
// string is auto.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModePoll:
		return ModePoll, nil
	case ModePush:
		return ModePush, nil
	default:
		return "", fmt.Errorf("unknown delivery mode %q", s)
	}
}

// Channel delivers a notification for a session.
type Channel interface {
	Notify(ctx context.Context, sessionID string, n Notification) error
}

// Poll is the server half of the poll strategy. The client reads the
// result from storage, so there is nothing to send.
type Poll struct{}

// Notify implements Channel.
func (Poll) Notify(context.Context, string, Notification) error { return nil }

// Push writes notifications to the session's live connection.
type Push struct {
	conns  *registry.Registry
	logger *slog.Logger
}

// NewPush creates a push channel over conns.
func NewPush(conns *registry.Registry, logger *slog.Logger) *Push {
	if logger == nil {
		logger = slog.Default()
	}
	return &Push{conns: conns, logger: logger.With("component", "delivery")}
}

// Notify implements Channel. A session without a connection gets nothing;
// the frame is dropped and ErrNoConnection returned.
func (p *Push) Notify(_ context.Context, sessionID string, n Notification) error {
	conn, ok := p.conns.Lookup(sessionID)
	if !ok {
		p.logger.Info("dropping notification", "session_id", sessionID, "type", n.Type)
		return ErrNoConnection
	}
	if err := conn.Send(n); err != nil {
		p.logger.Warn("push failed", "session_id", sessionID, "error", err)
		return fmt.Errorf("pushing to session %s: %w", sessionID, err)
	}
	return nil
}

// Auto tries push and treats a missing connection as a polling client.
type Auto struct {
	Push Channel
}

// Notify implements Channel.
func (a Auto) Notify(ctx context.Context, sessionID string, n Notification) error {
	if a.Push == nil {
		return nil
	}
	err := a.Push.Notify(ctx, sessionID, n)
	if errors.Is(err, ErrNoConnection) {
		return nil
	}
	return err
}

// Router picks a channel by mode.
type Router struct {
	channels map[Mode]Channel
	fallback Channel
}

// NewRouter routes push jobs to push, auto jobs to Auto over push, and
// everything else to Poll.
func NewRouter(push Channel) *Router {
	return &Router{
		channels: map[Mode]Channel{ModePush: push, ModeAuto: Auto{Push: push}, ModePoll: Poll{}},
		fallback: Poll{},
	}
}

// For returns the channel for mode.
func (r *Router) For(mode Mode) Channel {
	if ch, ok := r.channels[mode]; ok && ch != nil {
		return ch
	}
	return r.fallback
}

// Notify delivers through the channel for mode.
func (r *Router) Notify(ctx context.Context, mode Mode, sessionID string, n Notification) error {
	return r.For(mode).Notify(ctx, sessionID, n)
}
