// Package store is the persistence gateway: every read and write of
// sessions and messages made by the server and the processor goes through
// it.
package store

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guilhermegouw/relay/internal/db"
	"github.com/guilhermegouw/relay/internal/events"
	"github.com/guilhermegouw/relay/internal/message"
	"github.com/guilhermegouw/relay/internal/pubsub"
	"github.com/guilhermegouw/relay/internal/session"
)

// Gateway wraps the session and message stores. Faults are logged and
// returned as *Error. Session changes are published on the hub.
type Gateway struct {
	db       *db.DB
	sessions *session.SQLiteStore
	messages *message.SQLiteStore
	hub      *pubsub.Hub
	logger   *slog.Logger
}

// New creates a gateway over an open database. hub may be nil.
func New(database *db.DB, hub *pubsub.Hub, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		db:       database,
		sessions: session.NewSQLiteStore(database.Conn()),
		messages: message.NewSQLiteStore(database.Conn()),
		hub:      hub,
		logger:   logger.With("component", "store"),
	}
}

func (g *Gateway) fail(op string, err error, attrs ...any) error {
	level := slog.LevelError
	if IsNotFound(err) || IsConflict(err) {
		level = slog.LevelDebug
	}
	g.logger.Log(context.Background(), level, "store operation failed",
		append([]any{"op", op, "error", err}, attrs...)...)
	return &Error{Op: op, Err: err}
}

func (g *Gateway) publishSession(t pubsub.EventType, ev events.SessionEvent) {
	if g.hub != nil {
		g.hub.Session.Publish(t, ev)
	}
}

func (g *Gateway) publishMessage(t pubsub.EventType, ev events.MessageEvent) {
	if g.hub != nil {
		g.hub.Message.Publish(t, ev)
	}
}

// NewSession creates a session with a fresh UUID and the placeholder title.
func (g *Gateway) NewSession(ctx context.Context, model string) (*session.Session, error) {
	sess, err := g.sessions.Create(ctx, uuid.New().String(), session.PlaceholderTitle, model)
	if err != nil {
		return nil, g.fail("new_session", err)
	}
	g.publishSession(pubsub.EventCreated, events.NewSessionCreatedEvent(sess.ID, sess.Title, sess.Model))
	return sess, nil
}

// UpsertSession creates the session or overwrites its title and model.
func (g *Gateway) UpsertSession(ctx context.Context, sessionID, title, model string) (*session.Session, error) {
	sess, err := g.sessions.Upsert(ctx, sessionID, title, model)
	if err != nil {
		return nil, g.fail("upsert_session", err, "session_id", sessionID)
	}
	g.publishSession(pubsub.EventUpdated, events.NewSessionModelChangedEvent(sess.ID, sess.Model))
	return sess, nil
}

// EnsureSession creates the session with the placeholder title if it does
// not exist, otherwise it only changes the model. A renamed title is kept.
func (g *Gateway) EnsureSession(ctx context.Context, sessionID, model string) (*session.Session, error) {
	sess, err := g.sessions.Ensure(ctx, sessionID, model)
	if err != nil {
		return nil, g.fail("ensure_session", err, "session_id", sessionID)
	}
	if sess.CreatedAt.Equal(sess.UpdatedAt) {
		g.publishSession(pubsub.EventCreated, events.NewSessionCreatedEvent(sess.ID, sess.Title, sess.Model))
	}
	return sess, nil
}

// GetSession returns one session. A missing session is an *Error wrapping
// session.ErrNotFound.
func (g *Gateway) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	sess, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, g.fail("get_session", err, "session_id", sessionID)
	}
	return sess, nil
}

// ListSessions returns all sessions, newest first.
func (g *Gateway) ListSessions(ctx context.Context) ([]*session.Session, error) {
	sessions, err := g.sessions.List(ctx)
	if err != nil {
		return nil, g.fail("list_sessions", err)
	}
	return sessions, nil
}

// SearchSessions returns sessions whose title matches keyword, newest first.
func (g *Gateway) SearchSessions(ctx context.Context, keyword string) ([]*session.Session, error) {
	sessions, err := g.sessions.Search(ctx, keyword)
	if err != nil {
		return nil, g.fail("search_sessions", err, "keyword", keyword)
	}
	return sessions, nil
}

// ListSessionIDs returns every session identifier.
func (g *Gateway) ListSessionIDs(ctx context.Context) ([]string, error) {
	ids, err := g.sessions.IDs(ctx)
	if err != nil {
		return nil, g.fail("list_session_ids", err)
	}
	return ids, nil
}

// RenameSession sets the title of a session.
func (g *Gateway) RenameSession(ctx context.Context, sessionID, title string) error {
	if err := g.sessions.UpdateTitle(ctx, sessionID, title); err != nil {
		return g.fail("rename_session", err, "session_id", sessionID)
	}
	g.publishSession(pubsub.EventUpdated, events.NewSessionRenamedEvent(sessionID, title))
	return nil
}

// SetSessionModel sets the model of a session.
func (g *Gateway) SetSessionModel(ctx context.Context, sessionID, model string) error {
	if err := g.sessions.UpdateModel(ctx, sessionID, model); err != nil {
		return g.fail("set_session_model", err, "session_id", sessionID)
	}
	g.publishSession(pubsub.EventUpdated, events.NewSessionModelChangedEvent(sessionID, model))
	return nil
}

// DeleteSession removes a session and its messages in one transaction,
// messages first.
func (g *Gateway) DeleteSession(ctx context.Context, sessionID string) error {
	err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := g.messages.WithTx(tx).DeleteBySession(ctx, sessionID); err != nil {
			return err
		}
		return g.sessions.WithTx(tx).Delete(ctx, sessionID)
	})
	if err != nil {
		return g.fail("delete_session", err, "session_id", sessionID)
	}
	g.publishSession(pubsub.EventDeleted, events.NewSessionDeletedEvent(sessionID))
	return nil
}

// AppendMessage adds a message to a session. A Pending user message is
// announced on the hub.
func (g *Gateway) AppendMessage(ctx context.Context, sessionID string, role message.Role, content string, state message.State) (*message.Message, error) {
	msg, err := g.messages.Create(ctx, sessionID, role, content, state)
	if err != nil {
		return nil, g.fail("append_message", err, "session_id", sessionID, "role", role)
	}
	if state == message.StatePending {
		model := ""
		if sess, err := g.sessions.Get(ctx, sessionID); err == nil {
			model = sess.Model
		}
		g.publishMessage(pubsub.EventCreated, events.NewMessageSubmittedEvent(msg.ID, sessionID, model))
	}
	return msg, nil
}

// GetMessage returns one message.
func (g *Gateway) GetMessage(ctx context.Context, id int64) (*message.Message, error) {
	msg, err := g.messages.Get(ctx, id)
	if err != nil {
		return nil, g.fail("get_message", err, "message_id", id)
	}
	return msg, nil
}

// ListMessages returns the history of a session, oldest first.
func (g *Gateway) ListMessages(ctx context.Context, sessionID string) ([]*message.Message, error) {
	msgs, err := g.messages.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, g.fail("list_messages", err, "session_id", sessionID)
	}
	return msgs, nil
}

// ListPending returns Pending messages created more than grace ago.
func (g *Gateway) ListPending(ctx context.Context, grace time.Duration) ([]*message.Message, error) {
	msgs, err := g.messages.ListPending(ctx, time.Now().Add(-grace))
	if err != nil {
		return nil, g.fail("list_pending", err)
	}
	return msgs, nil
}

// SetMessageState moves a Pending message to a terminal state. A message
// that is already terminal yields an error satisfying IsConflict.
func (g *Gateway) SetMessageState(ctx context.Context, messageID int64, state message.State) error {
	if err := g.messages.Transition(ctx, messageID, state); err != nil {
		return g.fail("set_message_state", err, "message_id", messageID, "state", state)
	}
	return nil
}

// CompleteMessage marks a Pending message Completed and stores the
// assistant reply, both or neither.
func (g *Gateway) CompleteMessage(ctx context.Context, messageID int64, sessionID, reply string) (*message.Message, error) {
	var assistant *message.Message
	err := g.db.WithTx(ctx, func(tx *sql.Tx) error {
		msgs := g.messages.WithTx(tx)
		if err := msgs.Transition(ctx, messageID, message.StateCompleted); err != nil {
			return err
		}
		var err error
		assistant, err = msgs.Create(ctx, sessionID, message.RoleAssistant, reply, message.StateCompleted)
		return err
	})
	if err != nil {
		return nil, g.fail("complete_message", err, "message_id", messageID, "session_id", sessionID)
	}
	return assistant, nil
}
