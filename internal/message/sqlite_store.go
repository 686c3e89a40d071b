package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/guilhermegouw/relay/internal/db"
)

var (
	// ErrNotFound is returned when a message is not found.
	ErrNotFound = errors.New("message not found")

	// ErrInvalidTransition is returned when a state change would leave a
	// terminal state or target a non-terminal one.
	ErrInvalidTransition = errors.New("invalid message state transition")
)

const messageColumns = "id, session_id, role, content, state, created_at, updated_at"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	q db.Querier
}

// NewSQLiteStore creates a new SQLite-backed message store.
func NewSQLiteStore(q db.Querier) *SQLiteStore {
	return &SQLiteStore{q: q}
}

// WithTx returns a store bound to the given transaction.
func (s *SQLiteStore) WithTx(tx *sql.Tx) *SQLiteStore {
	return &SQLiteStore{q: tx}
}

// Create appends a message to a session.
func (s *SQLiteStore) Create(ctx context.Context, sessionID string, role Role, content string, state State) (*Message, error) {
	if !state.Valid() {
		return nil, fmt.Errorf("creating message: unknown state %q", state)
	}
	now := time.Now().UnixMilli()

	row := s.q.QueryRowContext(ctx,
		`INSERT INTO messages (session_id, role, content, state, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING `+messageColumns,
		sessionID, string(role), content, string(state), now, now)

	msg, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("creating message: %w", err)
	}
	return msg, nil
}

// Get retrieves a message by ID.
func (s *SQLiteStore) Get(ctx context.Context, id int64) (*Message, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return msg, nil
}

// ListBySession returns all messages for a session, oldest first.
func (s *SQLiteStore) ListBySession(ctx context.Context, sessionID string) ([]*Message, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ?
		 ORDER BY created_at ASC, id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing session messages: %w", err)
	}
	return scanMessages(rows)
}

// ListPending returns Pending messages created before the given time,
// oldest first.
func (s *SQLiteStore) ListPending(ctx context.Context, before time.Time) ([]*Message, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE state = ? AND created_at < ?
		 ORDER BY created_at ASC, id ASC`, string(StatePending), before.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("listing pending messages: %w", err)
	}
	return scanMessages(rows)
}

// Transition moves a Pending message to a terminal state. The update is
// conditional on the current state, so a message that already reached a
// terminal state is never rewritten.
func (s *SQLiteStore) Transition(ctx context.Context, id int64, to State) error {
	if !to.IsTerminal() {
		return fmt.Errorf("%w: target %q", ErrInvalidTransition, to)
	}

	res, err := s.q.ExecContext(ctx,
		`UPDATE messages SET state = ?, updated_at = ?
		 WHERE id = ? AND state = ?`,
		string(to), time.Now().UnixMilli(), id, string(StatePending))
	if err != nil {
		return fmt.Errorf("updating message state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating message state: %w", err)
	}
	if n == 1 {
		return nil
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.State, to)
}

// DeleteBySession removes all messages for a session.
func (s *SQLiteStore) DeleteBySession(ctx context.Context, sessionID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("deleting session messages: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var msg Message
	var role, state string
	var created, updated int64
	if err := row.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &state, &created, &updated); err != nil {
		return nil, err
	}
	msg.Role = Role(role)
	msg.State = State(state)
	msg.CreatedAt = time.UnixMilli(created)
	msg.UpdatedAt = time.UnixMilli(updated)
	return &msg, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}
	return msgs, nil
}
