package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/guilhermegouw/relay/internal/db"
)

// ErrNotFound is returned when a session is not found.
var ErrNotFound = errors.New("session not found")

const sessionColumns = "id, title, model, created_at, updated_at"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	q db.Querier
}

// NewSQLiteStore creates a new SQLite-backed session store.
func NewSQLiteStore(q db.Querier) *SQLiteStore {
	return &SQLiteStore{q: q}
}

// WithTx returns a store bound to the given transaction.
func (s *SQLiteStore) WithTx(tx *sql.Tx) *SQLiteStore {
	return &SQLiteStore{q: tx}
}

// Create creates a new session with the given ID, title and model.
func (s *SQLiteStore) Create(ctx context.Context, id, title, model string) (*Session, error) {
	now := time.Now().UnixMilli()

	row := s.q.QueryRowContext(ctx,
		`INSERT INTO sessions (id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING `+sessionColumns,
		id, title, model, now, now)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// Upsert creates the session or overwrites its title and model.
func (s *SQLiteStore) Upsert(ctx context.Context, id, title, model string) (*Session, error) {
	now := time.Now().UnixMilli()

	row := s.q.QueryRowContext(ctx,
		`INSERT INTO sessions (id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title,
		   model = excluded.model,
		   updated_at = excluded.updated_at
		 RETURNING `+sessionColumns,
		id, title, model, now, now)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("upserting session: %w", err)
	}
	return sess, nil
}

// Ensure creates the session with the placeholder title if it does not
// exist yet. An existing session keeps its title and gets the new model.
func (s *SQLiteStore) Ensure(ctx context.Context, id, model string) (*Session, error) {
	now := time.Now().UnixMilli()

	row := s.q.QueryRowContext(ctx,
		`INSERT INTO sessions (id, title, model, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   model = excluded.model,
		   updated_at = excluded.updated_at
		 RETURNING `+sessionColumns,
		id, PlaceholderTitle, model, now, now)

	sess, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("ensuring session: %w", err)
	}
	return sess, nil
}

// Get retrieves a session by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Session, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}
	return sess, nil
}

// List returns all sessions, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	return scanSessions(rows)
}

// IDs returns the identifiers of all sessions.
func (s *SQLiteStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM sessions ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing session ids: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session ids: %w", err)
	}
	return ids, nil
}

// Search searches sessions by title keyword.
// Supports multi-word search: "calc limit" matches "Calculus Limits".
func (s *SQLiteStore) Search(ctx context.Context, keyword string) ([]*Session, error) {
	term := prepareSearchTerm(keyword)
	if term == "" {
		return s.List(ctx)
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions
		 WHERE title LIKE '%' || ? || '%' ESCAPE '\'
		 ORDER BY created_at DESC, rowid DESC`, term)
	if err != nil {
		return nil, fmt.Errorf("searching sessions: %w", err)
	}
	return scanSessions(rows)
}

// UpdateTitle updates the title of a session.
func (s *SQLiteStore) UpdateTitle(ctx context.Context, id, title string) error {
	if err := s.update(ctx, `UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, id); err != nil {
		return fmt.Errorf("updating session title: %w", err)
	}
	return nil
}

// UpdateModel updates the model of a session.
func (s *SQLiteStore) UpdateModel(ctx context.Context, id, model string) error {
	if err := s.update(ctx, `UPDATE sessions SET model = ?, updated_at = ? WHERE id = ?`, model, id); err != nil {
		return fmt.Errorf("updating session model: %w", err)
	}
	return nil
}

func (s *SQLiteStore) update(ctx context.Context, query, value, id string) error {
	res, err := s.q.ExecContext(ctx, query, value, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a session by ID. Deleting a missing session is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// prepareSearchTerm converts a search keyword for multi-word matching.
// "calc limit" becomes "calc%limit" to match titles containing both words.
// LIKE wildcards typed by the user match literally.
func prepareSearchTerm(keyword string) string {
	parts := strings.Fields(keyword)
	for i, p := range parts {
		parts[i] = likeEscaper.Replace(p)
	}
	return strings.Join(parts, "%")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var created, updated int64
	if err := row.Scan(&sess.ID, &sess.Title, &sess.Model, &created, &updated); err != nil {
		return nil, err
	}
	sess.CreatedAt = time.UnixMilli(created)
	sess.UpdatedAt = time.UnixMilli(updated)
	return &sess, nil
}

func scanSessions(rows *sql.Rows) ([]*Session, error) {
	defer rows.Close()

	sessions := []*Session{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return sessions, nil
}
