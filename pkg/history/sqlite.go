package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/everme/stockagent/pkg/errors"
)

// SQLiteStore persists conversation history in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) a SQLite database at path and ensures
// the schema. Use ":memory:" for an ephemeral store.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to open history database", err)
	}
	store, err := NewSQLiteStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLiteStore wraps an existing database handle and ensures the schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.Newf(errors.CodeInternal, "history db is nil")
	}
	if err := ensureHistorySchema(db); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to ensure history schema", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append adds a message to a session.
func (s *SQLiteStore) Append(ctx context.Context, sessionID string, msg Message) error {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.SessionID == "" {
		msg.SessionID = sessionID
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, sessionID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to append history message", err)
	}
	return nil
}

// Messages returns all messages for a session in insertion order.
func (s *SQLiteStore) Messages(ctx context.Context, sessionID string) ([]Message, error) {
	return s.query(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM conversation_messages
		WHERE session_id = ?
		ORDER BY created_at ASC, rowid ASC
	`, sessionID)
}

// Recent returns the last n messages for a session.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, n int) ([]Message, error) {
	messages, err := s.query(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM (
			SELECT id, session_id, role, content, created_at, rowid
			FROM conversation_messages
			WHERE session_id = ?
			ORDER BY created_at DESC, rowid DESC
			LIMIT ?
		)
		ORDER BY created_at ASC, rowid ASC
	`, sessionID, n)
	if err != nil {
		return nil, err
	}
	return messages, nil
}

// Clear removes all messages for a session.
func (s *SQLiteStore) Clear(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return errors.New(errors.CodeInternal, "failed to clear history", err)
	}
	return nil
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to query history", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var (
			msg     Message
			created sql.NullTime
		)
		if err := rows.Scan(&msg.ID, &msg.SessionID, &msg.Role, &msg.Content, &created); err != nil {
			return nil, errors.New(errors.CodeInternal, "failed to scan history row", err)
		}
		if created.Valid {
			msg.CreatedAt = created.Time
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to read history rows", err)
	}
	return messages, nil
}

func ensureHistorySchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversation_messages (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_conversation_session ON conversation_messages(session_id);
	`)
	return err
}

var _ Store = (*SQLiteStore)(nil)
