package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-go-golems/bookchat/pkg/turnlog"
	"github.com/go-go-golems/bookchat/pkg/turnlog/serde"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const sqliteSessionsSchemaV1 = `
CREATE TABLE IF NOT EXISTS chat_sessions (
    session_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL DEFAULT '',
    title TEXT NOT NULL DEFAULT '',
    path TEXT NOT NULL DEFAULT '',
    turn_count INTEGER NOT NULL DEFAULT 0,
    created_at_ms INTEGER NOT NULL DEFAULT 0,
    updated_at_ms INTEGER NOT NULL DEFAULT 0,
    payload_json TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS chat_sessions_user ON chat_sessions (user_id, created_at_ms);
`

// SQLiteStore keeps one JSON snapshot per session row. The chat record columns are
// copies of snapshot fields used for listing.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("sqlite store: empty dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// SQLiteDSNForFile returns a DSN for a database file with WAL journaling.
func SQLiteDSNForFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("sqlite store: empty path")
	}
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path), nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(sqliteSessionsSchemaV1)
	return errors.Wrap(err, "sqlite store: migrate")
}

func (s *SQLiteStore) Save(ctx context.Context, l *turnlog.TurnLog) error {
	if l == nil || l.SessionID == "" {
		return fmt.Errorf("sqlite store: snapshot without session id")
	}
	payload, err := serde.ToJSON(l)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureOpen(); err != nil {
		return err
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO chat_sessions (session_id, user_id, title, path, turn_count, created_at_ms, updated_at_ms, payload_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    user_id = excluded.user_id,
    title = excluded.title,
    path = excluded.path,
    turn_count = excluded.turn_count,
    updated_at_ms = excluded.updated_at_ms,
    payload_json = excluded.payload_json`,
		l.SessionID,
		l.UserID,
		l.Title,
		l.Path,
		l.Len(),
		l.CreatedAt.UnixMilli(),
		time.Now().UnixMilli(),
		string(payload),
	)
	return errors.Wrapf(err, "sqlite store: save %s", l.SessionID)
}

func (s *SQLiteStore) Load(ctx context.Context, sessionID string) (*turnlog.TurnLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload_json FROM chat_sessions WHERE session_id = ?`, sessionID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "sqlite store: load %s", sessionID)
	}
	return serde.FromJSON([]byte(payload))
}

func (s *SQLiteStore) List(ctx context.Context, userID string) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	query := `SELECT session_id, user_id, title, path, turn_count, created_at_ms, updated_at_ms FROM chat_sessions`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY created_at_ms DESC, session_id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite store: list")
	}
	defer func() {
		_ = rows.Close()
	}()

	ret := []Summary{}
	for rows.Next() {
		var sum Summary
		var createdMs, updatedMs int64
		if err := rows.Scan(&sum.SessionID, &sum.UserID, &sum.Title, &sum.Path, &sum.Turns, &createdMs, &updatedMs); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.UnixMilli(createdMs).UTC()
		sum.UpdatedAt = time.UnixMilli(updatedMs).UTC()
		ret = append(ret, sum)
	}
	return ret, rows.Err()
}

// PutRaw writes a payload without checking it.
func (s *SQLiteStore) PutRaw(ctx context.Context, sessionID string, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_sessions (session_id, payload_json) VALUES (?, ?)`, sessionID, payload)
	return err
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *SQLiteStore) ensureOpen() error {
	if s.closed {
		return fmt.Errorf("sqlite store closed")
	}
	return nil
}

var _ Store = (*SQLiteStore)(nil)
