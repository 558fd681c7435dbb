// Package sqlite implements a durable core.HistoryStore on SQLite using the
// pure-Go modernc.org/sqlite driver.
//
// Layout: one row per session metadata record and one row per message keyed
// by (session_id, seq). The primary key makes the log append-only in
// practice: a duplicate or lower seq can never be inserted. The database runs
// in WAL mode with synchronous=FULL so Append returns only after the commit is
// on disk.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/agentexchange/core"
	"github.com/hupe1980/agentexchange/history"
	"github.com/hupe1980/agentexchange/logging"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	backend_type     TEXT NOT NULL,
	target_id        TEXT NOT NULL,
	backend_handle   TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL,
	last_activity_at INTEGER NOT NULL,
	state            TEXT NOT NULL,
	tags             TEXT
);
CREATE TABLE IF NOT EXISTS messages (
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	seq        INTEGER NOT NULL,
	id         TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	blocks     TEXT,
	agent_name TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL,
	is_error   INTEGER NOT NULL DEFAULT 0,
	metadata   TEXT,
	PRIMARY KEY (session_id, seq)
);`

// Options configures the SQLite store.
type Options struct {
	// BusyTimeout bounds how long a writer waits on a locked database.
	BusyTimeout time.Duration
	Logger      logging.Logger
}

// Store is a durable HistoryStore backed by a single SQLite database file.
type Store struct {
	db     *sql.DB
	logger logging.Logger
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{BusyTimeout: 5 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	dsn := fmt.Sprintf("%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(%d)",
		path, opts.BusyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, durability("open", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY between
	// our own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, durability("ping", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, durability("migrate", err)
	}
	opts.Logger.Debug("sqlite history store opened", "path", path)
	return &Store{db: db, logger: opts.Logger}, nil
}

// SaveSession upserts the session metadata record.
func (s *Store) SaveSession(ctx context.Context, sess core.Session) error {
	if sess.ID == "" {
		return core.Errorf(core.KindInvalidInput, "save session", "session id is required")
	}
	tags, err := encodeJSON(sess.Tags)
	if err != nil {
		return durability("save session", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO sessions (id, backend_type, target_id, backend_handle, created_at, last_activity_at, state, tags)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	backend_handle = excluded.backend_handle,
	last_activity_at = excluded.last_activity_at,
	state = excluded.state,
	tags = excluded.tags`,
		sess.ID, string(sess.BackendType), sess.TargetID, sess.BackendHandle,
		sess.CreatedAt.UnixNano(), sess.LastActivityAt.UnixNano(), string(sess.State), tags)
	if err != nil {
		return durability("save session", err)
	}
	return nil
}

const sessionColumns = `id, backend_type, target_id, backend_handle, created_at, last_activity_at, state, tags`

// GetSession loads one metadata record.
func (s *Store) GetSession(ctx context.Context, id string) (core.Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Session{}, core.Errorf(core.KindNotFound, "get session", "session %s not found", id)
	}
	if err != nil {
		return core.Session{}, durability("get session", err)
	}
	return sess, nil
}

// ListSessions returns all metadata records ordered by creation time.
func (s *Store) ListSessions(ctx context.Context) ([]core.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions ORDER BY created_at, id`)
	if err != nil {
		return nil, durability("list sessions", err)
	}
	defer rows.Close()

	var out []core.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, durability("list sessions", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, durability("list sessions", err)
	}
	history.SortSessions(out)
	return out, nil
}

// Append writes msg inside a transaction that first checks the session exists
// and that msg.Order follows the last persisted order. It returns after commit.
func (s *Store) Append(ctx context.Context, sessionID string, msg core.Message) (err error) {
	blocks, err := encodeJSON(msg.Blocks)
	if err != nil {
		return durability("append", err)
	}
	meta, err := encodeJSON(msg.Metadata)
	if err != nil {
		return durability("append", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return durability("append", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err := s.requireSession(ctx, tx, "append", sessionID); err != nil {
		return err
	}
	var last sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(seq) FROM messages WHERE session_id = ?`, sessionID).Scan(&last); err != nil {
		return durability("append", err)
	}
	if err := history.CheckAppend(sessionID, last.Int64, msg); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO messages (session_id, seq, id, role, content, blocks, agent_name, ts, is_error, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sessionID, msg.Order, msg.ID, string(msg.Role), msg.Content, blocks, msg.AgentName,
		msg.Timestamp.UnixNano(), boolToInt(msg.IsError), meta)
	if err != nil {
		return durability("append", err)
	}
	if err := tx.Commit(); err != nil {
		return durability("append commit", err)
	}
	return nil
}

// Load returns the full ordered log of a session.
func (s *Store) Load(ctx context.Context, sessionID string) ([]core.Message, error) {
	if err := s.requireSession(ctx, s.db, "load", sessionID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT seq, id, role, content, blocks, agent_name, ts, is_error, metadata
FROM messages WHERE session_id = ? ORDER BY seq`, sessionID)
	if err != nil {
		return nil, durability("load", err)
	}
	defer rows.Close()

	out := []core.Message{}
	for rows.Next() {
		var (
			m            core.Message
			role         string
			blocks, meta sql.NullString
			ts           int64
			isError      int
		)
		if err := rows.Scan(&m.Order, &m.ID, &role, &m.Content, &blocks, &m.AgentName, &ts, &isError, &meta); err != nil {
			return nil, durability("load", err)
		}
		m.SessionID = sessionID
		m.Role = core.Role(role)
		m.Timestamp = time.Unix(0, ts).UTC()
		m.IsError = isError != 0
		if err := decodeJSON(blocks, &m.Blocks); err != nil {
			return nil, durability("load", err)
		}
		if err := decodeJSON(meta, &m.Metadata); err != nil {
			return nil, durability("load", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, durability("load", err)
	}
	return out, nil
}

// Clear permanently deletes a session's log and metadata. Irreversible.
func (s *Store) Clear(ctx context.Context, sessionID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return durability("clear", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE session_id = ?`, sessionID); err != nil {
		return durability("clear", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID)
	if err != nil {
		return durability("clear", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return core.Errorf(core.KindNotFound, "clear", "session %s not found", sessionID)
	}
	if err := tx.Commit(); err != nil {
		return durability("clear commit", err)
	}
	s.logger.Warn("session history cleared", "session_id", sessionID)
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) requireSession(ctx context.Context, q queryer, op, sessionID string) error {
	var one int
	err := q.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE id = ?`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Errorf(core.KindNotFound, op, "session %s not found", sessionID)
	}
	if err != nil {
		return durability(op, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (core.Session, error) {
	var (
		sess                core.Session
		backend, state      string
		created, lastActive int64
		tags                sql.NullString
	)
	if err := sc.Scan(&sess.ID, &backend, &sess.TargetID, &sess.BackendHandle, &created, &lastActive, &state, &tags); err != nil {
		return core.Session{}, err
	}
	sess.BackendType = core.BackendType(backend)
	sess.State = core.SessionState(state)
	sess.CreatedAt = time.Unix(0, created).UTC()
	sess.LastActivityAt = time.Unix(0, lastActive).UTC()
	if err := decodeJSON(tags, &sess.Tags); err != nil {
		return core.Session{}, err
	}
	return sess, nil
}

func encodeJSON[T any](v T) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	s := string(b)
	if s == "null" || s == "{}" || s == "[]" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: s, Valid: true}, nil
}

func decodeJSON(ns sql.NullString, dst any) error {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(ns.String), dst)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func durability(op string, err error) error {
	return core.NewError(core.KindDurabilityFailure, "sqlite "+op, err)
}
