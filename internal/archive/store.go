package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fplust/bilibili-live-danmu/internal/dispatch"
	"github.com/fplust/bilibili-live-danmu/pkg/event"
)

var ErrClosed = errors.New("archive closed")

// DefaultRecentLimit caps Recent when the caller passes a non-positive limit.
const DefaultRecentLimit = 50

// MaxRecentLimit is the largest page Recent returns.
const MaxRecentLimit = 1000

// Store is a SQLite-backed event archive.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (or creates) the database at path. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db, now: time.Now}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id INTEGER NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		cmd TEXT NOT NULL,
		user_id INTEGER NOT NULL DEFAULT 0,
		username TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL DEFAULT '',
		amount INTEGER NOT NULL DEFAULT 0,
		value INTEGER NOT NULL DEFAULT 0,
		timestamp INTEGER NOT NULL,
		received_at INTEGER NOT NULL,
		payload BLOB
	);

	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind, id);
	CREATE INDEX IF NOT EXISTS idx_events_room ON events(room_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save inserts rec and returns its row id.
func (s *Store) Save(ctx context.Context, rec Record) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (room_id, session_id, kind, cmd, user_id, username, text,
			amount, value, timestamp, received_at, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RoomID, rec.SessionID, rec.Kind, rec.Cmd, rec.UserID, rec.Username, rec.Text,
		rec.Amount, rec.Value, rec.Timestamp, rec.ReceivedAt.UnixMilli(), []byte(rec.Payload),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save event: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit records, newest first. An empty kind matches all kinds.
func (s *Store) Recent(ctx context.Context, limit int, kind string) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	query := `
		SELECT id, room_id, session_id, kind, cmd, user_id, username, text,
			amount, value, timestamp, received_at, payload
		FROM events`
	args := []any{}
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec        Record
			receivedAt int64
			payload    []byte
		)
		if err := rows.Scan(&rec.ID, &rec.RoomID, &rec.SessionID, &rec.Kind, &rec.Cmd,
			&rec.UserID, &rec.Username, &rec.Text, &rec.Amount, &rec.Value,
			&rec.Timestamp, &receivedAt, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		rec.ReceivedAt = time.UnixMilli(receivedAt).UTC()
		rec.Payload = payload
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByKind returns the number of stored events per kind.
func (s *Store) CountByKind(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			kind string
			n    int64
		)
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}

// Handle implements dispatch.Sink. The room and session come from the
// dispatch Origin on ctx.
func (s *Store) Handle(ctx context.Context, ev event.Event) error {
	origin, _ := dispatch.OriginFrom(ctx)
	rec, err := NewRecord(origin.RoomID, origin.SessionID, ev, s.now())
	if err != nil {
		return fmt.Errorf("failed to flatten event: %w", err)
	}
	_, err = s.Save(ctx, rec)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}
