package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/boardlink/internal/filter"
	"github.com/dyluth/boardlink/pkg/events"

	_ "modernc.org/sqlite"
)

// DefaultArchiveLimit is how many events the archive keeps before trimming.
const DefaultArchiveLimit = 10000

const schemaSQL = `
CREATE TABLE IF NOT EXISTS events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	type       TEXT NOT NULL,
	source     TEXT NOT NULL,
	ts_ms      INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts_ms);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

// HistoryStore archives applied events in a sqlite database so history
// survives restarts and can be queried beyond the in-memory window.
type HistoryStore struct {
	db    *sql.DB
	limit int
}

// OpenHistory opens (creating if needed) the archive at path.
// limit <= 0 uses DefaultArchiveLimit.
func OpenHistory(path string, limit int) (*HistoryStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	for _, raw := range strings.Split(schemaSQL, ";") {
		stmt := strings.TrimSpace(raw)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrate: %w (statement=%q)", err, stmt)
		}
	}

	if limit <= 0 {
		limit = DefaultArchiveLimit
	}
	return &HistoryStore{db: db, limit: limit}, nil
}

// Close closes the database.
func (h *HistoryStore) Close() error {
	return h.db.Close()
}

// Append stores one event and trims the oldest rows beyond the limit.
// Re-appending an event with the same ID is a no-op.
func (h *HistoryStore) Append(ctx context.Context, evt events.Event) error {
	data, err := json.Marshal(evt.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}

	res, err := h.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO events (id, type, source, ts_ms, data) VALUES (?, ?, ?, ?, ?)`,
		evt.ID, string(evt.Type), evt.Source, evt.Timestamp.UnixMilli(), string(data))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	seq, err := res.LastInsertId()
	if err != nil || seq <= int64(h.limit) {
		return nil
	}
	if _, err := h.db.ExecContext(ctx, `DELETE FROM events WHERE seq <= ?`, seq-int64(h.limit)); err != nil {
		return fmt.Errorf("trim history: %w", err)
	}
	return nil
}

// Query returns archived events matching the criteria, oldest first.
// limit > 0 keeps only the most recent matches.
func (h *HistoryStore) Query(ctx context.Context, c filter.Criteria, limit int) ([]events.Event, error) {
	q := `SELECT id, type, source, ts_ms, data FROM events WHERE 1=1`
	var args []any
	if c.SinceTimestampMs > 0 {
		q += ` AND ts_ms >= ?`
		args = append(args, c.SinceTimestampMs)
	}
	if c.UntilTimestampMs > 0 {
		q += ` AND ts_ms <= ?`
		args = append(args, c.UntilTimestampMs)
	}
	if c.Source != "" {
		q += ` AND source = ?`
		args = append(args, c.Source)
	}
	q += ` ORDER BY seq ASC`

	rows, err := h.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			evt  events.Event
			typ  string
			tsMs int64
			data string
		)
		if err := rows.Scan(&evt.ID, &typ, &evt.Source, &tsMs, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Type = events.Type(typ)
		evt.Timestamp = time.UnixMilli(tsMs).UTC()
		if err := json.Unmarshal([]byte(data), &evt.Data); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", evt.ID, err)
		}
		if c.Matches(&evt) {
			out = append(out, evt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Count returns the number of archived events.
func (h *HistoryStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}
