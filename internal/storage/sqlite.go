package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hazz-dev/newsdesk/internal/fetchstate"
	"github.com/hazz-dev/newsdesk/internal/probe"
	"github.com/hazz-dev/newsdesk/internal/widget"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS probes (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    phase       TEXT    NOT NULL CHECK(phase IN ('checking', 'healthy', 'unreachable')),
    message     TEXT    NOT NULL DEFAULT '',
    latency_ms  INTEGER NOT NULL,
    checked_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_probes_checked_at ON probes(checked_at DESC);

CREATE TABLE IF NOT EXISTS fetches (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    widget      TEXT    NOT NULL,
    phase       TEXT    NOT NULL CHECK(phase IN ('loading', 'error', 'empty', 'ready')),
    message     TEXT    NOT NULL DEFAULT '',
    fetched_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fetches_widget ON fetches(widget, fetched_at DESC);
`

// Probe is a stored connectivity probe.
type Probe struct {
	ID        int64     `json:"id"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	LatencyMs int64     `json:"latency_ms"`
	CheckedAt time.Time `json:"checked_at"`
}

// Fetch is a stored widget fetch outcome.
type Fetch struct {
	ID        int64     `json:"id"`
	Widget    string    `json:"widget"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	FetchedAt time.Time `json:"fetched_at"`
}

// DB wraps a SQLite database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite at %q: %w", path, err)
	}
	// one connection keeps ":memory:" databases shared across queries
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=5000",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertProbe persists a completed probe.
func (d *DB) InsertProbe(ctx context.Context, s probe.Status) error {
	checkedAt := s.CheckedAt
	if checkedAt.IsZero() {
		checkedAt = time.Now()
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO probes (phase, message, latency_ms, checked_at) VALUES (?, ?, ?, ?)`,
		string(s.Phase),
		s.Message,
		s.Latency.Milliseconds(),
		checkedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting probe: %w", err)
	}
	return nil
}

// LatestProbe returns the most recent probe, or nil if none.
func (d *DB) LatestProbe(ctx context.Context) (*Probe, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, phase, message, latency_ms, checked_at FROM probes ORDER BY checked_at DESC, id DESC LIMIT 1`,
	)
	p, err := scanProbe(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest probe: %w", err)
	}
	return p, nil
}

// ProbeHistory returns paginated probe history, newest first, plus the total count.
func (d *DB) ProbeHistory(ctx context.Context, limit, offset int) ([]Probe, int, error) {
	var total int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM probes`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting probes: %w", err)
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, phase, message, latency_ms, checked_at FROM probes ORDER BY checked_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("querying probe history: %w", err)
	}
	defer rows.Close()

	var probes []Probe
	for rows.Next() {
		p, err := scanProbe(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning probe row: %w", err)
		}
		probes = append(probes, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating probe rows: %w", err)
	}
	return probes, total, nil
}

// Availability returns the percentage of healthy probes among the last N.
func (d *DB) Availability(ctx context.Context, last int) (float64, error) {
	var total int
	var healthy sql.NullInt64
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*), SUM(CASE WHEN phase = 'healthy' THEN 1 ELSE 0 END)
		FROM (
			SELECT phase FROM probes ORDER BY checked_at DESC, id DESC LIMIT ?
		)
	`, last).Scan(&total, &healthy)
	if err != nil {
		return 0, fmt.Errorf("calculating availability: %w", err)
	}
	if total == 0 {
		return 0, nil
	}
	return float64(healthy.Int64) / float64(total) * 100, nil
}

// InsertFetch records a widget's settled state. Loading views are skipped.
func (d *DB) InsertFetch(ctx context.Context, v widget.View) error {
	if v.Phase == fetchstate.PhaseLoading {
		return nil
	}
	msg := v.ErrorMessage
	if v.Phase == fetchstate.PhaseEmpty {
		msg = v.EmptyMessage
	}
	_, err := d.db.ExecContext(ctx,
		`INSERT INTO fetches (widget, phase, message, fetched_at) VALUES (?, ?, ?, ?)`,
		v.Name,
		string(v.Phase),
		msg,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting fetch for %q: %w", v.Name, err)
	}
	return nil
}

// LatestFetches returns the most recent fetch outcome for each widget.
func (d *DB) LatestFetches(ctx context.Context) ([]Fetch, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, widget, phase, message, fetched_at
		FROM fetches
		WHERE id IN (
			SELECT MAX(id) FROM fetches GROUP BY widget
		)
		ORDER BY widget
	`)
	if err != nil {
		return nil, fmt.Errorf("querying latest fetches: %w", err)
	}
	defer rows.Close()

	var fetches []Fetch
	for rows.Next() {
		var f Fetch
		var fetchedAt string
		if err := rows.Scan(&f.ID, &f.Widget, &f.Phase, &f.Message, &fetchedAt); err != nil {
			return nil, fmt.Errorf("scanning fetch row: %w", err)
		}
		if f.FetchedAt, err = parseTime(fetchedAt); err != nil {
			return nil, err
		}
		fetches = append(fetches, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fetch rows: %w", err)
	}
	return fetches, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProbe(row scanner) (*Probe, error) {
	var p Probe
	var checkedAt string
	if err := row.Scan(&p.ID, &p.Phase, &p.Message, &p.LatencyMs, &checkedAt); err != nil {
		return nil, err
	}
	t, err := parseTime(checkedAt)
	if err != nil {
		return nil, err
	}
	p.CheckedAt = t
	return &p, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		// Fallback to RFC3339 without sub-second precision.
		t, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	return t, nil
}
