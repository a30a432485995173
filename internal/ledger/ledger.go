// Package ledger keeps a SQLite history of every course/destination outcome.
package ledger

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const insertSQL = `INSERT INTO runs
	(course, destination, partner, status, rows_written, detail, started_at, elapsed_ms)
	VALUES (:course, :destination, :partner, :status, :rows_written, :detail, :started_at, :elapsed_ms)`

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000Z"

const (
	StatusOK     = "ok"
	StatusNoData = "no-data"
	StatusFailed = "failed"
)

type Entry struct {
	ID          int64         `db:"id"`
	Course      string        `db:"course"`
	Destination string        `db:"destination"`
	Partner     string        `db:"partner"`
	Status      string        `db:"status"`
	Rows        int           `db:"rows_written"`
	Detail      string        `db:"detail"`
	StartedAt   time.Time     `db:"-"`
	Elapsed     time.Duration `db:"-"`
}

// row is Entry as stored: times as text, durations in milliseconds.
type row struct {
	Entry
	Started   string `db:"started_at"`
	ElapsedMS int64  `db:"elapsed_ms"`
}

type Ledger struct {
	db *sqlx.DB
}

// Open creates the database file if needed and applies the schema.
func Open(path string) (*Ledger, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	// one writer; avoids SQLITE_BUSY between pooled connections
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) Record(ctx context.Context, e Entry) error {
	r := row{
		Entry:     e,
		Started:   e.StartedAt.UTC().Format(timeLayout),
		ElapsedMS: e.Elapsed.Milliseconds(),
	}
	if _, err := l.db.NamedExecContext(ctx, insertSQL, &r); err != nil {
		return fmt.Errorf("ledger: record %s/%s: %w", e.Course, e.Destination, err)
	}
	return nil
}

// Recent returns up to limit entries for course, newest first. An empty
// course lists every course.
func (l *Ledger) Recent(ctx context.Context, course string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []row
	err := l.db.SelectContext(ctx, &rows, `SELECT id, course, destination, partner, status, rows_written, detail, started_at, elapsed_ms
		FROM runs
		WHERE (? = '' OR course = ?)
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, course, course, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: query %s: %w", course, err)
	}

	out := make([]Entry, 0, len(rows))
	for _, r := range rows {
		e := r.Entry
		t, err := time.Parse(timeLayout, r.Started)
		if err != nil {
			return nil, fmt.Errorf("ledger: entry %d: %w", r.ID, err)
		}
		e.StartedAt = t
		e.Elapsed = time.Duration(r.ElapsedMS) * time.Millisecond
		out = append(out, e)
	}
	return out, nil
}
