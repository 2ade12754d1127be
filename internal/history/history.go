// Package history keeps a local SQLite log of finished transfers, successful
// or not, for the "history" command.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, registers as "sqlite".
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const (
	dirPerms     = 0o700
	defaultLimit = 20
)

// Direction says which way bytes moved.
type Direction string

// Transfer directions.
const (
	Upload   Direction = "upload"
	Download Direction = "download"
)

// Entry is one finished transfer.
type Entry struct {
	ID         string
	Direction  Direction
	FileID     string
	Name       string
	Size       int64
	Chunks     int
	Target     string // local path, or "stream"/"text"/"buffer"
	URL        string
	Error      string // empty on success
	StartedAt  time.Time
	FinishedAt time.Time
}

// Failed reports whether the transfer ended in an error.
func (e *Entry) Failed() bool { return e.Error != "" }

// Filter narrows List. Zero values mean no restriction.
type Filter struct {
	Limit      int
	Direction  Direction
	FailedOnly bool
}

// Store is the history database. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	nowFunc func() time.Time
}

// Open opens (creating if needed) the history database at path and applies
// migrations. Pass MemoryPath for an in-memory database.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	dsn := path
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
			return nil, fmt.Errorf("history: creating directory for %s: %w", path, err)
		}

		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: opening database %s: %w", path, err)
	}

	// One connection: concurrent get workers serialize their inserts, and an
	// in-memory database lives only as long as its connection.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Debug("history database opened", slog.String("path", path))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("history: closing database: %w", err)
	}

	return nil
}

const sqlInsert = `INSERT INTO transfers
	(id, direction, file_id, name, size, chunks, target, url, error, started_at, finished_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// Record stores e, assigning an ID and FinishedAt when they are unset, and
// returns the stored entry.
func (s *Store) Record(ctx context.Context, e Entry) (Entry, error) {
	if e.Direction != Upload && e.Direction != Download {
		return Entry{}, fmt.Errorf("history: invalid direction %q", e.Direction)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	if e.FinishedAt.IsZero() {
		e.FinishedAt = s.nowFunc()
	}

	if e.StartedAt.IsZero() {
		e.StartedAt = e.FinishedAt
	}

	_, err := s.db.ExecContext(ctx, sqlInsert,
		e.ID, string(e.Direction), e.FileID, e.Name, e.Size, e.Chunks, e.Target, e.URL, e.Error,
		e.StartedAt.UnixNano(), e.FinishedAt.UnixNano(),
	)
	if err != nil {
		return Entry{}, fmt.Errorf("history: recording %s of %q: %w", e.Direction, e.Name, err)
	}

	s.logger.Debug("transfer recorded",
		slog.String("id", e.ID),
		slog.String("direction", string(e.Direction)),
		slog.String("name", e.Name),
		slog.Bool("failed", e.Failed()),
	)

	return e, nil
}

const sqlList = `SELECT id, direction, file_id, name, size, chunks, target, url, error, started_at, finished_at
	FROM transfers
	WHERE (? = '' OR direction = ?) AND (? = 0 OR error <> '')
	ORDER BY finished_at DESC, rowid DESC
	LIMIT ?`

// List returns the most recent entries first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	failedOnly := 0
	if f.FailedOnly {
		failedOnly = 1
	}

	rows, err := s.db.QueryContext(ctx, sqlList, string(f.Direction), string(f.Direction), failedOnly, limit)
	if err != nil {
		return nil, fmt.Errorf("history: listing transfers: %w", err)
	}
	defer rows.Close()

	var entries []Entry

	for rows.Next() {
		var (
			e                   Entry
			direction           string
			started, finishedAt int64
		)

		if err := rows.Scan(&e.ID, &direction, &e.FileID, &e.Name, &e.Size, &e.Chunks,
			&e.Target, &e.URL, &e.Error, &started, &finishedAt); err != nil {
			return nil, fmt.Errorf("history: scanning transfer row: %w", err)
		}

		e.Direction = Direction(direction)
		e.StartedAt = time.Unix(0, started)
		e.FinishedAt = time.Unix(0, finishedAt)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterating transfer rows: %w", err)
	}

	return entries, nil
}

// ErrNotFound is returned by Get for an unknown ID.
var ErrNotFound = errors.New("history: entry not found")

// Get returns the entry with the given ID.
func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT direction, file_id, name, size, chunks, target, url, error,
		started_at, finished_at FROM transfers WHERE id = ?`, id)

	var (
		e                   Entry
		direction           string
		started, finishedAt int64
	)

	err := row.Scan(&direction, &e.FileID, &e.Name, &e.Size, &e.Chunks, &e.Target, &e.URL, &e.Error,
		&started, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err != nil {
		return Entry{}, fmt.Errorf("history: reading entry %s: %w", id, err)
	}

	e.ID = id
	e.Direction = Direction(direction)
	e.StartedAt = time.Unix(0, started)
	e.FinishedAt = time.Unix(0, finishedAt)

	return e, nil
}

// Prune deletes all but the newest keep entries and reports how many rows
// were removed.
func (s *Store) Prune(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("history: invalid keep count %d", keep)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM transfers WHERE id NOT IN (
		SELECT id FROM transfers ORDER BY finished_at DESC, rowid DESC LIMIT ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("history: pruning: %w", err)
	}

	if n > 0 {
		s.logger.Info("history pruned", slog.Int64("removed", n), slog.Int("kept", keep))
	}

	return n, nil
}
