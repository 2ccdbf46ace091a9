package recent

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists the recent-items list in sqlite. Its methods block and
// belong on the background context.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (creating if needed) the database at path and applies
// migrations. A database locked by another process is retried with
// exponential backoff for a few seconds before giving up.
func Open(ctx context.Context, path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "recent-store"))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)

	operation := func() error {
		if err := db.PingContext(ctx); err != nil {
			return retryable(err)
		}
		return retryable(runMigrations(db))
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Second
	notify := func(err error, wait time.Duration) {
		log.Warn("recent store busy, retrying", slog.Any("error", err), slog.Duration("wait", wait))
	}
	if err := backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify); err != nil {
		db.Close()
		return nil, fmt.Errorf("open recent store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// retryable marks everything except sqlite lock contention as permanent.
func retryable(err error) error {
	if err == nil {
		return nil
	}
	var se sqlite3.Error
	if errors.As(err, &se) && (se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked) {
		return err
	}
	return backoff.Permanent(err)
}

func runMigrations(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := msqlite.WithInstance(db, &msqlite.Config{})
	if err != nil {
		return err
	}
	// m.Close would close db through the driver, so it is left open.
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	if err == migrate.ErrNoChange {
		return nil
	}
	return err
}

// Load returns the stored items, most recent first, and their revision.
func (s *Store) Load(ctx context.Context) ([]string, uint64, error) {
	var rev uint64
	if err := s.db.QueryRowContext(ctx, `SELECT revision FROM recent_meta WHERE id = 1`).Scan(&rev); err != nil {
		return nil, 0, fmt.Errorf("load revision: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, `SELECT path FROM recent_items ORDER BY position`)
	if err != nil {
		return nil, 0, fmt.Errorf("load items: %w", err)
	}
	defer rows.Close()

	var items []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, rev, rows.Err()
}

// Save replaces the stored list with items at revision. A save older than
// the stored revision is ignored, so saves finishing out of order never
// regress the list; the result reports whether it was written.
func (s *Store) Save(ctx context.Context, revision uint64, items []string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var current uint64
	if err := tx.QueryRowContext(ctx, `SELECT revision FROM recent_meta WHERE id = 1`).Scan(&current); err != nil {
		return false, fmt.Errorf("read revision: %w", err)
	}
	if revision <= current {
		s.log.Debug("skipping stale save", slog.Uint64("revision", revision), slog.Uint64("stored", current))
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM recent_items`); err != nil {
		return false, fmt.Errorf("clear items: %w", err)
	}
	for i, p := range items {
		if _, err := tx.ExecContext(ctx, `INSERT INTO recent_items (position, path) VALUES (?, ?)`, i, p); err != nil {
			return false, fmt.Errorf("insert %s: %w", p, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE recent_meta SET revision = ?, updated_at = ? WHERE id = 1`,
		revision, time.Now().UTC().Truncate(time.Second)); err != nil {
		return false, fmt.Errorf("write revision: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) Close() error { return s.db.Close() }
