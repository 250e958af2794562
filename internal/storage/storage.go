package storage

import (
	"context"
	"database/sql"
	"embed"
	"math"
	"strings"
	"time"

	"worldmachine/internal/errs"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

const (
	lockedRetries   = 3
	lockedBaseDelay = 100 * time.Millisecond
)

type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errs.Wrap(err)
	}
	// A single connection keeps :memory: databases coherent and serializes
	// writers inside the process.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(err)
	}
	if dbPath != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
			_ = db.Close()
			return nil, errs.Wrap(err)
		}
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return errs.Wrap(err)
	}
	return errs.Wrap(goose.Up(s.db, "migrations"))
}

// immediate runs fn inside BEGIN IMMEDIATE, retrying when SQLite reports
// the database as locked.
func (s *Store) immediate(ctx context.Context, fn func(conn *sql.Conn) error) error {
	var lastErr error
	for attempt := 0; attempt < lockedRetries; attempt++ {
		err := s.immediateOnce(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isLocked(err) || attempt == lockedRetries-1 {
			break
		}
		wait := time.Duration(float64(lockedBaseDelay) * math.Pow(2, float64(attempt)))
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return errs.Wrap(ctx.Err())
		}
	}
	return errs.Wrap(lastErr)
}

func (s *Store) immediateOnce(ctx context.Context, fn func(conn *sql.Conn) error) (err error) {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_, _ = conn.ExecContext(context.Background(), `ROLLBACK`)
		}
	}()

	if err = fn(conn); err != nil {
		return err
	}
	_, err = conn.ExecContext(ctx, `COMMIT`)
	return err
}

func isLocked(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "database is locked") || strings.Contains(message, "sqlite_busy")
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}
