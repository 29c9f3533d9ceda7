// Package sqlite implements the storage interface on a single-file SQLite
// database using the ncruces wasm driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/vw-ai/lifetrace/internal/storage"
)

const (
	// DefaultPoolSize bounds the connection pool when the config is silent.
	DefaultPoolSize = 10
	// MaxPoolSize is the hard cap regardless of configuration.
	MaxPoolSize = 100

	// poolAcquireTimeout bounds how long a caller may wait for a handle.
	poolAcquireTimeout = 30 * time.Second
)

// Store is the sqlite-backed storage implementation.
type Store struct {
	db   *sql.DB
	path string
	log  *slog.Logger
}

var _ storage.Storage = (*Store)(nil)

// connString builds the DSN with the pragmas every pooled handle needs:
// write-ahead log, normal synchronous, a generous page cache, in-memory temp
// storage, and foreign keys on.
func connString(path string) string {
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Add("_pragma", "cache_size(-64000)")
	q.Add("_pragma", "temp_store(MEMORY)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", int(poolAcquireTimeout.Milliseconds())))
	return "file:" + path + "?" + q.Encode()
}

// New opens (creating if necessary) the database at path, applies the schema
// idempotently, and runs pending migrations. poolSize <= 0 selects the
// default; values above MaxPoolSize are clamped.
func New(ctx context.Context, path string, poolSize int, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if poolSize > MaxPoolSize {
		poolSize = MaxPoolSize
	}

	db, err := sql.Open("sqlite3", connString(path))
	if err != nil {
		return nil, storage.Wrap(storage.ErrConnection, "open database", err)
	}
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize)
	db.SetConnMaxIdleTime(5 * time.Minute)

	// Validation round-trip; a handle that cannot answer SELECT 1 is
	// replaced by database/sql on the next acquire.
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, storage.Wrap(storage.ErrConnection, "validate connection", err)
	}

	s := &Store{db: db, path: path, log: log}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, storage.Wrap(storage.ErrSchema, "initialize schema", err)
	}
	if err := s.runMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Ping validates that the pool can serve a round-trip.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, poolAcquireTimeout)
	defer cancel()
	var one int
	if err := s.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
		return storage.Wrap(storage.ErrConnection, "ping", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

// UnderlyingDB exposes the pool for migration tooling and tests.
func (s *Store) UnderlyingDB() *sql.DB { return s.db }

// dbtx is the common surface of *sql.DB, *sql.Tx and *sql.Conn that the
// query helpers run against, so every operation works inside and outside an
// explicit transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// isLockTimeout reports whether err is a lock-acquire timeout worth a single
// retry. Any other failure propagates immediately.
func isLockTimeout(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// isUniqueConstraintError reports a UNIQUE violation, used to turn races on
// tag names into ErrConflict and to let racing creators read back the winner.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// RunInTransaction executes fn inside a single BEGIN IMMEDIATE transaction.
// The write lock is taken up front so concurrent writers serialize instead
// of deadlocking mid-transaction. Commit on nil return, rollback otherwise
// (including panics and context cancellation). Retries exactly once on a
// lock-acquire timeout.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx storage.Transaction) error) error {
	err := s.runTx(ctx, fn)
	if isLockTimeout(err) {
		s.log.Warn("transaction retry after lock timeout")
		err = s.runTx(ctx, fn)
	}
	return err
}

func (s *Store) runTx(ctx context.Context, fn func(tx storage.Transaction) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return storage.Wrap(storage.ErrConnection, "acquire connection", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return storage.Wrap(storage.ErrOperation, "begin transaction", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()

	tx := &txStore{q: conn}
	if err := fn(tx); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return storage.Wrap(storage.ErrOperation, "commit transaction", err)
	}
	committed = true
	return nil
}

// txStore satisfies storage.Transaction over a single pinned connection.
type txStore struct {
	q dbtx
}

var _ storage.Transaction = (*txStore)(nil)
