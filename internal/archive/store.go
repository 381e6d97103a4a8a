package archive

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"archivist/internal/logging"
)

//go:embed schema.sql
var schemaSQL string

// layoutVersion is the version of the archive's own tables. Partition tables
// evolve independently through the column registry.
const layoutVersion = 2

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
	defaultBusyTimeout      = 5 * time.Second
	lockRetryDelay          = 100 * time.Millisecond
)

// Options controls how an archive file is opened.
type Options struct {
	// ReadOnly skips the writer lock so existence checks can run while another
	// process ingests. Mutating calls return ErrReadOnly.
	ReadOnly bool
	// BusyTimeout is applied to every SQLite connection. Zero uses 5s.
	BusyTimeout time.Duration
	// LockWait is how long Open waits for another writer to release the
	// archive. Zero fails immediately.
	LockWait time.Duration
	Logger   *slog.Logger
}

// Store is one archive file. All mutating calls are serialized by mu and the
// flock keeps other processes from writing the same file.
type Store struct {
	db       *sql.DB
	path     string
	lock     *flock.Flock
	readOnly bool
	logger   *slog.Logger

	mu sync.Mutex
}

// Open creates or opens the archive at path. Every failure wraps
// ErrStoreUnavailable.
func Open(ctx context.Context, path string, opts Options) (*Store, error) {
	ctx = ensureContext(ctx)
	cleanPath := strings.TrimSpace(path)
	if cleanPath == "" {
		return nil, fmt.Errorf("%w: archive path must not be empty", ErrStoreUnavailable)
	}
	if info, err := os.Stat(cleanPath); err == nil && info.IsDir() {
		return nil, fmt.Errorf("%w: archive path %q is a directory", ErrStoreUnavailable, cleanPath)
	} else if err != nil && opts.ReadOnly {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	if !opts.ReadOnly {
		if dir := filepath.Dir(cleanPath); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("%w: create archive directory: %w", ErrStoreUnavailable, err)
			}
		}
	}

	store := &Store{
		path:     cleanPath,
		readOnly: opts.ReadOnly,
		logger:   logging.NewComponentLogger(opts.Logger, "archive"),
	}

	if !opts.ReadOnly {
		store.lock = flock.New(cleanPath + ".lock")
		if err := store.acquireLock(ctx, opts.LockWait); err != nil {
			return nil, err
		}
	}

	busy := opts.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	db, err := sql.Open("sqlite", dsn(cleanPath, busy))
	if err != nil {
		store.releaseLock()
		return nil, fmt.Errorf("%w: open sqlite db: %w", ErrStoreUnavailable, err)
	}
	store.db = db

	if err := db.PingContext(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("%w: ping sqlite db: %w", ErrStoreUnavailable, err)
	}
	if err := store.initSchema(ctx); err != nil {
		_ = store.Close()
		if errors.Is(err, ErrStoreUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	store.logger.Debug("archive opened",
		logging.Path(cleanPath),
		logging.Bool("read_only", opts.ReadOnly),
	)
	return store, nil
}

func dsn(path string, busy time.Duration) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)")
	return "file:" + path + "?" + q.Encode()
}

func (s *Store) acquireLock(ctx context.Context, wait time.Duration) error {
	var (
		ok  bool
		err error
	)
	if wait > 0 {
		lockCtx, cancel := context.WithTimeout(ctx, wait)
		defer cancel()
		ok, err = s.lock.TryLockContext(lockCtx, lockRetryDelay)
		if err != nil && errors.Is(err, context.DeadlineExceeded) {
			ok, err = false, nil
		}
	} else {
		ok, err = s.lock.TryLock()
	}
	if err != nil {
		return fmt.Errorf("%w: acquire writer lock: %w", ErrStoreUnavailable, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s is locked by another writer", ErrStoreUnavailable, s.path)
	}
	return nil
}

func (s *Store) releaseLock() {
	if s.lock == nil {
		return
	}
	if err := s.lock.Unlock(); err != nil {
		s.logger.Warn("failed to release archive lock",
			logging.Path(s.lock.Path()),
			logging.Error(err),
		)
	}
}

// Close closes the database connection and releases the writer lock.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	var err error
	if s.db != nil {
		err = s.db.Close()
		s.db = nil
	}
	s.releaseLock()
	return err
}

// Path returns the archive file location.
func (s *Store) Path() string {
	return s.path
}

// ReadOnly reports whether the store was opened without the writer lock.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='archive_layout_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check layout version table: %w", err)
	}

	if tableExists == 0 {
		if s.readOnly {
			return fmt.Errorf("%w: %s is not an initialized archive", ErrStoreUnavailable, s.path)
		}
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM archive_layout_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read layout version: %w", err)
	}
	switch {
	case version == layoutVersion:
		return nil
	case version < layoutVersion && !s.readOnly:
		return s.upgradeLayout(ctx, version)
	case version < layoutVersion:
		return fmt.Errorf("%w: archive has version %d; open it once for writing to upgrade", ErrLayoutMismatch, version)
	}
	return fmt.Errorf("%w: archive has version %d, expected %d", ErrLayoutMismatch, version, layoutVersion)
}

func (s *Store) createSchema(ctx context.Context) error {
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin schema tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO archive_layout_version (version) VALUES (?)", layoutVersion); err != nil {
			return fmt.Errorf("record layout version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit schema: %w", err)
		}
		return nil
	})
}

// writeTx runs fn in one transaction under the writer mutex, retrying the
// whole transaction when SQLite reports the database busy.
func (s *Store) writeTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if s.readOnly {
		return ErrReadOnly
	}
	if s.db == nil {
		return fmt.Errorf("%w: store is closed", ErrStoreUnavailable)
	}
	ctx = ensureContext(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()

	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("%w: begin tx: %w", ErrStoreUnavailable, err)
		}
		defer func() { _ = tx.Rollback() }()
		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit: %w", ErrStoreUnavailable, err)
		}
		return nil
	})
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
