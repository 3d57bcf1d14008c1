package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// busyTimeout is how long a writer waits for the snapshot database before
// failing with SQLITE_BUSY.
const busyTimeout = 5 * time.Second

// DB is the account's snapshot database (wallchat.db). It caches the
// conversation list and history checkpoints, and keeps user preferences.
type DB struct {
	*sql.DB
	path string
}

// Open opens the snapshot database at path, creating the account directory
// if needed. WAL lets control requests read snapshots while the receive loop
// writes them; writes take the lock up front so concurrent upserts queue on
// the busy timeout instead of failing mid-transaction.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

func dsn(path string) string {
	q := url.Values{}
	q.Set("_journal_mode", "WAL")
	q.Set("_busy_timeout", strconv.FormatInt(busyTimeout.Milliseconds(), 10))
	q.Set("_foreign_keys", "on")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}
