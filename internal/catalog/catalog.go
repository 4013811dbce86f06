// Package catalog persists update and asset records in SQLite.
//
// The catalog keeps two connection pools over one WAL database. The writer
// pool holds a single connection whose transactions begin IMMEDIATE, and a
// mutex owned by the Catalog serializes every write through it. The reader
// pool is query-only; each read runs in one deferred transaction, so it
// observes a single snapshot and never sees an update mid-insert.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, WAL-friendly

	"launchpad/internal/clock"
	appErrors "launchpad/internal/errors"
	"launchpad/internal/logging"
)

// DefaultFileName is the catalog database name inside the updates directory.
const DefaultFileName = "launchpad.db"

// ErrUpdateExists is returned when inserting an id that is already recorded.
var ErrUpdateExists = errors.New("update already exists")

const schema = `
CREATE TABLE IF NOT EXISTS updates (
	id               TEXT PRIMARY KEY,
	scope_key        TEXT NOT NULL DEFAULT '',
	manifest_blob    BLOB,
	runtime_version  TEXT NOT NULL,
	commit_time      INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	is_development   INTEGER NOT NULL DEFAULT 0,
	launch_asset_key TEXT NOT NULL,
	status           TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS assets (
	update_id       TEXT NOT NULL REFERENCES updates(id) ON DELETE CASCADE,
	key             TEXT NOT NULL,
	source_locator  TEXT NOT NULL DEFAULT '',
	local_path      TEXT NOT NULL DEFAULT '',
	hash            TEXT NOT NULL DEFAULT '',
	content_type    TEXT NOT NULL DEFAULT '',
	is_launch_asset INTEGER NOT NULL DEFAULT 0,
	position        INTEGER NOT NULL,
	status          TEXT NOT NULL,
	PRIMARY KEY (update_id, key)
);
CREATE INDEX IF NOT EXISTS assets_hash ON assets(hash);
CREATE TABLE IF NOT EXISTS asset_files (
	hash          TEXT PRIMARY KEY,
	local_path    TEXT NOT NULL,
	size          INTEGER NOT NULL,
	downloaded_at INTEGER NOT NULL
);
`

// Catalog is the durable store of update and asset records.
type Catalog struct {
	path    string
	writer  *sql.DB
	reader  *sql.DB
	writeMu sync.Mutex
	clock   clock.Clock
	log     logrus.FieldLogger
}

// Option configures a Catalog.
type Option func(*Catalog)

// WithLogger sets the logger used for catalog events.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Catalog) {
		if log != nil {
			c.log = log
		}
	}
}

// WithClock sets the clock used to stamp downloaded files.
func WithClock(clk clock.Clock) Option {
	return func(c *Catalog) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Open opens or creates the catalog at path and applies the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Catalog, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, catalogError("open catalog", errors.New("empty database path"))
	}
	c := &Catalog{
		path:  trimmed,
		clock: clock.Real(),
		log:   logging.New("catalog"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(filepath.Dir(trimmed), 0o755); err != nil {
		return nil, catalogError("create catalog directory", err)
	}

	writer, err := openDB(ctx, buildDSN(trimmed, false), 1)
	if err != nil {
		return nil, catalogError("open catalog writer", err)
	}
	if _, err := writer.ExecContext(ctx, schema); err != nil {
		_ = writer.Close()
		return nil, catalogError("apply catalog schema", err)
	}
	reader, err := openDB(ctx, buildDSN(trimmed, true), 4)
	if err != nil {
		_ = writer.Close()
		return nil, catalogError("open catalog reader", err)
	}
	c.writer = writer
	c.reader = reader
	c.log.WithField("path", trimmed).Debug("catalog opened")
	return c, nil
}

// Path returns the database file path.
func (c *Catalog) Path() string {
	return c.path
}

// Close releases both connection pools.
func (c *Catalog) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Join(c.reader.Close(), c.writer.Close())
}

// buildDSN creates a WAL DSN for the given path. Writer transactions take
// the write lock up front so they never fail on lock upgrade.
func buildDSN(dbPath string, readOnly bool) string {
	u := url.URL{
		Scheme: "file",
		Path:   filepath.ToSlash(dbPath),
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "synchronous(NORMAL)")
	if readOnly {
		q.Add("_pragma", "query_only(1)")
	} else {
		q.Set("_txlock", "immediate")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func openDB(ctx context.Context, dsn string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	return db, nil
}

// write runs fn in one immediate transaction under the write mutex.
func (c *Catalog) write(ctx context.Context, fn func(*sql.Tx) error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	tx, err := c.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit write: %w", err)
	}
	return nil
}

// read runs fn in one snapshot transaction.
func (c *Catalog) read(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := c.reader.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()
	return fn(tx)
}

func catalogError(msg string, err error) error {
	return appErrors.New(appErrors.CodeCatalog, msg, err)
}
