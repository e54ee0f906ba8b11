// Package sqlite wires SQLite connections to the volatile VFS: per
// database, it registers a uniquely-named mattn/go-sqlite3 driver (so each
// database's connect-time pragmas can differ) and opens that database in
// WAL mode against a VFS name its caller has already registered.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cowsql/go-cowsql/internal/errs"
	"github.com/cowsql/go-cowsql/internal/vfs"
)

var registrationCounter uint64

// Conn is a single database's connection, opened against the node-wide
// volatile VFS registry shared by every database on this node and its own
// named go-sqlite3 driver registration.
type Conn struct {
	db       *sql.DB
	registry *vfs.Registry
	vfsName  string
}

// Open opens a fresh in-memory database called name, in WAL mode, with the
// given page size, against registry and its already-registered VFS name
// vfsName (both shared process-wide across every database this node
// hosts, per §3's Registry contract). pageSize must be a power of two
// between vfs.MinPageSize and vfs.MaxPageSize.
func Open(registry *vfs.Registry, vfsName, name string, pageSize int) (*Conn, error) {
	if !validPageSize(pageSize) {
		return nil, errs.Wrap(errs.KindInvalidConfig, "invalid page size", nil)
	}

	id := atomic.AddUint64(&registrationCounter, 1)
	driverName := fmt.Sprintf("cowsql-sqlite3-%d", id)

	sql.Register(driverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			if _, err := c.Exec(fmt.Sprintf("PRAGMA page_size=%d", pageSize), nil); err != nil {
				return err
			}
			if _, err := c.Exec("PRAGMA journal_mode=WAL", nil); err != nil {
				return err
			}
			if _, err := c.Exec("PRAGMA synchronous=OFF", nil); err != nil {
				return err
			}
			return nil
		},
	})

	dsn := fmt.Sprintf("file:%s?vfs=%s&_txlock=immediate", name, vfsName)
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindOutOfMemory, "open sqlite connection", err)
	}
	// Exactly one connection: this VFS and its registry are not safe for
	// concurrent use by independent *sql.DB pooled connections, and the
	// leader pipeline itself is the single writer.
	db.SetMaxOpenConns(1)

	return &Conn{db: db, registry: registry, vfsName: vfsName}, nil
}

func validPageSize(n int) bool {
	return n >= vfs.MinPageSize && n <= vfs.MaxPageSize && n&(n-1) == 0
}

// DB returns the underlying *sql.DB for issuing statements.
func (c *Conn) DB() *sql.DB { return c.db }

// Registry returns the volatile VFS registry backing this connection, for
// extracting frame batches out of its WAL file.
func (c *Conn) Registry() *vfs.Registry { return c.registry }

// Close closes the underlying connection. The VFS registration and its
// registry are node-wide (shared with every other database this node
// hosts) and outlive any single Conn; tearing down the whole registry here
// would destroy every other open database's pages too, so only this
// connection's own handle is released.
func (c *Conn) Close() error {
	return c.db.Close()
}

// retryDelay and maxRetries bound how long Transaction spends retrying a
// transaction that collides with SQLITE_BUSY from an internal checkpoint
// or schema lock, mirroring the busy-retry loop used around dqlite's own
// query helpers.
const (
	retryDelay = 2 * time.Millisecond
	maxRetries = 50
)

// Transaction runs fn inside a BEGIN IMMEDIATE/COMMIT bracket, retrying on
// SQLITE_BUSY, and rolling back on any other error or panic.
func Transaction(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < maxRetries; attempt++ {
		err = transactionOnce(ctx, db, fn)
		if !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}
	return err
}

func transactionOnce(ctx context.Context, db *sql.DB, fn func(context.Context, *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if ok := asSQLiteError(err, &sqliteErr); ok {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func asSQLiteError(err error, target *sqlite3.Error) bool {
	for err != nil {
		if se, ok := err.(sqlite3.Error); ok {
			*target = se
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
