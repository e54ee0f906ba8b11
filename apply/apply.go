// Package apply implements the follower side of replication: turning a
// committed frames command back into WAL frames and, on commit, flushing
// them into the main database via SQLite's own checkpoint mechanism.
package apply

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cowsql/go-cowsql/internal/errs"
	"github.com/cowsql/go-cowsql/internal/logging"
	"github.com/cowsql/go-cowsql/internal/vfs"
	"github.com/cowsql/go-cowsql/replication"
)

// DefaultCheckpointThreshold is the number of outstanding WAL frames after
// which a commit triggers a checkpoint, matching the Config default
// described in the public API.
const DefaultCheckpointThreshold = 1000

// Checkpointer is the subset of *sql.DB the apply path needs to trigger a
// checkpoint; a narrow interface so the apply path can be exercised
// without a live cgo SQLite connection.
type Checkpointer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Database is the per-database state the apply path needs: its
// checkpointer (for issuing the checkpoint pragma) and its VFS registry
// (for reaching the WAL and main-db files directly).
type Database struct {
	Name                string
	Registry            *vfs.Registry
	Checkpointer        Checkpointer
	CheckpointThreshold int
}

// Follower applies committed frames commands to their target databases.
// It holds no state of its own beyond the set of databases it was told
// about; determinism and idempotence live entirely in the VFS page
// stores it manipulates.
type Follower struct {
	databases map[string]*Database
}

// NewFollower creates an empty follower; call Register for each database
// this node hosts before calling Apply.
func NewFollower() *Follower {
	return &Follower{databases: make(map[string]*Database)}
}

// Register adds a database the follower should know how to apply commands
// for.
func (fo *Follower) Register(db *Database) {
	if db.CheckpointThreshold <= 0 {
		db.CheckpointThreshold = DefaultCheckpointThreshold
	}
	fo.databases[db.Name] = db
}

// Databases returns every database the follower is currently tracking,
// for use by the Raft FSM snapshot path.
func (fo *Follower) Databases() []*Database {
	out := make([]*Database, 0, len(fo.databases))
	for _, db := range fo.databases {
		out = append(out, db)
	}
	return out
}

// Lookup returns the named database, if registered.
func (fo *Follower) Lookup(name string) (*Database, bool) {
	db, ok := fo.databases[name]
	return db, ok
}

// Apply implements the five steps of the follower apply path against a
// committed frames command. It is always called from the single loop
// goroutine driving Raft FSM application, so no locking is needed here;
// the VFS registry itself is safe to call from that same goroutine.
func (fo *Follower) Apply(ctx context.Context, cmd *replication.Command) error {
	db, ok := fo.databases[cmd.Database]
	if !ok {
		return errs.Wrap(errs.KindProtocolViolation, fmt.Sprintf("apply: unknown database %q", cmd.Database), nil)
	}

	registry := db.Registry
	wal, err := registry.Open(cmd.Database+"-wal", vfs.FlagCreate|vfs.FlagWAL)
	if err != nil {
		return errs.Wrap(errs.KindProtocolViolation, "apply: open wal", err)
	}
	defer registry.Close(wal)
	main, err := registry.Open(cmd.Database, vfs.FlagCreate|vfs.FlagMainDB)
	if err != nil {
		return errs.Wrap(errs.KindProtocolViolation, "apply: open main db", err)
	}
	defer registry.Close(main)

	batch := cmd.Batch

	// Step 1: adopt the batch's page size if the WAL doesn't know one yet.
	if !wal.EnsurePageSize(batch.PageSize) {
		return errs.Wrap(errs.KindProtocolViolation, "apply: page size mismatch", nil)
	}
	wal.EnsureWALHeader(batch.PageSize)

	// Idempotence: compare the batch's starting frame index against the
	// WAL's current frame count. A batch entirely at or before the current
	// count was already applied; skip it outright. A batch that starts
	// exactly at the current count is the expected forward-progress case.
	// Anything else (a gap, or a batch starting mid-way through what's
	// already stored) is a protocol violation: Raft guarantees in-order,
	// exactly-once-eventually delivery of committed entries to this path.
	current := wal.FrameCount()
	switch {
	case batch.StartFrame+len(batch.Frames) <= current:
		logging.Debug("apply: skipping already-applied batch", logging.Ctx{"database": cmd.Database})
		return nil
	case batch.StartFrame == current:
		// Normal forward replay.
	case batch.StartFrame < current:
		return errs.Wrap(errs.KindProtocolViolation, "apply: batch overlaps applied frames without exact replay", nil)
	default:
		return errs.Wrap(errs.KindProtocolViolation, "apply: batch leaves a gap in the wal", nil)
	}

	// Step 2: a begin batch must not land on top of an uncommitted tail.
	if batch.IsBegin && !wal.LastFrameCommitted() {
		return errs.Wrap(errs.KindProtocolViolation, "apply: begin batch over uncommitted frames", nil)
	}

	// Step 3: copy each frame's header and payload into the WAL's page
	// store, in order. The last frame of a commit carries the database's
	// size in pages after the commit, the field a real SQLite reader
	// checks during recovery/checkpoint; it's the larger of whatever the
	// main db already held and the highest page number touched by any
	// frame in this WAL generation so far, or the truncation target when
	// this batch truncates.
	dbSize := wal.HighestPageNumber()
	for _, fr := range batch.Frames {
		if fr.PageNumber > dbSize {
			dbSize = fr.PageNumber
		}
	}
	if mainPages := uint32(mainPageCount(main)); mainPages > dbSize {
		dbSize = mainPages
	}
	if batch.IsTruncate {
		dbSize = batch.TruncatePages
	}

	for i, fr := range batch.Frames {
		var commit uint32
		if i == len(batch.Frames)-1 && batch.IsCommit {
			commit = dbSize
			if commit == 0 {
				commit = 1
			}
		}
		if !wal.ApplyFrame(batch.StartFrame+i+1, fr.PageNumber, commit, fr.Data) {
			return errs.Wrap(errs.KindProtocolViolation, "apply: frame out of sequence", nil)
		}
	}

	// Step 4: truncation marker.
	if batch.IsTruncate {
		if err := main.Truncate(int64(batch.TruncatePages) * int64(batch.PageSize)); err != nil {
			return errs.Wrap(errs.KindProtocolViolation, "apply: truncate main db", err)
		}
	}

	// Step 5: on commit, checkpoint lazily once the WAL has grown past the
	// configured threshold.
	if batch.IsCommit && wal.FrameCount() >= db.CheckpointThreshold {
		if _, err := db.Checkpointer.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			return errs.Wrap(errs.KindProtocolViolation, "apply: checkpoint", err)
		}
	}

	return nil
}

// mainPageCount returns the number of pages the main database file
// currently occupies, so a commit frame's dbSizeAfterCommit can be no
// smaller than what's already there (a batch may only touch a handful
// of pages near the start of a much larger database).
func mainPageCount(main *vfs.File) int {
	ps := main.PageSize()
	if ps == 0 {
		return 0
	}
	return int(main.Size() / int64(ps))
}
