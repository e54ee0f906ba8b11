package raft

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/hashicorp/raft"

	"github.com/cowsql/go-cowsql/apply"
	"github.com/cowsql/go-cowsql/internal/vfs"
	"github.com/cowsql/go-cowsql/replication"
)

// FSM adapts the follower apply path described in apply.Follower to
// hashicorp/raft's raft.FSM interface: every committed log entry is a
// replication.Entry, which Apply decodes and hands to the follower.
type FSM struct {
	follower *apply.Follower
}

// NewFSM wraps follower as a raft.FSM.
func NewFSM(follower *apply.Follower) *FSM {
	return &FSM{follower: follower}
}

// Apply implements raft.FSM. It is called once per committed log entry,
// strictly in log order, from Raft's single FSM-apply goroutine, which is
// exactly the concurrency assumption apply.Follower.Apply depends on.
func (f *FSM) Apply(log *raft.Log) interface{} {
	entry, err := replication.DecodeEntry(log.Data)
	if err != nil {
		return err
	}
	if err := f.follower.Apply(context.Background(), entry.Command); err != nil {
		return err
	}
	return nil
}

// snapshotDatabase is the on-disk snapshot representation of one
// database's main file: just enough to rebuild its page store from
// scratch. The WAL is not captured; the checkpoint step folded into
// apply.Follower.Apply keeps it short-lived, and a fresh WAL is always
// valid to start from after a restore.
type snapshotDatabase struct {
	Name     string   `json:"name"`
	PageSize int      `json:"page_size"`
	Pages    [][]byte `json:"pages"`
}

// Snapshot implements raft.FSM. It walks every database the follower
// knows about and captures its main file's pages verbatim, the way the
// teacher's example FSM captures its in-memory map.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	var dbs []snapshotDatabase
	for _, db := range f.follower.Databases() {
		snap, ok, err := captureDatabase(db)
		if err != nil {
			return nil, err
		}
		if ok {
			dbs = append(dbs, snap)
		}
	}
	return &fsmSnapshot{databases: dbs}, nil
}

func captureDatabase(db *apply.Database) (snapshotDatabase, bool, error) {
	main, err := db.Registry.Open(db.Name, 0)
	if err != nil {
		// Nothing written yet; there's nothing to capture.
		return snapshotDatabase{}, false, nil
	}
	defer db.Registry.Close(main)

	ps := main.PageSize()
	if ps == 0 {
		return snapshotDatabase{}, false, nil
	}

	n := int(main.Size() / int64(ps))
	pages := make([][]byte, n)
	for i := 0; i < n; i++ {
		buf := make([]byte, ps)
		if _, err := main.ReadAt(buf, int64(i)*int64(ps)); err != nil {
			return snapshotDatabase{}, false, fmt.Errorf("snapshot %s: read page %d: %w", db.Name, i+1, err)
		}
		pages[i] = buf
	}
	return snapshotDatabase{Name: db.Name, PageSize: ps, Pages: pages}, true, nil
}

// Restore implements raft.FSM, replacing the follower's current state
// wholesale with a previously captured snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var dbs []snapshotDatabase
	if err := json.NewDecoder(rc).Decode(&dbs); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	for _, snap := range dbs {
		db, ok := f.follower.Lookup(snap.Name)
		if !ok {
			continue
		}
		if err := restoreDatabase(db, snap); err != nil {
			return err
		}
	}
	return nil
}

func restoreDatabase(db *apply.Database, snap snapshotDatabase) error {
	main, err := db.Registry.Open(db.Name, vfs.FlagCreate|vfs.FlagMainDB)
	if err != nil {
		return fmt.Errorf("restore %s: open main db: %w", db.Name, err)
	}
	defer db.Registry.Close(main)

	if main.PageSize() != 0 {
		if err := main.Truncate(0); err != nil {
			return fmt.Errorf("restore %s: truncate main db: %w", db.Name, err)
		}
	}
	for i, page := range snap.Pages {
		if err := main.WriteAt(page, int64(i)*int64(snap.PageSize)); err != nil {
			return fmt.Errorf("restore %s: write page %d: %w", db.Name, i+1, err)
		}
	}
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot over a captured set of
// databases, following the teacher's JSON-encode-then-write pattern.
type fsmSnapshot struct {
	databases []snapshotDatabase
}

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		b, err := json.Marshal(s.databases)
		if err != nil {
			return err
		}
		if _, err := sink.Write(b); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *fsmSnapshot) Release() {}
