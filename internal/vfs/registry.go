// Package vfs implements the volatile VFS: a SQLite virtual file system
// that keeps the main database file, its WAL, and shared-memory regions
// entirely in process memory, so that pages and WAL frames can be
// intercepted before reaching disk and handed to the replication layer.
package vfs

import (
	"strings"
	"sync"

	"github.com/cowsql/go-cowsql/internal/errs"
)

// DefaultSlots is the default bounded slot count of a Registry, matching
// the teacher-scale core's "e.g. 64" figure from §3.
const DefaultSlots = 64

// Registry is the process-wide mapping from filename to File. A single
// mutex serialises every entry point, exactly as described in §3 and §5:
// no VFS code path may call back out while holding it.
type Registry struct {
	mu    sync.Mutex
	slots []*File
}

// NewRegistry creates an empty registry with the given bounded slot
// count. A count of zero uses DefaultSlots.
func NewRegistry(slots int) *Registry {
	if slots <= 0 {
		slots = DefaultSlots
	}
	return &Registry{slots: make([]*File, slots)}
}

// lookup returns the file registered under name, or nil. Callers must
// hold r.mu.
func (r *Registry) lookup(name string) *File {
	for _, f := range r.slots {
		if f != nil && f.name == name {
			return f
		}
	}
	return nil
}

// freeSlot returns the index of a free slot, or -1. Callers must hold
// r.mu.
func (r *Registry) freeSlot() int {
	for i, f := range r.slots {
		if f == nil {
			return i
		}
	}
	return -1
}

// Open implements the open contract of §4.1: lookup, optional creation,
// and refcount increment. A WAL file gets no stored link to its main
// database; SiblingMainDBPageSize resolves that by name. The returned
// File is an opaque handle; no raw pointer survives a later Delete.
func (r *Registry) Open(name string, flags OpenFlags) (*File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.lookup(name)
	create := flags.has(FlagCreate)
	exclusive := flags.has(FlagExclusive)

	if existing != nil {
		if create && exclusive {
			return nil, errs.AlreadyExists
		}
		existing.openRefs++
		return existing, nil
	}

	if !create {
		return nil, errs.NoSuchFile
	}

	slot := r.freeSlot()
	if slot < 0 {
		return nil, errs.TooManyFiles
	}

	f := newFile(name, kindOf(flags))
	f.openRefs = 1
	r.slots[slot] = f
	return f, nil
}

// Close decrements a file's open refcount. The file's content survives a
// close; it is destroyed only by Delete or by TeardownAll.
func (r *Registry) Close(f *File) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f.openRefs > 0 {
		f.openRefs--
	}
}

// Delete removes a file from the registry. It fails with Busy if the
// file is still open, and with NoSuchFile if it doesn't exist, per P5.
func (r *Registry) Delete(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, f := range r.slots {
		if f == nil || f.name != name {
			continue
		}
		if f.openRefs > 0 {
			return errs.Busy
		}
		r.slots[i] = nil
		return nil
	}
	return errs.NoSuchFile
}

// Access reports whether name is currently registered.
func (r *Registry) Access(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(name) != nil
}

// SiblingMainDBPageSize resolves a WAL file's companion MAIN_DB by
// stripping the "-wal" suffix and re-looking it up in the registry, per
// the weak-link design note: the WAL never stores a pointer to its
// sibling, since the main DB may be deleted and recreated independently.
// It returns (0, false) if the sibling doesn't exist or hasn't been
// written to yet.
func (r *Registry) SiblingMainDBPageSize(walName string) (int, bool) {
	mainName := strings.TrimSuffix(walName, "-wal")
	if mainName == walName {
		return 0, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	main := r.lookup(mainName)
	if main == nil || main.PageSize() == 0 {
		return 0, false
	}
	return main.PageSize(), true
}

// TeardownAll destroys every file in the registry regardless of
// refcount, for process-wide teardown.
func (r *Registry) TeardownAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.slots {
		r.slots[i] = nil
	}
}
