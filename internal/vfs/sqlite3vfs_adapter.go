package vfs

import (
	"github.com/psanford/sqlite3vfs"

	"github.com/cowsql/go-cowsql/internal/errs"
)

// Adapter implements sqlite3vfs.VFS on top of a Registry, translating
// between SQLite's flag/lock vocabulary and our own. It is the only file
// in this package that imports the cgo-backed sqlite3vfs library; every
// other file in the package is pure Go and unit-tested without it.
type Adapter struct {
	registry *Registry
}

// NewAdapter wraps registry for registration with sqlite3vfs.RegisterVFS.
func NewAdapter(registry *Registry) *Adapter {
	return &Adapter{registry: registry}
}

func translateOpenFlags(flags sqlite3vfs.OpenFlag) OpenFlags {
	var out OpenFlags
	if flags&sqlite3vfs.OpenCreate != 0 {
		out |= FlagCreate
	}
	if flags&sqlite3vfs.OpenExclusive != 0 {
		out |= FlagExclusive
	}
	if flags&sqlite3vfs.OpenMainDB != 0 {
		out |= FlagMainDB
	}
	if flags&sqlite3vfs.OpenWAL != 0 {
		out |= FlagWAL
	}
	return out
}

func toSQLiteErr(err error) error {
	if err == nil {
		return nil
	}
	kind, ok := errs.KindOf(err)
	if !ok {
		return sqlite3vfs.CantOpenError
	}
	switch kind {
	case errs.KindNoSuchFile:
		return sqlite3vfs.CantOpenError
	case errs.KindAlreadyExists:
		return sqlite3vfs.CantOpenError
	case errs.KindTooManyFiles:
		return sqlite3vfs.CantOpenError
	case errs.KindBusy:
		return sqlite3vfs.BusyError
	default:
		return sqlite3vfs.IOError
	}
}

// Open implements sqlite3vfs.VFS.
func (a *Adapter) Open(name string, flags sqlite3vfs.OpenFlag) (sqlite3vfs.File, sqlite3vfs.OpenFlag, error) {
	f, err := a.registry.Open(name, translateOpenFlags(flags))
	if err != nil {
		return nil, 0, toSQLiteErr(err)
	}
	return &fileAdapter{registry: a.registry, file: f}, flags, nil
}

// Delete implements sqlite3vfs.VFS. dirSync is ignored: there is no
// directory to fsync in an in-memory VFS.
func (a *Adapter) Delete(name string, dirSync bool) error {
	if err := a.registry.Delete(name); err != nil {
		if isNoSuchFileErr(err) {
			// SQLite deletes journals speculatively; a missing file is not
			// an error worth surfacing.
			return nil
		}
		return toSQLiteErr(err)
	}
	return nil
}

func isNoSuchFileErr(err error) bool {
	kind, ok := errs.KindOf(err)
	return ok && kind == errs.KindNoSuchFile
}

// Access implements sqlite3vfs.VFS.
func (a *Adapter) Access(name string, flag sqlite3vfs.AccessFlag) (bool, error) {
	return a.registry.Access(name), nil
}

// FullPathname implements sqlite3vfs.VFS. Names in this VFS are already
// opaque keys with no filesystem meaning, so they pass through unchanged.
func (a *Adapter) FullPathname(name string) (string, error) {
	return name, nil
}

// fileAdapter implements sqlite3vfs.File (and its shared-memory extension)
// over a single *File. Locking is a no-op: every connection using this VFS
// lives in the same process and is already serialised by the registry's
// mutex and the leader pipeline's single-writer discipline, so there is no
// second process to lock against.
type fileAdapter struct {
	registry *Registry
	file     *File
}

func (fa *fileAdapter) Close() error {
	fa.registry.Close(fa.file)
	return nil
}

func (fa *fileAdapter) ReadAt(p []byte, off int64) (int, error) {
	short, err := fa.file.ReadAt(p, off)
	if err != nil {
		return 0, toSQLiteErr(err)
	}
	if short {
		// sqlite3vfs treats a short read as success; SQLite itself detects
		// EOF by content (e.g. a zeroed header), matching this VFS's
		// zero-fill-past-EOF contract.
		return len(p), nil
	}
	return len(p), nil
}

func (fa *fileAdapter) WriteAt(p []byte, off int64) (int, error) {
	if err := fa.file.WriteAt(p, off); err != nil {
		return 0, toSQLiteErr(err)
	}
	return len(p), nil
}

func (fa *fileAdapter) Truncate(size int64) error {
	return toSQLiteErr(fa.file.Truncate(size))
}

func (fa *fileAdapter) Sync(flag sqlite3vfs.SyncType) error {
	// Nothing to flush: content lives only in the page store until a
	// frame batch is extracted and handed to Raft.
	return nil
}

func (fa *fileAdapter) FileSize() (int64, error) {
	return fa.file.Size(), nil
}

func (fa *fileAdapter) Lock(elock sqlite3vfs.LockType) error   { return nil }
func (fa *fileAdapter) Unlock(elock sqlite3vfs.LockType) error { return nil }
func (fa *fileAdapter) CheckReservedLock() (bool, error)       { return false, nil }

func (fa *fileAdapter) SectorSize() int64 { return 4096 }

func (fa *fileAdapter) DeviceCharacteristics() sqlite3vfs.DeviceCharacteristic {
	return sqlite3vfs.IocapAtomic |
		sqlite3vfs.IocapSafeAppend |
		sqlite3vfs.IocapSequential
}

// FileControl implements the xFileControl hook sqlite3vfs exposes. It
// returns nil for every op: pragma arguments are not parsed and
// File.PragmaControl is not called, so page_size and journal_mode are not
// intercepted on this path.
func (fa *fileAdapter) FileControl(op int, arg []byte) error {
	return nil
}

// ShmMap, ShmLock, ShmUnmap and ShmBarrier implement the shared-memory
// extension sqlite3vfs exposes for WAL-mode connections. Locking across
// the shm array is, like file locking, a no-op for the same single-process
// reason.
func (fa *fileAdapter) ShmMap(region, size int, extend bool) ([]byte, error) {
	buf, err := fa.file.ShmMap(region, size, extend)
	if err != nil {
		return nil, toSQLiteErr(err)
	}
	return buf, nil
}

func (fa *fileAdapter) ShmLock(offset, n int, flags sqlite3vfs.ShmLockType) error {
	return nil
}

func (fa *fileAdapter) ShmUnmap(deleteFlag bool) {
	fa.file.ShmRelease()
}

func (fa *fileAdapter) ShmBarrier() {}
