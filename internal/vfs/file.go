package vfs

import (
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/cowsql/go-cowsql/internal/errs"
	"github.com/cowsql/go-cowsql/internal/page"
)

const (
	walHeaderSize      = 32
	mainFirstWriteSize = 100
)

// shmRegion is one slot of a file's shared-memory array, grown one slot at
// a time and zero-initialised on allocation.
type shmRegion struct {
	buf []byte
}

// File is one entry in the registry: a filename, its content kind, its
// page store, and the bookkeeping the VFS needs to answer SQLite's calls.
//
// A File never holds a pointer to its WAL sibling (or, for a WAL file, to
// its main database). Siblings are re-resolved on demand by name, per the
// design note on avoiding dangling back-links.
type File struct {
	name string
	kind Kind

	pages *page.Store

	walHeader    [walHeaderSize]byte
	hasWALHeader bool

	shm     []*shmRegion
	shmRefs int

	openRefs int

	// drainedFrames is the number of WAL frames already handed off by
	// ExtractBatch; only meaningful for KindWAL files.
	drainedFrames int
}

func newFile(name string, kind Kind) *File {
	return &File{
		name:  name,
		kind:  kind,
		pages: page.NewStore(kind == KindWAL),
	}
}

// Name returns the file's registered name.
func (f *File) Name() string { return f.name }

// Kind returns the file's recognised content kind.
func (f *File) Kind() Kind { return f.kind }

// PageSize returns the file's pinned page size, or zero if none has been
// written yet.
func (f *File) PageSize() int { return f.pages.PageSize() }

// Size reports the file's logical size in bytes, as SQLite's xFileSize
// would.
func (f *File) Size() int64 {
	switch f.kind {
	case KindMainDB:
		return int64(f.pages.Len()) * int64(f.pages.PageSize())
	case KindWAL:
		if !f.hasWALHeader {
			return 0
		}
		n := int64(walHeaderSize)
		n += int64(f.pages.Len()) * int64(f.pages.PageSize()+page.FrameHeaderSize)
		return n
	default:
		return 0
	}
}

// ReadAt implements the VFS read contract of §4.1. A never-written region
// returns a zero-filled buffer and reports short, matching SQLite's
// expectation for reads past EOF.
func (f *File) ReadAt(buf []byte, offset int64) (short bool, err error) {
	switch f.kind {
	case KindOther:
		for i := range buf {
			buf[i] = 0
		}
		return true, nil
	case KindMainDB:
		return f.readMainDB(buf, offset)
	case KindWAL:
		return f.readWAL(buf, offset)
	default:
		return false, errs.ProtocolViolation
	}
}

func (f *File) readMainDB(buf []byte, offset int64) (bool, error) {
	ps := f.pages.PageSize()
	if ps == 0 {
		zero(buf)
		return true, nil
	}
	if offset%int64(ps) != 0 || len(buf) > ps {
		return false, errs.Wrap(errs.KindProtocolViolation, "misaligned main db read", nil)
	}
	pgno := int(offset/int64(ps)) + 1
	p := f.pages.Get(pgno)
	if p == nil {
		zero(buf)
		return true, nil
	}
	copy(buf, p.Buf[:len(buf)])
	return false, nil
}

func (f *File) readWAL(buf []byte, offset int64) (bool, error) {
	if offset == 0 && len(buf) == walHeaderSize {
		if !f.hasWALHeader {
			zero(buf)
			return true, nil
		}
		copy(buf, f.walHeader[:])
		return false, nil
	}

	ps := f.pages.PageSize()
	if ps == 0 {
		zero(buf)
		return true, nil
	}
	frameSize := ps + page.FrameHeaderSize
	rel := offset - walHeaderSize
	if rel < 0 {
		return false, errs.Wrap(errs.KindProtocolViolation, "wal read before header", nil)
	}
	idx := int(rel / int64(frameSize))
	within := int(rel % int64(frameSize))
	p := f.pages.Get(idx + 1)

	switch {
	case within == 0 && len(buf) == page.FrameHeaderSize:
		// Full frame header.
		if p == nil {
			zero(buf)
			return true, nil
		}
		copy(buf, p.Header[:])
		return false, nil
	case within == 16 && len(buf) == 8:
		// The checksum half of a frame header.
		if p == nil {
			zero(buf)
			return true, nil
		}
		copy(buf, p.Header[16:24])
		return false, nil
	case within == page.FrameHeaderSize && len(buf) == ps:
		// The page payload.
		if p == nil {
			zero(buf)
			return true, nil
		}
		copy(buf, p.Buf)
		return false, nil
	case within == 0 && len(buf) == frameSize:
		// A full frame (header + payload).
		if p == nil {
			zero(buf)
			return true, nil
		}
		copy(buf[:page.FrameHeaderSize], p.Header[:])
		copy(buf[page.FrameHeaderSize:], p.Buf)
		return false, nil
	default:
		return false, errs.Wrap(errs.KindProtocolViolation, "unrecognised wal read geometry", nil)
	}
}

func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}

// WriteAt implements the VFS write contract of §4.1.
func (f *File) WriteAt(data []byte, offset int64) error {
	switch f.kind {
	case KindOther:
		return nil
	case KindMainDB:
		return f.writeMainDB(data, offset)
	case KindWAL:
		return f.writeWAL(data, offset)
	default:
		return errs.ProtocolViolation
	}
}

func (f *File) writeMainDB(data []byte, offset int64) error {
	if f.pages.PageSize() == 0 {
		if offset != 0 || len(data) < mainFirstWriteSize {
			return errs.Wrap(errs.KindProtocolViolation, "first main db write must be the header", nil)
		}
		ps := parseMainPageSize(data)
		if !validPageSize(ps) {
			return errs.Wrap(errs.KindProtocolViolation, "invalid page size in main db header", nil)
		}
		f.pages.SetPageSize(ps)
	}
	ps := f.pages.PageSize()
	if offset%int64(ps) != 0 || len(data) != ps {
		return errs.Wrap(errs.KindProtocolViolation, "misaligned main db write", nil)
	}
	pgno := int(offset/int64(ps)) + 1
	_, ok := f.pages.WriteAt(pgno, 0, data)
	if !ok {
		return errs.Wrap(errs.KindProtocolViolation, "main db write past growable boundary", nil)
	}
	return nil
}

func (f *File) writeWAL(data []byte, offset int64) error {
	if offset == 0 && len(data) == walHeaderSize {
		ps := parseWALPageSize(data)
		if !validPageSize(ps) {
			return errs.Wrap(errs.KindProtocolViolation, "invalid page size in wal header", nil)
		}
		if f.pages.PageSize() != 0 && f.pages.PageSize() != ps {
			return errs.Wrap(errs.KindProtocolViolation, "wal page size mismatch", nil)
		}
		f.pages.SetPageSize(ps)
		copy(f.walHeader[:], data)
		f.hasWALHeader = true
		return nil
	}

	ps := f.pages.PageSize()
	if ps == 0 {
		return errs.Wrap(errs.KindProtocolViolation, "wal write before header", nil)
	}
	frameSize := ps + page.FrameHeaderSize
	rel := offset - walHeaderSize
	if rel < 0 {
		return errs.Wrap(errs.KindProtocolViolation, "wal write before header", nil)
	}
	idx := int(rel / int64(frameSize))
	within := int(rel % int64(frameSize))

	switch {
	case within == 0 && len(data) == page.FrameHeaderSize:
		p, ok := f.pages.GetOrAppend(idx + 1)
		if !ok {
			return errs.Wrap(errs.KindProtocolViolation, "wal frame header out of order", nil)
		}
		copy(p.Header[:], data)
		return nil
	case within == page.FrameHeaderSize && len(data) == ps:
		_, ok := f.pages.WriteAt(idx+1, 0, data)
		if !ok {
			return errs.Wrap(errs.KindProtocolViolation, "wal frame payload out of order", nil)
		}
		return nil
	default:
		return errs.Wrap(errs.KindProtocolViolation, "unrecognised wal write geometry", nil)
	}
}

func parseMainPageSize(header []byte) int {
	n := int(binary.BigEndian.Uint16(header[16:18]))
	if n == 1 {
		return MaxPageSize
	}
	return n
}

func parseWALPageSize(header []byte) int {
	return int(binary.BigEndian.Uint32(header[8:12]))
}

// Truncate implements the VFS truncate contract of §4.1. Only MAIN_DB (to
// any page-aligned size) and WAL (only to zero) are valid targets.
func (f *File) Truncate(size int64) error {
	switch f.kind {
	case KindOther:
		return nil
	case KindMainDB:
		ps := f.pages.PageSize()
		if ps == 0 {
			if size == 0 {
				return nil
			}
			return errs.Wrap(errs.KindProtocolViolation, "truncate of unwritten main db", nil)
		}
		if size%int64(ps) != 0 {
			return errs.Wrap(errs.KindProtocolViolation, "misaligned main db truncate", nil)
		}
		if !f.pages.Truncate(int(size / int64(ps))) {
			return errs.Wrap(errs.KindProtocolViolation, "main db truncate grows the file", nil)
		}
		return nil
	case KindWAL:
		if size != 0 {
			return errs.Wrap(errs.KindProtocolViolation, "non-zero wal truncation is unsupported", nil)
		}
		f.pages.Truncate(0)
		f.hasWALHeader = false
		f.walHeader = [walHeaderSize]byte{}
		return nil
	default:
		return errs.ProtocolViolation
	}
}

// PragmaControl implements the two pragmas intercepted by xFileControl:
// page_size=N and journal_mode=X. ok reports whether this call recognised
// and fully handled the pragma (in which case SQLITE_OK should be
// returned to SQLite); when ok is false and err is nil, the pragma should
// pass through (SQLITE_NOTFOUND). errMsg, when non-empty, is the pragma
// error string to place in the first fnctl argument slot.
func (f *File) PragmaControl(name, value string) (errMsg string, ok bool, err error) {
	switch strings.ToLower(name) {
	case "page_size":
		n, convErr := strconv.Atoi(value)
		if convErr != nil || !validPageSize(n) {
			return "invalid page size", true, errs.InvalidConfig
		}
		if cur := f.pages.PageSize(); cur != 0 && cur != n {
			return "page size cannot be changed", true, errs.InvalidConfig
		}
		f.pages.SetPageSize(n)
		return "", true, nil
	case "journal_mode":
		if !strings.EqualFold(value, "wal") {
			return "only wal journal mode is supported", true, errs.InvalidConfig
		}
		return "", true, nil
	default:
		return "", false, nil
	}
}

// ShmMap returns the region at the given index, allocating (and
// zero-initialising) it, and any intervening regions, on demand.
func (f *File) ShmMap(index, size int, extend bool) ([]byte, error) {
	for len(f.shm) <= index {
		if !extend {
			return nil, errs.Wrap(errs.KindProtocolViolation, "shm region not yet allocated", nil)
		}
		f.shm = append(f.shm, &shmRegion{buf: make([]byte, size)})
	}
	return f.shm[index].buf, nil
}

// ShmRetain/ShmRelease track the shm open-file refcount described in
// §3: the last release drops all regions.
func (f *File) ShmRetain() { f.shmRefs++ }

func (f *File) ShmRelease() {
	f.shmRefs--
	if f.shmRefs <= 0 {
		f.shm = nil
		f.shmRefs = 0
	}
}
