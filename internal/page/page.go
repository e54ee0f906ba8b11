// Package page implements the in-memory page and WAL-frame store that
// backs every file known to the volatile VFS. Pages are addressed by
// 1-based page number and held in a dense, gap-free sequence.
package page

// FrameHeaderSize is the size in bytes of a WAL frame header.
const FrameHeaderSize = 24

// Page is one page's worth of storage. For pages belonging to a WAL file,
// Header and the dirty tracking fields are populated; for MAIN_DB pages
// they are left zero-valued.
type Page struct {
	// Buf holds the page payload. Always allocated, exactly PageSize bytes.
	Buf []byte

	// Header is the 24-byte WAL frame header, only meaningful on WAL pages.
	Header [FrameHeaderSize]byte

	// dirtyMask has one bit per byte of Buf, set when that byte has changed
	// since the last drain. Only allocated for WAL pages.
	dirtyMask []byte
	isWAL     bool
}

func newPage(pageSize int, wal bool) *Page {
	p := &Page{Buf: make([]byte, pageSize), isWAL: wal}
	if wal {
		p.dirtyMask = make([]byte, (pageSize+7)/8)
	}
	return p
}

// markDirty records that the half-open byte range [off, off+n) of Buf has
// changed since the last drain. A no-op on non-WAL pages.
func (p *Page) markDirty(off, n int) {
	if !p.isWAL {
		return
	}
	for i := off; i < off+n; i++ {
		p.dirtyMask[i/8] |= 1 << uint(i%8)
	}
}

// ClearDirty resets the dirty-byte tracking, called when a frame batch has
// been extracted and replicated.
func (p *Page) ClearDirty() {
	for i := range p.dirtyMask {
		p.dirtyMask[i] = 0
	}
}

// Store is a dense, 1-based sequence of pages belonging to a single file.
// Index i (0-based) always holds the page whose page number is i+1; there
// are never gaps.
type Store struct {
	pages    []*Page
	pageSize int
	wal      bool
}

// NewStore creates an empty page store for a file of the given kind.
// pageSize may be zero if it is not yet known; it is fixed by SetPageSize
// on first write.
func NewStore(wal bool) *Store {
	return &Store{wal: wal}
}

// PageSize returns the store's pinned page size, or zero if none has been
// set yet.
func (s *Store) PageSize() int { return s.pageSize }

// SetPageSize pins the page size. It is a contract violation to call this
// more than once with different values; callers are expected to check
// PageSize() == 0 first.
func (s *Store) SetPageSize(n int) { s.pageSize = n }

// Len returns the number of pages currently in the store.
func (s *Store) Len() int { return len(s.pages) }

// Get returns the page at 1-based page number n, or nil if it doesn't
// exist.
func (s *Store) Get(n int) *Page {
	if n < 1 || n > len(s.pages) {
		return nil
	}
	return s.pages[n-1]
}

// GetOrAppend returns the existing page at page number n, or appends a
// fresh zero-initialised page when n is exactly one past the current end.
// Any other n is a contract violation and returns false.
func (s *Store) GetOrAppend(n int) (*Page, bool) {
	if n < 1 {
		return nil, false
	}
	if n <= len(s.pages) {
		return s.pages[n-1], true
	}
	if n != len(s.pages)+1 {
		return nil, false
	}
	if s.pageSize == 0 {
		return nil, false
	}
	p := newPage(s.pageSize, s.wal)
	s.pages = append(s.pages, p)
	return p, true
}

// WriteAt copies data into the page at page number n, at the given
// in-page offset, growing the store by exactly one page if n is one past
// the end. It returns the page touched.
func (s *Store) WriteAt(n int, offset int, data []byte) (*Page, bool) {
	p, ok := s.GetOrAppend(n)
	if !ok {
		return nil, false
	}
	if offset < 0 || offset+len(data) > len(p.Buf) {
		return nil, false
	}
	copy(p.Buf[offset:], data)
	p.markDirty(offset, len(data))
	return p, true
}

// Truncate shrinks the store to exactly n pages, discarding the rest. n
// must not exceed the current length.
func (s *Store) Truncate(n int) bool {
	if n < 0 || n > len(s.pages) {
		return false
	}
	s.pages = s.pages[:n]
	return true
}

// ClearAllDirty resets dirty tracking on every page, used when draining a
// frame batch for replication.
func (s *Store) ClearAllDirty() {
	for _, p := range s.pages {
		p.ClearDirty()
	}
}
