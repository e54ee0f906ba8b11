package vfs

import (
	"github.com/cowsql/go-cowsql/internal/errs"
	"github.com/cowsql/go-cowsql/internal/page"
)

// FrameEntry is one (page-number, page-bytes) tuple inside a FrameBatch.
type FrameEntry struct {
	PageNumber uint32
	Data       []byte
}

// FrameBatch is the output of a leader transaction and the sole payload
// replicated by Raft for write transactions, per §3.
type FrameBatch struct {
	PageSize int
	// StartFrame is the WAL frame count (0-based) at the moment this batch
	// was extracted, i.e. the index of the first frame in Frames. A
	// follower compares this against its own WAL's current frame count to
	// detect a batch it has already applied, per the idempotence
	// requirement on replay after a crash restart.
	StartFrame int
	// IsBegin marks the first frame batch of a new transaction.
	IsBegin bool
	Frames  []FrameEntry
	// IsTruncate and TruncatePages describe a main-db truncation that
	// accompanies this batch (e.g. from a VACUUM); TruncatePages is only
	// meaningful when IsTruncate is set.
	IsTruncate    bool
	TruncatePages uint32
	IsCommit      bool
}

// ExtractBatch returns the frames written to the WAL file since the last
// extraction (or since the WAL was last drained), and reports whether the
// last of them carries the commit marker. isBegin should be true when the
// caller's database has no other batch in flight for this WAL, i.e. this
// is the first batch of a new transaction.
//
// ExtractBatch does not itself drain the WAL; callers call Drain once the
// batch has been durably handed off (submitted to Raft), so that an
// aborted statement whose batch was never submitted can be retried
// without losing frames.
func (f *File) ExtractBatch(isBegin bool) (*FrameBatch, error) {
	if f.kind != KindWAL {
		return nil, errs.Wrap(errs.KindProtocolViolation, "frame extraction on non-wal file", nil)
	}
	n := f.pages.Len()
	if n < f.drainedFrames {
		return nil, errs.Wrap(errs.KindProtocolViolation, "wal shrank beneath the drain point", nil)
	}
	batch := &FrameBatch{PageSize: f.pages.PageSize(), StartFrame: f.drainedFrames, IsBegin: isBegin}
	for i := f.drainedFrames; i < n; i++ {
		p := f.pages.Get(i + 1)
		hdr := page.DecodeFrameHeader(p.Header)
		entry := FrameEntry{PageNumber: hdr.PageNumber, Data: append([]byte(nil), p.Buf...)}
		batch.Frames = append(batch.Frames, entry)
		if i == n-1 {
			batch.IsCommit = hdr.Commit != 0
		}
	}
	return batch, nil
}

// Drain marks every frame currently in the WAL as handed off, so the next
// ExtractBatch call starts from this point. Calling it when nothing new
// was extracted (e.g. the step produced no frames) is a harmless no-op.
func (f *File) Drain() {
	f.drainedFrames = f.pages.Len()
	f.pages.ClearAllDirty()
}

// DrainedCount reports how many frames have been handed off so far. The
// follower idempotence check in the apply package does not use it; it
// compares against FrameCount instead.
func (f *File) DrainedCount() int {
	return f.drainedFrames
}
