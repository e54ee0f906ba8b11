package page

import "encoding/binary"

// WALHeaderSize is the size in bytes of the 32-byte WAL file header.
const WALHeaderSize = 32

// walMagicBigEndian and walFormatVersion are SQLite's own WAL header
// constants. The magic number's low bit selects the byte order the
// checksums that follow are computed in; the big-endian variant matches
// what Checksum computes here. The format version is the value SQLite's
// WAL reader has accepted unchanged since WAL mode's introduction.
const (
	walMagicBigEndian = 0x377f0683
	walFormatVersion  = 3007000
)

// WALHeader is the decoded form of the 32-byte WAL file header: page
// size, checkpoint sequence, the salt pair tying every frame in this WAL
// generation together, and the header's own checksum.
type WALHeader struct {
	PageSize      int
	CheckpointSeq uint32
	Salt1, Salt2  uint32
	Checksum1     uint32
	Checksum2     uint32
}

// NewWALHeader builds a WAL header for pageSize and the given salt pair,
// computing its own checksum over the first 24 bytes the way SQLite's WAL
// writer does, seeded from (0, 0).
func NewWALHeader(pageSize int, salt1, salt2 uint32) WALHeader {
	h := WALHeader{PageSize: pageSize, Salt1: salt1, Salt2: salt2}
	buf := h.encodeUnchecked()
	h.Checksum1, h.Checksum2 = Checksum(buf[:24], 0, 0)
	return h
}

func (h WALHeader) encodeUnchecked() [WALHeaderSize]byte {
	var buf [WALHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], walMagicBigEndian)
	binary.BigEndian.PutUint32(buf[4:8], walFormatVersion)
	binary.BigEndian.PutUint32(buf[8:12], uint32(h.PageSize))
	binary.BigEndian.PutUint32(buf[12:16], h.CheckpointSeq)
	binary.BigEndian.PutUint32(buf[16:20], h.Salt1)
	binary.BigEndian.PutUint32(buf[20:24], h.Salt2)
	return buf
}

// Encode serialises h to the 32-byte wire form, including its checksum.
func (h WALHeader) Encode() [WALHeaderSize]byte {
	buf := h.encodeUnchecked()
	binary.BigEndian.PutUint32(buf[24:28], h.Checksum1)
	binary.BigEndian.PutUint32(buf[28:32], h.Checksum2)
	return buf
}

// DecodeWALHeader parses a 32-byte WAL header.
func DecodeWALHeader(buf [WALHeaderSize]byte) WALHeader {
	return WALHeader{
		PageSize:      int(binary.BigEndian.Uint32(buf[8:12])),
		CheckpointSeq: binary.BigEndian.Uint32(buf[12:16]),
		Salt1:         binary.BigEndian.Uint32(buf[16:20]),
		Salt2:         binary.BigEndian.Uint32(buf[20:24]),
		Checksum1:     binary.BigEndian.Uint32(buf[24:28]),
		Checksum2:     binary.BigEndian.Uint32(buf[28:32]),
	}
}

// FrameHeader is the decoded form of a WAL frame's 24-byte header: the
// target page number, the commit marker, the salt pair copied from the
// WAL header this frame belongs to, and the two running checksums that
// cover every prior frame plus this frame's header fields and payload.
type FrameHeader struct {
	PageNumber uint32
	// Commit is zero for a frame that isn't the last of a transaction.
	// For the last frame of a transaction it carries the database's size
	// in pages after the commit, matching SQLite's own dbSizeAfterCommit
	// convention: any reader treats "nonzero" as "this frame commits."
	Commit       uint32
	Salt1, Salt2 uint32
	Checksum1    uint32
	Checksum2    uint32
}

// Encode serialises h into the 24-byte wire form.
func (h FrameHeader) Encode() [FrameHeaderSize]byte {
	var buf [FrameHeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.PageNumber)
	binary.BigEndian.PutUint32(buf[4:8], h.Commit)
	binary.BigEndian.PutUint32(buf[8:12], h.Salt1)
	binary.BigEndian.PutUint32(buf[12:16], h.Salt2)
	binary.BigEndian.PutUint32(buf[16:20], h.Checksum1)
	binary.BigEndian.PutUint32(buf[20:24], h.Checksum2)
	return buf
}

// DecodeFrameHeader parses a 24-byte WAL frame header.
func DecodeFrameHeader(buf [FrameHeaderSize]byte) FrameHeader {
	return FrameHeader{
		PageNumber: binary.BigEndian.Uint32(buf[0:4]),
		Commit:     binary.BigEndian.Uint32(buf[4:8]),
		Salt1:      binary.BigEndian.Uint32(buf[8:12]),
		Salt2:      binary.BigEndian.Uint32(buf[12:16]),
		Checksum1:  binary.BigEndian.Uint32(buf[16:20]),
		Checksum2:  binary.BigEndian.Uint32(buf[20:24]),
	}
}

// Checksum computes the running checksum pair over data (which must have a
// length that is a multiple of 8), seeded by (s1, s2). This is used to
// extend the checksum across the first 8 bytes of a frame header plus its
// page payload, chained from the previous frame (or from the WAL header's
// own seed, for the first frame).
func Checksum(data []byte, s1, s2 uint32) (uint32, uint32) {
	for i := 0; i+8 <= len(data); i += 8 {
		s1 += binary.BigEndian.Uint32(data[i:i+4]) + s2
		s2 += binary.BigEndian.Uint32(data[i+4:i+8]) + s1
	}
	return s1, s2
}

// ChecksumFrame extends the running checksum pair (s1, s2) across one
// frame: first its page-number/commit field, then its page payload. The
// seed is the WAL header's own checksum for the first frame in a
// generation, or the previous frame's checksum otherwise, so the pair
// threads through every frame exactly as SQLite's own WAL writer computes
// it.
func ChecksumFrame(pageNumber, commit uint32, payload []byte, s1, s2 uint32) (uint32, uint32) {
	var head [8]byte
	binary.BigEndian.PutUint32(head[0:4], pageNumber)
	binary.BigEndian.PutUint32(head[4:8], commit)
	s1, s2 = Checksum(head[:], s1, s2)
	return Checksum(payload, s1, s2)
}
