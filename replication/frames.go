// Package replication defines the wire format of the single Raft log entry
// kind this core produces: a frames command, carrying one leader
// transaction's WAL frame batch to every follower.
package replication

import (
	"encoding/binary"
	"fmt"

	"github.com/cowsql/go-cowsql/internal/errs"
	"github.com/cowsql/go-cowsql/internal/vfs"
)

// commandTag identifies this Raft log entry as a frames command, the only
// command kind this core's FSM understands; leader-election, configuration
// and snapshot entries are handled entirely by the Raft layer and never
// reach here.
const commandTag = 0x01

const (
	flagIsBegin    = 1 << 0
	flagIsCommit   = 1 << 1
	flagIsTruncate = 1 << 2
)

// Command is the decoded form of a frames log entry: which database it
// targets, and the frame batch to apply to it.
type Command struct {
	// Database names the target database, so that a single Raft group can
	// multiplex commands for every database on the node.
	Database string
	Batch    *vfs.FrameBatch
}

// Encode serialises cmd to the wire format:
//
//	1 byte    command tag (0x01)
//	2 bytes   database name length (BE)
//	N bytes   database name
//	4 bytes   page size (BE)
//	4 bytes   start frame index (BE), for follower idempotence detection
//	1 byte    flags (bit0 is_begin, bit1 is_commit, bit2 is_truncate)
//	4 bytes   truncate-to-page-count (BE, meaningful only if is_truncate)
//	4 bytes   frame count n (BE)
//	n * (4 bytes page number BE + page_size bytes payload)
func Encode(cmd *Command) ([]byte, error) {
	if len(cmd.Database) > 0xFFFF {
		return nil, errs.Wrap(errs.KindProtocolViolation, "database name too long", nil)
	}
	batch := cmd.Batch

	size := 1 + 2 + len(cmd.Database) + 4 + 4 + 1 + 4 + 4
	size += len(batch.Frames) * (4 + batch.PageSize)
	buf := make([]byte, size)

	off := 0
	buf[off] = commandTag
	off++
	binary.BigEndian.PutUint16(buf[off:], uint16(len(cmd.Database)))
	off += 2
	off += copy(buf[off:], cmd.Database)

	binary.BigEndian.PutUint32(buf[off:], uint32(batch.PageSize))
	off += 4

	binary.BigEndian.PutUint32(buf[off:], uint32(batch.StartFrame))
	off += 4

	var flags byte
	if batch.IsBegin {
		flags |= flagIsBegin
	}
	if batch.IsCommit {
		flags |= flagIsCommit
	}
	if batch.IsTruncate {
		flags |= flagIsTruncate
	}
	buf[off] = flags
	off++

	binary.BigEndian.PutUint32(buf[off:], batch.TruncatePages)
	off += 4

	binary.BigEndian.PutUint32(buf[off:], uint32(len(batch.Frames)))
	off += 4

	for _, fr := range batch.Frames {
		binary.BigEndian.PutUint32(buf[off:], fr.PageNumber)
		off += 4
		if len(fr.Data) != batch.PageSize {
			return nil, errs.Wrap(errs.KindProtocolViolation, "frame payload does not match page size", nil)
		}
		off += copy(buf[off:], fr.Data)
	}

	return buf, nil
}

// Decode parses the wire format produced by Encode.
func Decode(buf []byte) (*Command, error) {
	if len(buf) < 1 || buf[0] != commandTag {
		return nil, errs.Wrap(errs.KindProtocolViolation, "unrecognised command tag", nil)
	}
	off := 1

	if len(buf) < off+2 {
		return nil, errShortBuffer("database name length")
	}
	nameLen := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2

	if len(buf) < off+nameLen {
		return nil, errShortBuffer("database name")
	}
	name := string(buf[off : off+nameLen])
	off += nameLen

	if len(buf) < off+4+4+1+4+4 {
		return nil, errShortBuffer("frame batch header")
	}
	pageSize := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4

	startFrame := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4

	flags := buf[off]
	off++

	truncatePages := binary.BigEndian.Uint32(buf[off:])
	off += 4

	n := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4

	batch := &vfs.FrameBatch{
		PageSize:      pageSize,
		StartFrame:    startFrame,
		IsBegin:       flags&flagIsBegin != 0,
		IsCommit:      flags&flagIsCommit != 0,
		IsTruncate:    flags&flagIsTruncate != 0,
		TruncatePages: truncatePages,
	}

	for i := 0; i < n; i++ {
		if len(buf) < off+4+pageSize {
			return nil, errShortBuffer("frame entry")
		}
		pgno := binary.BigEndian.Uint32(buf[off:])
		off += 4
		data := make([]byte, pageSize)
		copy(data, buf[off:off+pageSize])
		off += pageSize
		batch.Frames = append(batch.Frames, vfs.FrameEntry{PageNumber: pgno, Data: data})
	}

	return &Command{Database: name, Batch: batch}, nil
}

func errShortBuffer(what string) error {
	return errs.Wrap(errs.KindProtocolViolation, fmt.Sprintf("command buffer too short: %s", what), nil)
}
