package replication

import (
	"github.com/cowsql/go-cowsql/id"
	"github.com/cowsql/go-cowsql/internal/errs"
)

// Entry is the full payload of one Raft log entry: a diagnostic request id
// (never consulted for correctness, per spec.md §4.4) followed by the
// frames command itself.
type Entry struct {
	ReqID   [id.Size]byte
	Command *Command
}

// EncodeEntry serialises e as reqid || Encode(e.Command).
func EncodeEntry(e *Entry) ([]byte, error) {
	body, err := Encode(e.Command)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, id.Size+len(body))
	copy(buf, e.ReqID[:])
	copy(buf[id.Size:], body)
	return buf, nil
}

// DecodeEntry parses the format produced by EncodeEntry.
func DecodeEntry(buf []byte) (*Entry, error) {
	if len(buf) < id.Size {
		return nil, errs.Wrap(errs.KindProtocolViolation, "log entry shorter than a request id", nil)
	}
	var reqID [id.Size]byte
	copy(reqID[:], buf[:id.Size])

	cmd, err := Decode(buf[id.Size:])
	if err != nil {
		return nil, err
	}
	return &Entry{ReqID: reqID, Command: cmd}, nil
}
