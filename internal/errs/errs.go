// Package errs defines the error taxonomy shared by every subsystem of the
// core: the volatile VFS, the leader execution pipeline, the follower apply
// path, and the role manager.
package errs

import "errors"

// Kind identifies one of the error kinds from the error handling design.
// Kind values are compared with errors.Is against the sentinel errors below,
// never by string matching.
type Kind int

const (
	// KindOutOfMemory is returned when an allocation failed.
	KindOutOfMemory Kind = iota
	// KindNoSuchFile is returned by open without create, or delete of an
	// absent file.
	KindNoSuchFile
	// KindAlreadyExists is returned by create+exclusive on an existing file.
	KindAlreadyExists
	// KindTooManyFiles is returned when the registry has no free slot.
	KindTooManyFiles
	// KindBusy is returned when deleting a file with refcount > 0, or when
	// a configuration change is already in flight.
	KindBusy
	// KindProtocolViolation is returned when the VFS is called with a
	// geometry it doesn't recognise. Fatal to the connection.
	KindProtocolViolation
	// KindNotLeader is returned when leader_exec runs on a non-leader node.
	KindNotLeader
	// KindLeadershipLost is returned when Raft loses leadership mid-replication.
	KindLeadershipLost
	// KindAborted is returned when an exec is cancelled before Raft submission.
	KindAborted
	// KindInvalidConfig is returned by a rejected pragma.
	KindInvalidConfig
)

func (k Kind) String() string {
	switch k {
	case KindOutOfMemory:
		return "out-of-memory"
	case KindNoSuchFile:
		return "no-such-file"
	case KindAlreadyExists:
		return "already-exists"
	case KindTooManyFiles:
		return "too-many-files"
	case KindBusy:
		return "busy"
	case KindProtocolViolation:
		return "protocol-violation"
	case KindNotLeader:
		return "not-leader"
	case KindLeadershipLost:
		return "leadership-lost"
	case KindAborted:
		return "aborted"
	case KindInvalidConfig:
		return "invalid-config"
	default:
		return "unknown"
	}
}

// coreError wraps a Kind with a message, and optionally a cause.
type coreError struct {
	kind  Kind
	msg   string
	cause error
}

func (e *coreError) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

func (e *coreError) Unwrap() error { return e.cause }

// Is lets errors.Is(err, errs.NoSuchFile) match any error of the same kind,
// regardless of message or wrapped cause.
func (e *coreError) Is(target error) bool {
	other, ok := target.(*coreError)
	if !ok {
		return false
	}
	return other.kind == e.kind
}

// New builds a new error of the given kind with the given message.
func New(kind Kind, msg string) error {
	return &coreError{kind: kind, msg: msg}
}

// Wrap builds a new error of the given kind, wrapping cause.
func Wrap(kind Kind, msg string, cause error) error {
	return &coreError{kind: kind, msg: msg, cause: cause}
}

// KindOf returns the Kind of err, and whether err carries one at all.
func KindOf(err error) (Kind, bool) {
	var ce *coreError
	if errors.As(err, &ce) {
		return ce.kind, true
	}
	return 0, false
}

// Sentinels usable directly with errors.Is.
var (
	OutOfMemory       = New(KindOutOfMemory, "out of memory")
	NoSuchFile        = New(KindNoSuchFile, "no such file")
	AlreadyExists     = New(KindAlreadyExists, "file already exists")
	TooManyFiles      = New(KindTooManyFiles, "too many open files")
	Busy              = New(KindBusy, "resource busy")
	ProtocolViolation = New(KindProtocolViolation, "vfs protocol violation")
	NotLeader         = New(KindNotLeader, "not leader")
	LeadershipLost    = New(KindLeadershipLost, "leadership lost")
	Aborted           = New(KindAborted, "aborted")
	InvalidConfig     = New(KindInvalidConfig, "invalid configuration")
)
