// Package leader implements the leader execution pipeline: driving one
// SQL request to completion against the local SQLite connection, then
// replicating any resulting WAL frames through Raft before reporting
// status back to the caller.
package leader

import (
	"errors"
	"sync"
	"time"

	hraft "github.com/hashicorp/raft"

	"github.com/cowsql/go-cowsql/id"
	"github.com/cowsql/go-cowsql/internal/errs"
	"github.com/cowsql/go-cowsql/internal/vfs"
	"github.com/cowsql/go-cowsql/replication"
)

// Status is the Raft-space status reported to a request's Done callback,
// mirroring the RAFT_OK/RAFT_NOTLEADER/RAFT_LEADERSHIPLOST/RAFT_CANTCHANGE
// status codes. Translation to SQLite-space happens only at the client
// boundary, not here.
type Status int

const (
	StatusOK Status = iota
	StatusNotLeader
	StatusLeadershipLost
	StatusCantChange
	StatusAborted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotLeader:
		return "not-leader"
	case StatusLeadershipLost:
		return "leadership-lost"
	case StatusCantChange:
		return "cant-change"
	case StatusAborted:
		return "aborted"
	default:
		return "error"
	}
}

// Applier is the subset of *raft.Raft the leader pipeline needs: its
// current role, a read barrier, and log submission. Exposed as an
// interface (with hashicorp/raft's own future types) so the pipeline can
// be exercised against a fake without a live cluster.
type Applier interface {
	State() hraft.RaftState
	Barrier(timeout time.Duration) hraft.Future
	Apply(cmd []byte, timeout time.Duration) hraft.ApplyFuture
}

// Request is one caller-submitted unit of work: a Step function that
// runs the caller's SQLite step(s) against its own connection (writing
// through the same VFS registry the Leader was built with), and a Done
// callback invoked exactly once with the final status.
//
// Step is the stand-in for §4.3's "work callback then SQLite step"; this
// Go rewrite treats one Request as one complete step-then-replicate
// round rather than modelling SQLite's own suspend/resume protocol,
// which lives below this package's abstraction layer (see DESIGN.md).
type Request struct {
	Step func() error
	Done func(status Status, err error)
}

// Handle lets a caller abort a still-queued or still-barrier-waiting
// request.
type Handle struct {
	leader *Leader
	state  *execState
}

// Abort cancels the request if Raft submission hasn't started yet. Once
// the frame batch has been handed to Apply, Abort is a no-op: the exec
// runs to completion, per §4.3's cancellation contract.
func (h *Handle) Abort() {
	h.leader.mu.Lock()
	defer h.leader.mu.Unlock()
	if !h.state.submitted {
		h.state.cancelled = true
	}
}

type execState struct {
	req       *Request
	reqID     [id.Size]byte
	cancelled bool
	submitted bool
}

// Leader drives execs for a single database, one at a time, queueing the
// rest FIFO. Its active_leader equivalent is simply "is drain already
// running": at most one goroutine ever runs a Request's Step/Replicate
// sequence for a given Leader.
type Leader struct {
	Database string
	Registry *vfs.Registry
	Applier  Applier
	Timeout  time.Duration

	rng *id.State

	mu      sync.Mutex
	queue   []*execState
	running bool
	closed  bool
}

// NewLeader creates a leader for database, replicating through applier.
// seed seeds this leader's private request-id PRNG stream (per §4.4, a
// per-leader PRNG; distinct leaders should be seeded from disjoint
// jumps of a shared root state).
func NewLeader(database string, registry *vfs.Registry, applier Applier, timeout time.Duration, state *id.State) *Leader {
	return &Leader{
		Database: database,
		Registry: registry,
		Applier:  applier,
		Timeout:  timeout,
		rng:      state,
	}
}

// Exec enqueues req, starting the drain loop if nothing is currently
// running. It returns a Handle the caller may use to abort the request
// before Raft submission.
func (l *Leader) Exec(req *Request) *Handle {
	es := &execState{req: req, reqID: id.Next(l.rng)}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		req.Done(StatusAborted, errs.Aborted)
		return &Handle{leader: l, state: es}
	}
	l.queue = append(l.queue, es)
	start := !l.running
	if start {
		l.running = true
	}
	l.mu.Unlock()

	if start {
		go l.drain()
	}
	return &Handle{leader: l, state: es}
}

// Close aborts every request still waiting in the queue (not one already
// running) and marks the leader closed, so future Exec calls are
// rejected outright, matching "pending execs on a closing leader are
// aborted with a cancellation code".
func (l *Leader) Close() {
	l.mu.Lock()
	l.closed = true
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, es := range pending {
		es.req.Done(StatusAborted, errs.Aborted)
	}
}

func (l *Leader) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.running = false
			l.mu.Unlock()
			return
		}
		es := l.queue[0]
		l.queue = l.queue[1:]
		l.mu.Unlock()

		status, err := l.run(es)
		es.req.Done(status, err)
	}
}

// run drives one request through barrier, step, and replicate. It
// implements the idle -> barrier-wait -> stepping -> (suspended |
// replicating) -> done state sequence of §4.3 as a straight-line
// function rather than an explicit state enum, since every transition
// here is one-way and there is no externally-observable suspension
// beyond what Step itself does.
func (l *Leader) run(es *execState) (Status, error) {
	if l.Applier.State() != hraft.Leader {
		return StatusNotLeader, errs.NotLeader
	}

	if l.isCancelled(es) {
		return StatusAborted, errs.Aborted
	}
	if err := l.Applier.Barrier(l.Timeout).Error(); err != nil {
		return translateRaftErr(err)
	}

	if l.isCancelled(es) {
		return StatusAborted, errs.Aborted
	}
	if err := es.req.Step(); err != nil {
		return StatusError, err
	}

	return l.replicate(es)
}

func (l *Leader) replicate(es *execState) (Status, error) {
	wal, err := l.Registry.Open(l.Database+"-wal", 0)
	if err != nil {
		// The step produced no frames (e.g. a read-only query); nothing
		// to replicate.
		return StatusOK, nil
	}
	defer l.Registry.Close(wal)

	batch, err := wal.ExtractBatch(true)
	if err != nil {
		return StatusError, err
	}
	if batch == nil || len(batch.Frames) == 0 {
		return StatusOK, nil
	}

	l.mu.Lock()
	if es.cancelled {
		l.mu.Unlock()
		return StatusAborted, errs.Aborted
	}
	es.submitted = true
	l.mu.Unlock()

	cmd := &replication.Command{Database: l.Database, Batch: batch}
	data, err := replication.EncodeEntry(&replication.Entry{ReqID: es.reqID, Command: cmd})
	if err != nil {
		return StatusError, err
	}

	future := l.Applier.Apply(data, l.Timeout)
	if err := future.Error(); err != nil {
		return translateRaftErr(err)
	}

	wal.Drain()
	return StatusOK, nil
}

func (l *Leader) isCancelled(es *execState) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return es.cancelled
}

func translateRaftErr(err error) (Status, error) {
	switch {
	case errors.Is(err, hraft.ErrNotLeader):
		return StatusNotLeader, errs.NotLeader
	case errors.Is(err, hraft.ErrLeadershipLost):
		return StatusLeadershipLost, errs.LeadershipLost
	case errors.Is(err, hraft.ErrConfigurationChangeAlreadyPending):
		return StatusCantChange, errs.Busy
	default:
		return StatusError, err
	}
}
