package roles

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/cowsql/go-cowsql/internal/logging"
)

// Assigner applies one role change via the Raft membership-change API.
type Assigner interface {
	Assign(ctx context.Context, id uint64, role Role) error
}

// Manager runs the adjustment pass and drains the resulting change queue,
// one change at a time, against Assigner. It runs only on the current
// leader; adjustment is a no-op while a prior round's queue is still
// draining, matching the "don't start a new round while the queue is
// nonempty" rule.
type Manager struct {
	voters, standbys int
	localID          uint64
	assigner         Assigner

	queue *Queue

	mu       sync.Mutex
	draining bool
}

// NewManager creates a role manager targeting voters voters and standbys
// standbys, applying changes through assigner.
func NewManager(voters, standbys int, localID uint64, assigner Assigner) *Manager {
	return &Manager{
		voters:   voters,
		standbys: standbys,
		localID:  localID,
		assigner: assigner,
		queue:    NewQueue(),
	}
}

// Adjust computes and enqueues role changes for the given cluster
// snapshot, then starts draining if nothing was already in flight. It is a
// no-op if a previous round's changes haven't finished applying yet.
//
// Every pass gets its own correlation ID so the sequence of Assign RPCs it
// issues can be grepped out of the log as one group, the way a multi-call
// diagnostic trace is tagged elsewhere in the cluster.
func (m *Manager) Adjust(ctx context.Context, cluster []NodeView) {
	m.mu.Lock()
	draining := m.draining
	m.mu.Unlock()
	if draining || !m.queue.Empty() {
		return
	}
	changes := ComputeChanges(m.voters, m.standbys, cluster, m.localID)
	if len(changes) == 0 {
		return
	}
	passID := uuid.New().String()
	logging.Info("role adjustment pass starting", logging.Ctx{"pass": passID, "changes": len(changes)})
	m.queue.EnqueueAll(changes)
	go m.drain(ctx, passID)
}

// drain applies queued changes one at a time, in order, stopping (without
// error) if the node is asked to cancel pending changes mid-drain.
func (m *Manager) drain(ctx context.Context, passID string) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return
	}
	m.draining = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	for {
		change, ok := m.queue.Pop()
		if !ok {
			return
		}
		if err := m.assigner.Assign(ctx, change.ID, change.Role); err != nil {
			logging.Warn("role change failed", logging.Ctx{"pass": passID, "node": change.ID, "role": change.Role})
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// CancelPending drops every pending role change without applying it, for
// use when the node is stopping.
func (m *Manager) CancelPending() {
	m.queue.Drain()
}
