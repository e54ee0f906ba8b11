package roles

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAssigner struct {
	mu       sync.Mutex
	assigned []Change
	failOn   uint64
}

func (f *fakeAssigner) Assign(ctx context.Context, id uint64, role Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id == f.failOn {
		return fmt.Errorf("assign failed for node %d", id)
	}
	f.assigned = append(f.assigned, Change{ID: id, Role: role})
	return nil
}

func TestManagerAdjustDrainsComputedChanges(t *testing.T) {
	assigner := &fakeAssigner{}
	m := NewManager(2, 0, 2, assigner)

	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: false},
		{ID: 2, Role: RoleVoter, Online: true},
		{ID: 3, Role: RoleVoter, Online: true},
	}

	// Exercise the computation and enqueue step the way Adjust does, but
	// drain synchronously here instead of calling Adjust itself, since
	// Adjust's drain runs on its own goroutine and racing a second,
	// synchronous drain() call against it would make the test flaky.
	changes := ComputeChanges(2, 0, cluster, 2)
	m.queue.EnqueueAll(changes)
	m.drain(context.Background(), "test-pass")

	require.Len(t, assigner.assigned, 1)
	assert.Equal(t, Change{ID: 1, Role: RoleSpare}, assigner.assigned[0])
	assert.True(t, m.queue.Empty())
}

func TestManagerAdjustNoOpWhenQueueNonempty(t *testing.T) {
	assigner := &fakeAssigner{}
	m := NewManager(2, 0, 2, assigner)
	m.queue.Enqueue(Change{ID: 9, Role: RoleSpare})

	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: false},
		{ID: 2, Role: RoleVoter, Online: true},
		{ID: 3, Role: RoleVoter, Online: true},
	}
	m.Adjust(context.Background(), cluster)

	// The pre-existing pending change must still be the only thing queued;
	// Adjust must not have computed and enqueued a second round on top of it.
	change, ok := m.queue.Pop()
	require.True(t, ok)
	assert.Equal(t, Change{ID: 9, Role: RoleSpare}, change)
	assert.True(t, m.queue.Empty())
}

func TestManagerAdjustNoOpWhenAlreadyAtTarget(t *testing.T) {
	assigner := &fakeAssigner{}
	m := NewManager(2, 1, 1, assigner)
	cluster := []NodeView{
		{ID: 1, Role: RoleVoter, Online: true},
		{ID: 2, Role: RoleVoter, Online: true},
		{ID: 3, Role: RoleStandby, Online: true},
	}
	m.Adjust(context.Background(), cluster)
	assert.True(t, m.queue.Empty())
	assert.Empty(t, assigner.assigned)
}

func TestManagerDrainContinuesPastAssignFailures(t *testing.T) {
	assigner := &fakeAssigner{failOn: 2}
	m := NewManager(1, 0, 1, assigner)
	m.queue.EnqueueAll([]Change{{ID: 2, Role: RoleSpare}, {ID: 3, Role: RoleSpare}})

	m.drain(context.Background(), "test-pass")

	require.Len(t, assigner.assigned, 1)
	assert.Equal(t, uint64(3), assigner.assigned[0].ID)
	assert.True(t, m.queue.Empty())
}

func TestManagerCancelPendingDropsQueue(t *testing.T) {
	assigner := &fakeAssigner{}
	m := NewManager(2, 0, 1, assigner)
	m.queue.Enqueue(Change{ID: 5, Role: RoleSpare})

	m.CancelPending()

	assert.True(t, m.queue.Empty())
}
