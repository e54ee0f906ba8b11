package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueCollapsesDuplicateNode(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Change{ID: 1, Role: RoleSpare})
	q.Enqueue(Change{ID: 2, Role: RoleVoter})
	q.Enqueue(Change{ID: 1, Role: RoleStandby})

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, Change{ID: 1, Role: RoleStandby}, first)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, Change{ID: 2, Role: RoleVoter}, second)

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestQueueDrainClearsPending(t *testing.T) {
	q := NewQueue()
	q.Enqueue(Change{ID: 1, Role: RoleSpare})
	q.Drain()
	assert.True(t, q.Empty())
}

func TestQueueEnqueueAllPreservesOrder(t *testing.T) {
	q := NewQueue()
	q.EnqueueAll([]Change{{ID: 1, Role: RoleVoter}, {ID: 2, Role: RoleSpare}})

	first, _ := q.Pop()
	second, _ := q.Pop()
	assert.Equal(t, uint64(1), first.ID)
	assert.Equal(t, uint64(2), second.ID)
}
