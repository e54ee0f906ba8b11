package roles

import "sync"

// Queue holds pending role-change records awaiting application via the
// Raft membership-change API. A second enqueue for a node already queued
// updates that record in place instead of appending, exactly as the
// original role manager's queueChange collapses duplicates.
type Queue struct {
	mu      sync.Mutex
	pending []Change
}

// NewQueue creates an empty change queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Enqueue adds a change, or updates the pending change for the same node
// if one is already queued.
func (q *Queue) Enqueue(c Change) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.pending {
		if q.pending[i].ID == c.ID {
			q.pending[i].Role = c.Role
			return
		}
	}
	q.pending = append(q.pending, c)
}

// EnqueueAll enqueues every change in order.
func (q *Queue) EnqueueAll(changes []Change) {
	for _, c := range changes {
		q.Enqueue(c)
	}
}

// Pop removes and returns the oldest pending change, or reports false if
// the queue is empty.
func (q *Queue) Pop() (Change, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return Change{}, false
	}
	c := q.pending[0]
	q.pending = q.pending[1:]
	return c, true
}

// Empty reports whether the queue has no pending changes.
func (q *Queue) Empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}

// Drain removes every pending change without applying it, used when a
// node stops so that queued work is not leaked or half-applied.
func (q *Queue) Drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = nil
}
