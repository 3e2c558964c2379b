package service

import (
	"sync"

	"github.com/loqalabs/narrator-core/internal/session"
)

// changeQueue hands a session's changes to its recorder without ever
// dropping one. push never blocks; the backlog grows while the recorder is
// behind.
type changeQueue struct {
	mu     sync.Mutex
	items  []session.Change
	closed bool
	ready  chan struct{}
}

func newChangeQueue() *changeQueue {
	return &changeQueue{ready: make(chan struct{}, 1)}
}

func (q *changeQueue) push(change session.Change) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, change)
	q.mu.Unlock()
	q.signal()
}

func (q *changeQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *changeQueue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// drain calls fn for every pushed change in order and returns once the
// queue is closed and empty.
func (q *changeQueue) drain(fn func(session.Change)) {
	for range q.ready {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, change := range items {
			fn(change)
		}
		if closed {
			return
		}
	}
}
