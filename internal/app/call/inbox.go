package call

import "sync"

// inbox is the unbounded FIFO feeding the machine loop. Posting never
// blocks, so negotiation callbacks and signaling reads cannot stall on a
// busy loop.
type inbox struct {
	mu     sync.Mutex
	items  []func()
	wake   chan struct{}
	closed bool
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (q *inbox) post(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// take returns everything queued so far, in order.
func (q *inbox) take() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

func (q *inbox) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
}
