package containers

import (
	"sync"

	"github.com/edwingeng/deque"
)

// DequeQueue is a thread-safe FIFO queue backed by a chunked deque.
// C receives a signal whenever an element is added, so a consumer
// can select on it and drain the queue with Pop.
type DequeQueue[T any] struct {
	mu sync.Mutex
	dq deque.Deque

	C chan struct{}
}

// NewDequeQueue creates a new DequeQueue.
func NewDequeQueue[T any]() *DequeQueue[T] {
	return &DequeQueue[T]{
		dq: deque.NewDeque(),
		C:  make(chan struct{}, 1),
	}
}

// Add appends elem and signals C.
func (q *DequeQueue[T]) Add(elem T) {
	q.mu.Lock()
	q.dq.PushBack(elem)
	q.mu.Unlock()

	select {
	case q.C <- struct{}{}:
	default:
	}
}

// Pop removes and returns the oldest element.
func (q *DequeQueue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dq.Empty() {
		var zero T
		return zero, false
	}
	return q.dq.PopFront().(T), true
}

// Peek returns the oldest element without removing it.
func (q *DequeQueue[T]) Peek() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.dq.Empty() {
		var zero T
		return zero, false
	}
	return q.dq.Front().(T), true
}

// Size returns the number of queued elements.
func (q *DequeQueue[T]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.dq.Len()
}
