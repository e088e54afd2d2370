package notifier

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"

	"github.com/rescloud/rescloud/pkg/containers"
)

// Notifier fans events out to any number of receivers. Every receiver owns
// an unbounded queue, so Notify never blocks and a slow receiver never
// delays the others. Each receiver sees events in Notify order.
type Notifier[T any] struct {
	mu        sync.RWMutex
	receivers map[int64]*Receiver[T]
	nextID    int64
	closed    bool

	wg sync.WaitGroup
}

// Receiver is one subscription to a Notifier. Events are read from C,
// which is closed once the receiver or the notifier is closed.
type Receiver[T any] struct {
	C <-chan T

	id       int64
	out      chan T
	queue    *containers.DequeQueue[T]
	pending  atomic.Int64
	drained  chan struct{}
	done     chan struct{}
	doneOnce sync.Once

	notifier *Notifier[T]
}

// NewNotifier creates a Notifier without receivers.
func NewNotifier[T any]() *Notifier[T] {
	return &Notifier[T]{
		receivers: make(map[int64]*Receiver[T]),
	}
}

// NewReceiver subscribes to the events notified from now on. On a closed
// notifier it returns a receiver whose C is already closed.
func (n *Notifier[T]) NewReceiver() *Receiver[T] {
	out := make(chan T)
	r := &Receiver[T]{
		C:        out,
		out:      out,
		queue:    containers.NewDequeQueue[T](),
		drained:  make(chan struct{}, 1),
		done:     make(chan struct{}),
		notifier: n,
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		r.doneOnce.Do(func() { close(r.done) })
		close(out)
		return r
	}
	n.nextID++
	r.id = n.nextID
	n.receivers[r.id] = r
	n.wg.Add(1)
	go r.pump()
	return r
}

// Notify queues event for every open receiver. It is a no-op once the
// notifier is closed.
func (n *Notifier[T]) Notify(event T) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}
	for _, r := range n.receivers {
		r.pending.Inc()
		r.queue.Add(event)
	}
}

// Flush waits until every event notified before the call has been read or
// dropped by a closed receiver.
func (n *Notifier[T]) Flush(ctx context.Context) error {
	n.mu.RLock()
	receivers := make([]*Receiver[T], 0, len(n.receivers))
	for _, r := range n.receivers {
		receivers = append(receivers, r)
	}
	n.mu.RUnlock()

	for _, r := range receivers {
		if err := r.flush(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every receiver and waits for their delivery goroutines.
// Undelivered events are dropped.
func (n *Notifier[T]) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	receivers := n.receivers
	n.receivers = make(map[int64]*Receiver[T])
	n.mu.Unlock()

	for _, r := range receivers {
		r.stop()
	}
	n.wg.Wait()
}

// Close unsubscribes the receiver. Events not read yet are dropped, and C
// is closed shortly after.
func (r *Receiver[T]) Close() {
	r.notifier.mu.Lock()
	delete(r.notifier.receivers, r.id)
	r.notifier.mu.Unlock()

	r.stop()
}

// Pending returns the number of events queued but not read yet.
func (r *Receiver[T]) Pending() int64 {
	return r.pending.Load()
}

func (r *Receiver[T]) stop() {
	r.doneOnce.Do(func() { close(r.done) })
}

func (r *Receiver[T]) flush(ctx context.Context) error {
	for r.pending.Load() > 0 {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-r.done:
			return nil
		case <-r.drained:
		}
	}
	return nil
}

func (r *Receiver[T]) pump() {
	defer r.notifier.wg.Done()
	defer close(r.out)

	for {
		for {
			event, ok := r.queue.Pop()
			if !ok {
				break
			}
			select {
			case r.out <- event:
				r.pending.Dec()
			case <-r.done:
				return
			}
		}

		select {
		case r.drained <- struct{}{}:
		default:
		}

		select {
		case <-r.queue.C:
		case <-r.done:
			return
		}
	}
}
