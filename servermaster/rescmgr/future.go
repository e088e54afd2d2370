package rescmgr

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"

	"github.com/rescloud/rescloud/pkg/clock"
	derror "github.com/rescloud/rescloud/pkg/errors"
	"github.com/rescloud/rescloud/pkg/resource"
)

// Future is a single-assignment, cancellable cell eventually holding the
// resource assigned to a request.
type Future struct {
	requestID string
	clock     clock.Clock

	mu     sync.Mutex
	done   chan struct{}
	res    resource.Resource
	err    error
	closed bool

	onCancel func()
}

func newFuture(requestID string, clk clock.Clock, onCancel func()) *Future {
	return &Future{
		requestID: requestID,
		clock:     clk,
		done:      make(chan struct{}),
		onCancel:  onCancel,
	}
}

// Done is closed once the future is fulfilled, failed or canceled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Poll returns the result without blocking. done is false while the
// future is pending.
func (f *Future) Poll() (res resource.Resource, done bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.closed {
		return nil, false, nil
	}
	return f.res, true, f.err
}

// Wait blocks until the future completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (resource.Resource, error) {
	select {
	case <-ctx.Done():
		return nil, errors.Trace(ctx.Err())
	case <-f.done:
	}

	res, _, err := f.Poll()
	return res, err
}

// WaitTimeout blocks for at most timeout, as measured by the manager clock.
func (f *Future) WaitTimeout(timeout time.Duration) (resource.Resource, error) {
	timer := f.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil, derror.ErrResourceWaitTimeout.GenWithStackByArgs(f.requestID)
	case <-f.done:
	}

	res, _, err := f.Poll()
	return res, err
}

// Cancel cancels a pending future and reports whether it did. Canceling a
// completed future has no effect.
func (f *Future) Cancel() bool {
	if !f.complete(nil, derror.ErrRequestCanceled.GenWithStackByArgs(f.requestID)) {
		return false
	}
	if f.onCancel != nil {
		f.onCancel()
	}
	return true
}

// IsCanceled reports whether the future was canceled before fulfillment.
func (f *Future) IsCanceled() bool {
	_, done, err := f.Poll()
	return done && derror.ErrRequestCanceled.Equal(err)
}

func (f *Future) fulfill(res resource.Resource) bool {
	return f.complete(res, nil)
}

func (f *Future) fail(err error) bool {
	return f.complete(nil, err)
}

func (f *Future) complete(res resource.Resource, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	f.res = res
	f.err = err
	f.closed = true
	close(f.done)
	return true
}
