package rescmgr

import (
	"fmt"
	"sync"
	"time"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/clock"
	"github.com/rescloud/rescloud/pkg/resource"
)

// ManagedRequest is a request admitted by the Manager. It implements Query.
type ManagedRequest struct {
	id      string
	request *model.ResourceRequest
	manager *Manager
	future  *Future

	// seq orders requests by enqueue time, ties included.
	seq       uint64
	createdAt time.Time

	mu          sync.RWMutex
	state       model.RequestState
	lastTouched time.Time
	resource    resource.Resource
	receivedAt  time.Time
	releasedAt  time.Time
	terminalAt  time.Time
	// declined holds resources every listener declined for this request.
	// They are never offered to it again.
	declined map[resource.Resource]struct{}
}

func newManagedRequest(m *Manager, id string, req *model.ResourceRequest, seq uint64, now time.Time) *ManagedRequest {
	r := &ManagedRequest{
		id:          id,
		request:     req,
		manager:     m,
		seq:         seq,
		createdAt:   now,
		state:       model.RequestWaiting,
		lastTouched: now,
		declined:    make(map[resource.Resource]struct{}),
	}
	r.future = newFuture(id, m.clock, func() {
		m.submit(workItem{kind: workCancelWaiting, req: r})
	})
	return r
}

func (r *ManagedRequest) ID() string {
	return r.id
}

func (r *ManagedRequest) Request() *model.ResourceRequest {
	return r.request
}

// Future returns the deferred result of the request.
func (r *ManagedRequest) Future() *Future {
	return r.future
}

func (r *ManagedRequest) State() model.RequestState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

func (r *ManagedRequest) CreationTime() time.Time {
	return r.createdAt
}

func (r *ManagedRequest) EnqueueStartTime() time.Time {
	return r.createdAt
}

func (r *ManagedRequest) ReceivedResource() resource.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.resource
}

func (r *ManagedRequest) ResourceReceivedTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.receivedAt
}

func (r *ManagedRequest) ResourceReleasedTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.releasedAt
}

// IdleTimeMs is the time since the request was last touched.
func (r *ManagedRequest) IdleTimeMs() int64 {
	r.mu.RLock()
	last := r.lastTouched
	r.mu.RUnlock()
	return clock.MillisSince(r.manager.clock, last)
}

// WaitTimeMs is the time the request waited for a resource, or has been
// waiting so far.
func (r *ManagedRequest) WaitTimeMs() int64 {
	r.mu.RLock()
	received := r.receivedAt
	r.mu.RUnlock()

	if received.IsZero() {
		return clock.MillisSince(r.manager.clock, r.createdAt)
	}
	d := received.Sub(r.createdAt)
	if d < 0 {
		return 0
	}
	return d.Milliseconds()
}

// Touch marks the request as alive. It also touches the held resource, if
// that resource detects orphans.
func (r *ManagedRequest) Touch() {
	r.mu.Lock()
	r.lastTouched = r.manager.clock.Now()
	res := r.resource
	terminal := r.state.IsTerminal()
	r.mu.Unlock()

	if res == nil || terminal {
		return
	}
	if d, ok := resource.AsOrphanDetector(res); ok {
		d.Touch()
	}
}

// StartWork moves a READY request to WORKING. It returns false in any
// other state.
func (r *ManagedRequest) StartWork() bool {
	r.Touch()
	old, ok := r.transition(model.RequestWorking, model.RequestReady)
	if ok {
		r.manager.onRequestStateChanged(r, old, model.RequestWorking)
	}
	return ok
}

// Cancel withdraws the request. A waiting request is dropped from the
// queue and its future is canceled. A request holding a resource gives it
// back through the regular release path. Canceling a terminal request has
// no effect.
func (r *ManagedRequest) Cancel() {
	if r.future.Cancel() {
		return
	}
	r.manager.submit(workItem{kind: workCancelHolding, req: r})
}

// MarkOrphaned declares that the requester went away. It releases what the
// request holds and moves it to ORPHANED.
func (r *ManagedRequest) MarkOrphaned() {
	r.manager.submit(workItem{kind: workOrphanRequest, req: r})
}

func (r *ManagedRequest) String() string {
	return fmt.Sprintf("%s(%s)", r.id, r.request)
}

// transition moves the request to newState if its current state is one of
// from. It returns the state it left.
func (r *ManagedRequest) transition(newState model.RequestState, from ...model.RequestState) (model.RequestState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.state
	for _, s := range from {
		if s == old {
			r.state = newState
			if newState.IsTerminal() {
				r.terminalAt = r.manager.clock.Now()
			}
			return old, true
		}
	}
	return old, false
}

func (r *ManagedRequest) assign(res resource.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resource = res
}

func (r *ManagedRequest) markReceived(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivedAt = now
	r.lastTouched = now
}

func (r *ManagedRequest) markReleased(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releasedAt = now
}

func (r *ManagedRequest) decline(res resource.Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resource = nil
	r.declined[res] = struct{}{}
}

func (r *ManagedRequest) hasDeclined(res resource.Resource) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.declined[res]
	return ok
}

func (r *ManagedRequest) terminalTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.terminalAt
}

func (r *ManagedRequest) lastTouchedTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastTouched
}
