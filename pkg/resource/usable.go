package resource

import (
	"sync"
	"time"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/clock"
)

// UsableResource is a resource that can be reserved by a request.
type UsableResource interface {
	Resource

	// StartUsing atomically moves the resource from READY to IN_USE.
	// It returns false if the resource was not READY. This is the
	// reservation act of the scheduler.
	StartUsing() bool

	// StopUsing moves an IN_USE resource back to READY, or to CONNECTED
	// if it has to be reinitialized. It is a no-op in any other state.
	StopUsing()
}

// OrphanListener is notified when a resource in use has not been touched
// for longer than its orphan timeout. The listener is expected to call
// StopUsing on the resource.
type OrphanListener interface {
	OnResourceOrphaned(r UsableResource)
}

// OrphanDetector is an optional capability of a UsableResource. Resources
// without it never report orphans.
type OrphanDetector interface {
	AddOrphanListener(l OrphanListener)
	RemoveOrphanListener(l OrphanListener)

	// Touch resets the idle clock of a resource in use.
	Touch()

	// CheckOrphaned fires the orphan listeners if the idle time exceeds
	// the threshold. Listeners fire at most once per period of use, until
	// the resource is touched or stopped. Returns whether they fired.
	CheckOrphaned() bool
}

// AsOrphanDetector returns the orphan detection capability of r, if any.
func AsOrphanDetector(r Resource) (OrphanDetector, bool) {
	d, ok := r.(OrphanDetector)
	return d, ok
}

// UsableBase implements UsableResource on top of Base.
type UsableBase struct {
	Base

	// releaseState is the state StopUsing moves to.
	releaseState model.ResourceState
}

// Init binds the base to its owner. If reinitOnRelease is set, released
// resources go to CONNECTED instead of READY.
func (b *UsableBase) Init(
	owner Resource,
	id string,
	tp model.ResourceType,
	initial model.ResourceState,
	reinitOnRelease bool,
) {
	b.Base.Init(owner, id, tp, initial)
	b.releaseState = model.ResourceReady
	if reinitOnRelease {
		b.releaseState = model.ResourceConnected
	}
}

func (b *UsableBase) StartUsing() bool {
	return b.CompareAndSetState(model.ResourceReady, model.ResourceInUse)
}

func (b *UsableBase) StopUsing() {
	b.CompareAndSetState(model.ResourceInUse, b.releaseState)
}

// OrphanAwareBase is a UsableBase that also implements OrphanDetector.
type OrphanAwareBase struct {
	UsableBase

	clock     clock.Clock
	threshold time.Duration

	orphanMu        sync.Mutex
	lastTouched     time.Time
	orphanFired     bool
	orphanListeners []OrphanListener
}

// Init binds the base to its owner. A non-positive threshold disables
// orphan detection.
func (b *OrphanAwareBase) Init(
	owner Resource,
	id string,
	tp model.ResourceType,
	initial model.ResourceState,
	reinitOnRelease bool,
	clk clock.Clock,
	threshold time.Duration,
) {
	b.UsableBase.Init(owner, id, tp, initial, reinitOnRelease)
	b.clock = clk
	b.threshold = threshold
}

func (b *OrphanAwareBase) StartUsing() bool {
	// The swap and the clock reset happen under orphanMu, so a check never
	// sees IN_USE together with the touch time of the previous holder. A
	// failed swap leaves the current holder's clock alone.
	b.orphanMu.Lock()
	if !b.state.CompareAndSwap(int32(model.ResourceReady), int32(model.ResourceInUse)) {
		b.orphanMu.Unlock()
		return false
	}
	b.lastTouched = b.clock.Now()
	b.orphanFired = false
	b.orphanMu.Unlock()

	b.fireStateChanged(model.ResourceReady, model.ResourceInUse)
	return true
}

func (b *OrphanAwareBase) StopUsing() {
	b.UsableBase.StopUsing()

	b.orphanMu.Lock()
	b.orphanFired = false
	b.orphanMu.Unlock()
}

func (b *OrphanAwareBase) Touch() {
	b.orphanMu.Lock()
	defer b.orphanMu.Unlock()

	b.lastTouched = b.clock.Now()
	b.orphanFired = false
}

func (b *OrphanAwareBase) AddOrphanListener(l OrphanListener) {
	b.orphanMu.Lock()
	defer b.orphanMu.Unlock()

	for _, existing := range b.orphanListeners {
		if existing == l {
			return
		}
	}
	b.orphanListeners = append(b.orphanListeners, l)
}

func (b *OrphanAwareBase) RemoveOrphanListener(l OrphanListener) {
	b.orphanMu.Lock()
	defer b.orphanMu.Unlock()

	for i, existing := range b.orphanListeners {
		if existing == l {
			b.orphanListeners = append(b.orphanListeners[:i:i], b.orphanListeners[i+1:]...)
			return
		}
	}
}

func (b *OrphanAwareBase) CheckOrphaned() bool {
	if b.threshold <= 0 {
		return false
	}

	b.orphanMu.Lock()
	if b.orphanFired ||
		b.State() != model.ResourceInUse ||
		b.clock.Since(b.lastTouched) <= b.threshold {
		b.orphanMu.Unlock()
		return false
	}
	b.orphanFired = true
	listeners := make([]OrphanListener, len(b.orphanListeners))
	copy(listeners, b.orphanListeners)
	b.orphanMu.Unlock()

	owner, _ := b.owner.(UsableResource)
	for _, l := range listeners {
		l.OnResourceOrphaned(owner)
	}
	return true
}
