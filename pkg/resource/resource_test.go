package resource

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testType = model.NewResourceType("selenium")

type stateChange struct {
	res      Resource
	old, new model.ResourceState
}

type recordingListener struct {
	mu      sync.Mutex
	changes []stateChange

	// removeSelf makes the listener deregister itself on the first event.
	removeSelf bool
}

func (l *recordingListener) OnResourceStateChanged(r Resource, oldState, newState model.ResourceState) {
	l.mu.Lock()
	l.changes = append(l.changes, stateChange{res: r, old: oldState, new: newState})
	l.mu.Unlock()
	if l.removeSelf {
		r.RemoveListener(l)
	}
}

func (l *recordingListener) Changes() []stateChange {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]stateChange(nil), l.changes...)
}

func TestListenerRegistrationIsIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHost("host-1", testType, "10.0.0.1:4444", false)
	l := &recordingListener{}
	h.AddListener(l)
	h.AddListener(l)

	h.SetState(model.ResourceConnected)
	changes := l.Changes()
	require.Len(t, changes, 1)
	require.Equal(t, Resource(h), changes[0].res)
	require.Equal(t, model.ResourceDisconnected, changes[0].old)
	require.Equal(t, model.ResourceConnected, changes[0].new)

	// Duplicate notifications are legal.
	h.SetState(model.ResourceConnected)
	require.Len(t, l.Changes(), 2)

	h.RemoveListener(l)
	h.RemoveListener(l)
	h.SetState(model.ResourceReady)
	require.Len(t, l.Changes(), 2)
}

func TestListenerCanDeregisterDuringCallback(t *testing.T) {
	t.Parallel()

	h := NewHost("host-1", testType, "10.0.0.1:4444", false)
	self := &recordingListener{removeSelf: true}
	other := &recordingListener{}
	h.AddListener(self)
	h.AddListener(other)

	h.SetState(model.ResourceConnected)
	h.SetState(model.ResourceReady)

	require.Len(t, self.Changes(), 1)
	require.Len(t, other.Changes(), 2)
}

func TestStartUsingIsExclusive(t *testing.T) {
	t.Parallel()

	h := NewHost("host-1", testType, "10.0.0.1:4444", false)
	require.False(t, h.StartUsing(), "a disconnected host cannot be reserved")
	h.SetState(model.ResourceReady)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h.StartUsing() {
				winners.Inc()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), winners.Load())
	require.Equal(t, model.ResourceInUse, h.State())

	h.StopUsing()
	require.Equal(t, model.ResourceReady, h.State())

	l := &recordingListener{}
	h.AddListener(l)
	h.StopUsing()
	require.Empty(t, l.Changes(), "StopUsing on an idle host must not fire")
}

func TestReinitOnRelease(t *testing.T) {
	t.Parallel()

	h := NewHost("host-1", testType, "10.0.0.1:4444", true)
	h.SetState(model.ResourceReady)
	require.True(t, h.StartUsing())
	h.StopUsing()
	require.Equal(t, model.ResourceConnected, h.State())
}

type countingOrphanListener struct {
	count atomic.Int32
	stop  bool
}

func (l *countingOrphanListener) OnResourceOrphaned(r UsableResource) {
	l.count.Inc()
	if l.stop {
		r.StopUsing()
	}
}

func TestOrphanDetectionFiresOnce(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	h := NewWatchedHost("host-1", testType, "10.0.0.1:4444", false, clk, time.Minute)
	h.SetState(model.ResourceReady)

	d, ok := AsOrphanDetector(h)
	require.True(t, ok)
	l := &countingOrphanListener{}
	d.AddOrphanListener(l)
	d.AddOrphanListener(l)

	require.True(t, h.StartUsing())
	clk.Add(30 * time.Second)
	require.False(t, h.CheckOrphaned())

	clk.Add(31 * time.Second)
	require.True(t, h.CheckOrphaned())
	require.False(t, h.CheckOrphaned())
	clk.Add(time.Hour)
	require.False(t, h.CheckOrphaned())
	require.Equal(t, int32(1), l.count.Load())

	// Touching re-arms the detector.
	h.Touch()
	clk.Add(59 * time.Second)
	require.False(t, h.CheckOrphaned())
	clk.Add(2 * time.Second)
	require.True(t, h.CheckOrphaned())
	require.Equal(t, int32(2), l.count.Load())

	h.StopUsing()
	clk.Add(time.Hour)
	require.False(t, h.CheckOrphaned(), "an idle host is never orphaned")
}

func TestFailedReservationKeepsOrphanClock(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	h := NewWatchedHost("host-1", testType, "10.0.0.1:4444", false, clk, time.Second)
	h.SetState(model.ResourceReady)
	l := &countingOrphanListener{}
	h.AddOrphanListener(l)

	require.True(t, h.StartUsing())
	clk.Add(2 * time.Second)
	require.True(t, h.CheckOrphaned())

	// A second reservation of a host in use must neither re-arm the
	// detector nor extend the holder's lease.
	require.False(t, h.StartUsing())
	clk.Add(2 * time.Second)
	require.False(t, h.CheckOrphaned())
	require.Equal(t, int32(1), l.count.Load())
	require.Equal(t, model.ResourceInUse, h.State())

	h.StopUsing()
	require.True(t, h.StartUsing())
	clk.Add(500 * time.Millisecond)
	require.False(t, h.StartUsing())
	clk.Add(600 * time.Millisecond)
	require.True(t, h.CheckOrphaned(), "the lease runs from the successful reservation")
	require.Equal(t, int32(2), l.count.Load())
}

func TestOrphanListenerRecoversResource(t *testing.T) {
	t.Parallel()

	clk := clock.NewMock()
	h := NewWatchedHost("host-1", testType, "10.0.0.1:4444", false, clk, time.Minute)
	h.SetState(model.ResourceReady)
	states := &recordingListener{}
	h.AddListener(states)
	l := &countingOrphanListener{stop: true}
	h.AddOrphanListener(l)

	require.True(t, h.StartUsing())
	clk.Add(2 * time.Minute)

	w := NewOrphanWatcher(clk, time.Second)
	w.Watch(h)
	w.Watch(NewHost("plain", testType, "10.0.0.2:4444", false))
	require.Equal(t, 1, w.CheckOnce())
	require.Equal(t, 0, w.CheckOnce())

	require.Equal(t, model.ResourceReady, h.State())
	readyCount := 0
	for _, c := range states.Changes() {
		if c.new == model.ResourceReady {
			readyCount++
		}
	}
	require.Equal(t, 1, readyCount)

	h.RemoveOrphanListener(l)
	require.True(t, h.StartUsing())
	clk.Add(2 * time.Minute)
	require.True(t, h.CheckOrphaned())
	require.Equal(t, int32(1), l.count.Load())
	w.Unwatch(h)
	require.Equal(t, 0, w.CheckOnce())
}

func TestPlainHostHasNoOrphanDetection(t *testing.T) {
	t.Parallel()

	_, ok := AsOrphanDetector(NewHost("host-1", testType, "10.0.0.1:4444", false))
	require.False(t, ok)
}
