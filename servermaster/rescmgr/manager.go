package rescmgr

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rescloud/rescloud/lib/config"
	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/autoid"
	"github.com/rescloud/rescloud/pkg/clock"
	"github.com/rescloud/rescloud/pkg/containers"
	derror "github.com/rescloud/rescloud/pkg/errors"
	"github.com/rescloud/rescloud/pkg/notifier"
	"github.com/rescloud/rescloud/pkg/promutil"
	"github.com/rescloud/rescloud/pkg/resource"
	"github.com/rescloud/rescloud/pkg/resourcegroup"
	"github.com/rescloud/rescloud/servermaster/scheduler"
)

const (
	defaultMaxRetainedRequests = 4096
	waitingWarnRate            = 10 * time.Second
)

// Manager brokers resources of a group manager between resource requests.
//
// Every scheduling decision runs on a single drain loop. Callbacks from
// resources, collections and groups only queue work and then try to drive
// the loop, so the loop may run on whichever goroutine triggered it, but
// never on two goroutines at once. Listener callbacks run on the loop
// without any manager lock held.
type Manager struct {
	id       string
	clock    clock.Clock
	ids      autoid.RequestIDAllocator
	registry *scheduler.Registry
	authz    AuthorizationStore
	timeouts config.TimeoutConfig

	maxRetained    int
	metricRegistry *promutil.Registry
	metrics        *managerMetrics
	events         *notifier.Notifier[Event]
	warnLimiter    *rate.Limiter

	groups  resourcegroup.Manager
	watcher *watcher

	work     *containers.DequeQueue[workItem]
	draining atomic.Bool
	seq      atomic.Uint64

	mu              sync.RWMutex
	started         bool
	requests        map[string]*ManagedRequest
	waiting         []*ManagedRequest
	holders         map[resource.Resource]*ManagedRequest
	watched         map[resource.Resource]struct{}
	collections     map[int]resource.Collection
	detachOnRelease map[resource.Resource]struct{}
	cancel          context.CancelFunc

	retired *lru.Cache[string, *ManagedRequest]

	listenerMu sync.Mutex
	listeners  []Listener

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Option configures a Manager.
type Option func(m *Manager)

// WithClock replaces the system clock.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithIDAllocator replaces the UUID request ID allocator.
func WithIDAllocator(ids autoid.RequestIDAllocator) Option {
	return func(m *Manager) {
		m.ids = ids
	}
}

// WithRegistry sets the selection policy registry.
func WithRegistry(r *scheduler.Registry) Option {
	return func(m *Manager) {
		m.registry = r
	}
}

// WithAuthorizationStore enables per-type admission control.
func WithAuthorizationStore(s AuthorizationStore) Option {
	return func(m *Manager) {
		m.authz = s
	}
}

// WithTimeoutConfig sets the housekeeping timers.
func WithTimeoutConfig(tc config.TimeoutConfig) Option {
	return func(m *Manager) {
		m.timeouts = tc.Adjust()
	}
}

// WithMaxRetainedRequests bounds how many terminal requests stay visible.
func WithMaxRetainedRequests(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.maxRetained = n
		}
	}
}

// WithMetricRegistry registers the manager metrics to r instead of the
// global registry.
func WithMetricRegistry(r *promutil.Registry) Option {
	return func(m *Manager) {
		m.metricRegistry = r
	}
}

// WithManagerID sets the ID labeling the manager's metrics and logs.
func WithManagerID(id string) Option {
	return func(m *Manager) {
		m.id = id
	}
}

// NewManager creates a manager over groups. It does nothing until Start.
func NewManager(groups resourcegroup.Manager, opts ...Option) *Manager {
	m := &Manager{
		id:              "manager-" + uuid.New().String(),
		clock:           clock.New(),
		ids:             autoid.NewUUIDAllocator(),
		registry:        scheduler.NewRegistry(),
		timeouts:        config.DefaultTimeoutConfig(),
		maxRetained:     defaultMaxRetainedRequests,
		metricRegistry:  promutil.GlobalRegistry(),
		events:          notifier.NewNotifier[Event](),
		warnLimiter:     rate.NewLimiter(rate.Every(waitingWarnRate), 1),
		groups:          groups,
		work:            containers.NewDequeQueue[workItem](),
		requests:        make(map[string]*ManagedRequest),
		holders:         make(map[resource.Resource]*ManagedRequest),
		watched:         make(map[resource.Resource]struct{}),
		collections:     make(map[int]resource.Collection),
		detachOnRelease: make(map[resource.Resource]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.watcher = &watcher{m: m}
	m.metrics = newManagerMetrics(promutil.NewFactory(m.metricRegistry, m.id))

	retired, err := lru.New[string, *ManagedRequest](m.maxRetained)
	if err != nil {
		// only fails on a non-positive size
		log.L().Panic("failed to create request cache", zap.Error(err))
	}
	m.retired = retired
	return m
}

// ID returns the manager ID.
func (m *Manager) ID() string {
	return m.id
}

// Start attaches the manager to its groups and resources and starts
// matching.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return derror.ErrManagerAlreadyStarted.GenWithStackByArgs()
	}
	m.started = true
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	m.groups.AddManagerListener(m.watcher)
	for _, id := range m.groups.GroupIDs() {
		if g, ok := m.groups.Group(id); ok {
			m.submit(workItem{kind: workGroupAdded, groupID: id, group: g})
		}
	}

	ticker := m.clock.Ticker(m.timeouts.HousekeepingInterval)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runHousekeeping(ctx, ticker)
	}()

	log.L().Info("resource manager started", zap.String("manager-id", m.id))
	return nil
}

// Shutdown detaches the manager from everything it watches. No matching
// happens afterwards. Requests keep their current state.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	m.groups.RemoveManagerListener(m.watcher)
	cancel()
	m.wg.Wait()
	m.submit(workItem{kind: workDetachAll})

	log.L().Info("resource manager shut down", zap.String("manager-id", m.id))
}

// Close shuts the manager down, closes the event bus and unregisters the
// metrics.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		m.Shutdown()
		m.events.Close()
		m.metricRegistry.Unregister(m.id)
	})
}

func (m *Manager) isStarted() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

// Subscribe returns a receiver of request lifecycle events. The caller
// must close it.
func (m *Manager) Subscribe() *notifier.Receiver[Event] {
	return m.events.NewReceiver()
}

// AddListener is a no-op if l is already registered.
func (m *Manager) AddListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for _, cur := range m.listeners {
		if cur == l {
			return
		}
	}
	m.listeners = append(m.listeners, l)
}

func (m *Manager) RemoveListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, cur := range m.listeners {
		if cur == l {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	return append([]Listener(nil), m.listeners...)
}

// HandleResourceRequest admits req and queues it. If a resource can be
// assigned right away, the match happens before this returns, unless
// another goroutine is driving the manager at that moment.
func (m *Manager) HandleResourceRequest(req *model.ResourceRequest) (*ManagedRequest, error) {
	tp := req.ResourceType()
	user := req.User()

	if req.NiceLevel() < model.MinNiceLevel || req.NiceLevel() > model.MaxNiceLevel {
		m.metrics.rejected.WithLabelValues(tp.Name(), "invalid-nice-level").Inc()
		return nil, derror.ErrInvalidNiceLevel.GenWithStackByArgs(
			req.NiceLevel(), model.MinNiceLevel, model.MaxNiceLevel)
	}
	if !m.isStarted() {
		m.metrics.rejected.WithLabelValues(tp.Name(), "not-started").Inc()
		return nil, derror.ErrManagerNotStarted.GenWithStackByArgs()
	}

	if m.authz != nil {
		auth, restricted, found := m.authz.Lookup(user, tp)
		if restricted && !found {
			m.metrics.rejected.WithLabelValues(tp.Name(), "unauthorized").Inc()
			return nil, derror.ErrUserNotAuthorized.GenWithStackByArgs(user, tp)
		}
		if found && req.NiceLevel() < auth.NiceLevel {
			req = req.WithNiceLevel(auth.NiceLevel)
		}
	}

	if !m.hasVisibleGroup(user, tp) {
		m.metrics.rejected.WithLabelValues(tp.Name(), "no-visible-group").Inc()
		return nil, derror.ErrNoVisibleResourceGroup.GenWithStackByArgs(tp, user)
	}

	mr := newManagedRequest(m, m.ids.AllocID(), req, m.seq.Inc(), m.clock.Now())
	m.mu.Lock()
	m.requests[mr.id] = mr
	m.mu.Unlock()

	m.metrics.admitted.WithLabelValues(tp.Name()).Inc()
	log.L().Info("resource request received",
		zap.String("manager-id", m.id),
		zap.String("request-id", mr.id),
		zap.Stringer("request", req))
	m.events.Notify(Event{
		Type:      EventReceived,
		RequestID: mr.id,
		Request:   req,
		Time:      mr.createdAt,
	})

	m.submit(workItem{kind: workEnqueue, req: mr})
	return mr, nil
}

func (m *Manager) hasVisibleGroup(user model.User, tp model.ResourceType) bool {
	for _, g := range resourcegroup.GroupsOfType(m.groups, tp) {
		if resourcegroup.IsVisibleTo(g.Group, user) {
			return true
		}
	}
	return false
}

// Request looks up a live or retained request.
func (m *Manager) Request(id string) (*ManagedRequest, bool) {
	m.mu.RLock()
	req, ok := m.requests[id]
	m.mu.RUnlock()
	if ok {
		return req, true
	}
	return m.retired.Peek(id)
}

// ManagedRequests returns the live and retained requests in enqueue order.
func (m *Manager) ManagedRequests() []*ManagedRequest {
	m.mu.RLock()
	ret := make([]*ManagedRequest, 0, len(m.requests)+m.retired.Len())
	for _, req := range m.requests {
		ret = append(ret, req)
	}
	m.mu.RUnlock()

	for _, id := range m.retired.Keys() {
		if req, ok := m.retired.Peek(id); ok {
			ret = append(ret, req)
		}
	}
	sortBySeq(ret)
	return ret
}

// TotalQueueSize returns the number of WAITING requests.
func (m *Manager) TotalQueueSize() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, req := range m.requests {
		if req.State() == model.RequestWaiting {
			n++
		}
	}
	return n
}

// AllRunningQueries returns the requests currently holding a resource.
func (m *Manager) AllRunningQueries() []Query {
	m.mu.RLock()
	reqs := make([]*ManagedRequest, 0, len(m.holders))
	for _, req := range m.holders {
		reqs = append(reqs, req)
	}
	m.mu.RUnlock()

	sortBySeq(reqs)
	ret := make([]Query, 0, len(reqs))
	for _, req := range reqs {
		ret = append(ret, req)
	}
	return ret
}

func sortBySeq(reqs []*ManagedRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		return reqs[i].seq < reqs[j].seq
	})
}

func (m *Manager) runHousekeeping(ctx context.Context, ticker *clock.Ticker) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.housekeep()
		}
	}
}

// housekeep orphans idle requests and purges expired terminal ones.
func (m *Manager) housekeep() {
	now := m.clock.Now()

	m.mu.RLock()
	live := make([]*ManagedRequest, 0, len(m.requests))
	for _, req := range m.requests {
		live = append(live, req)
	}
	m.mu.RUnlock()
	sortBySeq(live)

	idleTimeout := m.timeouts.RequestIdleTimeout
	for _, req := range live {
		state := req.State()
		if idleTimeout > 0 &&
			(state == model.RequestWaiting || state == model.RequestReady) &&
			now.Sub(req.lastTouchedTime()) >= idleTimeout {
			log.L().Info("resource request idle for too long, orphaning it",
				zap.String("manager-id", m.id),
				zap.String("request-id", req.id),
				zap.Stringer("state", state),
				zap.Duration("idle-timeout", idleTimeout))
			m.submit(workItem{kind: workOrphanRequest, req: req})
			continue
		}
		if state == model.RequestWaiting &&
			now.Sub(req.createdAt) >= m.timeouts.WaitingWarnThreshold &&
			m.warnLimiter.Allow() {
			log.L().Warn("resource request still waiting",
				zap.String("manager-id", m.id),
				zap.String("request-id", req.id),
				zap.Stringer("request", req.request),
				zap.Int64("wait-ms", req.WaitTimeMs()))
		}
	}

	for _, id := range m.retired.Keys() {
		req, ok := m.retired.Peek(id)
		if ok && now.Sub(req.terminalTime()) >= m.timeouts.RequestRetention {
			m.retired.Remove(id)
		}
	}
}

func (m *Manager) onRequestStateChanged(req *ManagedRequest, oldState, newState model.RequestState) {
	m.metrics.transitions.WithLabelValues(newState.String()).Inc()
	log.L().Debug("resource request state changed",
		zap.String("manager-id", m.id),
		zap.String("request-id", req.id),
		zap.Stringer("old-state", oldState),
		zap.Stringer("new-state", newState))
	m.events.Notify(Event{
		Type:      EventStateChanged,
		RequestID: req.id,
		Request:   req.request,
		OldState:  oldState,
		NewState:  newState,
		Time:      m.clock.Now(),
	})
	if newState.IsTerminal() {
		m.retire(req)
	}
}

func (m *Manager) publishCanceled(req *ManagedRequest) {
	log.L().Info("resource request canceled",
		zap.String("manager-id", m.id),
		zap.String("request-id", req.id))
	m.events.Notify(Event{
		Type:      EventCanceled,
		RequestID: req.id,
		Request:   req.request,
		Time:      m.clock.Now(),
	})
}

func (m *Manager) retire(req *ManagedRequest) {
	m.mu.Lock()
	delete(m.requests, req.id)
	m.removeWaitingLocked(req)
	m.mu.Unlock()

	m.retired.Add(req.id, req)
}

func (m *Manager) removeWaitingLocked(req *ManagedRequest) bool {
	for i, cur := range m.waiting {
		if cur == req {
			m.waiting = append(m.waiting[:i], m.waiting[i+1:]...)
			m.metrics.waiting.WithLabelValues(req.request.ResourceType().Name()).Dec()
			return true
		}
	}
	return false
}

// callListener runs fn, turning a panic into an error.
func (m *Manager) callListener(callback string, fn func() error) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.Errorf("listener panicked in %s: %v", callback, v)
		}
		if err != nil {
			log.L().Warn("resource manager listener failed",
				zap.String("manager-id", m.id),
				zap.String("callback", callback),
				zap.Error(err))
		}
	}()
	return fn()
}

func (m *Manager) fireRequestEnqueued(req *ManagedRequest) {
	for _, l := range m.snapshotListeners() {
		_ = m.callListener("RequestEnqueued", func() error {
			l.RequestEnqueued(req)
			return nil
		})
	}
}

func (m *Manager) fireResourceReleased(req *ManagedRequest, res resource.Resource) {
	for _, l := range m.snapshotListeners() {
		_ = m.callListener("ResourceReleased", func() error {
			l.ResourceReleased(req, res)
			return nil
		})
	}
}

func (m *Manager) fireRequestError(req *ManagedRequest, cause error) {
	for _, l := range m.snapshotListeners() {
		_ = m.callListener("RequestError", func() error {
			l.RequestError(req, cause)
			return nil
		})
	}
}

// askListeners offers res to the listeners until one accepts. With no
// listener registered the future is the only consumer, so the offer is
// accepted.
func (m *Manager) askListeners(req *ManagedRequest, res resource.Resource) bool {
	ls := m.snapshotListeners()
	if len(ls) == 0 {
		return true
	}
	for _, l := range ls {
		var accepted bool
		err := m.callListener("ResourceAvailable", func() error {
			var err error
			accepted, err = l.ResourceAvailable(req, res)
			return err
		})
		if err == nil && accepted {
			return true
		}
	}
	return false
}
