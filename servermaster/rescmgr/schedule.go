package rescmgr

import (
	"sort"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/rescloud/rescloud/model"
	derror "github.com/rescloud/rescloud/pkg/errors"
	"github.com/rescloud/rescloud/pkg/resource"
	"github.com/rescloud/rescloud/pkg/resourcegroup"
	"github.com/rescloud/rescloud/servermaster/scheduler"
)

type workKind int

const (
	workEnqueue workKind = iota + 1
	workStateChanged
	workResourceOrphaned
	workResourceAdded
	workResourceRemoved
	workGroupAdded
	workGroupRemoved
	workCancelWaiting
	workCancelHolding
	workOrphanRequest
	workDetachAll
)

type workItem struct {
	kind workKind
	req  *ManagedRequest
	res  resource.Resource

	oldState model.ResourceState
	newState model.ResourceState

	groupID int
	group   resourcegroup.Group
}

type offerResult int

const (
	offerAccepted offerResult = iota + 1
	offerDeclined
	// offerUnavailable means the resource could not be reserved.
	offerUnavailable
	// offerGone means the request stopped waiting meanwhile.
	offerGone
)

// submit queues an item and drives the loop unless somebody else does.
func (m *Manager) submit(item workItem) {
	m.work.Add(item)
	m.drain()
}

func (m *Manager) drain() {
	for {
		if !m.draining.CompareAndSwap(false, true) {
			return
		}
		for {
			item, ok := m.work.Pop()
			if !ok {
				break
			}
			m.process(item)
		}
		m.draining.Store(false)

		// An item added after the last Pop but before the Store saw the
		// loop busy and left it to us.
		if m.work.Size() == 0 {
			return
		}
	}
}

func (m *Manager) process(item workItem) {
	switch item.kind {
	case workCancelWaiting:
		m.handleCancelWaiting(item.req)
		return
	case workCancelHolding:
		m.handleCancelHolding(item.req)
		return
	case workOrphanRequest:
		m.handleOrphanRequest(item.req)
		return
	case workDetachAll:
		m.detachAll()
		return
	}

	if !m.isStarted() {
		return
	}
	switch item.kind {
	case workEnqueue:
		m.handleEnqueue(item.req)
	case workStateChanged:
		m.handleStateChanged(item.res, item.oldState, item.newState)
	case workResourceOrphaned:
		m.handleResourceOrphaned(item.res, item.req)
	case workResourceAdded:
		m.attachResource(item.res)
		m.sweep(item.res)
	case workResourceRemoved:
		m.handleResourceRemoved(item.res)
	case workGroupAdded:
		m.attachGroup(item.groupID, item.group)
	case workGroupRemoved:
		m.handleGroupRemoved(item.groupID, item.group)
	}
}

func (m *Manager) handleEnqueue(req *ManagedRequest) {
	if req.State() != model.RequestWaiting {
		return
	}
	m.fireRequestEnqueued(req)

	m.mu.Lock()
	m.waiting = append(m.waiting, req)
	m.mu.Unlock()
	m.metrics.waiting.WithLabelValues(req.request.ResourceType().Name()).Inc()

	m.tryMatch(req)
}

// tryMatch offers the best ranked idle resources to a freshly queued
// request until one is taken.
func (m *Manager) tryMatch(req *ManagedRequest) {
	if !m.withinQuota(req) {
		return
	}
	tp := req.request.ResourceType()
	candidates := m.registry.PolicyFor(tp).Rank(m.groups, req.request, m.idleResources(tp))
	for i := 0; i < candidates.Len(); i++ {
		res := candidates.At(i)
		if req.hasDeclined(res) {
			continue
		}
		switch m.offer(req, res) {
		case offerAccepted, offerGone:
			return
		}
	}
}

// serveWaiting lets every waiting request of tp, in priority order, try
// its own best ranked idle resource.
func (m *Manager) serveWaiting(tp model.ResourceType) {
	m.mu.RLock()
	waiting := make([]*ManagedRequest, 0, len(m.waiting))
	for _, req := range m.waiting {
		if req.request.ResourceType() == tp {
			waiting = append(waiting, req)
		}
	}
	m.mu.RUnlock()

	for _, req := range inPriorityOrder(waiting) {
		if req.State() != model.RequestWaiting {
			continue
		}
		m.tryMatch(req)
	}
}

// inPriorityOrder orders requests the way pickRequest chooses among them:
// repeatedly the earliest of the users' best requests.
func inPriorityOrder(reqs []*ManagedRequest) []*ManagedRequest {
	sorted := append([]*ManagedRequest(nil), reqs...)
	sort.SliceStable(sorted, func(i, j int) bool { return outranks(sorted[i], sorted[j]) })

	var users []model.User
	perUser := make(map[model.User][]*ManagedRequest)
	for _, req := range sorted {
		user := req.request.User()
		if _, ok := perUser[user]; !ok {
			users = append(users, user)
		}
		perUser[user] = append(perUser[user], req)
	}

	ret := make([]*ManagedRequest, 0, len(reqs))
	for len(ret) < len(reqs) {
		var next model.User
		var head *ManagedRequest
		for _, user := range users {
			queue := perUser[user]
			if len(queue) > 0 && (head == nil || queue[0].seq < head.seq) {
				next, head = user, queue[0]
			}
		}
		ret = append(ret, head)
		perUser[next] = perUser[next][1:]
	}
	return ret
}

// sweep offers an idle resource to the waiting requests, best first, until
// one takes it.
func (m *Manager) sweep(res resource.Resource) {
	if res.State() != model.ResourceReady || m.isHeld(res) {
		return
	}

	m.mu.RLock()
	waiting := append([]*ManagedRequest(nil), m.waiting...)
	m.mu.RUnlock()

	tp := res.ResourceType()
	policy := m.registry.PolicyFor(tp)
	idle := m.idleResources(tp)
	for {
		req := m.pickRequest(policy, res, idle, waiting)
		if req == nil {
			return
		}
		switch m.offer(req, res) {
		case offerAccepted, offerUnavailable:
			return
		}
		if res.State() != model.ResourceReady {
			return
		}
		for i, cur := range waiting {
			if cur == req {
				waiting = append(waiting[:i:i], waiting[i+1:]...)
				break
			}
		}
	}
}

// pickRequest chooses which waiting request gets res. Each user's best
// request is the one with the lowest nice level, then the earliest. Among
// users, the earliest of those wins.
func (m *Manager) pickRequest(
	policy scheduler.Policy,
	res resource.Resource,
	idle []resource.Resource,
	waiting []*ManagedRequest,
) *ManagedRequest {
	tp := res.ResourceType()
	best := make(map[model.User]*ManagedRequest)
	for _, req := range waiting {
		if req.request.ResourceType() != tp ||
			req.State() != model.RequestWaiting ||
			req.hasDeclined(res) ||
			!m.withinQuota(req) {
			continue
		}
		user := req.request.User()
		cur, ok := best[user]
		if ok && !outranks(req, cur) {
			continue
		}
		if !policy.Rank(m.groups, req.request, idle).Contains(res) {
			continue
		}
		best[user] = req
	}

	var pick *ManagedRequest
	for _, req := range best {
		if pick == nil || req.seq < pick.seq {
			pick = req
		}
	}
	return pick
}

func outranks(a, b *ManagedRequest) bool {
	if a.request.NiceLevel() != b.request.NiceLevel() {
		return a.request.NiceLevel() < b.request.NiceLevel()
	}
	return a.seq < b.seq
}

// offer reserves res, asks the listeners and hands it to req on success.
func (m *Manager) offer(req *ManagedRequest, res resource.Resource) offerResult {
	us, ok := res.(resource.UsableResource)
	if !ok || m.isHeld(res) {
		return offerUnavailable
	}
	if _, done, _ := req.future.Poll(); done || req.State() != model.RequestWaiting {
		return offerGone
	}
	if !us.StartUsing() {
		return offerUnavailable
	}

	m.mu.Lock()
	m.holders[res] = req
	m.mu.Unlock()
	req.assign(res)

	if !m.askListeners(req, res) {
		m.mu.Lock()
		delete(m.holders, res)
		m.mu.Unlock()
		req.decline(res)
		m.metrics.declined.WithLabelValues(res.ResourceType().Name()).Inc()
		log.L().Info("resource offer declined by every listener",
			zap.String("manager-id", m.id),
			zap.String("request-id", req.id),
			zap.String("resource-id", res.ID()))

		m.fireResourceReleased(req, res)
		us.StopUsing()
		return offerDeclined
	}

	var oldState model.RequestState
	if _, done, _ := req.future.Poll(); !done {
		oldState, ok = req.transition(model.RequestReady, model.RequestWaiting)
	} else {
		ok = false
	}
	if !ok {
		// Canceled or orphaned while the listeners were asked.
		m.mu.Lock()
		delete(m.holders, res)
		m.mu.Unlock()
		req.assign(nil)
		m.fireResourceReleased(req, res)
		us.StopUsing()
		return offerGone
	}

	if obs, ok := m.registry.PolicyFor(res.ResourceType()).(scheduler.AssignmentObserver); ok {
		obs.Assigned(m.groups, res)
	}

	now := m.clock.Now()
	req.markReceived(now)
	m.mu.Lock()
	m.removeWaitingLocked(req)
	m.mu.Unlock()
	tpName := res.ResourceType().Name()
	m.metrics.holding.WithLabelValues(tpName).Inc()
	m.metrics.waitDuration.WithLabelValues(tpName).Observe(now.Sub(req.createdAt).Seconds())

	log.L().Info("resource assigned",
		zap.String("manager-id", m.id),
		zap.String("request-id", req.id),
		zap.String("resource-id", res.ID()),
		zap.Int64("wait-ms", req.WaitTimeMs()))
	m.onRequestStateChanged(req, oldState, model.RequestReady)

	if !req.future.fulfill(res) {
		// Canceled between the state check and here.
		m.publishCanceled(req)
		us.StopUsing()
		m.releaseHeld(res, model.RequestFinished)
	}
	return offerAccepted
}

// releaseHeld ends the hold on res and moves the holder to state.
func (m *Manager) releaseHeld(res resource.Resource, state model.RequestState) *ManagedRequest {
	m.mu.Lock()
	req, ok := m.holders[res]
	if ok {
		delete(m.holders, res)
	}
	_, detach := m.detachOnRelease[res]
	m.mu.Unlock()

	if detach {
		m.detachResource(res)
	}
	if !ok {
		return nil
	}

	req.markReleased(m.clock.Now())
	m.metrics.holding.WithLabelValues(res.ResourceType().Name()).Dec()
	log.L().Info("resource released",
		zap.String("manager-id", m.id),
		zap.String("request-id", req.id),
		zap.String("resource-id", res.ID()),
		zap.Stringer("request-state", state))

	if oldState, ok := req.transition(state, model.RequestReady, model.RequestWorking); ok {
		m.onRequestStateChanged(req, oldState, state)
	}
	m.fireResourceReleased(req, res)
	return req
}

func (m *Manager) handleStateChanged(res resource.Resource, oldState, newState model.ResourceState) {
	leftInUse := oldState == model.ResourceInUse && newState != model.ResourceInUse
	// The state guard skips stale notices for a resource reserved again
	// since.
	if leftInUse && res.State() != model.ResourceInUse {
		m.releaseHeld(res, model.RequestFinished)
	}
	if !leftInUse && newState != model.ResourceReady {
		return
	}
	// The resource itself goes to the request it suits first. A release may
	// also have freed quota, so the others try their own best match after.
	m.sweep(res)
	m.serveWaiting(res.ResourceType())
}

func (m *Manager) handleResourceOrphaned(res resource.Resource, holder *ManagedRequest) {
	m.mu.RLock()
	current := m.holders[res]
	m.mu.RUnlock()
	if current != holder || res.State() != model.ResourceInUse {
		return
	}

	log.L().Warn("recovering orphaned resource",
		zap.String("manager-id", m.id),
		zap.String("resource-id", res.ID()))
	m.metrics.orphanRecovered.WithLabelValues(res.ResourceType().Name()).Inc()

	if holder != nil {
		m.releaseHeld(res, model.RequestOrphaned)
	}
	if us, ok := res.(resource.UsableResource); ok {
		us.StopUsing()
	}
}

func (m *Manager) handleCancelWaiting(req *ManagedRequest) {
	oldState, ok := req.transition(model.RequestOrphaned, model.RequestWaiting)
	if !ok {
		return
	}
	m.publishCanceled(req)
	m.onRequestStateChanged(req, oldState, model.RequestOrphaned)
}

func (m *Manager) handleCancelHolding(req *ManagedRequest) {
	res, ok := m.heldBy(req)
	if !ok {
		return
	}
	m.publishCanceled(req)
	m.giveBack(res, model.RequestFinished)
}

func (m *Manager) handleOrphanRequest(req *ManagedRequest) {
	if res, ok := m.heldBy(req); ok {
		m.giveBack(res, model.RequestOrphaned)
		return
	}

	oldState, ok := req.transition(model.RequestOrphaned, model.RequestWaiting)
	if !ok {
		return
	}
	req.future.fail(derror.ErrRequestOrphaned.GenWithStackByArgs(req.id))
	m.onRequestStateChanged(req, oldState, model.RequestOrphaned)
}

// giveBack returns the resource first, then ends the hold.
func (m *Manager) giveBack(res resource.Resource, state model.RequestState) {
	if us, ok := res.(resource.UsableResource); ok {
		us.StopUsing()
	}
	m.releaseHeld(res, state)
}

func (m *Manager) heldBy(req *ManagedRequest) (resource.Resource, bool) {
	res := req.ReceivedResource()
	if res == nil {
		return nil, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return res, m.holders[res] == req
}

func (m *Manager) isHeld(res resource.Resource) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.holders[res]
	return ok
}

// withinQuota reports whether the user may hold one more resource.
func (m *Manager) withinQuota(req *ManagedRequest) bool {
	if m.authz == nil {
		return true
	}
	user := req.request.User()
	tp := req.request.ResourceType()
	auth, _, found := m.authz.Lookup(user, tp)
	if !found || auth.MaxResources <= 0 {
		return true
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	held := 0
	for _, holder := range m.holders {
		if holder.request.User() == user && holder.request.ResourceType() == tp {
			held++
		}
	}
	return held < auth.MaxResources
}

// idleResources returns the READY, unheld resources of tp in group order.
func (m *Manager) idleResources(tp model.ResourceType) []resource.Resource {
	var ret []resource.Resource
	seen := make(map[resource.Resource]struct{})
	for _, g := range resourcegroup.GroupsOfType(m.groups, tp) {
		for _, res := range g.Group.Resources().Resources() {
			if _, ok := seen[res]; ok {
				continue
			}
			seen[res] = struct{}{}
			if res.State() == model.ResourceReady && !m.isHeld(res) {
				ret = append(ret, res)
			}
		}
	}
	return ret
}

func (m *Manager) attachGroup(id int, g resourcegroup.Group) {
	coll := g.Resources()
	m.mu.Lock()
	if _, ok := m.collections[id]; ok {
		m.mu.Unlock()
		return
	}
	m.collections[id] = coll
	m.mu.Unlock()

	coll.AddCollectionListener(m.watcher)
	for _, res := range coll.Resources() {
		m.attachResource(res)
	}
	m.serveWaiting(g.ResourceType())
}

func (m *Manager) attachResource(res resource.Resource) {
	m.mu.Lock()
	delete(m.detachOnRelease, res)
	if _, ok := m.watched[res]; ok {
		m.mu.Unlock()
		return
	}
	m.watched[res] = struct{}{}
	m.mu.Unlock()

	res.AddListener(m.watcher)
	if d, ok := resource.AsOrphanDetector(res); ok {
		d.AddOrphanListener(m.watcher)
	}
}

func (m *Manager) detachResource(res resource.Resource) {
	m.mu.Lock()
	delete(m.detachOnRelease, res)
	if _, ok := m.watched[res]; !ok {
		m.mu.Unlock()
		return
	}
	delete(m.watched, res)
	m.mu.Unlock()

	res.RemoveListener(m.watcher)
	if d, ok := resource.AsOrphanDetector(res); ok {
		d.RemoveOrphanListener(m.watcher)
	}
}

// handleResourceRemoved stops watching res once no group holds it. A held
// resource is watched until its release.
func (m *Manager) handleResourceRemoved(res resource.Resource) {
	if _, ok := resourcegroup.FindGroup(m.groups, res); ok {
		return
	}
	m.mu.Lock()
	if _, held := m.holders[res]; held {
		m.detachOnRelease[res] = struct{}{}
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	m.detachResource(res)
}

func (m *Manager) handleGroupRemoved(id int, g resourcegroup.Group) {
	m.mu.Lock()
	coll, ok := m.collections[id]
	delete(m.collections, id)
	m.mu.Unlock()
	if !ok {
		coll = g.Resources()
	}

	coll.RemoveCollectionListener(m.watcher)
	for _, res := range coll.Resources() {
		m.handleResourceRemoved(res)
	}

	// Requests no group can serve anymore are dropped.
	tp := g.ResourceType()
	m.mu.RLock()
	waiting := append([]*ManagedRequest(nil), m.waiting...)
	m.mu.RUnlock()
	for _, req := range waiting {
		if req.request.ResourceType() != tp || m.hasVisibleGroup(req.request.User(), tp) {
			continue
		}
		cause := derror.ErrNoVisibleResourceGroup.GenWithStackByArgs(tp, req.request.User())
		log.L().Warn("resource request can no longer be served",
			zap.String("manager-id", m.id),
			zap.String("request-id", req.id),
			zap.Error(cause))
		oldState, ok := req.transition(model.RequestOrphaned, model.RequestWaiting)
		if !ok {
			continue
		}
		m.fireRequestError(req, cause)
		req.future.fail(cause)
		m.onRequestStateChanged(req, oldState, model.RequestOrphaned)
	}
}

func (m *Manager) detachAll() {
	m.mu.Lock()
	colls := m.collections
	watched := m.watched
	m.collections = make(map[int]resource.Collection)
	m.watched = make(map[resource.Resource]struct{})
	m.detachOnRelease = make(map[resource.Resource]struct{})
	m.mu.Unlock()

	for _, coll := range colls {
		coll.RemoveCollectionListener(m.watcher)
	}
	for res := range watched {
		res.RemoveListener(m.watcher)
		if d, ok := resource.AsOrphanDetector(res); ok {
			d.RemoveOrphanListener(m.watcher)
		}
	}
}

// watcher turns notifications from resources, collections and groups into
// work for the manager.
type watcher struct {
	m *Manager
}

func (w *watcher) OnResourceStateChanged(r resource.Resource, oldState, newState model.ResourceState) {
	w.m.submit(workItem{kind: workStateChanged, res: r, oldState: oldState, newState: newState})
}

func (w *watcher) OnResourceOrphaned(r resource.UsableResource) {
	// Remember who held it when the orphan was seen.
	w.m.mu.RLock()
	holder := w.m.holders[r]
	w.m.mu.RUnlock()
	w.m.submit(workItem{kind: workResourceOrphaned, res: r, req: holder})
}

func (w *watcher) OnResourceAdded(r resource.Resource) {
	w.m.submit(workItem{kind: workResourceAdded, res: r})
}

func (w *watcher) OnResourceRemoved(r resource.Resource) {
	w.m.submit(workItem{kind: workResourceRemoved, res: r})
}

func (w *watcher) OnGroupAdded(id int, g resourcegroup.Group) {
	w.m.submit(workItem{kind: workGroupAdded, groupID: id, group: g})
}

func (w *watcher) OnGroupRemoved(id int, g resourcegroup.Group) {
	w.m.submit(workItem{kind: workGroupRemoved, groupID: id, group: g})
}
