package resourcegroup

import (
	"sort"
	"sync"

	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/resource"
)

// Manager enumerates resource groups. Group IDs are unique and groups are
// always enumerated in ascending ID order.
type Manager interface {
	GroupIDs() []int
	Group(id int) (Group, bool)
	GroupName(id int) string

	// AddManagerListener is a no-op if the listener is already registered.
	AddManagerListener(l ManagerListener)
	RemoveManagerListener(l ManagerListener)
}

// ManagerListener is notified when groups are added or removed.
// Listeners must be comparable.
type ManagerListener interface {
	OnGroupAdded(id int, g Group)
	OnGroupRemoved(id int, g Group)
}

// IDGroup is a group together with its ID.
type IDGroup struct {
	ID    int
	Group Group
}

// GroupsOfType returns the groups of the given type in ID order.
func GroupsOfType(m Manager, tp model.ResourceType) []IDGroup {
	var ret []IDGroup
	for _, id := range m.GroupIDs() {
		g, ok := m.Group(id)
		if !ok || g.ResourceType() != tp {
			continue
		}
		ret = append(ret, IDGroup{ID: id, Group: g})
	}
	return ret
}

// FindGroup returns the group containing r.
func FindGroup(m Manager, r resource.Resource) (IDGroup, bool) {
	for _, g := range GroupsOfType(m, r.ResourceType()) {
		if g.Group.Resources().Contains(r) {
			return g, true
		}
	}
	return IDGroup{}, false
}

type namedGroup struct {
	name  string
	group Group
}

// MemoryManager is a Manager keeping its groups in memory.
type MemoryManager struct {
	mu     sync.RWMutex
	groups map[int]*namedGroup
	nextID int

	listenerMu sync.Mutex
	listeners  []ManagerListener
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		groups: make(map[int]*namedGroup),
		nextID: 1,
	}
}

// AddGroup registers g under a new ID and returns the ID.
func (m *MemoryManager) AddGroup(name string, g Group) int {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.groups[id] = &namedGroup{name: name, group: g}
	m.mu.Unlock()

	log.L().Info("resource group added",
		zap.Int("group-id", id),
		zap.String("group-name", name),
		zap.Stringer("resource-type", g.ResourceType()))

	for _, l := range m.snapshotListeners() {
		l.OnGroupAdded(id, g)
	}
	return id
}

func (m *MemoryManager) RemoveGroup(id int) bool {
	m.mu.Lock()
	ng, ok := m.groups[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.groups, id)
	m.mu.Unlock()

	log.L().Info("resource group removed",
		zap.Int("group-id", id),
		zap.String("group-name", ng.name))

	for _, l := range m.snapshotListeners() {
		l.OnGroupRemoved(id, ng.group)
	}
	return true
}

func (m *MemoryManager) GroupIDs() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int, 0, len(m.groups))
	for id := range m.groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func (m *MemoryManager) Group(id int) (Group, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ng, ok := m.groups[id]
	if !ok {
		return nil, false
	}
	return ng.group, true
}

func (m *MemoryManager) GroupName(id int) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if ng, ok := m.groups[id]; ok {
		return ng.name
	}
	return ""
}

func (m *MemoryManager) AddManagerListener(l ManagerListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for _, existing := range m.listeners {
		if existing == l {
			return
		}
	}
	m.listeners = append(m.listeners, l)
}

func (m *MemoryManager) RemoveManagerListener(l ManagerListener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
			return
		}
	}
}

func (m *MemoryManager) snapshotListeners() []ManagerListener {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()

	ret := make([]ManagerListener, len(m.listeners))
	copy(ret, m.listeners)
	return ret
}
