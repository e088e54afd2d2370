package scheduler

import (
	"sort"
	"sync"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/resource"
	"github.com/rescloud/rescloud/pkg/resourcegroup"
)

// Policy ranks the idle resources of a type for a request.
type Policy interface {
	Rank(groups resourcegroup.Manager, req *model.ResourceRequest, idle []resource.Resource) Candidates
}

// AssignmentObserver is an optional capability of a Policy. Assigned is
// called once for every resource handed to a request, so stateful
// policies move on per assignment rather than per ranking.
type AssignmentObserver interface {
	Assigned(groups resourcegroup.Manager, res resource.Resource)
}

// GroupSorter orders the available resources of one group in place.
// position returns the configured position of a resource in the group.
type GroupSorter interface {
	SortGroup(req *model.ResourceRequest, group resourcegroup.IDGroup, available []resource.Resource, position func(resource.Resource) int)
}

// Merger builds the final ranking from the per-group sorted resources of
// groups limiting users (authorized) and open groups (free).
type Merger interface {
	Merge(req *model.ResourceRequest, authorized, free []resource.Resource) []resource.Resource
}

// DefaultPolicy ranks resources group by group in ascending group ID
// order. Resources of groups the user has been granted access to come
// before resources of groups open to everyone.
type DefaultPolicy struct {
	sorter GroupSorter
	merger Merger
}

// PolicyOption customizes a DefaultPolicy.
type PolicyOption func(p *DefaultPolicy)

// WithGroupSorter replaces the per-group ordering.
func WithGroupSorter(s GroupSorter) PolicyOption {
	return func(p *DefaultPolicy) {
		p.sorter = s
	}
}

// WithMerger replaces the final merge step.
func WithMerger(m Merger) PolicyOption {
	return func(p *DefaultPolicy) {
		p.merger = m
	}
}

func NewDefaultPolicy(opts ...PolicyOption) *DefaultPolicy {
	p := &DefaultPolicy{
		sorter: PositionSorter{},
		merger: AuthorizedFirstMerger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type groupSlot struct {
	group     resourcegroup.IDGroup
	free      bool
	positions map[resource.Resource]int
	available []resource.Resource
}

// Rank implements Policy.Rank.
func (p *DefaultPolicy) Rank(
	groups resourcegroup.Manager,
	req *model.ResourceRequest,
	idle []resource.Resource,
) Candidates {
	if len(idle) == 0 {
		return Candidates{}
	}

	user := req.User()
	slots := make([]*groupSlot, 0)
	owner := make(map[resource.Resource]*groupSlot)
	for _, g := range resourcegroup.GroupsOfType(groups, req.ResourceType()) {
		slot := &groupSlot{
			group:     g,
			free:      !resourcegroup.IsLimitingUsers(g.Group),
			positions: make(map[resource.Resource]int),
		}
		for i, r := range g.Group.Resources().Resources() {
			slot.positions[r] = i
			if _, taken := owner[r]; !taken {
				owner[r] = slot
			}
		}
		slots = append(slots, slot)
	}

	for _, r := range idle {
		slot, ok := owner[r]
		if !ok {
			// Not part of any group of this type.
			continue
		}
		if !slot.free && !resourcegroup.IsVisibleTo(slot.group.Group, user) {
			continue
		}
		slot.available = append(slot.available, r)
	}

	var authorized, free []resource.Resource
	for _, slot := range slots {
		if len(slot.available) == 0 {
			continue
		}
		positions := slot.positions
		p.sorter.SortGroup(req, slot.group, slot.available, func(r resource.Resource) int {
			return positions[r]
		})
		if slot.free {
			free = append(free, slot.available...)
		} else {
			authorized = append(authorized, slot.available...)
		}
	}

	return NewCandidates(p.merger.Merge(req, authorized, free))
}

// groupAssignmentObserver is implemented by sorters keeping per-group state.
type groupAssignmentObserver interface {
	assigned(group resourcegroup.IDGroup, position int)
}

// Assigned implements AssignmentObserver.Assigned.
func (p *DefaultPolicy) Assigned(groups resourcegroup.Manager, res resource.Resource) {
	obs, ok := p.sorter.(groupAssignmentObserver)
	if !ok {
		return
	}
	g, ok := resourcegroup.FindGroup(groups, res)
	if !ok {
		return
	}
	for i, r := range g.Group.Resources().Resources() {
		if r == res {
			obs.assigned(g, i)
			return
		}
	}
}

// PositionSorter orders resources by their configured position.
type PositionSorter struct{}

func (PositionSorter) SortGroup(
	_ *model.ResourceRequest,
	_ resourcegroup.IDGroup,
	available []resource.Resource,
	position func(resource.Resource) int,
) {
	sort.SliceStable(available, func(i, j int) bool {
		return position(available[i]) < position(available[j])
	})
}

// RoundRobinSorter prefers, in every group, the position right after the
// last one assigned. Ranking alone never moves the rotation.
type RoundRobinSorter struct {
	mu      sync.Mutex
	offsets map[int]int
}

func NewRoundRobinSorter() *RoundRobinSorter {
	return &RoundRobinSorter{offsets: make(map[int]int)}
}

func (s *RoundRobinSorter) SortGroup(
	_ *model.ResourceRequest,
	group resourcegroup.IDGroup,
	available []resource.Resource,
	position func(resource.Resource) int,
) {
	size := group.Group.Resources().Len()
	if size == 0 {
		return
	}

	s.mu.Lock()
	offset := s.offsets[group.ID] % size
	s.mu.Unlock()

	rotated := func(r resource.Resource) int {
		return (position(r) - offset + size) % size
	}
	sort.SliceStable(available, func(i, j int) bool {
		return rotated(available[i]) < rotated(available[j])
	})
}

func (s *RoundRobinSorter) assigned(group resourcegroup.IDGroup, position int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.offsets[group.ID] = position + 1
}

// AuthorizedFirstMerger puts resources of groups limiting users before
// those of open groups.
type AuthorizedFirstMerger struct{}

func (AuthorizedFirstMerger) Merge(_ *model.ResourceRequest, authorized, free []resource.Resource) []resource.Resource {
	ret := make([]resource.Resource, 0, len(authorized)+len(free))
	ret = append(ret, authorized...)
	return append(ret, free...)
}
