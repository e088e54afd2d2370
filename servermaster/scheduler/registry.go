package scheduler

import (
	"sort"
	"sync"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/errors"
)

// Names of the built-in policies.
const (
	PolicyDefault    = "default"
	PolicyRoundRobin = "round-robin"
)

// NewPolicyByName creates one of the built-in policies.
func NewPolicyByName(name string) (Policy, error) {
	switch name {
	case "", PolicyDefault:
		return NewDefaultPolicy(), nil
	case PolicyRoundRobin:
		return NewDefaultPolicy(WithGroupSorter(NewRoundRobinSorter())), nil
	default:
		return nil, errors.ErrUnknownPolicy.GenWithStackByArgs(name)
	}
}

// Module describes how resources of one type are selected.
type Module struct {
	ResourceType model.ResourceType
	DisplayName  string
	Policy       Policy
}

// Registry maps resource types to their modules. Types without a module
// use the fallback policy.
type Registry struct {
	mu       sync.RWMutex
	modules  map[model.ResourceType]Module
	fallback Policy
}

func NewRegistry() *Registry {
	return &Registry{
		modules:  make(map[model.ResourceType]Module),
		fallback: NewDefaultPolicy(),
	}
}

// Register adds or replaces the module for tp.
func (r *Registry) Register(tp model.ResourceType, displayName string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.modules[tp] = Module{
		ResourceType: tp,
		DisplayName:  displayName,
		Policy:       p,
	}
}

func (r *Registry) Module(tp model.ResourceType) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.modules[tp]
	return m, ok
}

// PolicyFor never returns nil.
func (r *Registry) PolicyFor(tp model.ResourceType) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if m, ok := r.modules[tp]; ok && m.Policy != nil {
		return m.Policy
	}
	return r.fallback
}

// Modules returns the registered modules sorted by type name.
func (r *Registry) Modules() []Module {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]Module, 0, len(r.modules))
	for _, m := range r.modules {
		ret = append(ret, m)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].ResourceType.Name() < ret[j].ResourceType.Name()
	})
	return ret
}
