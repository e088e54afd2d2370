package resource

import (
	"sync"

	"go.uber.org/atomic"

	"github.com/rescloud/rescloud/model"
)

// Resource is a typed, observable state holder. Implementations must be
// comparable, since resources are indexed by identity. Pointer types are.
type Resource interface {
	ID() string
	ResourceType() model.ResourceType
	// State never returns an undefined state.
	State() model.ResourceState

	// AddListener is a no-op if the listener is already registered.
	AddListener(l Listener)
	RemoveListener(l Listener)
}

// Listener is notified of resource state changes. oldState may equal
// newState; listeners must tolerate duplicate notifications.
// Listeners must be comparable.
type Listener interface {
	OnResourceStateChanged(r Resource, oldState, newState model.ResourceState)
}

// Base implements the state holding and listener parts of Resource.
// It is meant to be embedded, and Init must be called with the embedding
// value so listeners see the outer resource.
type Base struct {
	owner        Resource
	id           string
	resourceType model.ResourceType
	state        atomic.Int32

	mu        sync.Mutex
	listeners []Listener
}

// Init binds the base to its owner.
func (b *Base) Init(owner Resource, id string, tp model.ResourceType, initial model.ResourceState) {
	b.owner = owner
	b.id = id
	b.resourceType = tp
	b.state.Store(int32(initial))
}

func (b *Base) ID() string {
	return b.id
}

func (b *Base) ResourceType() model.ResourceType {
	return b.resourceType
}

func (b *Base) State() model.ResourceState {
	return model.ResourceState(b.state.Load())
}

func (b *Base) AddListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.listeners {
		if existing == l {
			return
		}
	}
	b.listeners = append(b.listeners, l)
}

func (b *Base) RemoveListener(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, existing := range b.listeners {
		if existing == l {
			b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
			return
		}
	}
}

// SetState unconditionally moves the resource to newState and notifies
// the listeners, even if the state did not change.
func (b *Base) SetState(newState model.ResourceState) {
	old := model.ResourceState(b.state.Swap(int32(newState)))
	b.fireStateChanged(old, newState)
}

// CompareAndSetState moves the resource from expected to newState
// atomically. Listeners are notified only if the swap succeeded.
func (b *Base) CompareAndSetState(expected, newState model.ResourceState) bool {
	if !b.state.CompareAndSwap(int32(expected), int32(newState)) {
		return false
	}
	b.fireStateChanged(expected, newState)
	return true
}

func (b *Base) fireStateChanged(oldState, newState model.ResourceState) {
	// Listeners may deregister themselves in the callback.
	b.mu.Lock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, l := range listeners {
		l.OnResourceStateChanged(b.owner, oldState, newState)
	}
}
