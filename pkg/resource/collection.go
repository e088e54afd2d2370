package resource

import "sync"

// CollectionListener is notified when resources join or leave a collection.
// Listeners must be comparable.
type CollectionListener interface {
	OnResourceAdded(r Resource)
	OnResourceRemoved(r Resource)
}

// Collection is an observable, ordered set of resources.
type Collection interface {
	// Resources returns a snapshot in preference order.
	Resources() []Resource
	Contains(r Resource) bool
	// IndexOf returns the position of r, or -1.
	IndexOf(r Resource) int
	Len() int

	AddCollectionListener(l CollectionListener)
	RemoveCollectionListener(l CollectionListener)
}

// OrderedCollection is a Collection whose order is the order resources
// were added in, unless moved.
type OrderedCollection struct {
	mu        sync.RWMutex
	resources []Resource

	listenerMu sync.Mutex
	listeners  []CollectionListener
}

func NewOrderedCollection() *OrderedCollection {
	return &OrderedCollection{}
}

func (c *OrderedCollection) Resources() []Resource {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ret := make([]Resource, len(c.resources))
	copy(ret, c.resources)
	return ret
}

func (c *OrderedCollection) Contains(r Resource) bool {
	return c.IndexOf(r) >= 0
}

func (c *OrderedCollection) IndexOf(r Resource) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.indexOfLocked(r)
}

func (c *OrderedCollection) indexOfLocked(r Resource) int {
	for i, existing := range c.resources {
		if existing == r {
			return i
		}
	}
	return -1
}

func (c *OrderedCollection) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.resources)
}

// Add appends r. Adding a resource twice is a no-op.
func (c *OrderedCollection) Add(r Resource) {
	c.mu.Lock()
	if c.indexOfLocked(r) >= 0 {
		c.mu.Unlock()
		return
	}
	c.resources = append(c.resources, r)
	c.mu.Unlock()

	for _, l := range c.snapshotListeners() {
		l.OnResourceAdded(r)
	}
}

// Remove removes r and reports whether it was present.
func (c *OrderedCollection) Remove(r Resource) bool {
	c.mu.Lock()
	idx := c.indexOfLocked(r)
	if idx < 0 {
		c.mu.Unlock()
		return false
	}
	c.resources = append(c.resources[:idx:idx], c.resources[idx+1:]...)
	c.mu.Unlock()

	for _, l := range c.snapshotListeners() {
		l.OnResourceRemoved(r)
	}
	return true
}

// Move moves r one position up (towards the most preferred end) or down.
func (c *OrderedCollection) Move(r Resource, up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexOfLocked(r)
	switch {
	case idx < 0:
	case up && idx > 0:
		c.resources[idx-1], c.resources[idx] = c.resources[idx], c.resources[idx-1]
	case !up && idx < len(c.resources)-1:
		c.resources[idx+1], c.resources[idx] = c.resources[idx], c.resources[idx+1]
	}
}

func (c *OrderedCollection) AddCollectionListener(l CollectionListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	for _, existing := range c.listeners {
		if existing == l {
			return
		}
	}
	c.listeners = append(c.listeners, l)
}

func (c *OrderedCollection) RemoveCollectionListener(l CollectionListener) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	for i, existing := range c.listeners {
		if existing == l {
			c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
			return
		}
	}
}

func (c *OrderedCollection) snapshotListeners() []CollectionListener {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()

	ret := make([]CollectionListener, len(c.listeners))
	copy(ret, c.listeners)
	return ret
}
