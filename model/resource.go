package model

import "fmt"

// ResourceType identifies a kind of resource, e.g. a selenium host.
// Two ResourceType values with the same name denote the same type.
type ResourceType struct {
	name string
}

// NewResourceType returns the type token for the given technical name.
func NewResourceType(name string) ResourceType {
	return ResourceType{name: name}
}

// Name returns the technical name of the type.
func (t ResourceType) Name() string {
	return t.name
}

func (t ResourceType) String() string {
	return t.name
}

// ResourceState is the observable state of a resource.
type ResourceState int32

const (
	// The resource is not reachable.
	ResourceDisconnected ResourceState = iota
	// The resource is reachable but not ready for use.
	ResourceConnected
	// The resource is idle and can be reserved.
	ResourceReady
	// The resource has been reserved by a request.
	ResourceInUse
	// The resource is broken.
	ResourceError
)

var resourceStateNames = map[ResourceState]string{
	ResourceDisconnected: "DISCONNECTED",
	ResourceConnected:    "CONNECTED",
	ResourceReady:        "READY",
	ResourceInUse:        "IN_USE",
	ResourceError:        "ERROR",
}

func (s ResourceState) String() string {
	if name, ok := resourceStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ResourceState(%d)", int32(s))
}

// CanTransitionTo reports whether moving from s to next follows the normal
// resource lifecycle. Any state may move to ResourceError.
func (s ResourceState) CanTransitionTo(next ResourceState) bool {
	if next == ResourceError || next == s {
		return true
	}
	switch s {
	case ResourceDisconnected:
		return next == ResourceConnected
	case ResourceConnected:
		return next == ResourceDisconnected || next == ResourceReady
	case ResourceReady:
		return next == ResourceConnected || next == ResourceInUse || next == ResourceDisconnected
	case ResourceInUse:
		return next == ResourceReady || next == ResourceConnected || next == ResourceDisconnected
	case ResourceError:
		return next == ResourceDisconnected || next == ResourceConnected
	}
	return false
}
