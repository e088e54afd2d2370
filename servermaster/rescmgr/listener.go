package rescmgr

import (
	"time"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/resource"
)

// Query is a read-only view of a managed request.
type Query interface {
	ID() string
	Request() *model.ResourceRequest
	// ReceivedResource is nil until a resource has been assigned.
	ReceivedResource() resource.Resource
	EnqueueStartTime() time.Time
	// ResourceReceivedTime is zero until a resource has been assigned.
	ResourceReceivedTime() time.Time
	// ResourceReleasedTime is zero until the resource has been released.
	ResourceReleasedTime() time.Time
}

// Listener observes the manager. Callbacks run synchronously on the
// goroutine driving the match and must return promptly; long work must be
// handed off. Listeners must be comparable.
//
//go:generate mockgen -source listener.go -destination listener_mock_test.go -package rescmgr Listener
type Listener interface {
	// RequestEnqueued is always called for an admitted request, even if
	// a resource is available right away.
	RequestEnqueued(q Query)

	// ResourceAvailable offers a reserved resource for the request. A
	// listener that did not originate the request, or whose client went
	// away, returns false. Returning an error counts as false. If every
	// listener declines, the reservation is released.
	ResourceAvailable(q Query, r resource.Resource) (bool, error)

	// ResourceReleased is called when the request gave its resource back,
	// including when every listener declined it.
	ResourceReleased(q Query, r resource.Resource)

	// RequestError is called when a queued request can never be served
	// anymore. The request is removed from the queue.
	RequestError(q Query, err error)
}
