package rescmgr

import (
	"fmt"
	"time"

	"github.com/rescloud/rescloud/model"
)

// EventType is the kind of a request lifecycle notice.
type EventType int

const (
	// EventReceived is published once for every admitted request.
	EventReceived EventType = iota + 1
	// EventStateChanged is published once per observed state transition.
	EventStateChanged
	// EventCanceled is published when a request is canceled.
	EventCanceled
)

func (t EventType) String() string {
	switch t {
	case EventReceived:
		return "received"
	case EventStateChanged:
		return "state-changed"
	case EventCanceled:
		return "canceled"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

// Event is a request lifecycle notice published on the manager's bus.
type Event struct {
	Type      EventType
	RequestID string
	Request   *model.ResourceRequest
	// OldState and NewState are only set for EventStateChanged.
	OldState model.RequestState
	NewState model.RequestState
	Time     time.Time
}
