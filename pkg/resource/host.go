package resource

import (
	"fmt"
	"time"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/clock"
)

// Host is a remote execution host reachable at an address.
type Host struct {
	UsableBase

	Addr string
}

// NewHost creates a Host in the DISCONNECTED state.
func NewHost(id string, tp model.ResourceType, addr string, reinitOnRelease bool) *Host {
	h := &Host{Addr: addr}
	h.UsableBase.Init(h, id, tp, model.ResourceDisconnected, reinitOnRelease)
	return h
}

func (h *Host) String() string {
	return fmt.Sprintf("%s(%s)", h.ID(), h.Addr)
}

// WatchedHost is a Host whose use is watched for orphaning.
type WatchedHost struct {
	OrphanAwareBase

	Addr string
}

// NewWatchedHost creates a WatchedHost in the DISCONNECTED state. It
// reports itself orphaned when in use and untouched for orphanTimeout.
func NewWatchedHost(
	id string,
	tp model.ResourceType,
	addr string,
	reinitOnRelease bool,
	clk clock.Clock,
	orphanTimeout time.Duration,
) *WatchedHost {
	h := &WatchedHost{Addr: addr}
	h.OrphanAwareBase.Init(h, id, tp, model.ResourceDisconnected, reinitOnRelease, clk, orphanTimeout)
	return h
}

func (h *WatchedHost) String() string {
	return fmt.Sprintf("%s(%s)", h.ID(), h.Addr)
}
