package resource

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/zap"

	"github.com/rescloud/rescloud/pkg/clock"
)

// OrphanWatcher periodically asks watched resources to check whether
// they have been orphaned.
type OrphanWatcher struct {
	mu      sync.Mutex
	watched map[OrphanDetector]struct{}

	clock    clock.Clock
	interval time.Duration
}

func NewOrphanWatcher(clk clock.Clock, interval time.Duration) *OrphanWatcher {
	return &OrphanWatcher{
		watched:  make(map[OrphanDetector]struct{}),
		clock:    clk,
		interval: interval,
	}
}

// Watch adds r to the watch list if it supports orphan detection.
func (w *OrphanWatcher) Watch(r Resource) {
	d, ok := AsOrphanDetector(r)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.watched[d] = struct{}{}
}

func (w *OrphanWatcher) Unwatch(r Resource) {
	d, ok := AsOrphanDetector(r)
	if !ok {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.watched, d)
}

// CheckOnce checks every watched resource and returns how many of them
// reported an orphan.
func (w *OrphanWatcher) CheckOnce() int {
	w.mu.Lock()
	detectors := make([]OrphanDetector, 0, len(w.watched))
	for d := range w.watched {
		detectors = append(detectors, d)
	}
	w.mu.Unlock()

	fired := 0
	for _, d := range detectors {
		if d.CheckOrphaned() {
			fired++
			if r, ok := d.(Resource); ok {
				log.L().Info("resource orphaned",
					zap.String("resource-id", r.ID()),
					zap.Stringer("resource-type", r.ResourceType()))
			}
		}
	}
	return fired
}

// Run checks the watched resources every interval until ctx is done.
func (w *OrphanWatcher) Run(ctx context.Context) error {
	ticker := w.clock.Ticker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-ticker.C:
		}

		w.CheckOnce()
	}
}
