package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gavv/monotime"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rescloud/rescloud/model"
	"github.com/rescloud/rescloud/pkg/resource"
	"github.com/rescloud/rescloud/servermaster/rescmgr"
)

type simulateOptions struct {
	clients      int
	requests     int
	hold         time.Duration
	resourceType string
	niceSpread   int
}

func newSimulateCmd(o *options) *cobra.Command {
	so := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run concurrent clients against the configured resources and report wait times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if so.clients <= 0 || so.requests <= 0 {
				return errors.New("clients and requests must be positive")
			}
			tp := so.resourceType
			if tp == "" {
				if len(o.cfg.Types) == 0 {
					return errors.New("the config declares no resource type")
				}
				tp = o.cfg.Types[0].Name
			}

			var mgr *rescmgr.Manager
			app := o.newApp(fx.Populate(&mgr))
			if err := app.Start(cmd.Context()); err != nil {
				return err
			}
			waits, err := so.run(cmd.Context(), mgr, model.NewResourceType(tp))
			if stopErr := app.Stop(context.Background()); err == nil {
				err = stopErr
			}
			if err != nil {
				return err
			}
			printWaitStats(cmd.OutOrStdout(), waits)
			return nil
		},
	}
	so.addFlags(cmd.Flags())
	return cmd
}

func (so *simulateOptions) addFlags(flags *pflag.FlagSet) {
	flags.IntVar(&so.clients, "clients", 8, "number of concurrent clients")
	flags.IntVar(&so.requests, "requests", 10, "requests issued by each client")
	flags.DurationVar(&so.hold, "hold", 50*time.Millisecond, "how long a client works with a resource")
	flags.StringVar(&so.resourceType, "type", "", "resource type to request, the first configured one by default")
	flags.IntVar(&so.niceSpread, "nice-spread", 0, "clients pick nice levels in [0, nice-spread]")
}

func (so *simulateOptions) run(ctx context.Context, mgr *rescmgr.Manager, tp model.ResourceType) ([]time.Duration, error) {
	var (
		mu    sync.Mutex
		waits []time.Duration
	)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < so.clients; i++ {
		user := model.User{Name: fmt.Sprintf("client-%d", i), Source: "simulate"}
		g.Go(func() error {
			for j := 0; j < so.requests; j++ {
				nice := 0
				if so.niceSpread > 0 {
					nice = j % (so.niceSpread + 1)
				}
				req := model.NewResourceRequest(user, tp, nice, fmt.Sprintf("%s-job-%d", user.Name, j), nil)
				wait, err := so.useOnce(ctx, mgr, req)
				if err != nil {
					return err
				}
				mu.Lock()
				waits = append(waits, wait)
				mu.Unlock()
			}
			return nil
		})
	}
	err := g.Wait()
	return waits, err
}

type stateSwapper interface {
	CompareAndSetState(expected, newState model.ResourceState) bool
}

// useOnce waits for a resource, works with it for the hold time and gives
// it back.
func (so *simulateOptions) useOnce(ctx context.Context, mgr *rescmgr.Manager, req *model.ResourceRequest) (time.Duration, error) {
	start := monotime.Now()
	mr, err := mgr.HandleResourceRequest(req)
	if err != nil {
		return 0, err
	}
	res, err := mr.Future().Wait(ctx)
	if err != nil {
		mr.Cancel()
		return 0, err
	}
	wait := monotime.Since(start)
	if !mr.StartWork() {
		log.L().Warn("request lost its resource before work started", zap.String("request-id", mr.ID()))
		return wait, nil
	}

	select {
	case <-ctx.Done():
	case <-time.After(so.hold):
	}
	mr.Touch()

	usable, ok := res.(resource.UsableResource)
	if !ok {
		return wait, errors.Errorf("resource %s cannot be given back", res.ID())
	}
	usable.StopUsing()
	// reinitialized hosts are ready again right away
	if cas, ok := res.(stateSwapper); ok {
		cas.CompareAndSetState(model.ResourceConnected, model.ResourceReady)
	}
	return wait, errors.Trace(ctx.Err())
}

func printWaitStats(w io.Writer, waits []time.Duration) {
	if len(waits) == 0 {
		fmt.Fprintln(w, "no request served")
		return
	}
	sort.Slice(waits, func(i, j int) bool { return waits[i] < waits[j] })
	var total time.Duration
	for _, d := range waits {
		total += d
	}
	percentile := func(p float64) time.Duration {
		return waits[int(p*float64(len(waits)-1))]
	}
	fmt.Fprintf(w, "requests: %d\n", len(waits))
	fmt.Fprintf(w, "wait min: %v\n", waits[0])
	fmt.Fprintf(w, "wait avg: %v\n", total/time.Duration(len(waits)))
	fmt.Fprintf(w, "wait p50: %v\n", percentile(0.5))
	fmt.Fprintf(w, "wait p99: %v\n", percentile(0.99))
	fmt.Fprintf(w, "wait max: %v\n", waits[len(waits)-1])
}
