package servermaster

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rescloud/rescloud/pkg/clock"
	"github.com/rescloud/rescloud/pkg/promutil"
	"github.com/rescloud/rescloud/servermaster/rescmgr"
)

const shutdownTimeout = 5 * time.Second

// Server runs a resource manager built from a Config, the orphan watcher
// of its hosts and a status endpoint.
type Server struct {
	cfg *Config
	rt  *Runtime
	mgr *rescmgr.Manager

	lis     net.Listener
	httpSrv *http.Server
	cancel  context.CancelFunc
	eg      *errgroup.Group
}

// NewServer validates cfg and builds everything it describes. Nothing runs
// until Start.
func NewServer(cfg *Config, clk clock.Clock) (*Server, error) {
	rt, err := cfg.Build(clk)
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg: cfg,
		rt:  rt,
		mgr: rescmgr.NewManager(rt.Groups, cfg.ManagerOptions(rt, clk)...),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promutil.HTTPHandlerForMetric())
	mux.HandleFunc("/requests", s.handleRequests)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: shutdownTimeout}
	return s, nil
}

// Manager returns the resource manager of the server.
func (s *Server) Manager() *rescmgr.Manager {
	return s.mgr
}

// Runtime returns the groups and hosts the server was built with.
func (s *Server) Runtime() *Runtime {
	return s.rt
}

// StatusAddr returns the address the status endpoint listens on, once
// started.
func (s *Server) StatusAddr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Start starts matching and the background routines. They keep running
// until Stop.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.cfg.StatusAddr)
	if err != nil {
		return errors.Trace(err)
	}
	s.lis = lis

	if err := s.mgr.Start(); err != nil {
		_ = lis.Close()
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.eg, runCtx = errgroup.WithContext(runCtx)
	s.eg.Go(func() error {
		err := s.rt.Watcher.Run(runCtx)
		if errors.Cause(err) == context.Canceled {
			return nil
		}
		return err
	})
	s.eg.Go(func() error {
		err := s.httpSrv.Serve(lis)
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Trace(err)
	})

	log.L().Info("resource manager server started",
		zap.String("manager-id", s.mgr.ID()),
		zap.String("status-addr", lis.Addr().String()),
		zap.Int("hosts", len(s.rt.Hosts)))
	return nil
}

// Stop stops the background routines and closes the manager.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel == nil {
		s.mgr.Close()
		return nil
	}
	s.cancel()
	shutdownErr := s.httpSrv.Shutdown(ctx)
	err := s.eg.Wait()
	s.mgr.Close()

	if err == nil {
		err = shutdownErr
	}
	log.L().Info("resource manager server stopped", zap.Error(err))
	return errors.Trace(err)
}

type requestStatus struct {
	ID        string `json:"id"`
	User      string `json:"user"`
	Type      string `json:"type"`
	Job       string `json:"job"`
	NiceLevel int    `json:"nice-level"`
	State     string `json:"state"`
	Resource  string `json:"resource,omitempty"`
	WaitMs    int64  `json:"wait-ms"`
	IdleMs    int64  `json:"idle-ms"`
}

type serverStatus struct {
	ManagerID string           `json:"manager-id"`
	Waiting   int              `json:"waiting"`
	Running   int              `json:"running"`
	Requests  []*requestStatus `json:"requests"`
}

func (s *Server) status() *serverStatus {
	st := &serverStatus{
		ManagerID: s.mgr.ID(),
		Waiting:   s.mgr.TotalQueueSize(),
		Running:   len(s.mgr.AllRunningQueries()),
	}
	for _, mr := range s.mgr.ManagedRequests() {
		req := mr.Request()
		rs := &requestStatus{
			ID:        mr.ID(),
			User:      req.User().String(),
			Type:      req.ResourceType().Name(),
			Job:       req.JobName(),
			NiceLevel: req.NiceLevel(),
			State:     mr.State().String(),
			WaitMs:    mr.WaitTimeMs(),
			IdleMs:    mr.IdleTimeMs(),
		}
		if res := mr.ReceivedResource(); res != nil {
			rs.Resource = res.ID()
		}
		st.Requests = append(st.Requests, rs)
	}
	return st
}

func (s *Server) handleRequests(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.status()); err != nil {
		log.L().Warn("failed to write status", zap.Error(err))
	}
}

// Module provides a Server for cfg and binds it to the fx lifecycle.
func Module(cfg *Config) fx.Option {
	return fx.Module("servermaster",
		fx.Supply(cfg),
		fx.Provide(
			clock.New,
			NewServer,
			func(s *Server) *rescmgr.Manager { return s.Manager() },
		),
		fx.Invoke(registerServer),
	)
}

func registerServer(lc fx.Lifecycle, s *Server) {
	lc.Append(fx.Hook{
		OnStart: s.Start,
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return s.Stop(ctx)
		},
	})
}
