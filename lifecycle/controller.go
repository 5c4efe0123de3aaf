// Package lifecycle owns the listener and the shared sink and moves the
// server through startup, graceful drain and cleanup.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/linesink/admin"
	"github.com/cyberinferno/linesink/admission"
	"github.com/cyberinferno/linesink/config"
	"github.com/cyberinferno/linesink/ingest"
	"github.com/cyberinferno/linesink/linesplit"
	"github.com/cyberinferno/linesink/logger"
	"github.com/cyberinferno/linesink/perfmonitor"
	"github.com/cyberinferno/linesink/sink"
	"github.com/cyberinferno/linesink/stats"
	"github.com/cyberinferno/linesink/tcpserver"
	"golang.org/x/sync/errgroup"
)

const adminShutdownTimeout = 5 * time.Second

// ErrInvalidState is returned by Start when the controller is not Stopped.
var ErrInvalidState = errors.New("invalid lifecycle state")

// ErrFinished is returned by Start after the sink has been released.
var ErrFinished = errors.New("controller already shut down")

// State is a lifecycle phase.
type State int32

const (
	Stopped State = iota
	Starting
	Running
	Draining
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Draining:
		return "draining"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Controller runs one listener writing to one sink. The sink is flushed and
// closed exactly once, by Shutdown or by Run on a failed start.
type Controller struct {
	cfg    config.Config
	sink   sink.Sink
	logger logger.Logger
	stats  *stats.Stats

	state    atomic.Int32
	server   *tcpserver.TCPServer
	limiter  *admission.Limiter
	sessions tcpserver.NewSessionFunc

	mu          sync.Mutex
	releaseOnce sync.Once
	released    atomic.Bool
	drainTimer  *perfmonitor.PerformanceMonitor

	adminAddr atomic.Value
	ready     chan struct{}
}

// New creates a Stopped controller.
//
// Parameters:
//   - cfg: Validated configuration
//   - snk: Shared sink; the controller takes ownership
//   - log: Logger for lifecycle and connection events
//
// Returns:
//   - The controller, or an error if cfg cannot be applied
func New(cfg config.Config, snk sink.Sink, log logger.Logger) (*Controller, error) {
	policy, err := linesplit.ParsePartialPolicy(cfg.PartialPolicy)
	if err != nil {
		return nil, err
	}
	if snk == nil {
		return nil, errors.New("lifecycle: nil sink")
	}

	c := &Controller{
		cfg:        cfg,
		sink:       snk,
		logger:     log,
		stats:      stats.New(),
		limiter:    admission.New(cfg.Admission.Rate, cfg.Admission.Burst),
		drainTimer: perfmonitor.NewPerformanceMonitor(),
		ready:      make(chan struct{}),
	}
	c.sessions = ingest.NewSessionFunc(snk, c.stats, log, ingest.Options{
		ReadBufferSize: cfg.ReadBufferBytes,
		MaxLineBytes:   cfg.MaxLineBytes,
		Partial:        policy,
		IdleTimeout:    cfg.IdleTimeout,
	})

	return c, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Stats returns the counters shared by all sessions.
func (c *Controller) Stats() *stats.Stats {
	return c.stats
}

// Addr returns the bound listener address, or "" when not listening.
func (c *Controller) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server == nil {
		return ""
	}
	return c.server.BoundAddr()
}

// AdminAddr returns the bound admin HTTP address once Run has started it.
func (c *Controller) AdminAddr() string {
	addr, _ := c.adminAddr.Load().(string)
	return addr
}

// Ready is closed once Run has bound every listener.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Start binds the listener and begins accepting: Stopped -> Starting ->
// Running. A bind failure returns the controller to Stopped and yields a
// *tcpserver.BindError.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.released.Load() {
		return ErrFinished
	}
	if !c.transition(Stopped, Starting) {
		return fmt.Errorf("start from %s: %w", c.State(), ErrInvalidState)
	}

	server := tcpserver.New("linesink", c.cfg.Listen, c.sessions, c.logger)
	server.MaxConnections = c.cfg.MaxConnections
	server.Stats = c.stats
	if c.limiter != nil {
		server.Admit = c.limiter.Allow
	}

	if err := server.Start(); err != nil {
		c.transition(Starting, Stopped)
		return err
	}

	c.server = server
	c.transition(Starting, Running)
	return nil
}

// Shutdown stops accepting, drains sessions for at most the configured
// drain timeout, then flushes and closes the sink: Running -> Draining ->
// Stopped. It is a no-op unless Running.
//
// Returns:
//   - The drain summary
//   - Any error from flushing or closing the sink
func (c *Controller) Shutdown() (tcpserver.DrainResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.transition(Running, Draining) {
		return tcpserver.DrainResult{}, nil
	}

	c.drainTimer.Start()
	result := c.server.Drain(c.cfg.DrainTimeout)
	err := c.release()
	c.drainTimer.Stop()

	snap := c.stats.Snapshot()
	c.logger.Info("shutdown complete",
		logger.Field{Key: "sessions", Value: result.Sessions},
		logger.Field{Key: "force_closed", Value: result.ForceClosed},
		logger.Field{Key: "accepted", Value: result.Accepted},
		logger.Field{Key: "records", Value: snap.Records},
		logger.Field{Key: "partial_dropped", Value: snap.PartialDropped},
		logger.Field{Key: "elapsed_ms", Value: c.drainTimer.ElapsedMilliseconds()},
	)

	c.server = nil
	c.transition(Draining, Stopped)
	return result, err
}

// Run starts the controller and the admin server, blocks until ctx is
// cancelled or the admin server fails, then shuts down.
//
// Parameters:
//   - ctx: Cancel to trigger a graceful shutdown
//
// Returns:
//   - A *tcpserver.BindError if a listener cannot be bound, the first
//     admin server error, or a sink error from shutdown
func (c *Controller) Run(ctx context.Context) error {
	if err := c.Start(); err != nil {
		if errors.Is(err, ErrInvalidState) {
			return err
		}
		_ = c.release()
		return err
	}

	var adminSrv *http.Server
	var adminLn net.Listener
	if c.cfg.AdminAddr != "" {
		ln, err := net.Listen("tcp", c.cfg.AdminAddr)
		if err != nil {
			_, _ = c.Shutdown()
			return &tcpserver.BindError{Addr: c.cfg.AdminAddr, Err: err}
		}

		adminLn = ln
		adminSrv = admin.NewServer(c.cfg.AdminAddr, admin.NewRouter(c.health, c.stats, c.logger))
		c.adminAddr.Store(ln.Addr().String())
		c.logger.Info("admin server started", logger.Field{Key: "addr", Value: ln.Addr().String()})
	}
	close(c.ready)

	g, gctx := errgroup.WithContext(ctx)
	if adminSrv != nil {
		g.Go(func() error {
			if err := adminSrv.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		c.logger.Info("shutdown requested")

		_, err := c.Shutdown()
		if adminSrv != nil {
			sctx, cancel := context.WithTimeout(context.Background(), adminShutdownTimeout)
			defer cancel()
			_ = adminSrv.Shutdown(sctx)
		}
		return err
	})

	return g.Wait()
}

func (c *Controller) health() (string, bool) {
	s := c.State()
	return s.String(), s == Running
}

// release flushes and closes the sink exactly once.
func (c *Controller) release() error {
	var err error
	c.releaseOnce.Do(func() {
		c.released.Store(true)
		err = errors.Join(c.sink.Flush(), c.sink.Close())
		if err != nil {
			c.logger.Error("sink release failed", logger.Field{Key: "sink", Value: c.sink.Name()}, logger.Err(err))
		}
	})
	return err
}

func (c *Controller) transition(from, to State) bool {
	if !c.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}

	c.logger.Info("lifecycle state changed", logger.Field{Key: "from", Value: from.String()}, logger.Field{Key: "to", Value: to.String()})
	return true
}
