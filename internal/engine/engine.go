package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ahostbr/kuroryuu-public-sub001/internal/eventbus"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/notify"
	"github.com/ahostbr/kuroryuu-public-sub001/internal/store"
	"github.com/ahostbr/kuroryuu-public-sub001/pkg/logx"
)

var (
	ErrNotConfigured  = errors.New("engine: executor not configured")
	ErrAlreadyRunning = errors.New("job is already running")
)

// ExecResult is what an executor may hand back for the run history.
type ExecResult struct {
	Output   string
	Metadata map[string]any
}

// Executor performs the actual work of one job. Implementations must return a
// non-nil error on failure (never swallow it) so the run is recorded as failed.
type Executor interface {
	Execute(ctx context.Context, job store.ScheduledJob) (*ExecResult, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, job store.ScheduledJob) (*ExecResult, error)

func (f ExecutorFunc) Execute(ctx context.Context, job store.ScheduledJob) (*ExecResult, error) {
	return f(ctx, job)
}

// Config controls the engine's clock.
type Config struct {
	TickInterval time.Duration
}

// Engine is the clock-driven orchestrator: a periodic ticker scans due jobs,
// enforces the concurrency cap, spawns execution, and records run history.
//
// State transitions per job: idle -> running -> idle, or idle <-> paused
// (externally toggled only). The running map is the source of truth for
// "currently executing" and for the concurrency cap.
type Engine struct {
	log      logx.Logger
	store    *store.Store
	notifier notify.Notifier
	bus      eventbus.Bus

	mu      sync.Mutex
	cfg     Config
	exec    Executor
	running map[string]struct{}
	stopCh  chan struct{}
	started bool

	jobWG sync.WaitGroup
}

func New(st *store.Store, notifier notify.Notifier, bus eventbus.Bus, cfg Config, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	if notifier == nil {
		notifier = notify.NopNotifier{}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 30 * time.Second
	}
	return &Engine{
		log:      log,
		store:    st,
		notifier: notifier,
		bus:      bus,
		cfg:      cfg,
		running:  map[string]struct{}{},
	}
}

// Configure injects the executor. Must be called before Start.
func (e *Engine) Configure(exec Executor) {
	e.mu.Lock()
	e.exec = exec
	e.mu.Unlock()
}

// Apply updates clock settings; the new tick interval takes effect after the
// next tick.
func (e *Engine) Apply(cfg Config) {
	if cfg.TickInterval <= 0 {
		return
	}
	e.mu.Lock()
	e.cfg.TickInterval = cfg.TickInterval
	e.mu.Unlock()
}

// Start recomputes every active job's next run from "now" (repairing drift
// accumulated while the scheduler was down), performs one immediate scan, and
// arms the periodic ticker.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil
	}
	if e.exec == nil {
		e.mu.Unlock()
		return ErrNotConfigured
	}
	e.started = true
	e.stopCh = make(chan struct{})
	stopCh := e.stopCh
	e.mu.Unlock()

	if err := e.store.RecomputeNextRuns(time.Now()); err != nil {
		e.log.Warn("next-run repair failed", logx.Err(err))
	}

	go e.loop(ctx, stopCh)
	e.log.Info("engine started", logx.Duration("tick", e.tickInterval()))
	return nil
}

// Stop disarms the ticker. Jobs already running are not cancelled; the engine
// only stops scheduling new ones.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.mu.Unlock()
	e.log.Info("engine stopped")
}

// Wait blocks until all in-flight job goroutines finish. Test helper; the
// daemon does not wait on running jobs at shutdown.
func (e *Engine) Wait() { e.jobWG.Wait() }

// IsRunning reports whether the job id is in the running set.
func (e *Engine) IsRunning(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.running[id]
	return ok
}

// RunningCount returns the size of the running set.
func (e *Engine) RunningCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

func (e *Engine) tickInterval() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.TickInterval
}

func (e *Engine) loop(ctx context.Context, stopCh <-chan struct{}) {
	// One immediate scan at start, then tick.
	e.Scan(time.Now())
	timer := time.NewTimer(e.tickInterval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-timer.C:
			e.Scan(time.Now())
			timer.Reset(e.tickInterval())
		}
	}
}
