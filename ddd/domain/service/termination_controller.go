package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outreach-service/pkg/logger"
	"outreach-service/pkg/metrics"
)

// ControllerState 终止/重建状态机
type ControllerState string

const (
	StateRunning    ControllerState = "running"
	StateDraining   ControllerState = "draining"
	StateWiped      ControllerState = "wiped"
	StateRebuilding ControllerState = "rebuilding"
)

// WorkerPool is the part of the worker pool the controller drives.
type WorkerPool interface {
	Start(ctx context.Context) error
	// Stop stops claiming and waits for in-flight jobs until ctx is done.
	Stop(ctx context.Context) error
}

// PoolFactory builds a fresh pool with the configured concurrency.
type PoolFactory func() WorkerPool

// QueueAdmin exposes the broker operations used by a termination cycle.
type QueueAdmin interface {
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	// Purge removes every queued, delayed and active job and returns their ids.
	Purge(ctx context.Context) ([]string, error)
	// EnsureHealthy pings the broker and reconnects if needed.
	EnsureHealthy(ctx context.Context) error
}

// CompletionTracker resolves and forgets job completion waiters.
type CompletionTracker interface {
	ResolveSkipped(jobIDs []string, reason string)
	Reset()
}

// SkipRecorder persists the skipped state of purged jobs.
type SkipRecorder interface {
	MarkSkipped(ctx context.Context, jobIDs []string, reason string) error
}

// TerminationAck 终止请求回执
type TerminationAck struct {
	State    ControllerState `json:"state"`
	Accepted bool            `json:"accepted"`
	Epoch    uint64          `json:"epoch"`
}

// TerminationController drains the worker pool, wipes the queue and rebuilds the pool.
type TerminationController struct {
	mu       sync.Mutex
	state    ControllerState
	flag     *TerminationFlag
	queue    QueueAdmin
	tracker  CompletionTracker
	skips    SkipRecorder
	newPool  PoolFactory
	pool     WorkerPool
	grace    time.Duration
	baseCtx  context.Context
	started  bool
	running  chan struct{}
	retryGap time.Duration
}

// NewTerminationController 创建终止控制器
func NewTerminationController(
	flag *TerminationFlag,
	queue QueueAdmin,
	tracker CompletionTracker,
	skips SkipRecorder,
	newPool PoolFactory,
	grace time.Duration,
) *TerminationController {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	running := make(chan struct{})
	close(running)
	return &TerminationController{
		state:    StateRunning,
		flag:     flag,
		queue:    queue,
		tracker:  tracker,
		skips:    skips,
		newPool:  newPool,
		grace:    grace,
		running:  running,
		retryGap: time.Second,
	}
}

// Start builds and starts the first worker pool.
func (c *TerminationController) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("termination controller already started")
	}
	c.baseCtx = ctx
	c.pool = c.newPool()
	if err := c.pool.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Stop shuts the current pool down for process exit.
func (c *TerminationController) Stop() error {
	c.mu.Lock()
	pool := c.pool
	c.pool = nil
	c.started = false
	c.mu.Unlock()
	if pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.grace)
	defer cancel()
	return pool.Stop(ctx)
}

func (c *TerminationController) State() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RequestTermination starts a drain/wipe/rebuild cycle and returns at once. A request made
// while a cycle is in progress is acknowledged with the current state and starts nothing.
func (c *TerminationController) RequestTermination(ctx context.Context, reason string) TerminationAck {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateRunning {
		return TerminationAck{State: c.state, Accepted: false, Epoch: c.flag.Epoch()}
	}
	epoch := c.flag.Set()
	c.state = StateDraining
	c.running = make(chan struct{})
	metrics.TerminationsTotal.WithLabelValues(reason).Inc()
	logger.Warn("Termination requested", map[string]interface{}{"reason": reason, "epoch": epoch})

	base := c.baseCtx
	if base == nil {
		base = context.WithoutCancel(ctx)
	}
	go c.cycle(base, reason)
	return TerminationAck{State: StateDraining, Accepted: true, Epoch: epoch}
}

// AwaitRunning blocks until the controller is back in the running state or ctx ends.
func (c *TerminationController) AwaitRunning(ctx context.Context) error {
	c.mu.Lock()
	ch := c.running
	c.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *TerminationController) setState(s ControllerState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	logger.Info("Termination controller state changed", map[string]interface{}{"state": string(s)})
}

func (c *TerminationController) cycle(ctx context.Context, reason string) {
	// draining
	if err := c.queue.Pause(ctx); err != nil {
		logger.Warnf("Pause queue failed error=%v", err)
	}
	c.mu.Lock()
	pool := c.pool
	c.pool = nil
	c.mu.Unlock()
	if pool != nil {
		graceCtx, cancel := context.WithTimeout(ctx, c.grace)
		if err := pool.Stop(graceCtx); err != nil {
			logger.Warnf("Worker pool did not drain within grace period error=%v", err)
		}
		cancel()
	}

	// wiped
	ids, err := c.queue.Purge(ctx)
	if err != nil {
		logger.Errorf("Purge queue failed error=%v", err)
	}
	if len(ids) > 0 && c.skips != nil {
		if err := c.skips.MarkSkipped(ctx, ids, reason); err != nil {
			logger.Warnf("Mark purged jobs skipped failed count=%d error=%v", len(ids), err)
		}
	}
	if c.tracker != nil {
		c.tracker.ResolveSkipped(ids, reason)
		c.tracker.Reset()
	}
	c.setState(StateWiped)

	// rebuilding
	c.setState(StateRebuilding)
	for {
		err := c.queue.EnsureHealthy(ctx)
		if err == nil {
			break
		}
		logger.Errorf("Broker unhealthy during rebuild, retrying error=%v", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.retryGap):
		}
	}
	next := c.newPool()
	if err := next.Start(ctx); err != nil {
		logger.Errorf("Start rebuilt worker pool failed error=%v", err)
	}
	if err := c.queue.Resume(ctx); err != nil {
		logger.Warnf("Resume queue failed error=%v", err)
	}

	c.mu.Lock()
	c.pool = next
	c.state = StateRunning
	c.flag.Clear()
	close(c.running)
	c.mu.Unlock()
	logger.Info("Termination cycle finished", map[string]interface{}{"purged": len(ids), "reason": reason})
}
