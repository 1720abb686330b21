package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outreach-service/ddd/infrastructure/queue"
	"outreach-service/pkg/config"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/manager"
	"outreach-service/pkg/task"
)

func init() {
	manager.RegisterComponentPlugin(&OutreachWorkerComponentPlugin{})
}

// lifecycle is the termination controller as seen by the component.
type lifecycle interface {
	Start(ctx context.Context) error
	Stop() error
}

// stagingSweeper drops expired staging sessions.
type stagingSweeper interface {
	SweepStaging() int
}

// OutreachWorkerComponentPlugin 负责启动工作池、完成事件订阅与暂存清理
type OutreachWorkerComponentPlugin struct{}

func (p *OutreachWorkerComponentPlugin) Name() string {
	return "outreachWorkerComponent"
}

func (p *OutreachWorkerComponentPlugin) MustCreateComponent(deps *manager.Dependencies) manager.Component {
	controller, ok := deps.Controller.(lifecycle)
	if !ok {
		panic("outreach worker component requires the termination controller")
	}
	q, ok := deps.Queue.(*queue.RedisJobQueue)
	if !ok {
		panic("outreach worker component requires the redis job queue")
	}
	hub, ok := deps.Completion.(*queue.CompletionHub)
	if !ok {
		panic("outreach worker component requires the completion hub")
	}
	sweeper, _ := deps.JobApp.(stagingSweeper)

	cfg := deps.Config
	if cfg == nil {
		cfg = config.GetGlobalConfig()
	}
	sweepEvery := time.Minute
	workerEnabled := true
	if cfg != nil {
		if ttl := cfg.Server.StagingTTL / 4; ttl > 0 && ttl < sweepEvery {
			sweepEvery = ttl
		}
		workerEnabled = cfg.Worker.Enabled
	}

	return &outreachWorkerComponent{
		name:          "outreachWorker",
		controller:    controller,
		queue:         q,
		hub:           hub,
		sweeper:       sweeper,
		sweepEvery:    sweepEvery,
		workerEnabled: workerEnabled,
	}
}

type outreachWorkerComponent struct {
	name          string
	controller    lifecycle
	queue         *queue.RedisJobQueue
	hub           *queue.CompletionHub
	sweeper       stagingSweeper
	sweepEvery    time.Duration
	workerEnabled bool

	mu     sync.Mutex
	cancel []context.CancelFunc
	wg     sync.WaitGroup
}

func (c *outreachWorkerComponent) Start() error {
	if c.controller == nil || c.queue == nil || c.hub == nil {
		return fmt.Errorf("outreach worker not initialized")
	}

	// 注册后台任务，让应用启动时统一管理
	task.Register(&backgroundTaskAdapter{
		name:      c.name + "-events",
		startFunc: c.goLoop(func(ctx context.Context) { c.hub.Run(ctx, c.queue.Subscribe) }),
		stopFunc:  c.stopLoops,
	})
	if c.workerEnabled {
		task.Register(&backgroundTaskAdapter{name: c.name, startFunc: c.controller.Start, stopFunc: c.controller.Stop})
	} else {
		logger.Warnf("Worker pool disabled, jobs will queue without being processed name=%s", c.name)
	}
	if c.sweeper != nil {
		task.Register(&backgroundTaskAdapter{
			name:      c.name + "-staging-sweeper",
			startFunc: c.goLoop(c.sweepLoop),
			stopFunc:  func() error { return nil },
		})
	}
	logger.Infof("Outreach worker component registered background tasks name=%s", c.name)
	return nil
}

// goLoop runs fn on its own goroutine under a cancellable child of the task context.
func (c *outreachWorkerComponent) goLoop(fn func(ctx context.Context)) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		loopCtx, cancel := context.WithCancel(ctx)
		c.mu.Lock()
		c.cancel = append(c.cancel, cancel)
		c.mu.Unlock()
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			fn(loopCtx)
		}()
		return nil
	}
}

func (c *outreachWorkerComponent) stopLoops() error {
	c.mu.Lock()
	cancels := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *outreachWorkerComponent) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.sweeper.SweepStaging(); n > 0 {
				logger.Infof("Expired staging sessions removed count=%d", n)
			}
		}
	}
}

func (c *outreachWorkerComponent) Stop() error {
	// 背景任务由 task.StopAll 停止，这里保持幂等
	_ = c.stopLoops()
	if err := c.queue.Close(); err != nil {
		logger.Warnf("Close job queue failed error=%v", err)
	}
	logger.Infof("Outreach worker component stopped name=%s", c.name)
	return nil
}

func (c *outreachWorkerComponent) GetName() string {
	return c.name
}

// backgroundTaskAdapter adapts Start/Stop functions to the BackgroundTask interface.
type backgroundTaskAdapter struct {
	name      string
	startFunc func(ctx context.Context) error
	stopFunc  func() error
}

func (b *backgroundTaskAdapter) Name() string                    { return b.name }
func (b *backgroundTaskAdapter) Start(ctx context.Context) error { return b.startFunc(ctx) }
func (b *backgroundTaskAdapter) Stop() error                     { return b.stopFunc() }
