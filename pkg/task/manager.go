package task

import (
	"context"
	"fmt"
	"sync"

	"outreach-service/pkg/logger"
)

// BackgroundTask represents a long-running background process (consumer, worker pool, sweeper).
type BackgroundTask interface {
	Name() string
	Start(ctx context.Context) error
	Stop() error
}

type manager struct {
	mu      sync.Mutex
	tasks   []BackgroundTask
	started []BackgroundTask
	cancel  context.CancelFunc
}

var defaultManager = &manager{}

// Register adds a background task; should be called during init/assembly before StartAll.
func Register(task BackgroundTask) {
	defaultManager.register(task)
}

// StartAll starts registered tasks in order. If one fails, the ones already started are
// stopped again and the error names the failing task.
func StartAll(ctx context.Context) error {
	return defaultManager.startAll(ctx)
}

// StopAll stops started tasks in reverse order.
func StopAll() {
	defaultManager.stopAll()
}

func (m *manager) register(task BackgroundTask) {
	if task == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, task)
}

func (m *manager) startAll(ctx context.Context) error {
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	tasks := append([]BackgroundTask(nil), m.tasks...)
	m.mu.Unlock()

	for _, t := range tasks {
		if err := t.Start(runCtx); err != nil {
			m.stopAll()
			return fmt.Errorf("start background task %s: %w", t.Name(), err)
		}
		m.mu.Lock()
		m.started = append(m.started, t)
		m.mu.Unlock()
		logger.Infof("Background task started name=%s", t.Name())
	}
	return nil
}

func (m *manager) stopAll() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	started := m.started
	m.started = nil
	m.cancel = nil
	m.mu.Unlock()

	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(); err != nil {
			logger.Warnf("Background task stop failed name=%s error=%v", started[i].Name(), err)
		}
	}
}
