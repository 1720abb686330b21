package worker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/ddd/infrastructure/queue"
	"outreach-service/pkg/config"
	"outreach-service/pkg/manager"
)

type countingSweeper struct{ calls int32 }

func (s *countingSweeper) SweepStaging() int {
	atomic.AddInt32(&s.calls, 1)
	return 1
}

type nopLifecycle struct{}

func (nopLifecycle) Start(ctx context.Context) error { return nil }
func (nopLifecycle) Stop() error                     { return nil }

func TestComponentRequiresController(t *testing.T) {
	assert.Panics(t, func() {
		(&OutreachWorkerComponentPlugin{}).MustCreateComponent(&manager.Dependencies{})
	})
}

func TestComponentSweepIntervalFollowsStagingTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	q := queue.NewRedisJobQueue(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, queue.Options{})
	cfg := &config.Config{}
	cfg.Server.StagingTTL = 2 * time.Minute
	cfg.Worker.Enabled = true

	c := (&OutreachWorkerComponentPlugin{}).MustCreateComponent(&manager.Dependencies{
		Config:     cfg,
		Controller: nopLifecycle{},
		Queue:      q,
		Completion: queue.NewCompletionHub(q.Result),
		JobApp:     &countingSweeper{},
	}).(*outreachWorkerComponent)

	assert.Equal(t, 30*time.Second, c.sweepEvery)
	assert.True(t, c.workerEnabled)
	assert.NotNil(t, c.sweeper)
	require.NoError(t, c.queue.Close())
}

func TestSweepLoopStopsWithLoops(t *testing.T) {
	sweeper := &countingSweeper{}
	c := &outreachWorkerComponent{sweeper: sweeper, sweepEvery: 5 * time.Millisecond}

	require.NoError(t, c.goLoop(c.sweepLoop)(context.Background()))
	require.Eventually(t, func() bool { return atomic.LoadInt32(&sweeper.calls) >= 2 }, time.Second, 5*time.Millisecond)

	require.NoError(t, c.stopLoops())
	after := atomic.LoadInt32(&sweeper.calls)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&sweeper.calls))
}
