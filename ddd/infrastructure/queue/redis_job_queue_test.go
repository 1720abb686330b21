package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
)

func newTestQueue(t *testing.T, opts Options) (*RedisJobQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	dial := func(ctx context.Context) (*redis.Client, error) {
		cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		return cli, cli.Ping(ctx).Err()
	}
	cli, err := dial(context.Background())
	require.NoError(t, err)
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "test:queue"
	}
	q := NewRedisJobQueue(cli, dial, opts)
	t.Cleanup(func() { _ = q.Close() })
	return q, mr
}

func payload(user string) entity.JobPayload {
	return entity.JobPayload{SpreadsheetPath: "/s.xlsx", OverlayVideoPath: "/o.mp4", UserID: user, RequestedVideoCount: 3}
}

func TestClaimIsFIFOAndComplete(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Options{})

	require.NoError(t, q.Enqueue(ctx, "j1", payload("u1")))
	require.NoError(t, q.Enqueue(ctx, "j2", payload("u2")))

	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "j1", job.JobID)
	assert.Equal(t, "u1", job.Payload.UserID)
	assert.Equal(t, 1, job.Attempts)
	assert.False(t, job.SubmittedAt.IsZero())

	status, _, err := q.State(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusActive, status)

	ev, err := q.Result(ctx, "j1")
	require.NoError(t, err)
	assert.Nil(t, ev, "pending job has no result")

	result := &entity.JobResult{JobID: "j1", Status: vo.JobStatusCompleted, Rows: 3}
	require.NoError(t, q.Complete(ctx, "j1", result))
	ev, err = q.Result(ctx, "j1")
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, vo.JobStatusCompleted, ev.Status)
	assert.Equal(t, 3, ev.Result.Rows)

	assert.ErrorIs(t, q.Complete(ctx, "j1", result), ErrLockLost)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Waiting)
	assert.Zero(t, counts.Active)
}

func TestClaimEmptyAndPaused(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Options{})

	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, q.Enqueue(ctx, "j1", payload("u1")))
	require.NoError(t, q.Pause(ctx))
	job, err = q.Claim(ctx, "w1")
	require.NoError(t, err)
	assert.Nil(t, job)

	require.NoError(t, q.Resume(ctx))
	job, err = q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)
}

func TestFailDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Options{})
	require.NoError(t, q.Enqueue(ctx, "j1", payload("u1")))
	_, err := q.Claim(ctx, "w1")
	require.NoError(t, err)

	require.NoError(t, q.Fail(ctx, "j1", "video quota exceeded"))
	ev, err := q.Result(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusFailed, ev.Status)
	assert.Equal(t, "video quota exceeded", ev.Error)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts.Dead)

	_, err = q.Result(ctx, "missing")
	assert.ErrorIs(t, err, errno.ErrJobNotFound)
}

func TestReclaimStalledRedeliversThenDeadLetters(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Options{LockDuration: time.Minute, MaxAttempts: 2, RetryBackoff: 5 * time.Second})
	clock := time.Now()
	q.now = func() time.Time { return clock }

	require.NoError(t, q.Enqueue(ctx, "j1", payload("u1")))
	job, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, job)

	redelivered, dead, err := q.ReclaimStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, redelivered, "lock still valid")
	assert.Empty(t, dead)

	clock = clock.Add(2 * time.Minute)
	redelivered, dead, err = q.ReclaimStalled(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"j1"}, redelivered)
	assert.Empty(t, dead)

	job, err = q.Claim(ctx, "w2")
	require.NoError(t, err)
	assert.Nil(t, job, "backoff not elapsed")

	clock = clock.Add(10 * time.Second)
	job, err = q.Claim(ctx, "w2")
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)

	assert.ErrorIs(t, q.ExtendLock(ctx, "other"), ErrLockLost)
	require.NoError(t, q.ExtendLock(ctx, "j1"))

	clock = clock.Add(2 * time.Minute)
	redelivered, dead, err = q.ReclaimStalled(ctx)
	require.NoError(t, err)
	assert.Empty(t, redelivered)
	assert.Equal(t, []string{"j1"}, dead)

	ev, err := q.Result(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusFailed, ev.Status)
}

func TestPurgeOnlyTouchesQueueKeys(t *testing.T) {
	ctx := context.Background()
	q, mr := newTestQueue(t, Options{})
	require.NoError(t, mr.Set("unrelated", "keep"))

	for _, id := range []string{"j1", "j2", "j3"} {
		require.NoError(t, q.Enqueue(ctx, id, payload("u1")))
	}
	_, err := q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Pause(ctx))

	ids, err := q.Purge(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"j1", "j2", "j3"}, ids)

	counts, err := q.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Waiting)
	assert.Zero(t, counts.Active)
	assert.True(t, counts.Paused)
	assert.True(t, mr.Exists("unrelated"))

	assert.ErrorIs(t, q.Complete(ctx, "j1", &entity.JobResult{}), ErrLockLost)
}

func TestEnsureHealthyReconnects(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Options{})
	require.NoError(t, q.cli().Close())

	require.NoError(t, q.EnsureHealthy(ctx))
	require.NoError(t, q.Enqueue(ctx, "j1", payload("u1")))
}

func TestSubscribeDeliversEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	q, _ := newTestQueue(t, Options{})

	events, err := q.Subscribe(ctx)
	require.NoError(t, err)

	require.NoError(t, q.Enqueue(ctx, "j1", payload("u1")))
	_, err = q.Claim(ctx, "w1")
	require.NoError(t, err)
	require.NoError(t, q.Skip(ctx, "j1", "terminated"))

	select {
	case ev := <-events:
		assert.Equal(t, "j1", ev.JobID)
		assert.Equal(t, vo.JobStatusSkipped, ev.Status)
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}
