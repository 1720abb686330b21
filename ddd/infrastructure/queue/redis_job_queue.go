package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/config"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/metrics"
)

// ErrLockLost is returned when a job is no longer held by the caller, because its lock
// expired and it was reclaimed or because the queue was purged.
var ErrLockLost = errors.New("job lock lost")

const (
	stateQueued    = "queued"
	stateActive    = "active"
	stateDelayed   = "delayed"
	stateCompleted = "completed"
	stateFailed    = "failed"
	stateSkipped   = "skipped"
)

// ClaimedJob 被工作协程领取的任务
type ClaimedJob struct {
	JobID       string
	Payload     entity.JobPayload
	Attempts    int
	SubmittedAt time.Time
}

// JobEvent is published on every terminal transition.
type JobEvent struct {
	JobID  string            `json:"job_id"`
	Status vo.JobStatus      `json:"status"`
	Result *entity.JobResult `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// QueueCounts 队列各状态数量
type QueueCounts struct {
	Waiting int64 `json:"waiting"`
	Active  int64 `json:"active"`
	Delayed int64 `json:"delayed"`
	Dead    int64 `json:"dead"`
	Paused  bool  `json:"paused"`
}

// Options tune lock and retry behaviour.
type Options struct {
	KeyPrefix    string
	LockDuration time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
	ResultTTL    time.Duration
}

// OptionsFromConfig maps the queue section of the service configuration.
func OptionsFromConfig(cfg config.QueueConfig) Options {
	return Options{
		KeyPrefix:    cfg.KeyPrefix,
		LockDuration: cfg.LockDuration,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		ResultTTL:    cfg.ResultTTL,
	}
}

// DialFunc opens a new connection when the current one is unhealthy.
type DialFunc func(ctx context.Context) (*redis.Client, error)

// RedisJobQueue is a durable job queue on Redis.
//
// Keys under the prefix:
//
//	wait     LIST  ids waiting to be claimed (LPUSH / RPOP)
//	active   ZSET  claimed ids scored by lock deadline (unix ms)
//	delayed  ZSET  ids waiting for a retry, scored by due time
//	dead     LIST  ids that failed for good
//	paused   STRING set while claims are suspended
//	job:<id> HASH  payload, attempts, state, worker, error, result, timestamps
//	events   channel of JobEvent
type RedisJobQueue struct {
	mu     sync.RWMutex
	client *redis.Client
	dial   DialFunc
	opts   Options
	now    func() time.Time
}

func NewRedisJobQueue(client *redis.Client, dial DialFunc, opts Options) *RedisJobQueue {
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "outreach:queue:videoProcessing"
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = 24 * time.Hour
	}
	return &RedisJobQueue{client: client, dial: dial, opts: opts, now: time.Now}
}

func (q *RedisJobQueue) key(name string) string { return q.opts.KeyPrefix + ":" + name }

func (q *RedisJobQueue) jobKey(id string) string { return q.key("job:" + id) }

func (q *RedisJobQueue) cli() *redis.Client {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.client
}

func (q *RedisJobQueue) nowMillis() int64 { return q.now().UnixMilli() }

// Enqueue stores the payload and appends the job to the wait list.
func (q *RedisJobQueue) Enqueue(ctx context.Context, jobID string, payload entity.JobPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	_, err = q.cli().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, q.jobKey(jobID),
			"payload", string(body),
			"attempts", 0,
			"state", stateQueued,
			"submitted_at", q.nowMillis(),
		)
		pipe.LPush(ctx, q.key("wait"), jobID)
		return nil
	})
	if err != nil {
		return errno.ErrBroker.WithCause(err)
	}
	return nil
}

var claimScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[4]) == 1 then return false end
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('LPUSH', KEYS[1], id)
  redis.call('HSET', ARGV[3] .. id, 'state', 'queued')
end
local id = redis.call('RPOP', KEYS[1])
if not id then return false end
local jk = ARGV[3] .. id
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', jk, 'state', 'active', 'worker', ARGV[4], 'claimed_at', ARGV[1])
local attempts = redis.call('HINCRBY', jk, 'attempts', 1)
return {id, redis.call('HGET', jk, 'payload') or '', attempts, redis.call('HGET', jk, 'submitted_at') or '0'}
`)

// Claim takes the oldest waiting job and locks it for workerID. It returns nil when the
// queue is empty or paused. Delayed jobs that are due are promoted first.
func (q *RedisJobQueue) Claim(ctx context.Context, workerID string) (*ClaimedJob, error) {
	now := q.nowMillis()
	deadline := now + q.opts.LockDuration.Milliseconds()
	res, err := claimScript.Run(ctx, q.cli(),
		[]string{q.key("wait"), q.key("active"), q.key("delayed"), q.key("paused")},
		now, deadline, q.key("job:"), workerID,
	).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errno.ErrBroker.WithCause(err)
	}
	if len(res) != 4 {
		return nil, errno.ErrBroker.WithMessage("unexpected claim reply %v", res)
	}
	job := &ClaimedJob{JobID: fmt.Sprint(res[0])}
	if n, ok := res[2].(int64); ok {
		job.Attempts = int(n)
	}
	if ms, err := strconv.ParseInt(fmt.Sprint(res[3]), 10, 64); err == nil && ms > 0 {
		job.SubmittedAt = time.UnixMilli(ms)
	}
	if err := json.Unmarshal([]byte(fmt.Sprint(res[1])), &job.Payload); err != nil {
		// an undecodable payload can never succeed
		_ = q.Fail(ctx, job.JobID, "decode payload: "+err.Error())
		return nil, fmt.Errorf("decode payload of job %s: %w", job.JobID, err)
	}
	return job, nil
}

// ExtendLock pushes the lock deadline of an active job forward.
func (q *RedisJobQueue) ExtendLock(ctx context.Context, jobID string) error {
	cli := q.cli()
	if _, err := cli.ZScore(ctx, q.key("active"), jobID).Result(); err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrLockLost
		}
		return errno.ErrBroker.WithCause(err)
	}
	deadline := q.nowMillis() + q.opts.LockDuration.Milliseconds()
	if err := cli.ZAddXX(ctx, q.key("active"), redis.Z{Score: float64(deadline), Member: jobID}).Err(); err != nil {
		return errno.ErrBroker.WithCause(err)
	}
	return nil
}

var finishScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then return 0 end
redis.call('HSET', KEYS[2], 'state', ARGV[2], ARGV[3], ARGV[4], 'finished_at', ARGV[5])
redis.call('PEXPIRE', KEYS[2], ARGV[6])
if ARGV[7] == '1' then redis.call('LPUSH', KEYS[3], ARGV[1]) end
return 1
`)

func (q *RedisJobQueue) finish(ctx context.Context, jobID, state, field, value string, dead bool) error {
	deadFlag := "0"
	if dead {
		deadFlag = "1"
	}
	n, err := finishScript.Run(ctx, q.cli(),
		[]string{q.key("active"), q.jobKey(jobID), q.key("dead")},
		jobID, state, field, value, q.nowMillis(), q.opts.ResultTTL.Milliseconds(), deadFlag,
	).Int()
	if err != nil {
		return errno.ErrBroker.WithCause(err)
	}
	if n == 0 {
		return ErrLockLost
	}
	return nil
}

// Complete stores the result and publishes a completed event.
func (q *RedisJobQueue) Complete(ctx context.Context, jobID string, result *entity.JobResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := q.finish(ctx, jobID, stateCompleted, "result", string(body), false); err != nil {
		return err
	}
	q.publish(ctx, JobEvent{JobID: jobID, Status: vo.JobStatusCompleted, Result: result})
	return nil
}

// Fail moves the job to the dead list. Failures are terminal; only lock expiry redelivers.
func (q *RedisJobQueue) Fail(ctx context.Context, jobID, message string) error {
	if err := q.finish(ctx, jobID, stateFailed, "error", message, true); err != nil {
		return err
	}
	q.publish(ctx, JobEvent{JobID: jobID, Status: vo.JobStatusFailed, Error: message})
	return nil
}

// Skip records a job that was claimed but not run.
func (q *RedisJobQueue) Skip(ctx context.Context, jobID, reason string) error {
	if err := q.finish(ctx, jobID, stateSkipped, "error", reason, false); err != nil {
		return err
	}
	q.publish(ctx, JobEvent{JobID: jobID, Status: vo.JobStatusSkipped, Error: reason})
	return nil
}

var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local out = {}
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local jk = ARGV[4] .. id
  local attempts = tonumber(redis.call('HGET', jk, 'attempts') or '0')
  if attempts < tonumber(ARGV[3]) then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    redis.call('HSET', jk, 'state', 'delayed')
    table.insert(out, 'r:' .. id)
  else
    redis.call('LPUSH', KEYS[3], id)
    redis.call('HSET', jk, 'state', 'failed', 'error', ARGV[6], 'finished_at', ARGV[1])
    redis.call('PEXPIRE', jk, ARGV[5])
    table.insert(out, 'd:' .. id)
  end
end
return out
`)

const lockExpiredMessage = "job lock expired too many times"

// ReclaimStalled handles active jobs whose lock expired. Jobs with attempts left are
// scheduled for redelivery after the retry backoff; the rest are dead-lettered.
func (q *RedisJobQueue) ReclaimStalled(ctx context.Context) (redelivered, dead []string, err error) {
	now := q.nowMillis()
	res, err := reclaimScript.Run(ctx, q.cli(),
		[]string{q.key("active"), q.key("delayed"), q.key("dead")},
		now, now+q.opts.RetryBackoff.Milliseconds(), q.opts.MaxAttempts, q.key("job:"),
		q.opts.ResultTTL.Milliseconds(), lockExpiredMessage,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, errno.ErrBroker.WithCause(err)
	}
	for _, item := range res {
		kind, id, _ := strings.Cut(item, ":")
		if kind == "r" {
			redelivered = append(redelivered, id)
		} else {
			dead = append(dead, id)
			q.publish(ctx, JobEvent{JobID: id, Status: vo.JobStatusFailed, Error: lockExpiredMessage})
		}
	}
	if n := len(redelivered) + len(dead); n > 0 {
		metrics.ReclaimedJobsTotal.Add(float64(n))
		logger.Warn("Reclaimed stalled jobs", map[string]interface{}{
			"redelivered": len(redelivered),
			"dead":        len(dead),
		})
	}
	return redelivered, dead, nil
}

func (q *RedisJobQueue) Pause(ctx context.Context) error {
	if err := q.cli().Set(ctx, q.key("paused"), "1", 0).Err(); err != nil {
		return errno.ErrBroker.WithCause(err)
	}
	return nil
}

func (q *RedisJobQueue) Resume(ctx context.Context) error {
	if err := q.cli().Del(ctx, q.key("paused")).Err(); err != nil {
		return errno.ErrBroker.WithCause(err)
	}
	return nil
}

// Purge removes every key under the prefix except the pause marker and returns the ids
// that were waiting, delayed or active. Keys outside the prefix are never touched.
func (q *RedisJobQueue) Purge(ctx context.Context) ([]string, error) {
	cli := q.cli()
	waiting, err := cli.LRange(ctx, q.key("wait"), 0, -1).Result()
	if err != nil {
		return nil, errno.ErrBroker.WithCause(err)
	}
	delayed, err := cli.ZRange(ctx, q.key("delayed"), 0, -1).Result()
	if err != nil {
		return nil, errno.ErrBroker.WithCause(err)
	}
	active, err := cli.ZRange(ctx, q.key("active"), 0, -1).Result()
	if err != nil {
		return nil, errno.ErrBroker.WithCause(err)
	}
	ids := make([]string, 0, len(waiting)+len(delayed)+len(active))
	ids = append(ids, waiting...)
	ids = append(ids, delayed...)
	ids = append(ids, active...)

	paused := q.key("paused")
	iter := cli.Scan(ctx, 0, q.opts.KeyPrefix+":*", 200).Iterator()
	batch := make([]string, 0, 200)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := cli.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		if k := iter.Val(); k != paused {
			batch = append(batch, k)
		}
		if len(batch) >= 200 {
			if err := flush(); err != nil {
				return ids, errno.ErrBroker.WithCause(err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return ids, errno.ErrBroker.WithCause(err)
	}
	if err := flush(); err != nil {
		return ids, errno.ErrBroker.WithCause(err)
	}
	logger.Warn("Queue purged", map[string]interface{}{"prefix": q.opts.KeyPrefix, "jobs": len(ids)})
	return ids, nil
}

// EnsureHealthy pings the broker and swaps in a fresh connection if the ping fails.
func (q *RedisJobQueue) EnsureHealthy(ctx context.Context) error {
	err := q.cli().Ping(ctx).Err()
	if err == nil {
		return nil
	}
	if q.dial == nil {
		return errno.ErrBroker.WithCause(err)
	}
	fresh, err := q.dial(ctx)
	if err != nil {
		return errno.ErrBroker.WithCause(err)
	}
	q.mu.Lock()
	old := q.client
	q.client = fresh
	q.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	logger.Info("Queue connection re-established", map[string]interface{}{"prefix": q.opts.KeyPrefix})
	return nil
}

func (q *RedisJobQueue) Counts(ctx context.Context) (QueueCounts, error) {
	cli := q.cli()
	pipe := cli.Pipeline()
	waiting := pipe.LLen(ctx, q.key("wait"))
	active := pipe.ZCard(ctx, q.key("active"))
	delayed := pipe.ZCard(ctx, q.key("delayed"))
	dead := pipe.LLen(ctx, q.key("dead"))
	paused := pipe.Exists(ctx, q.key("paused"))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return QueueCounts{}, errno.ErrBroker.WithCause(err)
	}
	return QueueCounts{
		Waiting: waiting.Val(),
		Active:  active.Val(),
		Delayed: delayed.Val(),
		Dead:    dead.Val(),
		Paused:  paused.Val() == 1,
	}, nil
}

// Result returns the terminal event stored for jobID, or nil while the job is still pending.
func (q *RedisJobQueue) Result(ctx context.Context, jobID string) (*JobEvent, error) {
	fields, err := q.cli().HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return nil, errno.ErrBroker.WithCause(err)
	}
	if len(fields) == 0 {
		return nil, errno.ErrJobNotFound
	}
	ev := &JobEvent{JobID: jobID, Error: fields["error"]}
	switch fields["state"] {
	case stateCompleted:
		ev.Status = vo.JobStatusCompleted
		if raw := fields["result"]; raw != "" {
			var res entity.JobResult
			if err := json.Unmarshal([]byte(raw), &res); err != nil {
				return nil, fmt.Errorf("decode result of job %s: %w", jobID, err)
			}
			ev.Result = &res
		}
	case stateFailed:
		ev.Status = vo.JobStatusFailed
	case stateSkipped:
		ev.Status = vo.JobStatusSkipped
	default:
		return nil, nil
	}
	return ev, nil
}

// State returns the live status of a job in the queue.
func (q *RedisJobQueue) State(ctx context.Context, jobID string) (vo.JobStatus, int, error) {
	vals, err := q.cli().HMGet(ctx, q.jobKey(jobID), "state", "attempts").Result()
	if err != nil {
		return "", 0, errno.ErrBroker.WithCause(err)
	}
	state, _ := vals[0].(string)
	if state == "" {
		return "", 0, errno.ErrJobNotFound
	}
	attempts, _ := strconv.Atoi(fmt.Sprint(vals[1]))
	switch state {
	case stateActive:
		return vo.JobStatusActive, attempts, nil
	case stateCompleted:
		return vo.JobStatusCompleted, attempts, nil
	case stateFailed:
		return vo.JobStatusFailed, attempts, nil
	case stateSkipped:
		return vo.JobStatusSkipped, attempts, nil
	}
	return vo.JobStatusQueued, attempts, nil
}

func (q *RedisJobQueue) publish(ctx context.Context, ev JobEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		logger.Warnf("Encode job event failed job_id=%s error=%v", ev.JobID, err)
		return
	}
	if err := q.cli().Publish(ctx, q.key("events"), body).Err(); err != nil {
		logger.Warnf("Publish job event failed job_id=%s error=%v", ev.JobID, err)
	}
}

// Subscribe streams terminal job events until ctx ends or the connection drops; the
// returned channel is closed in both cases.
func (q *RedisJobQueue) Subscribe(ctx context.Context) (<-chan JobEvent, error) {
	sub := q.cli().Subscribe(ctx, q.key("events"))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errno.ErrBroker.WithCause(err)
	}
	out := make(chan JobEvent, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev JobEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Warnf("Decode job event failed error=%v", err)
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (q *RedisJobQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.client == nil {
		return nil
	}
	err := q.client.Close()
	q.client = nil
	return err
}
