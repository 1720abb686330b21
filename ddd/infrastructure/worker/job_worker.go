package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/repo"
	"outreach-service/ddd/domain/service"
	"outreach-service/ddd/domain/vo"
	"outreach-service/ddd/infrastructure/queue"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/metrics"
)

// JobQueue is the broker surface a worker needs.
type JobQueue interface {
	Claim(ctx context.Context, workerID string) (*queue.ClaimedJob, error)
	ExtendLock(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID string, result *entity.JobResult) error
	Fail(ctx context.Context, jobID, message string) error
	Skip(ctx context.Context, jobID, reason string) error
	ReclaimStalled(ctx context.Context) (redelivered, dead []string, err error)
}

// JobWorker 外联任务工作池
type JobWorker interface {
	Start(ctx context.Context) error
	// Stop stops claiming and waits for in-flight jobs until ctx is done.
	Stop(ctx context.Context) error
	IsRunning() bool
	GetStats() WorkerStats
}

// WorkerStats 工作池统计信息
type WorkerStats struct {
	ProcessedJobs    uint64    `json:"processed_jobs"`
	SuccessfulJobs   uint64    `json:"successful_jobs"`
	FailedJobs       uint64    `json:"failed_jobs"`
	SkippedJobs      uint64    `json:"skipped_jobs"`
	CurrentlyRunning int       `json:"currently_running"`
	StartTime        time.Time `json:"start_time"`
	LastJobTime      time.Time `json:"last_job_time"`
}

// Options 工作池参数
type Options struct {
	WorkerID               string
	Concurrency            int
	PollInterval           time.Duration
	ReclaimInterval        time.Duration
	LockDuration           time.Duration
	BrokerFailureThreshold int
}

type jobWorkerImpl struct {
	id              string
	queue           JobQueue
	pipeline        service.JobPipeline
	jobs            repo.JobRepository
	flag            *service.TerminationFlag
	opts            Options
	onBrokerFailure func()
	running         bool
	cancel          context.CancelFunc
	stats           WorkerStats
	brokerFailures  int32
	mu              sync.RWMutex
	wg              sync.WaitGroup
}

// NewJobWorker 创建工作池；onBrokerFailure 在连续认领失败达到阈值时调用
func NewJobWorker(
	q JobQueue,
	pipeline service.JobPipeline,
	jobs repo.JobRepository,
	flag *service.TerminationFlag,
	opts Options,
	onBrokerFailure func(),
) JobWorker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = 10 * time.Minute
	}
	if opts.ReclaimInterval <= 0 {
		opts.ReclaimInterval = opts.LockDuration / 2
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "outreach-worker"
	}
	if flag == nil {
		flag = service.NewTerminationFlag()
	}
	return &jobWorkerImpl{
		id:              opts.WorkerID,
		queue:           q,
		pipeline:        pipeline,
		jobs:            jobs,
		flag:            flag,
		opts:            opts,
		onBrokerFailure: onBrokerFailure,
		stats:           WorkerStats{StartTime: time.Now()},
	}
}

// Start 启动工作池
func (w *jobWorkerImpl) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("worker %s is already running", w.id)
	}
	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.running = true
	w.stats.StartTime = time.Now()

	logger.Infof("Starting job worker %s with %d goroutines", w.id, w.opts.Concurrency)
	for i := 0; i < w.opts.Concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(workerCtx, i)
	}
	w.wg.Add(1)
	go w.reclaimLoop(workerCtx)
	return nil
}

// Stop 停止认领新任务并等待正在执行的任务
func (w *jobWorkerImpl) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	if w.cancel != nil {
		w.cancel()
	}
	w.mu.Unlock()

	logger.Infof("Stopping job worker %s", w.id)
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logger.Infof("Job worker %s stopped", w.id)
		return nil
	case <-ctx.Done():
		logger.Warnf("Job worker %s still has jobs in flight after stop deadline", w.id)
		return ctx.Err()
	}
}

func (w *jobWorkerImpl) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

func (w *jobWorkerImpl) GetStats() WorkerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *jobWorkerImpl) workerLoop(ctx context.Context, slot int) {
	defer w.wg.Done()
	logger.Debugf("Worker %s-%d started", w.id, slot)
	defer logger.Debugf("Worker %s-%d stopped", w.id, slot)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if w.flag.IsSet() {
			w.pause(ctx)
			continue
		}
		job, err := w.queue.Claim(ctx, fmt.Sprintf("%s-%d", w.id, slot))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Warnf("Worker %s-%d failed to claim job: %v", w.id, slot, err)
			w.brokerFailed()
			w.pause(ctx)
			continue
		}
		atomic.StoreInt32(&w.brokerFailures, 0)
		if job == nil {
			w.pause(ctx)
			continue
		}
		w.processJob(ctx, job, slot)
	}
}

func (w *jobWorkerImpl) pause(ctx context.Context) {
	t := time.NewTimer(w.opts.PollInterval)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *jobWorkerImpl) brokerFailed() {
	threshold := int32(w.opts.BrokerFailureThreshold)
	if threshold <= 0 {
		return
	}
	if atomic.AddInt32(&w.brokerFailures, 1) == threshold && w.onBrokerFailure != nil {
		logger.Error("Broker failure threshold reached", map[string]interface{}{
			"worker_id": w.id,
			"failures":  threshold,
		})
		go w.onBrokerFailure()
	}
}

// processJob runs one claimed job. The pipeline gets a context that survives Stop, so a
// drain never preempts an in-flight external call; termination is observed at stage
// boundaries through the flag.
func (w *jobWorkerImpl) processJob(ctx context.Context, claimed *queue.ClaimedJob, slot int) {
	job := entity.RestoreJobEntity(claimed.JobID, claimed.Payload, vo.JobStatusQueued, claimed.Attempts-1, "", nil,
		claimed.SubmittedAt, time.Now(), nil, nil)
	_ = job.Activate(claimed.Attempts)
	runCtx := context.WithoutCancel(ctx)
	log := logger.WithJob(claimed.JobID, claimed.Payload.UserID)

	if w.flag.IsSet() {
		_ = job.Skip("terminated")
		w.settle(claimed, w.queue.Skip(runCtx, claimed.JobID, "terminated"))
		w.saveJob(runCtx, job)
		w.updateStats(func(s *WorkerStats) { s.SkippedJobs++ })
		metrics.JobsProcessedTotal.WithLabelValues(vo.JobStatusSkipped.String()).Inc()
		return
	}

	log.WithField("attempt", claimed.Attempts).Infof("Worker %s-%d processing job", w.id, slot)
	w.saveJob(runCtx, job)
	w.updateStats(func(s *WorkerStats) {
		s.CurrentlyRunning++
		s.LastJobTime = time.Now()
	})
	metrics.ActiveWorkers.Inc()
	defer func() {
		metrics.ActiveWorkers.Dec()
		w.updateStats(func(s *WorkerStats) {
			s.CurrentlyRunning--
			s.ProcessedJobs++
		})
	}()

	stopHeartbeat := w.heartbeat(runCtx, claimed.JobID)
	result, err := w.execute(runCtx, job)
	stopHeartbeat()

	switch {
	case err != nil:
		log.WithError(err).Errorf("Worker %s-%d job failed", w.id, slot)
		_ = job.Fail(err.Error())
		w.settle(claimed, w.queue.Fail(runCtx, claimed.JobID, err.Error()))
		w.updateStats(func(s *WorkerStats) { s.FailedJobs++ })
	case result.Status == vo.JobStatusSkipped:
		_ = job.Skip("terminated")
		w.settle(claimed, w.queue.Skip(runCtx, claimed.JobID, "terminated"))
		w.updateStats(func(s *WorkerStats) { s.SkippedJobs++ })
	default:
		_ = job.Complete(result)
		w.settle(claimed, w.queue.Complete(runCtx, claimed.JobID, result))
		w.updateStats(func(s *WorkerStats) { s.SuccessfulJobs++ })
		log.WithField("artifacts", len(result.Artifacts)).Infof("Worker %s-%d job completed", w.id, slot)
	}
	metrics.JobsProcessedTotal.WithLabelValues(job.Status().String()).Inc()
	w.saveJob(runCtx, job)
}

func (w *jobWorkerImpl) execute(ctx context.Context, job *entity.JobEntity) (result *entity.JobResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()
	result, err = w.pipeline.Execute(ctx, job)
	if err == nil && result == nil {
		err = errors.New("pipeline returned no result")
	}
	return result, err
}

// heartbeat keeps the lock alive while the pipeline runs.
func (w *jobWorkerImpl) heartbeat(ctx context.Context, jobID string) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(w.opts.LockDuration / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := w.queue.ExtendLock(ctx, jobID); err != nil {
					logger.Warnf("Extend lock failed job_id=%s error=%v", jobID, err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// settle logs the ack outcome and releases the job's inputs only when this worker's outcome
// stuck. A lost lock means another attempt owns the job and still needs its files.
func (w *jobWorkerImpl) settle(claimed *queue.ClaimedJob, err error) {
	switch {
	case err == nil:
		w.pipeline.ReleaseInputs(claimed.Payload)
	case errors.Is(err, queue.ErrLockLost):
		logger.Warnf("Job %s is no longer held by this worker, outcome dropped", claimed.JobID)
	default:
		logger.Errorf("Record job outcome failed job_id=%s error=%v", claimed.JobID, err)
	}
}

func (w *jobWorkerImpl) saveJob(ctx context.Context, job *entity.JobEntity) {
	if w.jobs == nil {
		return
	}
	if err := w.jobs.SaveJob(ctx, job); err != nil {
		logger.Warnf("Save job record failed job_id=%s error=%v", job.JobID(), err)
	}
}

func (w *jobWorkerImpl) reclaimLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.ReclaimInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reclaim(ctx)
		}
	}
}

func (w *jobWorkerImpl) reclaim(ctx context.Context) {
	_, dead, err := w.queue.ReclaimStalled(ctx)
	if err != nil {
		logger.Warnf("Worker %s reclaim failed: %v", w.id, err)
		return
	}
	if w.jobs == nil {
		return
	}
	for _, id := range dead {
		job, err := w.jobs.GetJob(ctx, id)
		if err != nil {
			continue
		}
		if job.Fail("job lock expired too many times") == nil {
			w.saveJob(ctx, job)
		}
	}
}

func (w *jobWorkerImpl) updateStats(fn func(*WorkerStats)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fn(&w.stats)
}
