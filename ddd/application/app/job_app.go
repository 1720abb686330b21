package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"outreach-service/ddd/application/cqe"
	"outreach-service/ddd/application/dto"
	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/repo"
	"outreach-service/ddd/domain/service"
	"outreach-service/ddd/domain/vo"
	"outreach-service/ddd/infrastructure/queue"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
)

// JobApp 外联任务应用服务
type JobApp interface {
	// CreateStaging 创建暂存会话
	CreateStaging(ctx context.Context, userID string) (*dto.StagingDTO, error)
	// StageUpload 上传表格或摄像头视频到暂存会话
	StageUpload(ctx context.Context, req *cqe.StageUploadReq, r io.Reader) (*dto.StagingDTO, error)
	// SubmitFromStaging 将完整的暂存会话提交为任务
	SubmitFromStaging(ctx context.Context, req *cqe.SubmitJobReq) (*dto.JobSubmittedDTO, error)
	// SubmitJob 直接提交任务，文件路径需对worker可见
	SubmitJob(ctx context.Context, payload entity.JobPayload) (*dto.JobSubmittedDTO, error)
	// GetJob 查询任务，可选等待完成
	GetJob(ctx context.Context, req *cqe.GetJobReq) (*dto.JobDTO, error)
	// ListArtifacts 查询用户的合成视频
	ListArtifacts(ctx context.Context, req *cqe.ListArtifactsReq) (*dto.ArtifactListDTO, error)
	// Terminate 触发终止/重建
	Terminate(ctx context.Context, req *cqe.TerminateReq) *dto.TerminationDTO
	// SweepStaging 清理过期暂存会话
	SweepStaging() int
}

// JobEnqueuer is the producer side of the job queue.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, jobID string, payload entity.JobPayload) error
}

// CompletionWaiter blocks until a job reaches a terminal state.
type CompletionWaiter interface {
	Wait(ctx context.Context, jobID string) (*queue.JobEvent, error)
}

// QueueInspector reads the live status of a queued job.
type QueueInspector interface {
	State(ctx context.Context, jobID string) (vo.JobStatus, int, error)
}

// PipelineController gates submissions on the termination state machine.
type PipelineController interface {
	RequestTermination(ctx context.Context, reason string) service.TerminationAck
	AwaitRunning(ctx context.Context) error
}

// JobAppDeps groups the collaborators of the job app.
type JobAppDeps struct {
	Jobs       repo.JobRepository
	Artifacts  repo.ArtifactRepository
	Queue      JobEnqueuer
	Completion CompletionWaiter
	// Inspector is optional; without it GetJob reports the stored record only.
	Inspector  QueueInspector
	Controller PipelineController
	Staging    *service.StagingStore
	// MaxWait caps both the completion wait of GetJob and the wait for a rebuild on submit.
	MaxWait time.Duration
}

type jobAppImpl struct {
	jobs       repo.JobRepository
	artifacts  repo.ArtifactRepository
	queue      JobEnqueuer
	completion CompletionWaiter
	inspector  QueueInspector
	controller PipelineController
	staging    *service.StagingStore
	maxWait    time.Duration
}

func NewJobApp(deps JobAppDeps) JobApp {
	if deps.MaxWait <= 0 {
		deps.MaxWait = 60 * time.Second
	}
	return &jobAppImpl{
		jobs:       deps.Jobs,
		artifacts:  deps.Artifacts,
		queue:      deps.Queue,
		completion: deps.Completion,
		inspector:  deps.Inspector,
		controller: deps.Controller,
		staging:    deps.Staging,
		maxWait:    deps.MaxWait,
	}
}

func (a *jobAppImpl) CreateStaging(_ context.Context, userID string) (*dto.StagingDTO, error) {
	if userID == "" {
		return nil, errno.ErrUnauthorized
	}
	sess, err := a.staging.Create(userID)
	if err != nil {
		return nil, err
	}
	return dto.NewStagingDTO(sess), nil
}

func (a *jobAppImpl) StageUpload(_ context.Context, req *cqe.StageUploadReq, r io.Reader) (*dto.StagingDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := a.staging.Attach(req.Token, req.UserID, service.StagingKind(req.Kind), req.Filename, r)
	if err != nil {
		return nil, err
	}
	return dto.NewStagingDTO(sess), nil
}

func (a *jobAppImpl) SubmitFromStaging(ctx context.Context, req *cqe.SubmitJobReq) (*dto.JobSubmittedDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	sess, err := a.staging.Take(req.StagingToken, req.UserID)
	if err != nil {
		return nil, err
	}
	resp, err := a.SubmitJob(ctx, entity.JobPayload{
		UserID:              req.UserID,
		SpreadsheetPath:     sess.SpreadsheetPath,
		OverlayVideoPath:    sess.OverlayPath,
		RequestedVideoCount: req.RequestedVideoCount,
	})
	if err != nil {
		_ = os.RemoveAll(sess.Dir)
		return nil, err
	}
	return resp, nil
}

func (a *jobAppImpl) SubmitJob(ctx context.Context, payload entity.JobPayload) (*dto.JobSubmittedDTO, error) {
	if err := payload.Validate(); err != nil {
		return nil, errno.ErrValidation.WithCause(err)
	}

	// 终止/重建期间新任务等待控制器恢复
	waitCtx, cancel := context.WithTimeout(ctx, a.maxWait)
	err := a.controller.AwaitRunning(waitCtx)
	cancel()
	if err != nil {
		return nil, errno.ErrTerminating.WithCause(err)
	}

	job := entity.NewJobEntity(payload)
	if err := a.jobs.SaveJob(ctx, job); err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	if err := a.queue.Enqueue(ctx, job.JobID(), payload); err != nil {
		logger.Errorf("Job enqueue failed job_id=%s error=%v", job.JobID(), err)
		if failErr := job.Fail(fmt.Sprintf("enqueue failed: %v", err)); failErr == nil {
			_ = a.jobs.SaveJob(ctx, job)
		}
		return nil, errno.ErrBroker.WithCause(err)
	}
	logger.WithJob(job.JobID(), payload.UserID).Info("Job submitted")
	return &dto.JobSubmittedDTO{JobID: job.JobID(), Status: job.Status().String()}, nil
}

func (a *jobAppImpl) GetJob(ctx context.Context, req *cqe.GetJobReq) (*dto.JobDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	job, err := a.loadOwned(ctx, req.UserID, req.JobID)
	if err != nil {
		return nil, err
	}
	if req.Wait <= 0 || job.Status().IsFinalStatus() || a.completion == nil {
		return a.withLiveState(ctx, dto.NewJobDTO(job)), nil
	}

	wait := req.Wait
	if wait > a.maxWait {
		wait = a.maxWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	ev, err := a.completion.Wait(waitCtx, req.JobID)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, errno.ErrTerminating), errors.Is(err, errno.ErrJobNotFound):
		// fall back to the stored record
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		logger.Warnf("Completion wait failed job_id=%s error=%v", req.JobID, err)
	}

	latest, loadErr := a.loadOwned(ctx, req.UserID, req.JobID)
	if loadErr != nil {
		latest = job
	}
	out := dto.NewJobDTO(latest)
	if ev != nil && !latest.Status().IsFinalStatus() {
		// the worker publishes before its record write lands
		out.Status = ev.Status.String()
		out.Result = ev.Result
		out.Error = ev.Error
	}
	return a.withLiveState(ctx, out), nil
}

// withLiveState lets a claim or redelivery recorded in the queue show before the stored record catches up.
func (a *jobAppImpl) withLiveState(ctx context.Context, out *dto.JobDTO) *dto.JobDTO {
	if a.inspector == nil || vo.JobStatus(out.Status).IsFinalStatus() {
		return out
	}
	status, attempts, err := a.inspector.State(ctx, out.JobID)
	if err != nil {
		return out
	}
	if status == vo.JobStatusActive && out.Status == vo.JobStatusQueued.String() {
		out.Status = status.String()
	}
	if attempts > out.Attempts {
		out.Attempts = attempts
	}
	return out
}

func (a *jobAppImpl) loadOwned(ctx context.Context, userID, jobID string) (*entity.JobEntity, error) {
	job, err := a.jobs.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, errno.ErrJobNotFound) {
			return nil, err
		}
		return nil, errno.ErrDatabase.WithCause(err)
	}
	if job.UserID() != userID {
		return nil, errno.ErrJobNotFound
	}
	return job, nil
}

func (a *jobAppImpl) ListArtifacts(ctx context.Context, req *cqe.ListArtifactsReq) (*dto.ArtifactListDTO, error) {
	if req.UserID == "" {
		return nil, errno.ErrUnauthorized
	}
	req.Normalize()
	records, total, err := a.artifacts.ListByUser(ctx, req.UserID, req.Size, (req.Page-1)*req.Size)
	if err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	return dto.NewArtifactListDTO(records, total, req.Page, req.Size), nil
}

func (a *jobAppImpl) Terminate(ctx context.Context, req *cqe.TerminateReq) *dto.TerminationDTO {
	ack := a.controller.RequestTermination(ctx, "api")
	logger.Info("Termination requested via app", map[string]interface{}{
		"user_id":  req.UserID,
		"reason":   req.Reason,
		"accepted": ack.Accepted,
		"state":    string(ack.State),
	})
	return dto.NewTerminationDTO(ack)
}

func (a *jobAppImpl) SweepStaging() int {
	return a.staging.Sweep()
}
