package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/domain/repo"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/metrics"
)

// JobPipeline runs one claimed job end to end.
type JobPipeline interface {
	// Execute is safe to repeat for one job: quota is charged once, artifacts are upserted and
	// rows already emailed are not sent again.
	Execute(ctx context.Context, job *entity.JobEntity) (*entity.JobResult, error)
	// ReleaseInputs drops the staged input files once the job's outcome is recorded.
	ReleaseInputs(payload entity.JobPayload)
}

// PipelineConfig 管线参数
type PipelineConfig struct {
	RecordConcurrency int
	CleanupInputs     bool
	// StagingRoot is where upload sessions live; a session directory under it is removed
	// together with its inputs.
	StagingRoot string
}

type pipelineServiceImpl struct {
	parser      gateway.SpreadsheetParser
	profiles    repo.UserProfileRepository
	quota       QuotaService
	recorder    *BatchRecorder
	mergeUpload *MergeUploadStage
	dispatcher  DispatchService
	artifacts   repo.ArtifactRepository
	notifier    gateway.Notifier
	flag        *TerminationFlag
	cfg         PipelineConfig
}

// PipelineDeps groups the collaborators of the pipeline.
type PipelineDeps struct {
	Parser      gateway.SpreadsheetParser
	Profiles    repo.UserProfileRepository
	Quota       QuotaService
	Recorder    *BatchRecorder
	MergeUpload *MergeUploadStage
	Dispatcher  DispatchService
	Artifacts   repo.ArtifactRepository
	Notifier    gateway.Notifier
	Flag        *TerminationFlag
}

// NewPipelineService 创建任务管线
func NewPipelineService(deps PipelineDeps, cfg PipelineConfig) JobPipeline {
	if cfg.RecordConcurrency <= 0 {
		cfg.RecordConcurrency = 2
	}
	if deps.Flag == nil {
		deps.Flag = NewTerminationFlag()
	}
	return &pipelineServiceImpl{
		parser:      deps.Parser,
		profiles:    deps.Profiles,
		quota:       deps.Quota,
		recorder:    deps.Recorder,
		mergeUpload: deps.MergeUpload,
		dispatcher:  deps.Dispatcher,
		artifacts:   deps.Artifacts,
		notifier:    deps.Notifier,
		flag:        deps.Flag,
		cfg:         cfg,
	}
}

// Execute runs validate, video quota, record, merge/upload, commit quota, dispatch and persist.
// Validation and quota problems are returned as errors and fail the job. Termination is not an
// error: the result comes back with Partial set and whatever work completed.
func (p *pipelineServiceImpl) Execute(ctx context.Context, job *entity.JobEntity) (*entity.JobResult, error) {
	epoch := p.flag.Epoch()
	payload := job.Payload()
	log := logger.WithJob(job.JobID(), payload.UserID)
	result := &entity.JobResult{JobID: job.JobID(), Status: vo.JobStatusCompleted, Artifacts: []entity.ArtifactRecord{}}

	if p.flag.Interrupted(epoch) {
		result.Status = vo.JobStatusSkipped
		result.Partial = true
		return result, nil
	}

	if err := payload.Validate(); err != nil {
		return nil, errno.ErrValidation.WithCause(err)
	}
	if _, err := os.Stat(payload.OverlayVideoPath); err != nil {
		return nil, errno.ErrValidation.WithCause(fmt.Errorf("overlay video: %w", err))
	}
	rows, err := p.parser.ParseRows(ctx, payload.SpreadsheetPath)
	if err != nil {
		return nil, errno.ErrValidation.WithCause(fmt.Errorf("parse spreadsheet: %w", err))
	}
	if len(rows) == 0 {
		return nil, errno.ErrNoValidRows
	}

	requested := payload.RequestedVideoCount
	if requested <= 0 || requested > len(rows) {
		requested = len(rows)
	}
	decision, err := p.quota.CheckVideoQuota(ctx, payload.UserID, requested)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		p.notify(ctx, payload.UserID, "Video limit reached. Please upgrade your plan.")
		return nil, errno.ErrVideoQuotaExceeded.WithMessage("remaining %d of %d", decision.Remaining, decision.Ceiling)
	}
	if decision.PermittedCount < len(rows) {
		log.WithField("permitted", decision.PermittedCount).WithField("rows", len(rows)).Info("Rows truncated to remaining quota")
		rows = rows[:decision.PermittedCount]
	}
	result.Rows = len(rows)

	plan, err := p.dispatcher.Prepare(ctx, payload.UserID, job.JobID())
	if err != nil {
		return nil, err
	}
	placement := vo.DefaultCameraPlacement()
	if profile, err := p.profiles.GetProfile(ctx, payload.UserID); err == nil {
		placement = profile.Camera.Normalize()
	}

	if p.interrupted(epoch, result) {
		return result, nil
	}
	p.notify(ctx, payload.UserID, fmt.Sprintf("Recording %d websites", len(rows)))
	started := time.Now()
	recordings := p.recorder.RecordBatch(ctx, rows, p.cfg.RecordConcurrency, epoch)
	metrics.StageDuration.WithLabelValues("record").Observe(time.Since(started).Seconds())
	for _, r := range recordings {
		if r.Succeeded() {
			result.Recorded++
		}
	}

	if p.interrupted(epoch, result) {
		discardRecordings(recordings)
		return result, nil
	}
	started = time.Now()
	artifacts := p.mergeUpload.Run(ctx, MergeUploadInput{
		JobID:       job.JobID(),
		UserID:      payload.UserID,
		OverlayPath: payload.OverlayVideoPath,
		Placement:   placement,
		Recordings:  recordings,
	})
	metrics.StageDuration.WithLabelValues("merge_upload").Observe(time.Since(started).Seconds())
	result.Artifacts = artifacts

	if len(artifacts) > 0 {
		if err := p.quota.CommitVideoQuota(ctx, payload.UserID, job.JobID(), len(artifacts)); err != nil {
			return nil, err
		}
	}
	p.notify(ctx, payload.UserID, fmt.Sprintf("%d of %d videos ready", len(artifacts), len(rows)))

	// Dispatch is the only stage skipped after termination once artifacts exist; the
	// uploaded, quota-charged artifacts are still recorded below.
	if p.flag.Interrupted(epoch) {
		result.Partial = true
		result.Dispatch = entity.DispatchReport{Provider: plan.Provider, Skipped: len(artifacts), Halted: true, SkipReason: "terminated"}
	} else {
		started = time.Now()
		result.Dispatch = p.dispatcher.Dispatch(ctx, plan, payload.UserID, artifacts, epoch)
		metrics.StageDuration.WithLabelValues("dispatch").Observe(time.Since(started).Seconds())
		if result.Dispatch.Halted && result.Dispatch.SkipReason == "terminated" {
			result.Partial = true
		}
	}

	if len(artifacts) > 0 {
		if err := p.artifacts.UpsertArtifacts(ctx, payload.UserID, job.JobID(), artifacts); err != nil {
			return nil, errno.ErrDatabase.WithCause(fmt.Errorf("persist artifacts: %w", err))
		}
	}

	log.WithField("artifacts", len(artifacts)).
		WithField("sent", result.Dispatch.Sent).
		WithField("partial", result.Partial).
		Info("Job pipeline finished")
	p.notify(ctx, payload.UserID, fmt.Sprintf("Done: %d videos, %d emails sent", len(artifacts), result.Dispatch.Sent))
	return result, nil
}

func (p *pipelineServiceImpl) interrupted(epoch uint64, result *entity.JobResult) bool {
	if !p.flag.Interrupted(epoch) {
		return false
	}
	result.Partial = true
	return true
}

func (p *pipelineServiceImpl) notify(ctx context.Context, userID, msg string) {
	if p.notifier != nil {
		p.notifier.Notify(ctx, userID, msg)
	}
}

func (p *pipelineServiceImpl) ReleaseInputs(payload entity.JobPayload) {
	if !p.cfg.CleanupInputs {
		return
	}
	removeQuietly(payload.SpreadsheetPath)
	removeQuietly(payload.OverlayVideoPath)
	for _, dir := range []string{filepath.Dir(payload.SpreadsheetPath), filepath.Dir(payload.OverlayVideoPath)} {
		if p.isSessionDir(dir) {
			if err := os.RemoveAll(dir); err != nil {
				logger.Warnf("Remove staging dir failed dir=%s error=%v", dir, err)
			}
		}
	}
}

// isSessionDir reports whether dir is a direct child of the staging root.
func (p *pipelineServiceImpl) isSessionDir(dir string) bool {
	if p.cfg.StagingRoot == "" {
		return false
	}
	root, err := filepath.Abs(p.cfg.StagingRoot)
	if err != nil {
		return false
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return false
	}
	return filepath.Dir(abs) == root && abs != root
}

func discardRecordings(recordings []entity.RecordingResult) {
	for _, r := range recordings {
		removeQuietly(r.LocalPath)
	}
}
