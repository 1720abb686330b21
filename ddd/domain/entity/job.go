package entity

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"outreach-service/ddd/domain/vo"
)

// JobPayload 任务输入
type JobPayload struct {
	SpreadsheetPath     string `json:"spreadsheet_path"`
	OverlayVideoPath    string `json:"overlay_video_path"`
	UserID              string `json:"user_id"`
	RequestedVideoCount int    `json:"requested_video_count"`
}

// Validate checks the fields every stage relies on.
func (p JobPayload) Validate() error {
	switch {
	case strings.TrimSpace(p.UserID) == "":
		return NewDomainError("user id is required")
	case strings.TrimSpace(p.SpreadsheetPath) == "":
		return NewDomainError("spreadsheet path is required")
	case strings.TrimSpace(p.OverlayVideoPath) == "":
		return NewDomainError("overlay video path is required")
	case p.RequestedVideoCount < 0:
		return NewDomainError("requested video count must not be negative")
	}
	return nil
}

// JobEntity 视频外联任务实体
type JobEntity struct {
	jobID        string
	payload      JobPayload
	status       vo.JobStatus
	attempts     int
	errorMessage string
	result       *JobResult
	submittedAt  time.Time
	updatedAt    time.Time
	startedAt    *time.Time
	finishedAt   *time.Time
}

// NewJobEntity 创建新的排队任务
func NewJobEntity(payload JobPayload) *JobEntity {
	now := time.Now()
	return &JobEntity{
		jobID:       uuid.NewString(),
		payload:     payload,
		status:      vo.JobStatusQueued,
		submittedAt: now,
		updatedAt:   now,
	}
}

// RestoreJobEntity rebuilds a job from storage without re-validating transitions.
func RestoreJobEntity(
	jobID string,
	payload JobPayload,
	status vo.JobStatus,
	attempts int,
	errorMessage string,
	result *JobResult,
	submittedAt, updatedAt time.Time,
	startedAt, finishedAt *time.Time,
) *JobEntity {
	return &JobEntity{
		jobID:        jobID,
		payload:      payload,
		status:       status,
		attempts:     attempts,
		errorMessage: errorMessage,
		result:       result,
		submittedAt:  submittedAt,
		updatedAt:    updatedAt,
		startedAt:    startedAt,
		finishedAt:   finishedAt,
	}
}

func (j *JobEntity) JobID() string          { return j.jobID }
func (j *JobEntity) Payload() JobPayload    { return j.payload }
func (j *JobEntity) UserID() string         { return j.payload.UserID }
func (j *JobEntity) Status() vo.JobStatus   { return j.status }
func (j *JobEntity) Attempts() int          { return j.attempts }
func (j *JobEntity) ErrorMessage() string   { return j.errorMessage }
func (j *JobEntity) Result() *JobResult     { return j.result }
func (j *JobEntity) SubmittedAt() time.Time { return j.submittedAt }
func (j *JobEntity) UpdatedAt() time.Time   { return j.updatedAt }
func (j *JobEntity) StartedAt() *time.Time  { return j.startedAt }
func (j *JobEntity) FinishedAt() *time.Time { return j.finishedAt }

// Activate 被worker认领
func (j *JobEntity) Activate(attempt int) error {
	if !j.status.CanTransitionTo(vo.JobStatusActive) {
		return NewDomainError("cannot activate job in current status: " + j.status.String())
	}
	now := time.Now()
	j.status = vo.JobStatusActive
	j.attempts = attempt
	j.startedAt = &now
	j.updatedAt = now
	return nil
}

// Complete 完成任务
func (j *JobEntity) Complete(result *JobResult) error {
	if !j.status.CanTransitionTo(vo.JobStatusCompleted) {
		return NewDomainError("cannot complete job in current status: " + j.status.String())
	}
	j.finish(vo.JobStatusCompleted)
	j.result = result
	return nil
}

// Fail 任务失败
func (j *JobEntity) Fail(errorMessage string) error {
	if !j.status.CanTransitionTo(vo.JobStatusFailed) {
		return NewDomainError("cannot fail job in current status: " + j.status.String())
	}
	j.finish(vo.JobStatusFailed)
	j.errorMessage = errorMessage
	return nil
}

// Skip marks a job dropped by termination.
func (j *JobEntity) Skip(reason string) error {
	if !j.status.CanTransitionTo(vo.JobStatusSkipped) {
		return NewDomainError("cannot skip job in current status: " + j.status.String())
	}
	j.finish(vo.JobStatusSkipped)
	j.errorMessage = reason
	return nil
}

func (j *JobEntity) finish(status vo.JobStatus) {
	now := time.Now()
	j.status = status
	j.finishedAt = &now
	j.updatedAt = now
}

// DomainError 领域错误
type DomainError struct {
	message string
}

func NewDomainError(message string) *DomainError {
	return &DomainError{message: message}
}

func (e *DomainError) Error() string {
	return e.message
}
