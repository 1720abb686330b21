package vo

import "fmt"

// JobStatus 任务状态
type JobStatus string

const (
	// JobStatusQueued 等待认领
	JobStatusQueued JobStatus = "queued"
	// JobStatusActive 处理中
	JobStatusActive JobStatus = "active"
	// JobStatusCompleted 已完成
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed 失败
	JobStatusFailed JobStatus = "failed"
	// JobStatusSkipped 因终止而跳过
	JobStatusSkipped JobStatus = "skipped"
)

// NewJobStatusFromString parses a persisted status.
func NewJobStatusFromString(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid job status %q", s)
	}
	return st, nil
}

// IsValid 检查状态是否有效
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusQueued, JobStatusActive, JobStatusCompleted, JobStatusFailed, JobStatusSkipped:
		return true
	default:
		return false
	}
}

func (s JobStatus) String() string {
	return string(s)
}

// IsFinalStatus 检查是否为最终状态
func (s JobStatus) IsFinalStatus() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusSkipped
}

// CanTransitionTo 检查是否可以转换到目标状态
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return target == JobStatusActive || target == JobStatusSkipped
	case JobStatusActive:
		// back to queued when the lock expires and the job is redelivered
		return target == JobStatusCompleted || target == JobStatusFailed ||
			target == JobStatusSkipped || target == JobStatusQueued
	default:
		return false // 最终状态不能转换
	}
}
