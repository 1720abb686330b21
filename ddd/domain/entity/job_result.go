package entity

import "outreach-service/ddd/domain/vo"

// SendFailure 单个收件人发送失败
type SendFailure struct {
	Recipient string `json:"recipient"`
	Reason    string `json:"reason"`
}

// DispatchReport summarises the email stage of one job.
type DispatchReport struct {
	Provider   vo.MailProvider `json:"provider,omitempty"`
	Sent       int             `json:"sent"`
	Failed     int             `json:"failed"`
	Skipped    int             `json:"skipped"`
	Halted     bool            `json:"halted"`
	SkipReason string          `json:"skip_reason,omitempty"`
	Failures   []SendFailure   `json:"failures,omitempty"`

	// AlreadySent counts rows delivered by an earlier attempt of the same job.
	AlreadySent int `json:"already_sent,omitempty"`
}

// JobResult 任务结果
type JobResult struct {
	JobID     string           `json:"job_id"`
	Status    vo.JobStatus     `json:"status"`
	Artifacts []ArtifactRecord `json:"artifacts"`
	Rows      int              `json:"rows"`
	Recorded  int              `json:"recorded"`
	Dispatch  DispatchReport   `json:"dispatch"`
	// Partial is set when termination stopped the job between stages.
	Partial bool   `json:"partial"`
	Error   string `json:"error,omitempty"`
}

// SkippedResult is resolved for jobs purged before a worker claimed them.
func SkippedResult(jobID, reason string) *JobResult {
	return &JobResult{JobID: jobID, Status: vo.JobStatusSkipped, Error: reason}
}
