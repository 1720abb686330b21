package dto

import (
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/service"
)

// StagingDTO 暂存会话
type StagingDTO struct {
	Token          string    `json:"staging_token"`
	HasSpreadsheet bool      `json:"has_spreadsheet"`
	HasOverlay     bool      `json:"has_overlay"`
	Complete       bool      `json:"complete"`
	CreatedAt      time.Time `json:"created_at"`
}

func NewStagingDTO(s service.StagingSession) *StagingDTO {
	return &StagingDTO{
		Token:          s.Token,
		HasSpreadsheet: s.SpreadsheetPath != "",
		HasOverlay:     s.OverlayPath != "",
		Complete:       s.Complete(),
		CreatedAt:      s.CreatedAt,
	}
}

// JobSubmittedDTO 提交回执
type JobSubmittedDTO struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// JobDTO 任务状态与结果
type JobDTO struct {
	JobID       string            `json:"job_id"`
	UserID      string            `json:"user_id"`
	Status      string            `json:"status"`
	Attempts    int               `json:"attempts"`
	Error       string            `json:"error,omitempty"`
	Result      *entity.JobResult `json:"result,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	FinishedAt  *time.Time        `json:"finished_at,omitempty"`
}

func NewJobDTO(job *entity.JobEntity) *JobDTO {
	return &JobDTO{
		JobID:       job.JobID(),
		UserID:      job.UserID(),
		Status:      job.Status().String(),
		Attempts:    job.Attempts(),
		Error:       job.ErrorMessage(),
		Result:      job.Result(),
		SubmittedAt: job.SubmittedAt(),
		StartedAt:   job.StartedAt(),
		FinishedAt:  job.FinishedAt(),
	}
}

// ArtifactDTO 合成视频
type ArtifactDTO struct {
	JobID            string    `json:"job_id"`
	TargetURL        string    `json:"target_url"`
	RecipientEmail   string    `json:"recipient_email"`
	RecipientName    string    `json:"recipient_name"`
	RecipientCompany string    `json:"recipient_company,omitempty"`
	VideoURL         string    `json:"video_url"`
	CreatedAt        time.Time `json:"created_at"`
}

// ArtifactListDTO 合成视频列表
type ArtifactListDTO struct {
	Items []ArtifactDTO `json:"items"`
	Total int64         `json:"total"`
	Page  int           `json:"page"`
	Size  int           `json:"size"`
}

func NewArtifactListDTO(records []entity.ArtifactRecord, total int64, page, size int) *ArtifactListDTO {
	items := make([]ArtifactDTO, 0, len(records))
	for _, r := range records {
		items = append(items, ArtifactDTO{
			JobID:            r.JobID,
			TargetURL:        r.Row.TargetURL,
			RecipientEmail:   r.Row.RecipientEmail,
			RecipientName:    r.Row.RecipientName,
			RecipientCompany: r.Row.RecipientCompany,
			VideoURL:         r.RemoteURL,
			CreatedAt:        r.CreatedAt,
		})
	}
	return &ArtifactListDTO{Items: items, Total: total, Page: page, Size: size}
}

// TerminationDTO 终止回执
type TerminationDTO struct {
	State    string `json:"state"`
	Accepted bool   `json:"accepted"`
	Epoch    uint64 `json:"epoch"`
}

func NewTerminationDTO(ack service.TerminationAck) *TerminationDTO {
	return &TerminationDTO{State: string(ack.State), Accepted: ack.Accepted, Epoch: ack.Epoch}
}
