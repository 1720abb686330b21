package cqe

import (
	"strings"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/pkg/errno"
)

// SubmitJobReq 基于暂存会话提交任务
type SubmitJobReq struct {
	UserID              string `json:"-"`
	StagingToken        string `json:"staging_token" binding:"required"`
	RequestedVideoCount int    `json:"requested_video_count"`
}

func (req *SubmitJobReq) Validate() error {
	if strings.TrimSpace(req.UserID) == "" {
		return errno.ErrUnauthorized
	}
	if strings.TrimSpace(req.StagingToken) == "" {
		return errno.ErrMissingParam.WithMessage("staging_token")
	}
	if req.RequestedVideoCount < 0 {
		return errno.ErrInvalidParam.WithMessage("requested_video_count must not be negative")
	}
	return nil
}

// JobSubmissionMessage is the body of a job submitted over kafka. The files must already be
// reachable from the worker's filesystem.
type JobSubmissionMessage struct {
	UserID              string `json:"user_id"`
	SpreadsheetPath     string `json:"spreadsheet_path"`
	OverlayVideoPath    string `json:"overlay_video_path"`
	RequestedVideoCount int    `json:"requested_video_count"`
}

func (m *JobSubmissionMessage) ToPayload() entity.JobPayload {
	return entity.JobPayload{
		UserID:              strings.TrimSpace(m.UserID),
		SpreadsheetPath:     m.SpreadsheetPath,
		OverlayVideoPath:    m.OverlayVideoPath,
		RequestedVideoCount: m.RequestedVideoCount,
	}
}

// StageUploadReq 上传暂存文件
type StageUploadReq struct {
	UserID   string
	Token    string
	Kind     string
	Filename string
}

func (req *StageUploadReq) Validate() error {
	if strings.TrimSpace(req.UserID) == "" {
		return errno.ErrUnauthorized
	}
	if strings.TrimSpace(req.Token) == "" {
		return errno.ErrMissingParam.WithMessage("staging token")
	}
	if strings.TrimSpace(req.Filename) == "" {
		return errno.ErrMissingParam.WithMessage("file")
	}
	return nil
}

// GetJobReq 查询任务，Wait>0 时等待任务结束
type GetJobReq struct {
	UserID string
	JobID  string
	Wait   time.Duration
}

func (req *GetJobReq) Validate() error {
	if strings.TrimSpace(req.UserID) == "" {
		return errno.ErrUnauthorized
	}
	if strings.TrimSpace(req.JobID) == "" {
		return errno.ErrMissingParam.WithMessage("job_id")
	}
	if req.Wait < 0 {
		return errno.ErrInvalidParam.WithMessage("wait must not be negative")
	}
	return nil
}

// ListArtifactsReq 分页查询合成视频
type ListArtifactsReq struct {
	UserID string `form:"-"`
	Page   int    `form:"page"`
	Size   int    `form:"size"`
}

func (req *ListArtifactsReq) Normalize() {
	if req.Page <= 0 {
		req.Page = 1
	}
	if req.Size <= 0 || req.Size > 100 {
		req.Size = 20
	}
}

// TerminateReq 终止请求
type TerminateReq struct {
	UserID string `json:"-"`
	Reason string `json:"reason"`
}
