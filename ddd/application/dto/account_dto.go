package dto

import "outreach-service/ddd/domain/entity"

// AccountDTO 发件账户，不含凭据
type AccountDTO struct {
	AccountID   string `json:"account_id"`
	Provider    string `json:"provider"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	SMTPHost    string `json:"smtp_host,omitempty"`
}

func NewAccountDTO(a *entity.MailAccount) AccountDTO {
	return AccountDTO{
		AccountID:   a.AccountID,
		Provider:    a.Provider.String(),
		Email:       a.Email,
		DisplayName: a.DisplayName,
		SMTPHost:    a.SMTPHost,
	}
}

// ProfileDTO 用户配额与摄像头设置
type ProfileDTO struct {
	PlanTier        string `json:"plan_tier"`
	ConsumedVideos  int    `json:"consumed_videos"`
	VideoCeiling    int    `json:"video_ceiling"`
	RemainingVideos int    `json:"remaining_videos"`
	CameraPosition  string `json:"camera_position"`
	CameraSize      string `json:"camera_size"`
}

// StatsDTO 用户外联统计
type StatsDTO struct {
	Profile      *ProfileDTO `json:"profile,omitempty"`
	SuccessMails int         `json:"success_mails"`
	FailedMails  int         `json:"failed_mails"`
}
