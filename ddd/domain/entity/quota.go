package entity

import "outreach-service/ddd/domain/vo"

// QuotaState 用户视频配额
type QuotaState struct {
	UserID             string
	PlanTier           string
	ConsumedVideoCount int
}

// UserProfile carries the per-user settings the pipeline reads.
type UserProfile struct {
	QuotaState
	Camera vo.CameraPlacement
}

// EmailSendCounter 邮箱账户的每日发送计数
type EmailSendCounter struct {
	AccountID          string
	WindowStartDate    string
	SentToday          int
	TotalDaysWithSends int
}

// MailAccount 用户配置的发件账户
type MailAccount struct {
	AccountID    string
	UserID       string
	Provider     vo.MailProvider
	Email        string
	DisplayName  string
	RefreshToken string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}
