package repo

import (
	"context"

	"outreach-service/ddd/domain/entity"
)

// UserProfileRepository 用户配额与设置
type UserProfileRepository interface {
	// GetProfile returns errno.ErrUserNotFound when the user has no profile row.
	GetProfile(ctx context.Context, userID string) (*entity.UserProfile, error)
	// CommitJobVideos adds n clamped at ceiling, at most once per job. It reports whether this
	// call applied the charge.
	CommitJobVideos(ctx context.Context, userID, jobID string, n, ceiling int) (bool, error)
}

// MailCounterRepository 邮箱每日发送计数
type MailCounterRepository interface {
	// EnsureCounter creates the counter row for accountID if absent.
	EnsureCounter(ctx context.Context, accountID, today string) error
	// RollWindow resets sentToday when the stored window is older than today,
	// crediting a day with sends first. Reports whether a roll happened.
	RollWindow(ctx context.Context, accountID, today string) (bool, error)
	GetCounter(ctx context.Context, accountID string) (*entity.EmailSendCounter, error)
	// TryIncrement bumps sentToday only while it is below ceiling.
	TryIncrement(ctx context.Context, accountID string, ceiling int) (bool, error)
	// Decrement returns a reservation whose send failed.
	Decrement(ctx context.Context, accountID string) error
}

// MailStatsRepository 用户邮件成功/失败统计
type MailStatsRepository interface {
	RecordOutcome(ctx context.Context, userID string, success bool) error
}

// DispatchLedger remembers which rows of a job were already emailed.
type DispatchLedger interface {
	SentTargets(ctx context.Context, jobID string) (map[string]bool, error)
	MarkSent(ctx context.Context, userID, jobID, targetURL, recipient string) error
}

// MailAccountRepository 发件账户
type MailAccountRepository interface {
	ListByUser(ctx context.Context, userID string) ([]*entity.MailAccount, error)
}
