package po

import "time"

// UserProfile 用户套餐与视频消耗
type UserProfile struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID         string    `gorm:"uniqueIndex;size:64;not null" json:"user_id"`
	PlanTier       string    `gorm:"size:32;not null;default:''" json:"plan_tier"`
	ConsumedVideos int       `gorm:"not null;default:0" json:"consumed_videos"`
	CameraPosition string    `gorm:"size:32" json:"camera_position"`
	CameraSize     string    `gorm:"size:32" json:"camera_size"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (UserProfile) TableName() string {
	return "user_profiles"
}

// QuotaCommit marks that a job's videos were charged; (user_id, job_id) is unique.
type QuotaCommit struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"uniqueIndex:idx_quota_commit,priority:1;size:64;not null" json:"user_id"`
	JobID     string    `gorm:"uniqueIndex:idx_quota_commit,priority:2;size:64;not null" json:"job_id"`
	Videos    int       `gorm:"not null" json:"videos"`
	CreatedAt time.Time `json:"created_at"`
}

func (QuotaCommit) TableName() string {
	return "quota_commits"
}

// DispatchRecord 单封已发送邮件，(job_id, source_url) 唯一
type DispatchRecord struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID          string    `gorm:"uniqueIndex:idx_dispatch_row,priority:1;size:64;not null" json:"job_id"`
	SourceURL      string    `gorm:"uniqueIndex:idx_dispatch_row,priority:2;size:512;not null" json:"source_url"`
	UserID         string    `gorm:"index;size:64;not null" json:"user_id"`
	RecipientEmail string    `gorm:"size:255" json:"recipient_email"`
	CreatedAt      time.Time `json:"created_at"`
}

func (DispatchRecord) TableName() string {
	return "dispatch_records"
}

// MailAccount 发件账户
type MailAccount struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID    string    `gorm:"uniqueIndex;size:64;not null" json:"account_id"`
	UserID       string    `gorm:"index;size:64;not null" json:"user_id"`
	Provider     string    `gorm:"size:20;not null" json:"provider"`
	Email        string    `gorm:"size:255" json:"email"`
	DisplayName  string    `gorm:"size:255" json:"display_name"`
	RefreshToken string    `gorm:"type:text" json:"-"`
	SMTPHost     string    `gorm:"column:smtp_host;size:255" json:"smtp_host"`
	SMTPPort     int       `gorm:"column:smtp_port" json:"smtp_port"`
	SMTPUsername string    `gorm:"column:smtp_username;size:255" json:"smtp_username"`
	SMTPPassword string    `gorm:"column:smtp_password;size:255" json:"-"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (MailAccount) TableName() string {
	return "mail_accounts"
}

// MailCounter 每个发件账户的日发送窗口
type MailCounter struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	AccountID  string    `gorm:"uniqueIndex;size:64;not null" json:"account_id"`
	WindowDate string    `gorm:"size:10;not null" json:"window_date"`
	SentToday  int       `gorm:"not null;default:0" json:"sent_today"`
	ActiveDays int       `gorm:"not null;default:0" json:"active_days"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (MailCounter) TableName() string {
	return "mail_counters"
}

// MailOutcome 用户累计发送结果
type MailOutcome struct {
	ID           uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID       string    `gorm:"uniqueIndex;size:64;not null" json:"user_id"`
	SuccessMails int       `gorm:"not null;default:0" json:"success_mails"`
	FailedMails  int       `gorm:"not null;default:0" json:"failed_mails"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (MailOutcome) TableName() string {
	return "mail_outcomes"
}

// Artifact 合成视频记录，(user_id, job_id, source_url) 唯一
type Artifact struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           string    `gorm:"uniqueIndex:idx_artifact_row,priority:1;size:64;not null" json:"user_id"`
	JobID            string    `gorm:"uniqueIndex:idx_artifact_row,priority:2;size:64;not null" json:"job_id"`
	SourceURL        string    `gorm:"uniqueIndex:idx_artifact_row,priority:3;size:512;not null" json:"source_url"`
	RecipientEmail   string    `gorm:"size:255" json:"recipient_email"`
	RecipientName    string    `gorm:"size:255" json:"recipient_name"`
	RecipientCompany string    `gorm:"size:255" json:"recipient_company"`
	RecipientTitle   string    `gorm:"size:255" json:"recipient_title"`
	RemoteURL        string    `gorm:"size:1024;not null" json:"remote_url"`
	ObjectKey        string    `gorm:"size:512" json:"object_key"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (Artifact) TableName() string {
	return "artifacts"
}

// JobRecord 任务记录
type JobRecord struct {
	ID              uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	JobID           string     `gorm:"uniqueIndex;size:64;not null" json:"job_id"`
	UserID          string     `gorm:"index;size:64;not null" json:"user_id"`
	SpreadsheetPath string     `gorm:"size:1024" json:"spreadsheet_path"`
	OverlayPath     string     `gorm:"size:1024" json:"overlay_path"`
	RequestedCount  int        `gorm:"not null;default:0" json:"requested_count"`
	Status          string     `gorm:"index;size:20;not null" json:"status"`
	Attempts        int        `gorm:"not null;default:0" json:"attempts"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message"`
	Result          string     `gorm:"type:text" json:"result"`
	CreatedAt       time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
}

func (JobRecord) TableName() string {
	return "job_records"
}

// Models lists every table for AutoMigrate.
func Models() []interface{} {
	return []interface{}{
		&UserProfile{},
		&QuotaCommit{},
		&MailAccount{},
		&MailCounter{},
		&MailOutcome{},
		&Artifact{},
		&DispatchRecord{},
		&JobRecord{},
	}
}
