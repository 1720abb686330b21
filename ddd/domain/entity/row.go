package entity

import "time"

// Row 表格中的一行外联目标
type Row struct {
	TargetURL        string `json:"target_url"`
	RecipientEmail   string `json:"recipient_email"`
	RecipientName    string `json:"recipient_name"`
	RecipientCompany string `json:"recipient_company,omitempty"`
	RecipientTitle   string `json:"recipient_title,omitempty"`
}

// RecordingResult pairs a row with its local recording. LocalPath is empty when recording failed.
type RecordingResult struct {
	Row       Row
	LocalPath string
	Err       error
}

func (r RecordingResult) Succeeded() bool { return r.LocalPath != "" }

// ArtifactRecord 已上传的合成视频
type ArtifactRecord struct {
	Row       Row       `json:"row"`
	RemoteURL string    `json:"remote_url"`
	ObjectKey string    `json:"object_key,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}
