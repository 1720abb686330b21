package convertor

import (
	"encoding/json"
	"fmt"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
	"outreach-service/ddd/infrastructure/database/po"
)

// ProfileToEntity 用户套餐 PO -> 实体
func ProfileToEntity(p *po.UserProfile) *entity.UserProfile {
	if p == nil {
		return nil
	}
	return &entity.UserProfile{
		QuotaState: entity.QuotaState{
			UserID:             p.UserID,
			PlanTier:           p.PlanTier,
			ConsumedVideoCount: p.ConsumedVideos,
		},
		Camera: vo.CameraPlacement{Position: p.CameraPosition, Size: p.CameraSize},
	}
}

func ProfileToPO(e *entity.UserProfile) *po.UserProfile {
	return &po.UserProfile{
		UserID:         e.UserID,
		PlanTier:       e.PlanTier,
		ConsumedVideos: e.ConsumedVideoCount,
		CameraPosition: e.Camera.Position,
		CameraSize:     e.Camera.Size,
	}
}

func CounterToEntity(p *po.MailCounter) *entity.EmailSendCounter {
	return &entity.EmailSendCounter{
		AccountID:          p.AccountID,
		WindowStartDate:    p.WindowDate,
		SentToday:          p.SentToday,
		TotalDaysWithSends: p.ActiveDays,
	}
}

func AccountToEntity(p *po.MailAccount) *entity.MailAccount {
	return &entity.MailAccount{
		AccountID:    p.AccountID,
		UserID:       p.UserID,
		Provider:     vo.MailProvider(p.Provider),
		Email:        p.Email,
		DisplayName:  p.DisplayName,
		RefreshToken: p.RefreshToken,
		SMTPHost:     p.SMTPHost,
		SMTPPort:     p.SMTPPort,
		SMTPUsername: p.SMTPUsername,
		SMTPPassword: p.SMTPPassword,
	}
}

func AccountToPO(e *entity.MailAccount) *po.MailAccount {
	return &po.MailAccount{
		AccountID:    e.AccountID,
		UserID:       e.UserID,
		Provider:     e.Provider.String(),
		Email:        e.Email,
		DisplayName:  e.DisplayName,
		RefreshToken: e.RefreshToken,
		SMTPHost:     e.SMTPHost,
		SMTPPort:     e.SMTPPort,
		SMTPUsername: e.SMTPUsername,
		SMTPPassword: e.SMTPPassword,
	}
}

// ArtifactToPO flattens the row into columns.
func ArtifactToPO(userID, jobID string, a entity.ArtifactRecord) *po.Artifact {
	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	return &po.Artifact{
		UserID:           userID,
		JobID:            jobID,
		SourceURL:        a.Row.TargetURL,
		RecipientEmail:   a.Row.RecipientEmail,
		RecipientName:    a.Row.RecipientName,
		RecipientCompany: a.Row.RecipientCompany,
		RecipientTitle:   a.Row.RecipientTitle,
		RemoteURL:        a.RemoteURL,
		ObjectKey:        a.ObjectKey,
		CreatedAt:        created,
		UpdatedAt:        time.Now(),
	}
}

func ArtifactToEntity(p *po.Artifact) entity.ArtifactRecord {
	return entity.ArtifactRecord{
		Row: entity.Row{
			TargetURL:        p.SourceURL,
			RecipientEmail:   p.RecipientEmail,
			RecipientName:    p.RecipientName,
			RecipientCompany: p.RecipientCompany,
			RecipientTitle:   p.RecipientTitle,
		},
		RemoteURL: p.RemoteURL,
		ObjectKey: p.ObjectKey,
		JobID:     p.JobID,
		CreatedAt: p.CreatedAt,
	}
}

// JobToPO 任务实体 -> PO，结果以 JSON 文本保存
func JobToPO(e *entity.JobEntity) (*po.JobRecord, error) {
	payload := e.Payload()
	record := &po.JobRecord{
		JobID:           e.JobID(),
		UserID:          payload.UserID,
		SpreadsheetPath: payload.SpreadsheetPath,
		OverlayPath:     payload.OverlayVideoPath,
		RequestedCount:  payload.RequestedVideoCount,
		Status:          e.Status().String(),
		Attempts:        e.Attempts(),
		ErrorMessage:    e.ErrorMessage(),
		CreatedAt:       e.SubmittedAt(),
		UpdatedAt:       e.UpdatedAt(),
		StartedAt:       e.StartedAt(),
		FinishedAt:      e.FinishedAt(),
	}
	if res := e.Result(); res != nil {
		body, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("encode job result: %w", err)
		}
		record.Result = string(body)
	}
	return record, nil
}

func JobToEntity(p *po.JobRecord) (*entity.JobEntity, error) {
	var result *entity.JobResult
	if p.Result != "" {
		result = &entity.JobResult{}
		if err := json.Unmarshal([]byte(p.Result), result); err != nil {
			return nil, fmt.Errorf("decode job result: %w", err)
		}
	}
	status, err := vo.NewJobStatusFromString(p.Status)
	if err != nil {
		return nil, err
	}
	payload := entity.JobPayload{
		SpreadsheetPath:     p.SpreadsheetPath,
		OverlayVideoPath:    p.OverlayPath,
		UserID:              p.UserID,
		RequestedVideoCount: p.RequestedCount,
	}
	return entity.RestoreJobEntity(p.JobID, payload, status, p.Attempts, p.ErrorMessage, result,
		p.CreatedAt, p.UpdatedAt, p.StartedAt, p.FinishedAt), nil
}
