package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-service/ddd/infrastructure/database/po"
	"outreach-service/pkg/logger"
)

// JobDAO 任务记录与合成视频数据访问对象
type JobDAO struct {
	db *gorm.DB
}

func NewJobDAO(db *gorm.DB) *JobDAO {
	return &JobDAO{db: db}
}

// Save upserts a job record keyed by job_id.
func (d *JobDAO) Save(ctx context.Context, record *po.JobRecord) error {
	err := d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "job_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "attempts", "error_message", "result", "updated_at", "started_at", "finished_at",
		}),
	}).Create(record).Error
	if err != nil {
		logger.Errorf("Error saving job record job_id=%s: %v", record.JobID, err)
	}
	return err
}

func (d *JobDAO) FindByJobID(ctx context.Context, jobID string) (*po.JobRecord, error) {
	var record po.JobRecord
	if err := d.db.WithContext(ctx).Where("job_id = ?", jobID).First(&record).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Errorf("Error query job record job_id=%s: %v", jobID, err)
		}
		return nil, err
	}
	return &record, nil
}

// MarkSkipped moves queued or active records to skipped.
func (d *JobDAO) MarkSkipped(ctx context.Context, jobIDs []string, reason string) (int64, error) {
	if len(jobIDs) == 0 {
		return 0, nil
	}
	now := time.Now()
	res := d.db.WithContext(ctx).Model(&po.JobRecord{}).
		Where("job_id IN ? AND status IN ?", jobIDs, []string{"queued", "active"}).
		Updates(map[string]interface{}{
			"status":        "skipped",
			"error_message": reason,
			"finished_at":   now,
			"updated_at":    now,
		})
	return res.RowsAffected, res.Error
}

// UpsertArtifacts writes artifacts in one statement; a re-run replaces the stored URLs.
func (d *JobDAO) UpsertArtifacts(ctx context.Context, artifacts []*po.Artifact) error {
	if len(artifacts) == 0 {
		return nil
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "job_id"}, {Name: "source_url"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"recipient_email", "recipient_name", "recipient_company", "recipient_title",
			"remote_url", "object_key", "updated_at",
		}),
	}).Create(artifacts).Error
}

// ListArtifacts 分页查询用户的合成视频
func (d *JobDAO) ListArtifacts(ctx context.Context, userID string, limit, offset int) ([]*po.Artifact, int64, error) {
	var (
		rows  []*po.Artifact
		total int64
	)
	scoped := func() *gorm.DB {
		return d.db.WithContext(ctx).Model(&po.Artifact{}).Where("user_id = ?", userID)
	}
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query := scoped()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Order("created_at DESC, id DESC").Find(&rows).Error; err != nil {
		logger.Errorf("Error query artifacts user_id=%s: %v", userID, err)
		return nil, 0, err
	}
	return rows, total, nil
}
