package persistence

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/repo"
	"outreach-service/ddd/infrastructure/database/convertor"
	"outreach-service/ddd/infrastructure/database/dao"
	"outreach-service/ddd/infrastructure/database/po"
	"outreach-service/pkg/errno"
)

type jobRepositoryImpl struct {
	dao *dao.JobDAO
}

// NewJobRepository 创建任务记录仓储
func NewJobRepository(db *gorm.DB) repo.JobRepository {
	return &jobRepositoryImpl{dao: dao.NewJobDAO(db)}
}

func (r *jobRepositoryImpl) SaveJob(ctx context.Context, job *entity.JobEntity) error {
	record, err := convertor.JobToPO(job)
	if err != nil {
		return fmt.Errorf("failed to convert entity to po: %w", err)
	}
	return r.dao.Save(ctx, record)
}

func (r *jobRepositoryImpl) GetJob(ctx context.Context, jobID string) (*entity.JobEntity, error) {
	record, err := r.dao.FindByJobID(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrJobNotFound
		}
		return nil, err
	}
	return convertor.JobToEntity(record)
}

func (r *jobRepositoryImpl) MarkSkipped(ctx context.Context, jobIDs []string, reason string) error {
	_, err := r.dao.MarkSkipped(ctx, jobIDs, reason)
	return err
}

type artifactRepositoryImpl struct {
	dao *dao.JobDAO
}

// NewArtifactRepository 创建合成视频仓储
func NewArtifactRepository(db *gorm.DB) repo.ArtifactRepository {
	return &artifactRepositoryImpl{dao: dao.NewJobDAO(db)}
}

func (r *artifactRepositoryImpl) UpsertArtifacts(ctx context.Context, userID, jobID string, records []entity.ArtifactRecord) error {
	rows := make([]*po.Artifact, 0, len(records))
	for _, a := range records {
		rows = append(rows, convertor.ArtifactToPO(userID, jobID, a))
	}
	return r.dao.UpsertArtifacts(ctx, rows)
}

func (r *artifactRepositoryImpl) ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.ArtifactRecord, int64, error) {
	rows, total, err := r.dao.ListArtifacts(ctx, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]entity.ArtifactRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, convertor.ArtifactToEntity(row))
	}
	return out, total, nil
}
