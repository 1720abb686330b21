package repo

import (
	"context"

	"outreach-service/ddd/domain/entity"
)

// JobRepository 任务记录仓储
type JobRepository interface {
	SaveJob(ctx context.Context, job *entity.JobEntity) error
	// GetJob returns errno.ErrJobNotFound when absent.
	GetJob(ctx context.Context, jobID string) (*entity.JobEntity, error)
	// MarkSkipped moves non-final jobs to skipped, used after a purge.
	MarkSkipped(ctx context.Context, jobIDs []string, reason string) error
}

// ArtifactRepository 合成视频记录仓储
type ArtifactRepository interface {
	// UpsertArtifacts is keyed by (user, job, target url) so a re-run does not duplicate rows.
	UpsertArtifacts(ctx context.Context, userID, jobID string, records []entity.ArtifactRecord) error
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]entity.ArtifactRecord, int64, error)
}
