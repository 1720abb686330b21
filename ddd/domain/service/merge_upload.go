package service

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/metrics"
)

// MergeUploadStage overlays the camera video on each recording and uploads the result.
type MergeUploadStage struct {
	merger       gateway.Merger
	storage      gateway.StorageGateway
	workDir      string
	objectPrefix string
}

func NewMergeUploadStage(merger gateway.Merger, storage gateway.StorageGateway, workDir, objectPrefix string) *MergeUploadStage {
	return &MergeUploadStage{merger: merger, storage: storage, workDir: workDir, objectPrefix: objectPrefix}
}

// MergeUploadInput 单个任务的合成参数
type MergeUploadInput struct {
	JobID       string
	UserID      string
	OverlayPath string
	Placement   vo.CameraPlacement
	Recordings  []entity.RecordingResult
}

// ObjectKey is deterministic per job and row so a redelivered job overwrites its own objects.
func (s *MergeUploadStage) ObjectKey(userID, jobID string, index int) string {
	return path.Join(s.objectPrefix, userID, jobID, fmt.Sprintf("video_%03d.mp4", index))
}

// Run merges and uploads every successful recording concurrently. A failure drops only that
// row. Recording and merged files are removed on every path. Successes keep input order.
func (s *MergeUploadStage) Run(ctx context.Context, in MergeUploadInput) []entity.ArtifactRecord {
	slots := make([]*entity.ArtifactRecord, len(in.Recordings))
	var wg sync.WaitGroup
	for i, rec := range in.Recordings {
		if !rec.Succeeded() {
			continue
		}
		wg.Add(1)
		go func(i int, rec entity.RecordingResult) {
			defer wg.Done()
			slots[i] = s.processOne(ctx, in, i, rec)
		}(i, rec)
	}
	wg.Wait()

	artifacts := make([]entity.ArtifactRecord, 0, len(slots))
	for _, a := range slots {
		if a != nil {
			artifacts = append(artifacts, *a)
		}
	}
	return artifacts
}

func (s *MergeUploadStage) processOne(ctx context.Context, in MergeUploadInput, index int, rec entity.RecordingResult) (artifact *entity.ArtifactRecord) {
	mergedPath := filepath.Join(s.workDir, fmt.Sprintf("merged_%s_%03d.mp4", in.JobID, index))
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Merge/upload panic", map[string]interface{}{"job_id": in.JobID, "panic": fmt.Sprint(r)})
			artifact = nil
		}
		removeQuietly(rec.LocalPath)
		removeQuietly(mergedPath)
		outcome := "success"
		if artifact == nil {
			outcome = "failure"
		}
		metrics.ArtifactsTotal.WithLabelValues(outcome).Inc()
	}()

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		logger.Error("Create merge dir failed", map[string]interface{}{"dir": s.workDir, "error": err.Error()})
		return nil
	}
	if err := s.merger.Merge(ctx, rec.LocalPath, in.OverlayPath, mergedPath, in.Placement); err != nil {
		logger.Warn("Merge failed", map[string]interface{}{
			"job_id": in.JobID,
			"url":    rec.Row.TargetURL,
			"error":  err.Error(),
		})
		return nil
	}
	key := s.ObjectKey(in.UserID, in.JobID, index)
	url, err := s.storage.UploadArtifact(ctx, mergedPath, key, "video/mp4")
	if err != nil {
		logger.Warn("Artifact upload failed", map[string]interface{}{
			"job_id":     in.JobID,
			"object_key": key,
			"error":      err.Error(),
		})
		return nil
	}
	return &entity.ArtifactRecord{
		Row:       rec.Row,
		RemoteURL: url,
		ObjectKey: key,
		JobID:     in.JobID,
		CreatedAt: time.Now(),
	}
}

func removeQuietly(p string) {
	if p == "" {
		return
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		logger.Warnf("Remove temp file failed path=%s error=%v", p, err)
	}
}
