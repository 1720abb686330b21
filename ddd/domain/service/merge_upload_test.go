package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
)

func TestMergeUploadKeepsOrderAndCleansUp(t *testing.T) {
	recDir := t.TempDir()
	workDir := t.TempDir()
	rows := rowsFor(5)
	rec := &fakeRecorder{}
	var recordings []entity.RecordingResult
	for i, row := range rows {
		if i == 1 {
			recordings = append(recordings, entity.RecordingResult{Row: row})
			continue
		}
		p, err := rec.Record(context.Background(), row.TargetURL, recDir)
		require.NoError(t, err)
		recordings = append(recordings, entity.RecordingResult{Row: row, LocalPath: p})
	}

	merger := &fakeMerger{failBase: map[string]bool{rows[2].TargetURL: true}}
	storage := newFakeStorage()
	storage.failKey = func(key string) bool { return strings.HasSuffix(key, "video_004.mp4") }
	stage := NewMergeUploadStage(merger, storage, workDir, "processed_videos")

	artifacts := stage.Run(context.Background(), MergeUploadInput{
		JobID:       "job-1",
		UserID:      "u1",
		OverlayPath: "/tmp/cam.mp4",
		Placement:   vo.CameraPlacement{Position: vo.PositionTopLeft, Size: vo.SizeSmall},
		Recordings:  recordings,
	})

	require.Len(t, artifacts, 2)
	assert.Equal(t, rows[0], artifacts[0].Row)
	assert.Equal(t, rows[3], artifacts[1].Row)
	assert.Equal(t, "processed_videos/u1/job-1/video_000.mp4", artifacts[0].ObjectKey)
	assert.Equal(t, "https://cdn.test/processed_videos/u1/job-1/video_003.mp4", artifacts[1].RemoteURL)
	assert.Equal(t, "job-1", artifacts[0].JobID)

	leftovers, err := os.ReadDir(recDir)
	require.NoError(t, err)
	assert.Empty(t, leftovers, "recordings removed")
	merged, err := filepath.Glob(filepath.Join(workDir, "merged_*"))
	require.NoError(t, err)
	assert.Empty(t, merged, "merged files removed")

	for _, f := range merger.filters {
		assert.Equal(t, "[1:v]scale=iw/5:ih/5[overlay];[0:v][overlay]overlay=10:10", f)
	}
}

func TestMergeUploadAllFailed(t *testing.T) {
	stage := NewMergeUploadStage(&fakeMerger{}, newFakeStorage(), t.TempDir(), "p")
	artifacts := stage.Run(context.Background(), MergeUploadInput{
		JobID:      "j",
		UserID:     "u",
		Recordings: []entity.RecordingResult{{Row: rowsFor(1)[0]}},
	})
	assert.Empty(t, artifacts)
}
