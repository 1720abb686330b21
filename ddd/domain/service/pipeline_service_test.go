package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
)

type pipelineFixture struct {
	*dispatchFixture
	recorder *fakeRecorder
	storage  *fakeStorage
	parser   *fakeParser
	pipeline JobPipeline
	overlay  string
}

func newPipelineFixture(t *testing.T, rows int, providers ...vo.MailProvider) *pipelineFixture {
	t.Helper()
	dir := t.TempDir()
	df := newDispatchFixture(t, providers...)
	f := &pipelineFixture{
		dispatchFixture: df,
		recorder:        &fakeRecorder{fail: map[string]bool{}},
		storage:         newFakeStorage(),
		parser:          &fakeParser{rows: rowsFor(rows)},
		overlay:         writeOverlay(dir),
	}
	f.pipeline = NewPipelineService(PipelineDeps{
		Parser:      f.parser,
		Profiles:    df.ledger,
		Quota:       df.quota,
		Recorder:    NewBatchRecorder(f.recorder, df.flag, filepath.Join(dir, "rec"), time.Minute),
		MergeUpload: NewMergeUploadStage(&fakeMerger{}, f.storage, filepath.Join(dir, "merged"), "processed_videos"),
		Dispatcher:  df.svc,
		Artifacts:   memArtifacts{df.ledger},
		Notifier:    df.notifier,
		Flag:        df.flag,
	}, PipelineConfig{RecordConcurrency: 2})
	return f
}

func (f *pipelineFixture) job(requested int) *entity.JobEntity {
	return entity.NewJobEntity(entity.JobPayload{
		SpreadsheetPath:     "/uploads/leads.xlsx",
		OverlayVideoPath:    f.overlay,
		UserID:              "u1",
		RequestedVideoCount: requested,
	})
}

func TestPipelineHappyPath(t *testing.T) {
	f := newPipelineFixture(t, 3, vo.MailProviderGoogle)
	f.ledger.addUser("u1", "Silver", 0)
	f.ledger.addAccount(&entity.MailAccount{AccountID: "g", UserID: "u1", Provider: vo.MailProviderGoogle})

	result, err := f.pipeline.Execute(context.Background(), f.job(0))
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCompleted, result.Status)
	assert.False(t, result.Partial)
	assert.Equal(t, 3, result.Rows)
	assert.Equal(t, 3, result.Recorded)
	assert.Len(t, result.Artifacts, 3)
	assert.Equal(t, 3, result.Dispatch.Sent)
	assert.Equal(t, 3, f.ledger.consumed("u1"))
	assert.Equal(t, 3, f.ledger.artifactCount())
	assert.Len(t, f.sender.Sent(), 3)
	assert.Len(t, f.storage.objects, 3)
}

func TestPipelineWithoutProviderStillProducesVideos(t *testing.T) {
	f := newPipelineFixture(t, 3, vo.MailProviderGoogle)
	f.ledger.addUser("u1", "Silver", 0)

	result, err := f.pipeline.Execute(context.Background(), f.job(0))
	require.NoError(t, err)
	assert.Len(t, result.Artifacts, 3)
	assert.Zero(t, result.Dispatch.Sent)
	assert.Equal(t, 3, result.Dispatch.Skipped)
	assert.Empty(t, f.sender.Sent())
	assert.Equal(t, 3, f.ledger.consumed("u1"))
}

func TestPipelineTruncatesToRemainingQuota(t *testing.T) {
	f := newPipelineFixture(t, 5)
	f.ledger.addUser("u1", "Silver", 1998)

	result, err := f.pipeline.Execute(context.Background(), f.job(0))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.Len(t, result.Artifacts, 2)
	assert.Equal(t, 2000, f.ledger.consumed("u1"))
	assert.Len(t, f.recorder.Calls(), 2)
}

func TestPipelineRequestedCountLimitsRows(t *testing.T) {
	f := newPipelineFixture(t, 5)
	f.ledger.addUser("u1", "Gold", 0)

	result, err := f.pipeline.Execute(context.Background(), f.job(2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Rows)
	assert.Equal(t, 2, f.ledger.consumed("u1"))
}

func TestPipelineQuotaExhausted(t *testing.T) {
	f := newPipelineFixture(t, 3)
	f.ledger.addUser("u1", "Silver", 2000)

	_, err := f.pipeline.Execute(context.Background(), f.job(0))
	assert.ErrorIs(t, err, errno.ErrVideoQuotaExceeded)
	assert.Empty(t, f.recorder.Calls())
	assert.NotEmpty(t, f.notifier.msgs)
}

func TestPipelineValidation(t *testing.T) {
	f := newPipelineFixture(t, 0)
	f.ledger.addUser("u1", "Silver", 0)

	_, err := f.pipeline.Execute(context.Background(), f.job(0))
	assert.ErrorIs(t, err, errno.ErrNoValidRows)

	job := entity.NewJobEntity(entity.JobPayload{SpreadsheetPath: "a.xlsx", OverlayVideoPath: "/missing.mp4", UserID: "u1"})
	_, err = f.pipeline.Execute(context.Background(), job)
	assert.ErrorIs(t, err, errno.ErrValidation)
}

func TestPipelineFailedRowsAreNotCharged(t *testing.T) {
	f := newPipelineFixture(t, 4)
	f.ledger.addUser("u1", "Silver", 0)
	f.recorder.fail[rowsFor(4)[2].TargetURL] = true

	result, err := f.pipeline.Execute(context.Background(), f.job(0))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Recorded)
	assert.Len(t, result.Artifacts, 3)
	assert.Equal(t, 3, f.ledger.consumed("u1"))
}

func TestPipelineTerminationDuringRecording(t *testing.T) {
	f := newPipelineFixture(t, 6, vo.MailProviderGoogle)
	f.ledger.addUser("u1", "Silver", 0)
	f.ledger.addAccount(&entity.MailAccount{AccountID: "g", UserID: "u1", Provider: vo.MailProviderGoogle})
	f.recorder.onRecord = func(string) { f.flag.Set() }

	result, err := f.pipeline.Execute(context.Background(), f.job(0))
	require.NoError(t, err)
	assert.True(t, result.Partial)
	assert.Empty(t, result.Artifacts)
	assert.Zero(t, f.ledger.consumed("u1"))
	assert.Empty(t, f.sender.Sent())
	assert.Len(t, f.recorder.Calls(), 2)
}

func TestPipelineSkipsJobClaimedDuringTermination(t *testing.T) {
	f := newPipelineFixture(t, 2)
	f.ledger.addUser("u1", "Silver", 0)
	job := f.job(0)
	f.flag.Set()

	result, err := f.pipeline.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusSkipped, result.Status)
	assert.Empty(t, f.recorder.Calls())
}

func TestPipelineRerunOfSameJobChargesAndSendsOnce(t *testing.T) {
	f := newPipelineFixture(t, 3, vo.MailProviderGoogle)
	f.ledger.addUser("u1", "Silver", 0)
	f.ledger.addAccount(&entity.MailAccount{AccountID: "g", UserID: "u1", Provider: vo.MailProviderGoogle})
	job := f.job(0)

	first, err := f.pipeline.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Dispatch.Sent)

	second, err := f.pipeline.Execute(context.Background(), job)
	require.NoError(t, err)
	assert.Len(t, second.Artifacts, 3)
	assert.Zero(t, second.Dispatch.Sent)
	assert.Equal(t, 3, second.Dispatch.AlreadySent)

	assert.Equal(t, 3, f.ledger.consumed("u1"))
	assert.Equal(t, 3, f.ledger.artifactCount())
	assert.Len(t, f.sender.Sent(), 3)
}

func TestReleaseInputsRemovesSessionDir(t *testing.T) {
	root := t.TempDir()
	session := filepath.Join(root, "token-1")
	require.NoError(t, os.MkdirAll(session, 0o755))
	sheet := filepath.Join(session, "spreadsheet_leads.xlsx")
	overlay := filepath.Join(session, "overlay_cam.mp4")
	require.NoError(t, os.WriteFile(sheet, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(overlay, []byte("x"), 0o644))
	outside := filepath.Join(t.TempDir(), "keep.mp4")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o644))

	p := NewPipelineService(PipelineDeps{}, PipelineConfig{CleanupInputs: true, StagingRoot: root})
	p.ReleaseInputs(entity.JobPayload{SpreadsheetPath: sheet, OverlayVideoPath: overlay})
	_, err := os.Stat(session)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(root)
	assert.NoError(t, err, "staging root stays")

	p.ReleaseInputs(entity.JobPayload{SpreadsheetPath: outside, OverlayVideoPath: outside})
	_, err = os.Stat(filepath.Dir(outside))
	assert.NoError(t, err, "directories outside the staging root are kept")

	keep := NewPipelineService(PipelineDeps{}, PipelineConfig{StagingRoot: root})
	other := filepath.Join(root, "token-2")
	require.NoError(t, os.MkdirAll(other, 0o755))
	keep.ReleaseInputs(entity.JobPayload{SpreadsheetPath: filepath.Join(other, "a.xlsx"), OverlayVideoPath: filepath.Join(other, "b.mp4")})
	_, err = os.Stat(other)
	assert.NoError(t, err, "cleanup disabled")
}
