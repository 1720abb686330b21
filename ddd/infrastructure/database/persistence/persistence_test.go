package persistence

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "outreach.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, AutoMigrate(db))
	return db
}

func TestProfileConsumedClampsAtCeiling(t *testing.T) {
	ctx := context.Background()
	ledger := NewQuotaLedger(openTestDB(t))

	_, err := ledger.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, errno.ErrUserNotFound)

	require.NoError(t, ledger.SaveProfile(ctx, &entity.UserProfile{
		QuotaState: entity.QuotaState{UserID: "u1", PlanTier: "Silver"},
		Camera:     vo.CameraPlacement{Position: vo.PositionTopLeft, Size: vo.SizeLarge},
	}))
	_, err = ledger.CommitJobVideos(ctx, "u1", "job-a", 1995, 2000)
	require.NoError(t, err)
	_, err = ledger.CommitJobVideos(ctx, "u1", "job-b", 10, 2000)
	require.NoError(t, err)

	p, err := ledger.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2000, p.ConsumedVideoCount)
	assert.Equal(t, vo.PositionTopLeft, p.Camera.Position)

	// re-saving the plan keeps the consumed count
	require.NoError(t, ledger.SaveProfile(ctx, &entity.UserProfile{QuotaState: entity.QuotaState{UserID: "u1", PlanTier: "Gold"}}))
	p, err = ledger.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Gold", p.PlanTier)
	assert.Equal(t, 2000, p.ConsumedVideoCount)
}

func TestCommitJobVideosChargesOncePerJob(t *testing.T) {
	ctx := context.Background()
	ledger := NewQuotaLedger(openTestDB(t))
	require.NoError(t, ledger.SaveProfile(ctx, &entity.UserProfile{QuotaState: entity.QuotaState{UserID: "u1", PlanTier: "Silver"}}))

	applied, err := ledger.CommitJobVideos(ctx, "u1", "job-1", 3, 2000)
	require.NoError(t, err)
	assert.True(t, applied)
	applied, err = ledger.CommitJobVideos(ctx, "u1", "job-1", 3, 2000)
	require.NoError(t, err)
	assert.False(t, applied)

	p, err := ledger.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, p.ConsumedVideoCount)
}

func TestDispatchLedgerRemembersSentRows(t *testing.T) {
	ctx := context.Background()
	ledger := NewQuotaLedger(openTestDB(t))

	sent, err := ledger.SentTargets(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, sent)

	require.NoError(t, ledger.MarkSent(ctx, "u1", "job-1", "https://a.test", "a@a.test"))
	require.NoError(t, ledger.MarkSent(ctx, "u1", "job-1", "https://a.test", "a@a.test"))
	require.NoError(t, ledger.MarkSent(ctx, "u1", "job-2", "https://b.test", "b@b.test"))

	sent, err = ledger.SentTargets(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"https://a.test": true}, sent)
}

func TestCounterRollsOncePerDay(t *testing.T) {
	ctx := context.Background()
	ledger := NewQuotaLedger(openTestDB(t))

	require.NoError(t, ledger.EnsureCounter(ctx, "acc", "2026-03-01"))
	require.NoError(t, ledger.EnsureCounter(ctx, "acc", "2026-03-02"))
	c, err := ledger.GetCounter(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", c.WindowStartDate)

	ok, err := ledger.TryIncrement(ctx, "acc", 30)
	require.NoError(t, err)
	require.True(t, ok)

	rolled, err := ledger.RollWindow(ctx, "acc", "2026-03-02")
	require.NoError(t, err)
	assert.True(t, rolled)
	rolled, err = ledger.RollWindow(ctx, "acc", "2026-03-02")
	require.NoError(t, err)
	assert.False(t, rolled)

	c, err = ledger.GetCounter(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, 0, c.SentToday)
	assert.Equal(t, 1, c.TotalDaysWithSends)

	// a day without sends is not credited
	rolled, err = ledger.RollWindow(ctx, "acc", "2026-03-03")
	require.NoError(t, err)
	assert.True(t, rolled)
	c, err = ledger.GetCounter(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TotalDaysWithSends)
}

func TestTryIncrementNeverExceedsCeiling(t *testing.T) {
	ctx := context.Background()
	ledger := NewQuotaLedger(openTestDB(t))
	require.NoError(t, ledger.EnsureCounter(ctx, "acc", "2026-03-01"))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := ledger.TryIncrement(ctx, "acc", 7)
			if assert.NoError(t, err) && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 7, granted)

	require.NoError(t, ledger.Decrement(ctx, "acc"))
	c, err := ledger.GetCounter(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, 6, c.SentToday)
}

func TestOutcomesAndAccounts(t *testing.T) {
	ctx := context.Background()
	ledger := NewQuotaLedger(openTestDB(t))

	require.NoError(t, ledger.RecordOutcome(ctx, "u1", true))
	require.NoError(t, ledger.RecordOutcome(ctx, "u1", true))
	require.NoError(t, ledger.RecordOutcome(ctx, "u1", false))
	ok, failed, err := ledger.Outcomes(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, ok)
	assert.Equal(t, 1, failed)

	require.NoError(t, ledger.SaveAccount(ctx, &entity.MailAccount{AccountID: "s1", UserID: "u1", Provider: vo.MailProviderSMTP, SMTPHost: "mail.test", SMTPPort: 587}))
	require.NoError(t, ledger.SaveAccount(ctx, &entity.MailAccount{AccountID: "g1", UserID: "u1", Provider: vo.MailProviderGoogle, RefreshToken: "rt"}))
	assert.Error(t, ledger.SaveAccount(ctx, &entity.MailAccount{AccountID: "x", UserID: "u1", Provider: "yahoo"}))

	accounts, err := ledger.ListByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, 587, accounts[0].SMTPPort)
	assert.Equal(t, "rt", accounts[1].RefreshToken)
}

func TestJobRecordLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	jobs := NewJobRepository(db)

	_, err := jobs.GetJob(ctx, "missing")
	assert.ErrorIs(t, err, errno.ErrJobNotFound)

	job := entity.NewJobEntity(entity.JobPayload{SpreadsheetPath: "/s.xlsx", OverlayVideoPath: "/o.mp4", UserID: "u1", RequestedVideoCount: 4})
	require.NoError(t, jobs.SaveJob(ctx, job))
	require.NoError(t, job.Activate(1))
	require.NoError(t, job.Complete(&entity.JobResult{JobID: job.JobID(), Status: vo.JobStatusCompleted, Rows: 4}))
	require.NoError(t, jobs.SaveJob(ctx, job))

	got, err := jobs.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCompleted, got.Status())
	assert.Equal(t, 1, got.Attempts())
	require.NotNil(t, got.Result())
	assert.Equal(t, 4, got.Result().Rows)
	assert.Equal(t, 4, got.Payload().RequestedVideoCount)

	queued := entity.NewJobEntity(entity.JobPayload{SpreadsheetPath: "/s.xlsx", OverlayVideoPath: "/o.mp4", UserID: "u1"})
	require.NoError(t, jobs.SaveJob(ctx, queued))
	require.NoError(t, jobs.MarkSkipped(ctx, []string{queued.JobID(), job.JobID()}, "user request"))

	got, err = jobs.GetJob(ctx, queued.JobID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusSkipped, got.Status())
	assert.Equal(t, "user request", got.ErrorMessage())

	got, err = jobs.GetJob(ctx, job.JobID())
	require.NoError(t, err)
	assert.Equal(t, vo.JobStatusCompleted, got.Status(), "final jobs are not skipped")
}

func TestArtifactUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	artifacts := NewArtifactRepository(openTestDB(t))

	records := []entity.ArtifactRecord{
		{Row: entity.Row{TargetURL: "https://a.test", RecipientEmail: "a@a.test"}, RemoteURL: "https://cdn/a1", CreatedAt: time.Now().Add(-time.Minute)},
		{Row: entity.Row{TargetURL: "https://b.test", RecipientEmail: "b@b.test"}, RemoteURL: "https://cdn/b1", CreatedAt: time.Now()},
	}
	require.NoError(t, artifacts.UpsertArtifacts(ctx, "u1", "j1", records))
	records[0].RemoteURL = "https://cdn/a2"
	require.NoError(t, artifacts.UpsertArtifacts(ctx, "u1", "j1", records))
	require.NoError(t, artifacts.UpsertArtifacts(ctx, "u1", "j1", nil))

	list, total, err := artifacts.ListByUser(ctx, "u1", 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, list, 2)
	assert.Equal(t, "https://b.test", list[0].Row.TargetURL)
	assert.Equal(t, "https://cdn/a2", list[1].RemoteURL)

	page, total, err := artifacts.ListByUser(ctx, "u1", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, page, 1)
	assert.Equal(t, "https://a.test", page[0].Row.TargetURL)

	other, total, err := artifacts.ListByUser(ctx, "u2", 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, other)
}
