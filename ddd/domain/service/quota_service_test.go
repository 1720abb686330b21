package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
)

func newTestQuota(ledger *memLedger, day string) *quotaServiceImpl {
	svc := NewQuotaService(ledger, ledger, vo.DefaultPlanTable(), vo.DefaultEmailTierTable(), time.UTC).(*quotaServiceImpl)
	svc.now = fixedClock(day)
	return svc
}

func TestCheckVideoQuota(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	ledger.addUser("gold", "Gold", 4998)
	ledger.addUser("full", "Silver", 2000)
	ledger.addUser("nobody", "Bronze", 0)
	svc := newTestQuota(ledger, "2026-03-01")

	d, err := svc.CheckVideoQuota(ctx, "gold", 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.PermittedCount)
	assert.Equal(t, 2, d.Remaining)

	d, err = svc.CheckVideoQuota(ctx, "gold", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, d.PermittedCount)

	d, err = svc.CheckVideoQuota(ctx, "full", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	d, err = svc.CheckVideoQuota(ctx, "nobody", 1)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Ceiling)

	_, err = svc.CheckVideoQuota(ctx, "ghost", 1)
	assert.ErrorIs(t, err, errno.ErrUserNotFound)

	// check is read-only
	assert.Equal(t, 4998, ledger.consumed("gold"))
}

func TestCommitVideoQuotaClampsAtCeiling(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	ledger.addUser("u", "Silver", 1995)
	svc := newTestQuota(ledger, "2026-03-01")

	require.NoError(t, svc.CommitVideoQuota(ctx, "u", "j1", 3))
	assert.Equal(t, 1998, ledger.consumed("u"))
	require.NoError(t, svc.CommitVideoQuota(ctx, "u", "j2", 10))
	assert.Equal(t, 2000, ledger.consumed("u"))
	require.NoError(t, svc.CommitVideoQuota(ctx, "u", "j3", 0))
	assert.Equal(t, 2000, ledger.consumed("u"))
}

func TestCommitVideoQuotaOncePerJob(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	ledger.addUser("u", "Silver", 0)
	svc := newTestQuota(ledger, "2026-03-01")

	require.NoError(t, svc.CommitVideoQuota(ctx, "u", "j1", 3))
	require.NoError(t, svc.CommitVideoQuota(ctx, "u", "j1", 3))
	assert.Equal(t, 3, ledger.consumed("u"))
	require.NoError(t, svc.CommitVideoQuota(ctx, "u", "j2", 2))
	assert.Equal(t, 5, ledger.consumed("u"))
}

func TestEmailWindowRollsOncePerDay(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	svc := newTestQuota(ledger, "2026-03-01")

	ceiling, err := svc.CheckAndRollEmailWindow(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, 30, ceiling)

	for i := 0; i < 3; i++ {
		ok, err := svc.ReserveEmailSend(ctx, "acc", ceiling)
		require.NoError(t, err)
		require.True(t, ok)
	}

	// a second call on the same day changes nothing
	_, err = svc.CheckAndRollEmailWindow(ctx, "acc")
	require.NoError(t, err)
	c, _ := ledger.GetCounter(ctx, "acc")
	assert.Equal(t, 3, c.SentToday)
	assert.Equal(t, 0, c.TotalDaysWithSends)

	svc.now = fixedClock("2026-03-02")
	_, err = svc.CheckAndRollEmailWindow(ctx, "acc")
	require.NoError(t, err)
	_, err = svc.CheckAndRollEmailWindow(ctx, "acc")
	require.NoError(t, err)
	c, _ = ledger.GetCounter(ctx, "acc")
	assert.Equal(t, 0, c.SentToday)
	assert.Equal(t, 1, c.TotalDaysWithSends)
	assert.Equal(t, "2026-03-02", c.WindowStartDate)

	// a day without sends does not count toward tenure
	svc.now = fixedClock("2026-03-03")
	_, err = svc.CheckAndRollEmailWindow(ctx, "acc")
	require.NoError(t, err)
	c, _ = ledger.GetCounter(ctx, "acc")
	assert.Equal(t, 1, c.TotalDaysWithSends)
}

func TestReserveEmailSendNeverExceedsCeiling(t *testing.T) {
	ctx := context.Background()
	ledger := newMemLedger()
	svc := newTestQuota(ledger, "2026-03-01")
	ceiling, err := svc.CheckAndRollEmailWindow(ctx, "acc")
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := svc.ReserveEmailSend(ctx, "acc", ceiling)
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, ceiling, granted)

	ok, err := svc.ReserveEmailSend(ctx, "acc", ceiling)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, svc.ReleaseEmailSend(ctx, "acc"))
	_, remaining, err := svc.EmailBudget(ctx, "acc")
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}
