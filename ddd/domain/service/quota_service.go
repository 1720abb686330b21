package service

import (
	"context"
	"fmt"
	"time"

	"outreach-service/ddd/domain/repo"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
)

const windowDateLayout = "2006-01-02"

// VideoQuotaDecision 视频配额检查结果
type VideoQuotaDecision struct {
	Allowed        bool
	PermittedCount int
	Remaining      int
	Ceiling        int
}

// QuotaService 配额账本
type QuotaService interface {
	// CheckVideoQuota is read-only; a request larger than the remainder is truncated to it.
	CheckVideoQuota(ctx context.Context, userID string, requested int) (*VideoQuotaDecision, error)
	// CommitVideoQuota adds actual to the consumed count in one atomic statement. A job is
	// charged once; a redelivered job commits nothing.
	CommitVideoQuota(ctx context.Context, userID, jobID string, actual int) error
	// CheckAndRollEmailWindow resets the daily window if the date changed and returns the ceiling.
	CheckAndRollEmailWindow(ctx context.Context, accountID string) (int, error)
	// ReserveEmailSend atomically takes one send from today's window.
	ReserveEmailSend(ctx context.Context, accountID string, ceiling int) (bool, error)
	// ReleaseEmailSend gives back a reservation whose send failed.
	ReleaseEmailSend(ctx context.Context, accountID string) error
	// EmailBudget reports today's ceiling and remaining sends after rolling the window.
	EmailBudget(ctx context.Context, accountID string) (ceiling, remaining int, err error)
}

type quotaServiceImpl struct {
	profiles repo.UserProfileRepository
	counters repo.MailCounterRepository
	plans    vo.PlanTable
	tiers    vo.EmailTierTable
	loc      *time.Location
	now      func() time.Time
}

// NewQuotaService 创建配额服务
func NewQuotaService(
	profiles repo.UserProfileRepository,
	counters repo.MailCounterRepository,
	plans vo.PlanTable,
	tiers vo.EmailTierTable,
	loc *time.Location,
) QuotaService {
	if loc == nil {
		loc = time.UTC
	}
	return &quotaServiceImpl{
		profiles: profiles,
		counters: counters,
		plans:    plans,
		tiers:    tiers,
		loc:      loc,
		now:      time.Now,
	}
}

func (s *quotaServiceImpl) today() string {
	return s.now().In(s.loc).Format(windowDateLayout)
}

func (s *quotaServiceImpl) CheckVideoQuota(ctx context.Context, userID string, requested int) (*VideoQuotaDecision, error) {
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	ceiling := s.plans.Ceiling(profile.PlanTier)
	remaining := ceiling - profile.ConsumedVideoCount
	if remaining < 0 {
		remaining = 0
	}
	d := &VideoQuotaDecision{Remaining: remaining, Ceiling: ceiling}
	if requested <= 0 || remaining == 0 {
		return d, nil
	}
	d.Allowed = true
	d.PermittedCount = requested
	if requested > remaining {
		d.PermittedCount = remaining
	}
	return d, nil
}

func (s *quotaServiceImpl) CommitVideoQuota(ctx context.Context, userID, jobID string, actual int) error {
	if actual <= 0 {
		return nil
	}
	profile, err := s.profiles.GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	ceiling := s.plans.Ceiling(profile.PlanTier)
	applied, err := s.profiles.CommitJobVideos(ctx, userID, jobID, actual, ceiling)
	if err != nil {
		return errno.ErrDatabase.WithCause(fmt.Errorf("commit video quota: %w", err))
	}
	if !applied {
		logger.Warnf("Video quota already committed for job user_id=%s job_id=%s", userID, jobID)
		return nil
	}
	logger.Info("Video quota committed", map[string]interface{}{
		"user_id": userID,
		"job_id":  jobID,
		"added":   actual,
		"ceiling": ceiling,
	})
	return nil
}

func (s *quotaServiceImpl) CheckAndRollEmailWindow(ctx context.Context, accountID string) (int, error) {
	today := s.today()
	if err := s.counters.EnsureCounter(ctx, accountID, today); err != nil {
		return 0, errno.ErrDatabase.WithCause(err)
	}
	rolled, err := s.counters.RollWindow(ctx, accountID, today)
	if err != nil {
		return 0, errno.ErrDatabase.WithCause(err)
	}
	counter, err := s.counters.GetCounter(ctx, accountID)
	if err != nil {
		return 0, errno.ErrDatabase.WithCause(err)
	}
	ceiling := s.tiers.CeilingFor(counter.TotalDaysWithSends)
	if rolled {
		logger.Debug("Email window rolled", map[string]interface{}{
			"account_id":      accountID,
			"window":          today,
			"days_with_sends": counter.TotalDaysWithSends,
			"ceiling":         ceiling,
		})
	}
	return ceiling, nil
}

func (s *quotaServiceImpl) ReserveEmailSend(ctx context.Context, accountID string, ceiling int) (bool, error) {
	if ceiling <= 0 {
		return false, nil
	}
	ok, err := s.counters.TryIncrement(ctx, accountID, ceiling)
	if err != nil {
		return false, errno.ErrDatabase.WithCause(err)
	}
	return ok, nil
}

func (s *quotaServiceImpl) ReleaseEmailSend(ctx context.Context, accountID string) error {
	if err := s.counters.Decrement(ctx, accountID); err != nil {
		return errno.ErrDatabase.WithCause(err)
	}
	return nil
}

func (s *quotaServiceImpl) EmailBudget(ctx context.Context, accountID string) (int, int, error) {
	ceiling, err := s.CheckAndRollEmailWindow(ctx, accountID)
	if err != nil {
		return 0, 0, err
	}
	counter, err := s.counters.GetCounter(ctx, accountID)
	if err != nil {
		return 0, 0, errno.ErrDatabase.WithCause(err)
	}
	remaining := ceiling - counter.SentToday
	if remaining < 0 {
		remaining = 0
	}
	return ceiling, remaining, nil
}
