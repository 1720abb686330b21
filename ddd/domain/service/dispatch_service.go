package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/domain/repo"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/metrics"
)

// DispatchPlan is the provider decision taken once per job before any recording starts.
type DispatchPlan struct {
	JobID      string
	Account    *entity.MailAccount
	Provider   vo.MailProvider
	Skip       bool
	SkipReason string
}

// DispatchConfig 发送节奏配置
type DispatchConfig struct {
	MinDelay time.Duration
	MaxDelay time.Duration
}

// DispatchService 邮件分发
type DispatchService interface {
	// Prepare picks the provider and checks that today's window is not already exhausted.
	Prepare(ctx context.Context, userID, jobID string) (*DispatchPlan, error)
	// Dispatch sends one email per artifact, in order, halting when the ceiling refuses a reservation.
	// Rows already sent for the plan's job are not sent again.
	Dispatch(ctx context.Context, plan *DispatchPlan, userID string, artifacts []entity.ArtifactRecord, epoch uint64) entity.DispatchReport
}

type dispatchServiceImpl struct {
	accounts repo.MailAccountRepository
	stats    repo.MailStatsRepository
	sent     repo.DispatchLedger
	quota    QuotaService
	senders  map[vo.MailProvider]gateway.MailSender
	composer gateway.ContentComposer
	notifier gateway.Notifier
	flag     *TerminationFlag
	cfg      DispatchConfig
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDispatchService 创建邮件分发服务
func NewDispatchService(
	accounts repo.MailAccountRepository,
	stats repo.MailStatsRepository,
	sent repo.DispatchLedger,
	quota QuotaService,
	senders map[vo.MailProvider]gateway.MailSender,
	composer gateway.ContentComposer,
	notifier gateway.Notifier,
	flag *TerminationFlag,
	cfg DispatchConfig,
) DispatchService {
	if flag == nil {
		flag = NewTerminationFlag()
	}
	return &dispatchServiceImpl{
		accounts: accounts,
		stats:    stats,
		sent:     sent,
		quota:    quota,
		senders:  senders,
		composer: composer,
		notifier: notifier,
		flag:     flag,
		cfg:      cfg,
		sleep:    sleepCtx,
	}
}

// SelectAccount returns the configured account of the highest-priority provider.
func SelectAccount(accounts []*entity.MailAccount) *entity.MailAccount {
	for _, p := range vo.ProviderPriority {
		for _, a := range accounts {
			if a != nil && a.Provider == p {
				return a
			}
		}
	}
	return nil
}

func (s *dispatchServiceImpl) Prepare(ctx context.Context, userID, jobID string) (*DispatchPlan, error) {
	accounts, err := s.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	account := SelectAccount(accounts)
	if account == nil {
		logger.Warn("No mail account configured, emails will be skipped", map[string]interface{}{"user_id": userID})
		return &DispatchPlan{JobID: jobID, Skip: true, SkipReason: "no mail account configured"}, nil
	}
	plan := &DispatchPlan{JobID: jobID, Account: account, Provider: account.Provider}
	if _, ok := s.senders[account.Provider]; !ok {
		plan.Skip = true
		plan.SkipReason = fmt.Sprintf("provider %s is not enabled", account.Provider)
		return plan, nil
	}
	ceiling, remaining, err := s.quota.EmailBudget(ctx, account.AccountID)
	if err != nil {
		return nil, err
	}
	if remaining <= 0 {
		plan.Skip = true
		plan.SkipReason = fmt.Sprintf("daily email limit of %d reached", ceiling)
		s.notify(ctx, userID, fmt.Sprintf("Daily email limit reached (%d). Videos will be created without sending emails.", ceiling))
	}
	return plan, nil
}

func (s *dispatchServiceImpl) Dispatch(ctx context.Context, plan *DispatchPlan, userID string, artifacts []entity.ArtifactRecord, epoch uint64) entity.DispatchReport {
	report := entity.DispatchReport{}
	if plan == nil || plan.Skip {
		report.Skipped = len(artifacts)
		if plan != nil {
			report.Provider = plan.Provider
			report.SkipReason = plan.SkipReason
		}
		return report
	}
	report.Provider = plan.Provider
	sender := s.senders[plan.Provider]
	account := plan.Account
	done := s.alreadySent(ctx, plan.JobID)

	attempted := 0
	for i, artifact := range artifacts {
		if done[artifact.Row.TargetURL] {
			report.AlreadySent++
			continue
		}
		if attempted > 0 {
			if err := s.sleep(ctx, s.nextDelay()); err != nil {
				report.Skipped += len(artifacts) - i
				report.Halted = true
				report.SkipReason = err.Error()
				break
			}
		}
		if s.flag.Interrupted(epoch) || ctx.Err() != nil {
			report.Skipped += len(artifacts) - i
			report.Halted = true
			report.SkipReason = "terminated"
			break
		}

		ceiling, err := s.quota.CheckAndRollEmailWindow(ctx, account.AccountID)
		if err != nil {
			report.Skipped += len(artifacts) - i
			report.Halted = true
			report.SkipReason = err.Error()
			break
		}
		ok, err := s.quota.ReserveEmailSend(ctx, account.AccountID, ceiling)
		if err != nil || !ok {
			report.Skipped += len(artifacts) - i
			report.Halted = true
			report.SkipReason = fmt.Sprintf("daily email limit of %d reached", ceiling)
			if err != nil {
				report.SkipReason = err.Error()
			}
			s.notify(ctx, userID, fmt.Sprintf("Daily email limit reached (%d). Remaining emails were not sent.", ceiling))
			break
		}

		attempted++
		if err := s.sendOne(ctx, sender, account, artifact); err != nil {
			if rerr := s.quota.ReleaseEmailSend(ctx, account.AccountID); rerr != nil {
				logger.Warnf("Release email reservation failed account_id=%s error=%v", account.AccountID, rerr)
			}
			report.Failed++
			report.Failures = append(report.Failures, entity.SendFailure{
				Recipient: artifact.Row.RecipientEmail,
				Reason:    err.Error(),
			})
			s.recordOutcome(ctx, userID, false)
			metrics.EmailsTotal.WithLabelValues(plan.Provider.String(), "failure").Inc()
			s.notify(ctx, userID, fmt.Sprintf("Failed to send email to %s", artifact.Row.RecipientEmail))
			continue
		}
		report.Sent++
		s.markSent(ctx, userID, plan.JobID, artifact)
		s.recordOutcome(ctx, userID, true)
		metrics.EmailsTotal.WithLabelValues(plan.Provider.String(), "success").Inc()
		s.notify(ctx, userID, fmt.Sprintf("Email sent to %s", artifact.Row.RecipientEmail))
	}
	if report.Halted {
		metrics.EmailsTotal.WithLabelValues(plan.Provider.String(), "skipped").Add(float64(report.Skipped))
	}
	return report
}

func (s *dispatchServiceImpl) sendOne(ctx context.Context, sender gateway.MailSender, account *entity.MailAccount, artifact entity.ArtifactRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("send panic: %v", r)
		}
	}()
	msg, err := s.composer.Compose(ctx, account, artifact)
	if err != nil {
		return fmt.Errorf("compose: %w", err)
	}
	return sender.Send(ctx, account, msg)
}

func (s *dispatchServiceImpl) alreadySent(ctx context.Context, jobID string) map[string]bool {
	if s.sent == nil || jobID == "" {
		return nil
	}
	done, err := s.sent.SentTargets(ctx, jobID)
	if err != nil {
		logger.Warnf("Load sent rows failed job_id=%s error=%v", jobID, err)
		return nil
	}
	return done
}

func (s *dispatchServiceImpl) markSent(ctx context.Context, userID, jobID string, artifact entity.ArtifactRecord) {
	if s.sent == nil || jobID == "" {
		return
	}
	if err := s.sent.MarkSent(ctx, userID, jobID, artifact.Row.TargetURL, artifact.Row.RecipientEmail); err != nil {
		logger.Warnf("Record sent row failed job_id=%s url=%s error=%v", jobID, artifact.Row.TargetURL, err)
	}
}

func (s *dispatchServiceImpl) recordOutcome(ctx context.Context, userID string, success bool) {
	if s.stats == nil {
		return
	}
	if err := s.stats.RecordOutcome(ctx, userID, success); err != nil {
		logger.Warnf("Record mail outcome failed user_id=%s error=%v", userID, err)
	}
}

func (s *dispatchServiceImpl) notify(ctx context.Context, userID, msg string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, msg)
	}
}

func (s *dispatchServiceImpl) nextDelay() time.Duration {
	lo, hi := s.cfg.MinDelay, s.cfg.MaxDelay
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
