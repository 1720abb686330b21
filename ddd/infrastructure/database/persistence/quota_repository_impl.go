package persistence

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/repo"
	"outreach-service/ddd/infrastructure/database/convertor"
	"outreach-service/ddd/infrastructure/database/dao"
	"outreach-service/ddd/infrastructure/database/po"
	"outreach-service/pkg/errno"
)

// QuotaLedger implements the profile, counter, stats and account repositories on one DAO.
type QuotaLedger struct {
	dao *dao.QuotaDAO
}

var (
	_ repo.UserProfileRepository = (*QuotaLedger)(nil)
	_ repo.MailCounterRepository = (*QuotaLedger)(nil)
	_ repo.MailStatsRepository   = (*QuotaLedger)(nil)
	_ repo.MailAccountRepository = (*QuotaLedger)(nil)
	_ repo.DispatchLedger        = (*QuotaLedger)(nil)
)

func NewQuotaLedger(db *gorm.DB) *QuotaLedger {
	return &QuotaLedger{dao: dao.NewQuotaDAO(db)}
}

func (l *QuotaLedger) GetProfile(ctx context.Context, userID string) (*entity.UserProfile, error) {
	p, err := l.dao.FindProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errno.ErrUserNotFound
		}
		return nil, err
	}
	return convertor.ProfileToEntity(p), nil
}

// SaveProfile creates the profile or updates its plan and camera settings. The consumed count
// of an existing profile is never overwritten.
func (l *QuotaLedger) SaveProfile(ctx context.Context, profile *entity.UserProfile) error {
	return l.dao.UpsertProfile(ctx, convertor.ProfileToPO(profile))
}

func (l *QuotaLedger) CommitJobVideos(ctx context.Context, userID, jobID string, n, ceiling int) (bool, error) {
	return l.dao.CommitConsumed(ctx, userID, jobID, n, ceiling)
}

func (l *QuotaLedger) SentTargets(ctx context.Context, jobID string) (map[string]bool, error) {
	urls, err := l.dao.ListDispatchedURLs(ctx, jobID)
	if err != nil {
		return nil, err
	}
	sent := make(map[string]bool, len(urls))
	for _, u := range urls {
		sent[u] = true
	}
	return sent, nil
}

func (l *QuotaLedger) MarkSent(ctx context.Context, userID, jobID, targetURL, recipient string) error {
	return l.dao.InsertDispatch(ctx, &po.DispatchRecord{
		JobID:          jobID,
		SourceURL:      targetURL,
		UserID:         userID,
		RecipientEmail: recipient,
	})
}

func (l *QuotaLedger) EnsureCounter(ctx context.Context, accountID, today string) error {
	return l.dao.EnsureCounter(ctx, accountID, today)
}

func (l *QuotaLedger) RollWindow(ctx context.Context, accountID, today string) (bool, error) {
	n, err := l.dao.RollWindow(ctx, accountID, today)
	return n > 0, err
}

func (l *QuotaLedger) GetCounter(ctx context.Context, accountID string) (*entity.EmailSendCounter, error) {
	c, err := l.dao.FindCounter(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return convertor.CounterToEntity(c), nil
}

func (l *QuotaLedger) TryIncrement(ctx context.Context, accountID string, ceiling int) (bool, error) {
	return l.dao.TryIncrement(ctx, accountID, ceiling)
}

func (l *QuotaLedger) Decrement(ctx context.Context, accountID string) error {
	return l.dao.Decrement(ctx, accountID)
}

func (l *QuotaLedger) RecordOutcome(ctx context.Context, userID string, success bool) error {
	return l.dao.AddOutcome(ctx, userID, success)
}

// Outcomes returns the success and failure totals of userID.
func (l *QuotaLedger) Outcomes(ctx context.Context, userID string) (success, failed int, err error) {
	out, err := l.dao.FindOutcome(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, err
	}
	return out.SuccessMails, out.FailedMails, nil
}

func (l *QuotaLedger) ListByUser(ctx context.Context, userID string) ([]*entity.MailAccount, error) {
	rows, err := l.dao.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	accounts := make([]*entity.MailAccount, 0, len(rows))
	for _, r := range rows {
		accounts = append(accounts, convertor.AccountToEntity(r))
	}
	return accounts, nil
}

func (l *QuotaLedger) SaveAccount(ctx context.Context, account *entity.MailAccount) error {
	if !account.Provider.IsValid() {
		return errno.ErrInvalidParam.WithMessage("unknown mail provider %q", account.Provider)
	}
	return l.dao.SaveAccount(ctx, convertor.AccountToPO(account))
}
