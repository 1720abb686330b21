package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outreach-service/ddd/infrastructure/database/po"
	"outreach-service/pkg/logger"
)

// QuotaDAO 配额账本数据访问对象
type QuotaDAO struct {
	db *gorm.DB
}

func NewQuotaDAO(db *gorm.DB) *QuotaDAO {
	return &QuotaDAO{db: db}
}

// FindProfile returns gorm.ErrRecordNotFound when the user has no profile.
func (d *QuotaDAO) FindProfile(ctx context.Context, userID string) (*po.UserProfile, error) {
	var profile po.UserProfile
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&profile).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			logger.Errorf("Error query user profile user_id=%s: %v", userID, err)
		}
		return nil, err
	}
	return &profile, nil
}

// UpsertProfile 创建或更新用户套餐
func (d *QuotaDAO) UpsertProfile(ctx context.Context, profile *po.UserProfile) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan_tier", "camera_position", "camera_size", "updated_at"}),
	}).Create(profile).Error
}

// CommitConsumed charges n videos for jobID once. The marker row and the clamped increment
// share a transaction; a second call for the same job inserts nothing and reports false.
func (d *QuotaDAO) CommitConsumed(ctx context.Context, userID, jobID string, n, ceiling int) (bool, error) {
	applied := false
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		marker := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&po.QuotaCommit{UserID: userID, JobID: jobID, Videos: n})
		if marker.Error != nil {
			return marker.Error
		}
		if marker.RowsAffected == 0 {
			return nil
		}
		applied = true
		return tx.Model(&po.UserProfile{}).
			Where("user_id = ? AND consumed_videos < ?", userID, ceiling).
			Updates(map[string]interface{}{
				"consumed_videos": gorm.Expr("CASE WHEN consumed_videos + ? > ? THEN ? ELSE consumed_videos + ? END", n, ceiling, ceiling, n),
				"updated_at":      time.Now(),
			}).Error
	})
	if err != nil {
		logger.Errorf("Error commit consumed videos user_id=%s job_id=%s: %v", userID, jobID, err)
		return false, err
	}
	return applied, nil
}

// EnsureCounter creates the counter row if it does not exist.
func (d *QuotaDAO) EnsureCounter(ctx context.Context, accountID, today string) error {
	counter := &po.MailCounter{AccountID: accountID, WindowDate: today}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(counter).Error
}

// RollWindow resets the daily count once per day and credits a day with sends.
// It is a single conditional UPDATE, so concurrent callers roll at most once.
func (d *QuotaDAO) RollWindow(ctx context.Context, accountID, today string) (int64, error) {
	res := d.db.WithContext(ctx).Exec(
		"UPDATE mail_counters SET active_days = active_days + CASE WHEN sent_today > 0 THEN 1 ELSE 0 END, "+
			"sent_today = 0, window_date = ?, updated_at = ? WHERE account_id = ? AND window_date < ?",
		today, time.Now(), accountID, today,
	)
	return res.RowsAffected, res.Error
}

func (d *QuotaDAO) FindCounter(ctx context.Context, accountID string) (*po.MailCounter, error) {
	var counter po.MailCounter
	if err := d.db.WithContext(ctx).Where("account_id = ?", accountID).First(&counter).Error; err != nil {
		return nil, err
	}
	return &counter, nil
}

// TryIncrement reserves one send if the count is still under ceiling.
func (d *QuotaDAO) TryIncrement(ctx context.Context, accountID string, ceiling int) (bool, error) {
	res := d.db.WithContext(ctx).Model(&po.MailCounter{}).
		Where("account_id = ? AND sent_today < ?", accountID, ceiling).
		Updates(map[string]interface{}{
			"sent_today": gorm.Expr("sent_today + 1"),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *QuotaDAO) Decrement(ctx context.Context, accountID string) error {
	return d.db.WithContext(ctx).Model(&po.MailCounter{}).
		Where("account_id = ? AND sent_today > 0", accountID).
		Updates(map[string]interface{}{
			"sent_today": gorm.Expr("sent_today - 1"),
			"updated_at": time.Now(),
		}).Error
}

// AddOutcome bumps the per-user success or failure counter.
func (d *QuotaDAO) AddOutcome(ctx context.Context, userID string, success bool) error {
	row := &po.MailOutcome{UserID: userID, UpdatedAt: time.Now()}
	column := "failed_mails"
	if success {
		row.SuccessMails = 1
		column = "success_mails"
	} else {
		row.FailedMails = 1
	}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			column:       gorm.Expr(column + " + 1"),
			"updated_at": row.UpdatedAt,
		}),
	}).Create(row).Error
}

func (d *QuotaDAO) FindOutcome(ctx context.Context, userID string) (*po.MailOutcome, error) {
	var out po.MailOutcome
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).First(&out).Error; err != nil {
		return nil, err
	}
	return &out, nil
}

// InsertDispatch records one delivered email; a duplicate is ignored.
func (d *QuotaDAO) InsertDispatch(ctx context.Context, record *po.DispatchRecord) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(record).Error
}

func (d *QuotaDAO) ListDispatchedURLs(ctx context.Context, jobID string) ([]string, error) {
	var urls []string
	err := d.db.WithContext(ctx).Model(&po.DispatchRecord{}).Where("job_id = ?", jobID).Pluck("source_url", &urls).Error
	return urls, err
}

func (d *QuotaDAO) ListAccounts(ctx context.Context, userID string) ([]*po.MailAccount, error) {
	var accounts []*po.MailAccount
	if err := d.db.WithContext(ctx).Where("user_id = ?", userID).Order("id ASC").Find(&accounts).Error; err != nil {
		logger.Errorf("Error query mail accounts user_id=%s: %v", userID, err)
		return nil, err
	}
	return accounts, nil
}

// SaveAccount 创建或更新发件账户
func (d *QuotaDAO) SaveAccount(ctx context.Context, account *po.MailAccount) error {
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "account_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"provider", "email", "display_name", "refresh_token",
			"smtp_host", "smtp_port", "smtp_username", "smtp_password", "updated_at",
		}),
	}).Create(account).Error
}
