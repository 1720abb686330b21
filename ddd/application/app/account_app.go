package app

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"outreach-service/ddd/application/cqe"
	"outreach-service/ddd/application/dto"
	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
)

// AccountApp 发件账户、个人设置与统计
type AccountApp interface {
	// ConnectAccount 绑定新账户；带 account_id 时更新用户已有的账户
	ConnectAccount(ctx context.Context, req *cqe.ConnectAccountReq) (*dto.AccountDTO, error)
	// ListAccounts 查询用户的发件账户
	ListAccounts(ctx context.Context, userID string) ([]dto.AccountDTO, error)
	// UpdateCamera 修改摄像头画中画设置，套餐不变
	UpdateCamera(ctx context.Context, req *cqe.UpdateCameraReq) (*dto.ProfileDTO, error)
	// Stats 配额与邮件发送统计
	Stats(ctx context.Context, userID string) (*dto.StatsDTO, error)
}

// AccountStore persists the sender accounts of a user.
type AccountStore interface {
	SaveAccount(ctx context.Context, account *entity.MailAccount) error
	ListByUser(ctx context.Context, userID string) ([]*entity.MailAccount, error)
}

// ProfileStore reads and writes user profiles.
type ProfileStore interface {
	GetProfile(ctx context.Context, userID string) (*entity.UserProfile, error)
	SaveProfile(ctx context.Context, profile *entity.UserProfile) error
}

// OutcomeReader reads the per-user mail totals.
type OutcomeReader interface {
	Outcomes(ctx context.Context, userID string) (success, failed int, err error)
}

type accountAppImpl struct {
	accounts AccountStore
	profiles ProfileStore
	outcomes OutcomeReader
	plans    vo.PlanTable
}

func NewAccountApp(accounts AccountStore, profiles ProfileStore, outcomes OutcomeReader, plans vo.PlanTable) AccountApp {
	return &accountAppImpl{accounts: accounts, profiles: profiles, outcomes: outcomes, plans: plans}
}

func (a *accountAppImpl) ConnectAccount(ctx context.Context, req *cqe.ConnectAccountReq) (*dto.AccountDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	account := req.ToEntity()
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	} else {
		owned, err := a.accounts.ListByUser(ctx, req.UserID)
		if err != nil {
			return nil, errno.ErrDatabase.WithCause(err)
		}
		if !containsAccount(owned, account.AccountID) {
			return nil, errno.ErrNotFound.WithMessage("mail account %s", account.AccountID)
		}
	}
	if err := a.accounts.SaveAccount(ctx, account); err != nil {
		if errors.Is(err, errno.ErrInvalidParam) {
			return nil, err
		}
		return nil, errno.ErrDatabase.WithCause(err)
	}
	logger.Info("Mail account connected", map[string]interface{}{
		"user_id":    req.UserID,
		"account_id": account.AccountID,
		"provider":   account.Provider.String(),
	})
	out := dto.NewAccountDTO(account)
	return &out, nil
}

func containsAccount(accounts []*entity.MailAccount, id string) bool {
	for _, acc := range accounts {
		if acc.AccountID == id {
			return true
		}
	}
	return false
}

func (a *accountAppImpl) ListAccounts(ctx context.Context, userID string) ([]dto.AccountDTO, error) {
	if userID == "" {
		return nil, errno.ErrUnauthorized
	}
	accounts, err := a.accounts.ListByUser(ctx, userID)
	if err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	out := make([]dto.AccountDTO, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, dto.NewAccountDTO(acc))
	}
	return out, nil
}

func (a *accountAppImpl) UpdateCamera(ctx context.Context, req *cqe.UpdateCameraReq) (*dto.ProfileDTO, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	profile, err := a.loadProfile(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	profile.Camera = vo.CameraPlacement{Position: req.Position, Size: req.Size}
	if err := a.profiles.SaveProfile(ctx, profile); err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	return a.profileDTO(profile), nil
}

func (a *accountAppImpl) Stats(ctx context.Context, userID string) (*dto.StatsDTO, error) {
	if userID == "" {
		return nil, errno.ErrUnauthorized
	}
	out := &dto.StatsDTO{}
	profile, err := a.loadProfile(ctx, userID)
	switch {
	case err == nil:
		out.Profile = a.profileDTO(profile)
	case errors.Is(err, errno.ErrUserNotFound):
	default:
		return nil, err
	}
	out.SuccessMails, out.FailedMails, err = a.outcomes.Outcomes(ctx, userID)
	if err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	return out, nil
}

func (a *accountAppImpl) loadProfile(ctx context.Context, userID string) (*entity.UserProfile, error) {
	profile, err := a.profiles.GetProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, errno.ErrUserNotFound) {
			return nil, err
		}
		return nil, errno.ErrDatabase.WithCause(err)
	}
	return profile, nil
}

func (a *accountAppImpl) profileDTO(p *entity.UserProfile) *dto.ProfileDTO {
	ceiling := a.plans.Ceiling(p.PlanTier)
	remaining := ceiling - p.ConsumedVideoCount
	if remaining < 0 {
		remaining = 0
	}
	camera := p.Camera.Normalize()
	return &dto.ProfileDTO{
		PlanTier:        p.PlanTier,
		ConsumedVideos:  p.ConsumedVideoCount,
		VideoCeiling:    ceiling,
		RemainingVideos: remaining,
		CameraPosition:  camera.Position,
		CameraSize:      camera.Size,
	}
}
