package cqe

import (
	"strings"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/vo"
	"outreach-service/pkg/errno"
)

// ConnectAccountReq 绑定发件账户
type ConnectAccountReq struct {
	UserID       string `json:"-"`
	AccountID    string `json:"account_id"`
	Provider     string `json:"provider" binding:"required"`
	Email        string `json:"email"`
	DisplayName  string `json:"display_name"`
	RefreshToken string `json:"refresh_token"`
	SMTPHost     string `json:"smtp_host"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username"`
	SMTPPassword string `json:"smtp_password"`
}

func (req *ConnectAccountReq) Validate() error {
	if strings.TrimSpace(req.UserID) == "" {
		return errno.ErrUnauthorized
	}
	provider := vo.MailProvider(strings.ToLower(strings.TrimSpace(req.Provider)))
	if !provider.IsValid() {
		return errno.ErrInvalidParam.WithMessage("unknown mail provider %q", req.Provider)
	}
	switch provider {
	case vo.MailProviderSMTP:
		if strings.TrimSpace(req.SMTPHost) == "" {
			return errno.ErrMissingParam.WithMessage("smtp_host")
		}
	default:
		if strings.TrimSpace(req.RefreshToken) == "" {
			return errno.ErrMissingParam.WithMessage("refresh_token")
		}
	}
	return nil
}

func (req *ConnectAccountReq) ToEntity() *entity.MailAccount {
	return &entity.MailAccount{
		AccountID:    strings.TrimSpace(req.AccountID),
		UserID:       req.UserID,
		Provider:     vo.MailProvider(strings.ToLower(strings.TrimSpace(req.Provider))),
		Email:        strings.TrimSpace(req.Email),
		DisplayName:  req.DisplayName,
		RefreshToken: req.RefreshToken,
		SMTPHost:     strings.TrimSpace(req.SMTPHost),
		SMTPPort:     req.SMTPPort,
		SMTPUsername: req.SMTPUsername,
		SMTPPassword: req.SMTPPassword,
	}
}

// UpdateCameraReq 摄像头画中画设置
type UpdateCameraReq struct {
	UserID   string `json:"-"`
	Position string `json:"position"`
	Size     string `json:"size"`
}

func (req *UpdateCameraReq) Validate() error {
	if strings.TrimSpace(req.UserID) == "" {
		return errno.ErrUnauthorized
	}
	want := vo.CameraPlacement{Position: req.Position, Size: req.Size}
	if want.Normalize() != want {
		return errno.ErrInvalidParam.WithMessage("unknown camera placement %s/%s", req.Position, req.Size)
	}
	return nil
}
