package http

import (
	"github.com/gin-gonic/gin"

	"outreach-service/ddd/application/app"
	"outreach-service/ddd/application/cqe"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/middleware"
	"outreach-service/pkg/restapi"
)

// AccountController 发件账户与用户设置控制器
type AccountController struct {
	accountApp app.AccountApp
}

func NewAccountController(accountApp app.AccountApp) *AccountController {
	return &AccountController{accountApp: accountApp}
}

// ConnectAccount 绑定发件账户
func (c *AccountController) ConnectAccount(ctx *gin.Context) {
	var req cqe.ConnectAccountReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.Failed(ctx, errno.ErrInvalidParam.WithCause(err))
		return
	}
	req.UserID = middleware.UserID(ctx)

	resp, err := c.accountApp.ConnectAccount(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// ListAccounts 发件账户列表
func (c *AccountController) ListAccounts(ctx *gin.Context) {
	resp, err := c.accountApp.ListAccounts(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// UpdateCamera 修改摄像头设置
func (c *AccountController) UpdateCamera(ctx *gin.Context) {
	var req cqe.UpdateCameraReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.Failed(ctx, errno.ErrInvalidParam.WithCause(err))
		return
	}
	req.UserID = middleware.UserID(ctx)

	resp, err := c.accountApp.UpdateCamera(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// Stats 配额与发送统计
func (c *AccountController) Stats(ctx *gin.Context) {
	resp, err := c.accountApp.Stats(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}
