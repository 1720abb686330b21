package http

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"outreach-service/ddd/application/app"
	"outreach-service/ddd/application/cqe"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/middleware"
	"outreach-service/pkg/restapi"
)

// JobController 外联任务控制器
type JobController struct {
	jobApp app.JobApp
}

func NewJobController(jobApp app.JobApp) *JobController {
	return &JobController{jobApp: jobApp}
}

// CreateStaging 创建暂存会话
func (c *JobController) CreateStaging(ctx *gin.Context) {
	resp, err := c.jobApp.CreateStaging(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// UploadSpreadsheet 上传表格
func (c *JobController) UploadSpreadsheet(ctx *gin.Context) {
	c.upload(ctx, "spreadsheet")
}

// UploadOverlay 上传摄像头视频
func (c *JobController) UploadOverlay(ctx *gin.Context) {
	c.upload(ctx, "overlay")
}

func (c *JobController) upload(ctx *gin.Context, kind string) {
	fh, err := ctx.FormFile("file")
	if err != nil {
		restapi.Failed(ctx, errno.ErrMissingParam.WithMessage("multipart field file"))
		return
	}
	f, err := fh.Open()
	if err != nil {
		restapi.Failed(ctx, errno.ErrUploadError.WithCause(err))
		return
	}
	defer f.Close()

	req := &cqe.StageUploadReq{
		UserID:   middleware.UserID(ctx),
		Token:    ctx.Param("token"),
		Kind:     kind,
		Filename: fh.Filename,
	}
	resp, err := c.jobApp.StageUpload(ctx.Request.Context(), req, f)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// SubmitJob 提交任务
func (c *JobController) SubmitJob(ctx *gin.Context) {
	var req cqe.SubmitJobReq
	if err := ctx.ShouldBindJSON(&req); err != nil {
		restapi.Failed(ctx, errno.ErrInvalidParam.WithCause(err))
		return
	}
	req.UserID = middleware.UserID(ctx)

	resp, err := c.jobApp.SubmitFromStaging(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Accepted(ctx, resp)
}

// GetJob 查询任务，?wait=30s 等待结束
func (c *JobController) GetJob(ctx *gin.Context) {
	wait, err := parseWait(ctx.Query("wait"))
	if err != nil {
		restapi.Failed(ctx, errno.ErrInvalidParam.WithMessage("wait: %v", err))
		return
	}
	req := &cqe.GetJobReq{
		UserID: middleware.UserID(ctx),
		JobID:  ctx.Param("job_id"),
		Wait:   wait,
	}
	resp, err := c.jobApp.GetJob(ctx.Request.Context(), req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// ListVideos 合成视频列表
func (c *JobController) ListVideos(ctx *gin.Context) {
	var req cqe.ListArtifactsReq
	if err := ctx.ShouldBindQuery(&req); err != nil {
		restapi.Failed(ctx, errno.ErrInvalidParam.WithCause(err))
		return
	}
	req.UserID = middleware.UserID(ctx)

	resp, err := c.jobApp.ListArtifacts(ctx.Request.Context(), &req)
	if err != nil {
		restapi.Failed(ctx, err)
		return
	}
	restapi.Success(ctx, resp)
}

// Terminate 终止全部任务并重建
func (c *JobController) Terminate(ctx *gin.Context) {
	var req cqe.TerminateReq
	if ctx.Request.ContentLength > 0 {
		if err := ctx.ShouldBindJSON(&req); err != nil {
			restapi.Failed(ctx, errno.ErrInvalidParam.WithCause(err))
			return
		}
	}
	req.UserID = middleware.UserID(ctx)
	restapi.Accepted(ctx, c.jobApp.Terminate(ctx.Request.Context(), &req))
}

// parseWait accepts a Go duration ("30s") or a plain number of seconds.
func parseWait(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	return time.ParseDuration(raw)
}
