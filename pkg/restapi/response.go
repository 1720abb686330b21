package restapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
)

// Response 统一响应结构
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Success 成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Code: errno.OK.Code, Message: errno.OK.Message, Data: data})
}

// Accepted 已受理响应
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Response{Code: errno.OK.Code, Message: "Accepted", Data: data})
}

// Failed 失败响应，根据错误码映射HTTP状态
func Failed(c *gin.Context, err error) {
	code := errno.Decode(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		logger.Error("Request failed", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}
	c.JSON(status, Response{Code: code.Code, Message: err.Error()})
}

func httpStatus(code *errno.Errno) int {
	switch code {
	case errno.ErrInvalidParam, errno.ErrMissingParam, errno.ErrFileNameIllegal,
		errno.ErrValidation, errno.ErrNoValidRows, errno.ErrStagingIncomplete:
		return http.StatusBadRequest
	case errno.ErrUnauthorized:
		return http.StatusUnauthorized
	case errno.ErrNotFound, errno.ErrJobNotFound, errno.ErrStagingNotFound, errno.ErrUserNotFound:
		return http.StatusNotFound
	case errno.ErrVideoQuotaExceeded, errno.ErrEmailLimitReached:
		return http.StatusTooManyRequests
	case errno.ErrTerminating, errno.ErrBroker:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
