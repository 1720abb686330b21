package errno

import (
	"errors"
	"fmt"
)

// code=0 请求成功
// code=4xx 客户端请求错误
// code=5xx 服务器端错误
// code=2xxxx 业务处理错误码

type Errno struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *Errno) Error() string {
	return e.Message
}

// WithCause wraps cause under this code.
func (e *Errno) WithCause(cause error) *BizError {
	return &BizError{Errno: e, Cause: cause}
}

// WithMessage attaches detail to this code.
func (e *Errno) WithMessage(format string, args ...interface{}) *BizError {
	return &BizError{Errno: e, Detail: fmt.Sprintf(format, args...)}
}

// BizError 携带错误码与底层原因
type BizError struct {
	Errno  *Errno
	Detail string
	Cause  error
}

func (e *BizError) Error() string {
	msg := e.Errno.Message
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is lets errors.Is match the sentinel code.
func (e *BizError) Is(target error) bool {
	t, ok := target.(*Errno)
	return ok && t == e.Errno
}

func (e *BizError) Unwrap() error { return e.Cause }

// Decode extracts the code of err, defaulting to ErrInternalServer.
func Decode(err error) *Errno {
	if err == nil {
		return OK
	}
	var biz *BizError
	if errors.As(err, &biz) {
		return biz.Errno
	}
	var code *Errno
	if errors.As(err, &code) {
		return code
	}
	return ErrInternalServer
}

var (
	OK = &Errno{Code: 200, Message: "Success"}

	ErrInvalidParam = &Errno{Code: 400, Message: "Invalid parameter"}
	ErrUnauthorized = &Errno{Code: 401, Message: "Unauthorized"}
	ErrNotFound     = &Errno{Code: 404, Message: "Not found"}

	ErrInternalServer = &Errno{Code: 500, Message: "Internal server error"}
	ErrDatabase       = &Errno{Code: 501, Message: "Database error"}
	ErrUnknown        = &Errno{Code: 510, Message: "Unknown error"}

	// 业务错误码
	ErrMissingParam    = &Errno{Code: 20001, Message: "Missing required parameter"}
	ErrFileNameIllegal = &Errno{Code: 20002, Message: "File name is illegal"}
	ErrUploadError     = &Errno{Code: 20006, Message: "Upload error"}

	// 任务管线错误码
	ErrValidation         = &Errno{Code: 20101, Message: "Job payload is invalid"}
	ErrNoValidRows        = &Errno{Code: 20102, Message: "Spreadsheet contains no valid rows"}
	ErrUserNotFound       = &Errno{Code: 20103, Message: "User not found"}
	ErrVideoQuotaExceeded = &Errno{Code: 20104, Message: "Video quota exceeded"}
	ErrEmailLimitReached  = &Errno{Code: 20105, Message: "Daily email limit reached"}
	ErrRecordingFailed    = &Errno{Code: 20106, Message: "Recording failed"}
	ErrMergeFailed        = &Errno{Code: 20107, Message: "Merge failed"}
	ErrArtifactUpload     = &Errno{Code: 20108, Message: "Artifact upload failed"}
	ErrSendFailed         = &Errno{Code: 20109, Message: "Email send failed"}
	ErrBroker             = &Errno{Code: 20110, Message: "Job broker unavailable"}
	ErrTerminating        = &Errno{Code: 20111, Message: "Pipeline is terminating"}
	ErrJobNotFound        = &Errno{Code: 20112, Message: "Job not found"}
	ErrStagingNotFound    = &Errno{Code: 20113, Message: "Staging session not found"}
	ErrStagingIncomplete  = &Errno{Code: 20114, Message: "Staging session is missing uploads"}
	ErrMailAccountMissing = &Errno{Code: 20115, Message: "No mail account configured"}
)
