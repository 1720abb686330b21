package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"outreach-service/pkg/config"
)

// Logger 日志服务
type Logger struct {
	log  *logrus.Logger
	file *os.File
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// NewLogger 根据配置创建日志服务
func NewLogger(cfg *config.Config) *Logger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	out := &Logger{log: l}
	if cfg == nil {
		return out
	}

	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		l.SetLevel(level)
	}
	if strings.EqualFold(cfg.Log.Format, "text") {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var writer io.Writer = os.Stdout
	if strings.EqualFold(cfg.Log.Output, "file") && cfg.Log.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.Filename), 0o755); err == nil {
			if f, err := os.OpenFile(cfg.Log.Filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
				out.file = f
				writer = io.MultiWriter(os.Stdout, f)
			}
		}
	}
	l.SetOutput(writer)
	return out
}

// SetGlobalLogger 设置全局日志器
func SetGlobalLogger(l *Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalLogger = l
}

// Close 关闭日志文件
func (l *Logger) Close() {
	if l != nil && l.file != nil {
		_ = l.file.Close()
		l.file = nil
	}
}

func current() *logrus.Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil || globalLogger.log == nil {
		return logrus.StandardLogger()
	}
	return globalLogger.log
}

func entry(fields []map[string]interface{}) *logrus.Entry {
	e := logrus.NewEntry(current())
	for _, f := range fields {
		if len(f) > 0 {
			e = e.WithFields(logrus.Fields(f))
		}
	}
	return e
}

func Debug(msg string, fields ...map[string]interface{}) { entry(fields).Debug(msg) }
func Info(msg string, fields ...map[string]interface{})  { entry(fields).Info(msg) }
func Warn(msg string, fields ...map[string]interface{})  { entry(fields).Warn(msg) }
func Error(msg string, fields ...map[string]interface{}) { entry(fields).Error(msg) }

func Debugf(format string, args ...interface{}) { current().Debugf(format, args...) }
func Infof(format string, args ...interface{})  { current().Infof(format, args...) }
func Warnf(format string, args ...interface{})  { current().Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { current().Errorf(format, args...) }

// Fatal logs and exits the process.
func Fatal(msg string, fields ...map[string]interface{}) {
	entry(fields).Fatal(msg)
}

// WithJob returns an entry pre-populated with job identifiers.
func WithJob(jobID, userID string) *logrus.Entry {
	return current().WithFields(logrus.Fields{"job_id": jobID, "user_id": userID})
}
