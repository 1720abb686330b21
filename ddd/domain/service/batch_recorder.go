package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"outreach-service/ddd/domain/entity"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/errno"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/metrics"
)

// BatchRecorder records websites in sequential chunks of bounded size.
type BatchRecorder struct {
	recorder  gateway.Recorder
	flag      *TerminationFlag
	outputDir string
	timeout   time.Duration
}

// NewBatchRecorder 创建批量录制器；timeout 为单个URL的录制上限
func NewBatchRecorder(recorder gateway.Recorder, flag *TerminationFlag, outputDir string, timeout time.Duration) *BatchRecorder {
	if flag == nil {
		flag = NewTerminationFlag()
	}
	return &BatchRecorder{recorder: recorder, flag: flag, outputDir: outputDir, timeout: timeout}
}

// RecordBatch records rows limit at a time. Chunks run one after another; rows inside a
// chunk run concurrently. A failed row yields a result with an empty LocalPath. The flag is
// checked before every chunk and, when it trips, the results gathered so far are returned.
func (b *BatchRecorder) RecordBatch(ctx context.Context, rows []entity.Row, limit int, epoch uint64) []entity.RecordingResult {
	if limit <= 0 {
		limit = 1
	}
	results := make([]entity.RecordingResult, 0, len(rows))
	for start := 0; start < len(rows); start += limit {
		if b.flag.Interrupted(epoch) || ctx.Err() != nil {
			logger.Warn("Recording batch interrupted", map[string]interface{}{
				"recorded": len(results),
				"total":    len(rows),
			})
			return results
		}
		end := start + limit
		if end > len(rows) {
			end = len(rows)
		}
		results = append(results, b.recordChunk(ctx, rows[start:end])...)
	}
	return results
}

func (b *BatchRecorder) recordChunk(ctx context.Context, chunk []entity.Row) []entity.RecordingResult {
	out := make([]entity.RecordingResult, len(chunk))
	var wg sync.WaitGroup
	for i, row := range chunk {
		wg.Add(1)
		go func(i int, row entity.Row) {
			defer wg.Done()
			out[i] = b.recordOne(ctx, row)
		}(i, row)
	}
	wg.Wait()
	return out
}

func (b *BatchRecorder) recordOne(ctx context.Context, row entity.Row) (res entity.RecordingResult) {
	res.Row = row
	defer func() {
		if r := recover(); r != nil {
			res.LocalPath = ""
			res.Err = errno.ErrRecordingFailed.WithMessage("recorder panic: %v", r)
		}
		outcome := "success"
		if !res.Succeeded() {
			outcome = "failure"
			logger.Warn("Recording failed", map[string]interface{}{
				"url":   row.TargetURL,
				"error": fmt.Sprint(res.Err),
			})
		}
		metrics.RecordingsTotal.WithLabelValues(outcome).Inc()
	}()

	callCtx := ctx
	if b.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	path, err := b.recorder.Record(callCtx, row.TargetURL, b.outputDir)
	if err != nil {
		res.Err = errno.ErrRecordingFailed.WithCause(err)
		return res
	}
	if path == "" {
		res.Err = errno.ErrRecordingFailed.WithMessage("recorder returned no file for %s", row.TargetURL)
		return res
	}
	res.LocalPath = path
	return res
}
