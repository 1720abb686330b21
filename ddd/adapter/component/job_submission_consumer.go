package component

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appsvc "outreach-service/ddd/application/app"
	"outreach-service/ddd/application/cqe"
	"outreach-service/pkg/config"
	"outreach-service/pkg/errno"
	pkgkafka "outreach-service/pkg/kafka"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/manager"
)

func init() {
	manager.RegisterComponentPlugin(&JobSubmissionConsumerPlugin{})
}

// JobSubmissionConsumerPlugin consumes job submissions published by other services.
type JobSubmissionConsumerPlugin struct{}

func (p *JobSubmissionConsumerPlugin) Name() string { return "jobSubmissionConsumer" }

func (p *JobSubmissionConsumerPlugin) MustCreateComponent(deps *manager.Dependencies) manager.Component {
	jobApp, ok := deps.JobApp.(appsvc.JobApp)
	if !ok {
		panic("jobSubmissionConsumer requires the job app")
	}
	cfg := deps.Config.Kafka
	reader := pkgkafka.DefaultClient().Reader(cfg.Topics.JobSubmissions, cfg.GroupID)
	return newJobSubmissionConsumer(jobApp, reader, cfg)
}

// MessageReader is the part of kafka.Reader the consumer uses.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type jobSubmissionConsumer struct {
	app    appsvc.JobApp
	reader MessageReader
	cfg    config.KafkaConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newJobSubmissionConsumer(app appsvc.JobApp, reader MessageReader, cfg config.KafkaConfig) *jobSubmissionConsumer {
	return &jobSubmissionConsumer{app: app, reader: reader, cfg: cfg}
}

func (c *jobSubmissionConsumer) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx)
	}()
	logger.Infof("Kafka consumer started topic=%s group=%s", c.cfg.Topics.JobSubmissions, c.cfg.GroupID)
	return nil
}

func (c *jobSubmissionConsumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warnf("Kafka fetch error error=%v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if c.handle(ctx, msg) {
			if err := c.reader.CommitMessages(ctx, msg); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warnf("Kafka commit failed offset=%d error=%v", msg.Offset, err)
			}
		}
	}
}

// handle reports whether the message offset should be committed. Messages that can never be
// submitted are committed and skipped. Transient failures are retried in place so later
// offsets are not committed past an unprocessed message.
func (c *jobSubmissionConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	var m cqe.JobSubmissionMessage
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		logger.Warnf("Kafka message unmarshal error, skipping offset=%d error=%v", msg.Offset, err)
		return true
	}

	backoff := c.cfg.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := c.cfg.MaxRetryBackoff
	if maxBackoff < backoff {
		maxBackoff = backoff
	}
	for attempt := 1; ; attempt++ {
		resp, err := c.app.SubmitJob(ctx, m.ToPayload())
		if err == nil {
			logger.WithJob(resp.JobID, m.UserID).Info("Job submitted from kafka")
			return true
		}
		if permanentSubmitError(err) {
			logger.Warnf("Kafka submission rejected, skipping offset=%d user_id=%s error=%v", msg.Offset, m.UserID, err)
			return true
		}
		logger.Warnf("Submit job from kafka failed offset=%d user_id=%s attempt=%d retry_in=%s error=%v",
			msg.Offset, m.UserID, attempt, backoff, err)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func permanentSubmitError(err error) bool {
	for _, code := range []*errno.Errno{errno.ErrValidation, errno.ErrInvalidParam, errno.ErrMissingParam, errno.ErrUnauthorized} {
		if errors.Is(err, code) {
			return true
		}
	}
	return false
}

func (c *jobSubmissionConsumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return c.reader.Close()
}

func (c *jobSubmissionConsumer) GetName() string { return "jobSubmissionConsumer" }
