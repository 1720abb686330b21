package notify

import (
	"context"
	"time"

	"outreach-service/ddd/domain/gateway"
	"outreach-service/pkg/logger"
)

// Notification is the message published for a user's client to pick up.
type Notification struct {
	UserID    string    `json:"user_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is the slice of the kafka client the notifier needs.
type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, v interface{}) error
}

// KafkaNotifier publishes notifications keyed by user id. Failures are logged, never returned.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	timeout   time.Duration
	now       func() time.Time
}

func NewKafkaNotifier(publisher Publisher, topic string) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, topic: topic, timeout: 5 * time.Second, now: time.Now}
}

var _ gateway.Notifier = (*KafkaNotifier)(nil)

func (n *KafkaNotifier) Notify(ctx context.Context, userID, message string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()

	note := Notification{UserID: userID, Message: message, Timestamp: n.now().UTC()}
	if err := n.publisher.PublishJSON(ctx, n.topic, userID, note); err != nil {
		logger.Warnf("Notification not delivered user_id=%s topic=%s error=%v", userID, n.topic, err)
	}
}

// LogNotifier writes notifications to the service log. Used when kafka is disabled.
type LogNotifier struct{}

var _ gateway.Notifier = LogNotifier{}

func (LogNotifier) Notify(_ context.Context, userID, message string) {
	logger.Info("User notification", map[string]interface{}{
		"user_id": userID,
		"message": message,
	})
}
