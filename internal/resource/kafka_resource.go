package resource

import (
	"context"
	"time"

	"outreach-service/pkg/config"
	"outreach-service/pkg/kafka"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/manager"
)

// KafkaResource opens the shared Kafka client and makes sure the job and notification topics exist.
type KafkaResource struct{}

func (r *KafkaResource) MustOpen() {
	cfg := config.GetGlobalConfig()
	if cfg == nil {
		panic("global config not initialized before KafkaResource")
	}
	if len(cfg.Kafka.BootstrapServers) == 0 {
		panic("kafka is enabled but bootstrap_servers is empty")
	}
	client := kafka.DefaultClient()
	client.MustOpen()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	topics := []string{cfg.Kafka.Topics.JobSubmissions, cfg.Kafka.Topics.Notifications}
	if err := client.EnsureTopics(ctx, topics...); err != nil {
		// brokers with auto-creation still work; consumers retry until the topic appears
		logger.Warnf("Ensure kafka topics failed topics=%v error=%v", topics, err)
	}
}

func (r *KafkaResource) Close() { kafka.DefaultClient().Close() }

// KafkaResourcePlugin Kafka资源插件
type KafkaResourcePlugin struct{}

func (p *KafkaResourcePlugin) Name() string { return "kafka" }

func (p *KafkaResourcePlugin) MustCreateResource() manager.Resource { return &KafkaResource{} }
