package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	appsvc "outreach-service/ddd/application/app"
	"outreach-service/ddd/domain/gateway"
	"outreach-service/ddd/domain/service"
	"outreach-service/ddd/domain/vo"
	"outreach-service/ddd/infrastructure/database/persistence"
	"outreach-service/ddd/infrastructure/executor"
	"outreach-service/ddd/infrastructure/mailer"
	"outreach-service/ddd/infrastructure/notify"
	"outreach-service/ddd/infrastructure/queue"
	"outreach-service/ddd/infrastructure/spreadsheet"
	"outreach-service/ddd/infrastructure/worker"
	"outreach-service/pkg/config"
	"outreach-service/pkg/kafka"
	"outreach-service/pkg/logger"
	"outreach-service/pkg/manager"
)

// assembly holds the long-lived objects shared by the HTTP surface and the components.
type assembly struct {
	jobApp     appsvc.JobApp
	accountApp appsvc.AccountApp
	controller *service.TerminationController
	queue      *queue.RedisJobQueue
	hub        *queue.CompletionHub
}

// infra is what the resources provide to the assembly.
type infra struct {
	db       *gorm.DB
	redis    *redis.Client
	dial     queue.DialFunc
	storage  gateway.StorageGateway
	notifier gateway.Notifier
}

// assemble builds repositories, stages, the pipeline and the termination controller.
func assemble(cfg *config.Config, in infra) (*assembly, error) {
	loc, err := time.LoadLocation(cfg.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("quota timezone %q: %w", cfg.Quota.Timezone, err)
	}
	composer, err := mailer.NewTemplateComposer(cfg.Email)
	if err != nil {
		return nil, err
	}

	jobs := persistence.NewJobRepository(in.db)
	artifacts := persistence.NewArtifactRepository(in.db)
	ledger := persistence.NewQuotaLedger(in.db)

	flag := service.NewTerminationFlag()
	quota := service.NewQuotaService(ledger, ledger, planTable(cfg.Quota), tierTable(cfg.Quota), loc)
	dispatcher := service.NewDispatchService(
		ledger, ledger, ledger, quota,
		mailer.NewSenders(cfg.Email),
		composer,
		in.notifier,
		flag,
		service.DispatchConfig{MinDelay: cfg.Email.MinDelay, MaxDelay: cfg.Email.MaxDelay},
	)
	pipeline := service.NewPipelineService(service.PipelineDeps{
		Parser:      spreadsheet.NewExcelParser(),
		Profiles:    ledger,
		Quota:       quota,
		Recorder:    service.NewBatchRecorder(executor.NewBrowserRecorder(cfg.Recorder, cfg.FFmpeg), flag, cfg.Recorder.OutputDir, cfg.Recorder.Timeout),
		MergeUpload: service.NewMergeUploadStage(executor.NewFFmpegMerger(cfg.FFmpeg), in.storage, cfg.FFmpeg.TempDir, cfg.Minio.ObjectPrefix),
		Dispatcher:  dispatcher,
		Artifacts:   artifacts,
		Notifier:    in.notifier,
		Flag:        flag,
	}, service.PipelineConfig{
		RecordConcurrency: cfg.Recorder.Concurrency,
		CleanupInputs:     cfg.Worker.CleanupInputs,
		StagingRoot:       cfg.Server.StagingDir,
	})

	q := queue.NewRedisJobQueue(in.redis, in.dial, queue.OptionsFromConfig(cfg.Queue))
	hub := queue.NewCompletionHub(q.Result)

	var controller *service.TerminationController
	newPool := func() service.WorkerPool {
		return worker.NewJobWorker(q, pipeline, jobs, flag, worker.Options{
			WorkerID:               cfg.Worker.WorkerID,
			Concurrency:            cfg.Worker.Concurrency,
			PollInterval:           cfg.Worker.PollInterval,
			ReclaimInterval:        cfg.Worker.ReclaimInterval,
			LockDuration:           cfg.Queue.LockDuration,
			BrokerFailureThreshold: cfg.Worker.BrokerFailureThreshold,
		}, func() {
			ack := controller.RequestTermination(context.Background(), "broker_failure")
			logger.Warnf("Broker unreachable, pool rebuild requested accepted=%t state=%s", ack.Accepted, ack.State)
		})
	}
	controller = service.NewTerminationController(flag, q, hub, jobs, newPool, cfg.Worker.ShutdownGracePeriod)

	jobApp := appsvc.NewJobApp(appsvc.JobAppDeps{
		Jobs:       jobs,
		Artifacts:  artifacts,
		Queue:      q,
		Completion: hub,
		Inspector:  q,
		Controller: controller,
		Staging:    service.NewStagingStore(cfg.Server.StagingDir, cfg.Server.StagingTTL),
		MaxWait:    cfg.Server.MaxWait,
	})

	return &assembly{
		jobApp:     jobApp,
		accountApp: appsvc.NewAccountApp(ledger, ledger, ledger, planTable(cfg.Quota)),
		controller: controller,
		queue:      q,
		hub:        hub,
	}, nil
}

// dependencies exposes the assembly to component plugins.
func (a *assembly) dependencies(cfg *config.Config, db *gorm.DB) *manager.Dependencies {
	return &manager.Dependencies{
		DB:         db,
		Config:     cfg,
		JobApp:     a.jobApp,
		Controller: a.controller,
		Queue:      a.queue,
		Completion: a.hub,
	}
}

// queueHealth reports queue depth and the number of blocked completion waiters.
func (a *assembly) queueHealth(ctx context.Context) (interface{}, error) {
	counts, err := a.queue.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"waiting":         counts.Waiting,
		"active":          counts.Active,
		"delayed":         counts.Delayed,
		"dead":            counts.Dead,
		"paused":          counts.Paused,
		"pending_waiters": a.hub.Pending(),
	}, nil
}

func planTable(cfg config.QuotaConfig) vo.PlanTable {
	if len(cfg.PlanCeilings) == 0 {
		return vo.DefaultPlanTable()
	}
	return vo.NewPlanTable(cfg.PlanCeilings)
}

func tierTable(cfg config.QuotaConfig) vo.EmailTierTable {
	if len(cfg.EmailTiers) == 0 {
		return vo.DefaultEmailTierTable()
	}
	tiers := make([]vo.EmailTier, 0, len(cfg.EmailTiers))
	for _, t := range cfg.EmailTiers {
		tiers = append(tiers, vo.EmailTier{Days: t.Days, Limit: t.Limit})
	}
	return vo.NewEmailTierTable(tiers, cfg.DefaultEmailLimit)
}

// newNotifier publishes to Kafka when it is enabled and falls back to the log.
func newNotifier(cfg *config.Config) gateway.Notifier {
	if cfg.Kafka.Enabled {
		return notify.NewKafkaNotifier(kafka.DefaultClient(), cfg.Kafka.Topics.Notifications)
	}
	return notify.LogNotifier{}
}
