// Package app wires the server and worker processes from a Config.
package app

import (
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/dao"
	"mangosqueezy/internal/server/engine"
	"mangosqueezy/internal/server/executor"
	"mangosqueezy/internal/server/notify"
	"mangosqueezy/internal/server/provider"
	"mangosqueezy/internal/server/scheduler"
	"mangosqueezy/internal/server/statemachine"
)

type App struct {
	Config *common.Config
	Logger *zap.Logger
	DB     *gorm.DB
	Engine *engine.Engine
	Signer *scheduler.Signer

	asynqClient *asynq.Client
	kafkaSink   *notify.KafkaSink
}

func (a *App) RedisOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: a.Config.RedisAddr, Password: a.Config.RedisPassword}
}

func New(cfg *common.Config, logger *zap.Logger) (*App, error) {
	db, err := dao.OpenDB(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	a := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		Signer: scheduler.NewSigner(cfg.CallbackSecret),
	}
	a.asynqClient = asynq.NewClient(a.RedisOpt())
	adapter := scheduler.NewAdapter(a.asynqClient, cfg.DeliverMaxRetry, logger.Named("scheduler"))

	sinks := notify.Multi{notify.NewLogSink(logger.Named("notify"))}
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafkaSink, err = notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger.Named("kafka"))
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, a.kafkaSink)
	}

	jobs := dao.NewStepJobDao(db)
	exec := executor.New(jobs, provider.NewClient(cfg.Provider), adapter, cfg.CallbackURL, cfg.Provider.Actor, logger.Named("executor"))
	a.Engine = engine.New(engine.Dependencies{
		Pipelines: dao.NewPipelineDao(db),
		Jobs:      jobs,
		Executor:  exec,
		Scheduler: adapter,
		Sink:      sinks,
		Retry: statemachine.RetryPolicy{
			MaxAttempts: cfg.Retry.MaxAttempts,
			Base:        cfg.Retry.Base,
			Factor:      cfg.Retry.Factor,
			Cap:         cfg.Retry.Cap,
		},
		CallbackURL:         cfg.CallbackURL,
		OutreachConcurrency: cfg.OutreachConcurrency,
		StepTimeout:         cfg.StepTimeout,
		VideoStepTimeout:    cfg.VideoStepTimeout,
		Logger:              logger.Named("engine"),
	})
	return a, nil
}

func (a *App) Close() error {
	var errs []error
	if a.kafkaSink != nil {
		errs = append(errs, a.kafkaSink.Close())
	}
	errs = append(errs, a.asynqClient.Close())
	if sqlDB, err := a.DB.DB(); err == nil {
		errs = append(errs, sqlDB.Close())
	}
	return errors.Join(errs...)
}
