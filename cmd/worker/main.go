package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/app"
	"mangosqueezy/internal/server/scheduler"
	"mangosqueezy/pkg/queue"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:          "mango-worker",
		Short:        "Delivers scheduled callbacks and sweeps timed out steps",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", os.Getenv("MANGO_CONFIG"), "yaml config file")
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	config, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := common.NewLogger(config.LogPath, config.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(config, logger)
	if err != nil {
		logger.Error("bootstrap failed", zap.Error(err))
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := cron.New()
	_, err = c.AddFunc(config.SweepSpec, func() {
		if _, err := a.Engine.SweepTimeouts(ctx); err != nil {
			logger.Warn("timeout sweep", zap.Error(err))
		}
		if _, err := a.Engine.ResumeStalled(ctx); err != nil {
			logger.Warn("stalled pipeline sweep", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	c.Start()
	defer c.Stop()

	srv := asynq.NewServer(a.RedisOpt(), asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{queue.QueueCallbacks: 1},
		Logger:      logger.Named("asynq").Sugar(),
	})
	mux := asynq.NewServeMux()
	scheduler.NewDeliverer(a.Signer, config.Provider.Timeout, logger.Named("deliver")).Register(mux)

	if err := srv.Start(mux); err != nil {
		return err
	}
	logger.Info("worker started", zap.String("sweep", config.SweepSpec))
	<-ctx.Done()
	srv.Shutdown()
	return nil
}
