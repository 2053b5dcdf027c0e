package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/app"
	"mangosqueezy/internal/server/handler"
)

func main() {
	var configPath string
	root := &cobra.Command{
		Use:          "mango-server",
		Short:        "Business API and callback endpoint",
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

	if config.AppEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := handler.NewRouter(handler.RouterConfig{
		Pipelines: a.Engine,
		Callbacks: a.Engine,
		Verifier:  a.Signer,
		JWTSecret: config.JWTSecret,
		Logger:    logger.Named("http"),
	})
	srv := &http.Server{Addr: config.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", config.HTTPAddr))
		if config.CertPath != "" && config.KeyPath != "" {
			errCh <- srv.ListenAndServeTLS(config.CertPath, config.KeyPath)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
