package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"brinetank-iot/internal/config"
	"brinetank-iot/internal/service"
	logpkg "brinetank-iot/pkg/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "brinetank-alert")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting brinetank-alert service",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("stream", cfg.Alert.Stream),
		zap.String("consumer_group", cfg.Alert.ConsumerGroup),
		zap.String("email_provider", cfg.Email.Provider),
		zap.Float64("default_threshold_pct", cfg.Alert.DefaultThresholdPct),
		zap.Duration("default_cooldown", cfg.Alert.DefaultCooldown),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alertService, err := service.NewAlertService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create alert service", zap.Error(err))
	}

	go func() {
		if err := alertService.Start(ctx); err != nil {
			logger.Fatal("Failed to start alert service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	cancel()
	if err := alertService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
