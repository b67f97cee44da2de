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
	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	logger, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "brinetank-ingest")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting brinetank-ingest service",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("topic", cfg.Ingest.Topic),
		zap.String("alert_stream", cfg.Alert.Stream),
		zap.Float64("empty_distance_cm", cfg.Ingest.EmptyDistanceCm),
		zap.Float64("full_distance_cm", cfg.Ingest.FullDistanceCm),
		zap.Int("ttl_days", cfg.Ingest.RetentionDays),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 创建服务
	ingestService, err := service.NewIngestService(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create ingest service", zap.Error(err))
	}

	// 在 goroutine 中启动服务
	go func() {
		if err := ingestService.Start(ctx); err != nil {
			logger.Fatal("Failed to start ingest service", zap.Error(err))
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))

	// 优雅关闭
	cancel()
	if err := ingestService.Stop(context.Background()); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}
