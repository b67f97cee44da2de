package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"brinetank-iot/internal/config"
	"brinetank-iot/internal/dispatch"
	"brinetank-iot/internal/ingest"
	mqttcommon "brinetank-iot/pkg/mqtt"
	rediscommon "brinetank-iot/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// IngestService 遥测接入服务：MQTT → Pipeline → 存储，低液位触发写入 Redis Stream
type IngestService struct {
	config      *config.Config
	logger      *zap.Logger
	backend     *Backend
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
	notifier    *dispatch.AsyncNotifier
	consumer    *ingest.MQTTConsumer

	wg sync.WaitGroup
}

// NewIngestService 创建遥测接入服务
func NewIngestService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*IngestService, error) {
	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		redisClient.Close()
		backend.Close()
		return nil, fmt.Errorf("failed to connect to mqtt: %w", err)
	}

	notifier := dispatch.NewAsyncNotifier(
		dispatch.NewStreamDispatcher(redisClient, cfg.Alert.Stream),
		cfg.Alert.NotifyQueueSize,
		cfg.Alert.NotifyWorkers,
		cfg.Alert.NotifyTimeout,
		logger,
	)
	pipeline := ingest.NewPipeline(backend.Stores.Readings, backend.Stores.Latest, notifier, PipelineOptions(cfg), logger)
	consumer := ingest.NewMQTTConsumer(cfg.Ingest.Topic, cfg.MQTT.QoS, storeTimeout(cfg), mqttClient, pipeline, logger)

	return &IngestService{
		config:      cfg,
		logger:      logger,
		backend:     backend,
		redisClient: redisClient,
		mqttClient:  mqttClient,
		notifier:    notifier,
		consumer:    consumer,
	}, nil
}

// Start 启动服务，阻塞到 ctx 取消
func (s *IngestService) Start(ctx context.Context) error {
	s.logger.Info("Starting ingest service components")

	if s.backend.Purger != nil && s.config.Ingest.PurgeInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			RunPurgeLoop(ctx, s.backend.Purger, s.config.Ingest.PurgeInterval, time.Now, s.logger)
		}()
	}

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start mqtt consumer: %w", err)
	}
	return nil
}

// Stop 停止服务：先停止订阅，再排空通知队列，最后关闭连接
func (s *IngestService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping ingest service")

	if err := s.consumer.Stop(); err != nil {
		s.logger.Error("Error stopping mqtt consumer", zap.Error(err))
	}
	s.notifier.Close()
	s.wg.Wait()

	s.mqttClient.Disconnect()

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Error closing Redis client", zap.Error(err))
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("Error closing store backend", zap.Error(err))
	}

	s.logger.Info("Ingest service stopped")
	return nil
}
