package service

import (
	"context"
	"fmt"

	"brinetank-iot/internal/alert"
	"brinetank-iot/internal/config"
	"brinetank-iot/internal/dispatch"
	"brinetank-iot/internal/notify"
	"brinetank-iot/internal/store"
	rediscommon "brinetank-iot/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// AlertService 报警服务：Redis Stream → Evaluator → 邮件
type AlertService struct {
	config      *config.Config
	logger      *zap.Logger
	backend     *Backend
	redisClient *redis.Client
	consumer    *dispatch.StreamConsumer
}

// NewAlertService 创建报警服务
func NewAlertService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*AlertService, error) {
	backend, err := OpenBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	mailer, err := NewMailer(ctx, cfg, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}

	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(ctx, redisClient); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	evaluator := NewEvaluator(cfg, backend.Stores.Sensors, mailer, logger)
	consumer := dispatch.NewStreamConsumer(redisClient, dispatch.ConsumerOptions{
		Stream:    cfg.Alert.Stream,
		Group:     cfg.Alert.ConsumerGroup,
		Consumer:  cfg.Alert.ConsumerName,
		BatchSize: cfg.Alert.BatchSize,
		Block:     cfg.Alert.Block,
	}, evaluator, logger)

	return &AlertService{
		config:      cfg,
		logger:      logger,
		backend:     backend,
		redisClient: redisClient,
		consumer:    consumer,
	}, nil
}

// NewEvaluator 按配置组装报警评估器（收件人走带 TTL 的缓存）
func NewEvaluator(cfg *config.Config, sensors store.SensorStore, mailer notify.Mailer, logger *zap.Logger) *alert.Evaluator {
	recipients := alert.NewCachedRecipients(sensors, cfg.Alert.RecipientCacheSize, cfg.Alert.RecipientCacheTTL)
	return alert.NewEvaluator(sensors, recipients, mailer, cfg.Email.From, AlertDefaults(cfg), logger)
}

// Start 启动服务，阻塞到 ctx 取消
func (s *AlertService) Start(ctx context.Context) error {
	s.logger.Info("Starting alert service components")

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream consumer: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *AlertService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping alert service")

	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Error closing Redis client", zap.Error(err))
	}
	if err := s.backend.Close(); err != nil {
		s.logger.Error("Error closing store backend", zap.Error(err))
	}

	s.logger.Info("Alert service stopped")
	return nil
}
