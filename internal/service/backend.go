package service

import (
	"context"
	"fmt"
	"time"

	"brinetank-iot/internal/config"
	"brinetank-iot/internal/dynamo"
	"brinetank-iot/internal/ingest"
	"brinetank-iot/internal/models"
	"brinetank-iot/internal/repository"
	"brinetank-iot/internal/store"
	"brinetank-iot/pkg/awsclient"
	"brinetank-iot/pkg/database"

	"go.uber.org/zap"
)

// Purger 过期历史记录清理（Postgres / 内存后端实现，DynamoDB 依赖表 TTL）
type Purger interface {
	PurgeExpired(ctx context.Context, now int64) (int64, error)
}

// Backend 已打开的存储后端
type Backend struct {
	Stores *store.Stores
	// Purger 为 nil 表示后端自行过期
	Purger Purger
}

// Close 释放后端连接
func (b *Backend) Close() error {
	if b == nil || b.Stores == nil || b.Stores.Close == nil {
		return nil
	}
	return b.Stores.Close()
}

// OpenBackend 按 STORE_BACKEND 打开存储
func OpenBackend(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendPostgres:
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		stores := repository.NewStores(db, logger)
		return &Backend{Stores: stores, Purger: purgerOf(stores)}, nil

	case config.BackendDynamoDB:
		awsCfg, err := awsclient.LoadConfig(ctx, &cfg.AWS)
		if err != nil {
			return nil, err
		}
		client := awsclient.NewDynamoDBClient(awsCfg, &cfg.AWS)
		stores := dynamo.NewStores(client, dynamo.Tables{
			Readings: cfg.Store.ReadingTable,
			Latest:   cfg.Store.LatestTable,
			Sensors:  cfg.Store.SensorTable,
		}, logger)
		return &Backend{Stores: stores}, nil

	case config.BackendMemory:
		mem := store.NewMemoryStore()
		logger.Warn("Using in-memory store, data is lost on restart")
		return &Backend{Stores: mem.Stores(), Purger: mem}, nil

	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Store.Backend)
	}
}

func purgerOf(stores *store.Stores) Purger {
	if p, ok := stores.Readings.(Purger); ok {
		return p
	}
	return nil
}

// PipelineOptions 由配置生成 ingest 参数
func PipelineOptions(cfg *config.Config) ingest.Options {
	return ingest.Options{
		Calibration: ingest.Calibration{
			EmptyDistanceCm: cfg.Ingest.EmptyDistanceCm,
			FullDistanceCm:  cfg.Ingest.FullDistanceCm,
		},
		RetentionDays:     cfg.Ingest.RetentionDays,
		AlertPrefilterPct: cfg.Ingest.AlertPrefilterPct,
		Defaults: ingest.Defaults{
			Sensor: cfg.Ingest.DefaultSensor,
			Unit:   cfg.Ingest.DefaultUnit,
		},
	}
}

// AlertDefaults 由配置生成报警默认参数
func AlertDefaults(cfg *config.Config) models.AlertSettings {
	return models.AlertSettings{
		ThresholdPct:  cfg.Alert.DefaultThresholdPct,
		HysteresisPct: cfg.Alert.DefaultHysteresis,
		Cooldown:      cfg.Alert.DefaultCooldown,
	}
}

// storeTimeout 单次存储操作超时，未配置时取 5s
func storeTimeout(cfg *config.Config) time.Duration {
	if cfg.Store.Timeout > 0 {
		return cfg.Store.Timeout
	}
	return 5 * time.Second
}
