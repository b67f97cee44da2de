package store

import (
	"context"
	"errors"

	"brinetank-iot/internal/models"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrConflict 乐观锁冲突（同一传感器的并发评估）
	ErrConflict = errors.New("concurrent update conflict")
)

// ReadingQuery 历史记录查询条件（ts 为字符串，按字典序比较）
type ReadingQuery struct {
	From  string // 包含，空表示不限
	To    string // 包含，空表示不限
	Limit int    // <= 0 表示不限
}

// ReadingStore 历史记录存储（只追加）
type ReadingStore interface {
	PutReading(ctx context.Context, reading models.Reading) error
	ListReadings(ctx context.Context, device string, q ReadingQuery) ([]models.Reading, error)
}

// LatestStore 最新快照存储（按 device upsert）
type LatestStore interface {
	PutLatest(ctx context.Context, snapshot models.LatestSnapshot) error
	GetLatest(ctx context.Context, device string) (*models.LatestSnapshot, error)
}

// SensorStore 传感器报警配置 / 状态存储
type SensorStore interface {
	// GetSensorAlert 记录不存在时返回默认状态（Version = 0），不返回 ErrNotFound
	GetSensorAlert(ctx context.Context, sensorID string) (*models.SensorAlert, error)
	// SaveSensorState 按 Version 做比较并交换，写入机器维护字段和生效阈值，不修改收件人；
	// 返回新版本号，版本不匹配时返回 ErrConflict
	SaveSensorState(ctx context.Context, state models.SensorAlert) (int64, error)
	// GetRecipients 记录不存在时返回空列表
	GetRecipients(ctx context.Context, sensorID string) ([]string, error)
	// UpsertSensorConfig 写入人工配置字段，不修改状态字段
	UpsertSensorConfig(ctx context.Context, cfg models.SensorConfig) error
}

// Stores 一个后端提供的全部存储
type Stores struct {
	Readings ReadingStore
	Latest   LatestStore
	Sensors  SensorStore
	// Close 释放后端连接，可为 nil
	Close func() error
}
