package ingest

import (
	"context"
	"time"

	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const secondsPerDay = 86400

// AlertNotifier 低液位时交给报警评估（实现方决定同步/异步，不向 ingest 返回错误）
type AlertNotifier interface {
	Notify(trigger models.AlertTrigger)
}

// Options ingest 参数
type Options struct {
	Calibration       Calibration
	RetentionDays     int
	AlertPrefilterPct float64
	Defaults          Defaults
}

// Pipeline 遥测处理：校验 → 计算满罐百分比 → 写历史 → 写最新快照 → 低液位通知
type Pipeline struct {
	readings store.ReadingStore
	latest   store.LatestStore
	notifier AlertNotifier
	opts     Options
	now      func() time.Time
	logger   *zap.Logger
}

// NewPipeline 创建 ingest 处理管道，notifier 可为 nil（不做报警）
func NewPipeline(
	readings store.ReadingStore,
	latest store.LatestStore,
	notifier AlertNotifier,
	opts Options,
	logger *zap.Logger,
) *Pipeline {
	return &Pipeline{
		readings: readings,
		latest:   latest,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// SetClock 替换时钟（测试用）
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// HandlePayload 处理一条原始 JSON 遥测
func (p *Pipeline) HandlePayload(ctx context.Context, payload []byte) (*models.IngestResult, error) {
	ev, err := DecodeTelemetry(payload)
	if err != nil {
		return nil, err
	}
	return p.Ingest(ctx, ev)
}

// Ingest 处理一条遥测事件
// 历史写入失败时不写最新快照；快照写入失败时历史记录保留（不回滚）
func (p *Pipeline) Ingest(ctx context.Context, ev models.TelemetryEvent) (*models.IngestResult, error) {
	now := p.now()

	t, conversions, err := ValidateTelemetry(ev, p.opts.Defaults, now)
	if err != nil {
		p.logger.Warn("Rejected telemetry", zap.Error(err))
		return nil, err
	}
	for _, ce := range conversions {
		p.logger.Warn("Dropped unconvertible telemetry field",
			zap.String("device", t.Device),
			zap.String("field", ce.Field),
			zap.Any("value", ce.Value),
		)
	}

	reading := models.Reading{
		ID:                 uuid.NewString(),
		Device:             t.Device,
		Ts:                 t.Ts,
		Sensor:             t.Sensor,
		Unit:               t.Unit,
		Status:             t.Status,
		DistanceCm:         t.DistanceCm,
		DistanceCmFiltered: t.DistanceCmFiltered,
		TemperatureC:       t.TemperatureC,
		TTLEpoch:           now.Unix() + int64(p.opts.RetentionDays)*secondsPerDay,
	}

	var pct float64
	hasPct := false
	if t.DistanceCm != nil {
		dist, _ := t.DistanceCm.Float64()
		pct = p.opts.Calibration.FillPercentage(dist)
		reading.PercentFull = ToDecimal(pct)
		hasPct = true
	}

	if err := p.readings.PutReading(ctx, reading); err != nil {
		p.logger.Error("Failed to write reading history",
			zap.String("device", t.Device),
			zap.Error(err),
		)
		return nil, errs.Dependency("put reading", err)
	}

	snapshot := reading.Snapshot()
	if err := p.latest.PutLatest(ctx, snapshot); err != nil {
		p.logger.Error("Failed to write latest snapshot",
			zap.String("device", t.Device),
			zap.Error(err),
		)
		return nil, errs.Dependency("put latest", err)
	}

	if hasPct && pct < p.opts.AlertPrefilterPct && p.notifier != nil {
		p.notifier.Notify(models.AlertTrigger{
			SensorID: t.Device,
			LevelPct: pct,
			Ts:       t.Ts,
		})
		p.logger.Info("Low level alert triggered",
			zap.String("device", t.Device),
			zap.Float64("percent_full", pct),
		)
	} else {
		p.logger.Debug("No alert sent",
			zap.String("device", t.Device),
			zap.Bool("has_percent", hasPct),
			zap.Float64("percent_full", pct),
		)
	}

	return &models.IngestResult{History: reading, Latest: snapshot}, nil
}
