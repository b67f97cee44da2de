package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/lib/pq"
	"go.uber.org/zap"
)

// SensorAlertRepository 传感器报警配置 / 状态仓库（version 列做乐观锁）
type SensorAlertRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSensorAlertRepository 创建传感器报警仓库
func NewSensorAlertRepository(db *sql.DB, logger *zap.Logger) *SensorAlertRepository {
	return &SensorAlertRepository{
		db:     db,
		logger: logger,
	}
}

// GetSensorAlert 读取配置和状态，记录不存在时返回默认状态（Version = 0）
func (r *SensorAlertRepository) GetSensorAlert(ctx context.Context, sensorID string) (*models.SensorAlert, error) {
	query := `
		SELECT
			sensor_id,
			recipients,
			threshold_pct,
			hysteresis_pct,
			cooldown_seconds,
			state,
			last_alert_ts,
			last_seen_ts,
			last_level,
			version
		FROM sensor_alerts
		WHERE sensor_id = $1
	`

	var (
		s            models.SensorAlert
		recipients   pq.StringArray
		threshold    sql.NullFloat64
		hysteresis   sql.NullFloat64
		cooldownSecs sql.NullInt64
		state        string
		lastAlertTs  sql.NullString
		lastSeenTs   sql.NullString
		lastLevel    sql.NullFloat64
	)

	err := r.db.QueryRowContext(ctx, query, sensorID).Scan(
		&s.SensorID,
		&recipients,
		&threshold,
		&hysteresis,
		&cooldownSecs,
		&state,
		&lastAlertTs,
		&lastSeenTs,
		&lastLevel,
		&s.Version,
	)
	if err == sql.ErrNoRows {
		return models.NewSensorAlert(sensorID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sensor alert: %w", err)
	}

	s.Recipients = []string(recipients)
	s.ThresholdPct = nullFloatPtr(threshold)
	s.HysteresisPct = nullFloatPtr(hysteresis)
	if cooldownSecs.Valid {
		d := time.Duration(cooldownSecs.Int64) * time.Second
		s.Cooldown = &d
	}
	s.State = models.AlertState(state)
	s.LastAlertTs = lastAlertTs.String
	s.LastSeenTs = lastSeenTs.String
	s.LastLevel = nullFloatPtr(lastLevel)

	return &s, nil
}

// SaveSensorState 写入状态字段和生效阈值（不修改收件人），按 version 比较并交换
func (r *SensorAlertRepository) SaveSensorState(ctx context.Context, s models.SensorAlert) (int64, error) {
	args := []interface{}{
		s.SensorID,
		s.ThresholdPct,
		s.HysteresisPct,
		durationSeconds(s.Cooldown),
		string(s.State),
		nullString(s.LastAlertTs),
		nullString(s.LastSeenTs),
		s.LastLevel,
	}

	var query string
	if s.Version == 0 {
		query = `
			INSERT INTO sensor_alerts (
				sensor_id, threshold_pct, hysteresis_pct, cooldown_seconds,
				state, last_alert_ts, last_seen_ts, last_level, version, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, now())
			ON CONFLICT (sensor_id) DO NOTHING
		`
	} else {
		query = `
			UPDATE sensor_alerts SET
				threshold_pct = $2,
				hysteresis_pct = $3,
				cooldown_seconds = $4,
				state = $5,
				last_alert_ts = $6,
				last_seen_ts = $7,
				last_level = $8,
				version = version + 1,
				updated_at = now()
			WHERE sensor_id = $1 AND version = $9
		`
		args = append(args, s.Version)
	}

	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to save sensor state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if n == 0 {
		return 0, store.ErrConflict
	}
	return s.Version + 1, nil
}

// GetRecipients 读取已配置的收件人，记录不存在时返回空列表
func (r *SensorAlertRepository) GetRecipients(ctx context.Context, sensorID string) ([]string, error) {
	var recipients pq.StringArray
	err := r.db.QueryRowContext(ctx, `SELECT recipients FROM sensor_alerts WHERE sensor_id = $1`, sensorID).Scan(&recipients)
	if err == sql.ErrNoRows {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipients: %w", err)
	}
	return []string(recipients), nil
}

// UpsertSensorConfig 写入人工配置字段，不修改状态字段
func (r *SensorAlertRepository) UpsertSensorConfig(ctx context.Context, cfg models.SensorConfig) error {
	query := `
		INSERT INTO sensor_alerts (
			sensor_id, recipients, threshold_pct, hysteresis_pct, cooldown_seconds, version, updated_at
		) VALUES ($1, $2, $3, $4, $5, 1, now())
		ON CONFLICT (sensor_id) DO UPDATE SET
			recipients = EXCLUDED.recipients,
			threshold_pct = EXCLUDED.threshold_pct,
			hysteresis_pct = EXCLUDED.hysteresis_pct,
			cooldown_seconds = EXCLUDED.cooldown_seconds,
			version = sensor_alerts.version + 1,
			updated_at = now()
	`

	recipients := cfg.Recipients
	if recipients == nil {
		recipients = []string{}
	}

	_, err := r.db.ExecContext(ctx, query,
		cfg.SensorID,
		pq.Array(recipients),
		cfg.ThresholdPct,
		cfg.HysteresisPct,
		durationSeconds(cfg.Cooldown),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert sensor config: %w", err)
	}

	r.logger.Info("Sensor config saved",
		zap.String("sensor_id", cfg.SensorID),
		zap.Int("recipients", len(recipients)),
	)
	return nil
}

func nullFloatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func durationSeconds(d *time.Duration) sql.NullInt64 {
	if d == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*d / time.Second), Valid: true}
}
