package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReadingRepository 遥测历史 + 最新快照仓库
type ReadingRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewReadingRepository 创建遥测仓库
func NewReadingRepository(db *sql.DB, logger *zap.Logger) *ReadingRepository {
	return &ReadingRepository{
		db:     db,
		logger: logger,
	}
}

// PutReading 追加一条历史记录
func (r *ReadingRepository) PutReading(ctx context.Context, reading models.Reading) error {
	query := `
		INSERT INTO brinetank_readings (
			id, device, ts, sensor, unit, status,
			distance_cm, distance_cm_filtered, percent_full, temperature_c, ttl_epoch
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.db.ExecContext(ctx, query,
		reading.ID,
		reading.Device,
		reading.Ts,
		reading.Sensor,
		reading.Unit,
		reading.Status,
		reading.DistanceCm,
		reading.DistanceCmFiltered,
		reading.PercentFull,
		reading.TemperatureC,
		reading.TTLEpoch,
	)
	if err != nil {
		return fmt.Errorf("failed to insert reading: %w", err)
	}
	return nil
}

// ListReadings 按 ts 升序查询某设备的历史记录
func (r *ReadingRepository) ListReadings(ctx context.Context, device string, q store.ReadingQuery) ([]models.Reading, error) {
	var b strings.Builder
	b.WriteString(`
		SELECT id, device, ts, sensor, unit, status,
			distance_cm, distance_cm_filtered, percent_full, temperature_c, ttl_epoch
		FROM brinetank_readings
		WHERE device = $1`)
	args := []interface{}{device}

	if q.From != "" {
		args = append(args, q.From)
		fmt.Fprintf(&b, " AND ts >= $%d", len(args))
	}
	if q.To != "" {
		args = append(args, q.To)
		fmt.Fprintf(&b, " AND ts <= $%d", len(args))
	}
	b.WriteString(" ORDER BY ts ASC, created_at ASC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	readings := []models.Reading{}
	for rows.Next() {
		var reading models.Reading
		var distance, filtered, percent, temperature decimal.NullDecimal
		if err := rows.Scan(
			&reading.ID,
			&reading.Device,
			&reading.Ts,
			&reading.Sensor,
			&reading.Unit,
			&reading.Status,
			&distance,
			&filtered,
			&percent,
			&temperature,
			&reading.TTLEpoch,
		); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		reading.DistanceCm = fromNullDecimal(distance)
		reading.DistanceCmFiltered = fromNullDecimal(filtered)
		reading.PercentFull = fromNullDecimal(percent)
		reading.TemperatureC = fromNullDecimal(temperature)
		readings = append(readings, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate readings: %w", err)
	}
	return readings, nil
}

// PurgeExpired 删除 ttl_epoch 早于 now 的历史记录
func (r *ReadingRepository) PurgeExpired(ctx context.Context, now int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM brinetank_readings WHERE ttl_epoch > 0 AND ttl_epoch < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to purge readings: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get purged rows: %w", err)
	}
	if n > 0 {
		r.logger.Info("Purged expired readings", zap.Int64("count", n))
	}
	return n, nil
}

// PutLatest 覆盖写最新快照
func (r *ReadingRepository) PutLatest(ctx context.Context, snapshot models.LatestSnapshot) error {
	query := `
		INSERT INTO brinetank_latest (
			device, ts, sensor, unit, status,
			distance_cm, distance_cm_filtered, percent_full, temperature_c, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (device) DO UPDATE SET
			ts = EXCLUDED.ts,
			sensor = EXCLUDED.sensor,
			unit = EXCLUDED.unit,
			status = EXCLUDED.status,
			distance_cm = EXCLUDED.distance_cm,
			distance_cm_filtered = EXCLUDED.distance_cm_filtered,
			percent_full = EXCLUDED.percent_full,
			temperature_c = EXCLUDED.temperature_c,
			updated_at = now()
	`

	_, err := r.db.ExecContext(ctx, query,
		snapshot.Device,
		snapshot.Ts,
		snapshot.Sensor,
		snapshot.Unit,
		snapshot.Status,
		snapshot.DistanceCm,
		snapshot.DistanceCmFiltered,
		snapshot.PercentFull,
		snapshot.TemperatureC,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert latest snapshot: %w", err)
	}
	return nil
}

// GetLatest 查询设备最新快照，不存在时返回 store.ErrNotFound
func (r *ReadingRepository) GetLatest(ctx context.Context, device string) (*models.LatestSnapshot, error) {
	query := `
		SELECT device, ts, sensor, unit, status,
			distance_cm, distance_cm_filtered, percent_full, temperature_c
		FROM brinetank_latest
		WHERE device = $1
	`

	var s models.LatestSnapshot
	var distance, filtered, percent, temperature decimal.NullDecimal
	err := r.db.QueryRowContext(ctx, query, device).Scan(
		&s.Device,
		&s.Ts,
		&s.Sensor,
		&s.Unit,
		&s.Status,
		&distance,
		&filtered,
		&percent,
		&temperature,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot: %w", err)
	}

	s.DistanceCm = fromNullDecimal(distance)
	s.DistanceCmFiltered = fromNullDecimal(filtered)
	s.PercentFull = fromNullDecimal(percent)
	s.TemperatureC = fromNullDecimal(temperature)
	return &s, nil
}

func fromNullDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
