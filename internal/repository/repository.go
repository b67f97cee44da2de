package repository

import (
	"database/sql"

	"brinetank-iot/internal/store"

	"go.uber.org/zap"
)

// NewStores 基于 PostgreSQL 的全部存储
func NewStores(db *sql.DB, logger *zap.Logger) *store.Stores {
	readings := NewReadingRepository(db, logger)
	return &store.Stores{
		Readings: readings,
		Latest:   readings,
		Sensors:  NewSensorAlertRepository(db, logger),
		Close:    db.Close,
	}
}
