package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// TelemetryEvent 设备上报的原始遥测消息（MQTT topic pi/+/telemetry 的 payload）
// 数值字段保留原始 JSON，由 ingest.ValidateTelemetry 在边界处统一转换
type TelemetryEvent struct {
	Device             string          `json:"device"`
	Ts                 string          `json:"ts,omitempty"`
	Sensor             string          `json:"sensor,omitempty"`
	Unit               string          `json:"unit,omitempty"`
	Status             json.RawMessage `json:"status,omitempty"`
	DistanceCm         json.RawMessage `json:"distance_cm,omitempty"`
	DistanceCmFiltered json.RawMessage `json:"distance_cm_filtered,omitempty"`
	TemperatureC       json.RawMessage `json:"temperature_c,omitempty"`
}

// Telemetry 校验后的遥测数据
type Telemetry struct {
	Device             string
	Ts                 string
	Sensor             string
	Unit               string
	Status             int
	DistanceCm         *decimal.Decimal
	DistanceCmFiltered *decimal.Decimal
	TemperatureC       *decimal.Decimal
}

// Reading 历史记录（只追加，写入后不再修改）
type Reading struct {
	ID                 string           `json:"id"`
	Device             string           `json:"device"`
	Ts                 string           `json:"ts"`
	Sensor             string           `json:"sensor"`
	Unit               string           `json:"unit"`
	Status             int              `json:"status"`
	DistanceCm         *decimal.Decimal `json:"distance_cm,omitempty"`
	DistanceCmFiltered *decimal.Decimal `json:"distance_cm_filtered,omitempty"`
	PercentFull        *decimal.Decimal `json:"percent_full,omitempty"`
	TemperatureC       *decimal.Decimal `json:"temperature_c,omitempty"`
	TTLEpoch           int64            `json:"ttl_epoch"`
}

// LatestSnapshot 每个设备一条的最新状态（无过期时间，每次写入整体覆盖）
type LatestSnapshot struct {
	Device             string           `json:"device"`
	Ts                 string           `json:"ts"`
	Sensor             string           `json:"sensor"`
	Unit               string           `json:"unit"`
	Status             int              `json:"status"`
	DistanceCm         *decimal.Decimal `json:"distance_cm,omitempty"`
	DistanceCmFiltered *decimal.Decimal `json:"distance_cm_filtered,omitempty"`
	PercentFull        *decimal.Decimal `json:"percent_full,omitempty"`
	TemperatureC       *decimal.Decimal `json:"temperature_c,omitempty"`
}

// Snapshot 由历史记录生成最新快照
func (r Reading) Snapshot() LatestSnapshot {
	return LatestSnapshot{
		Device:             r.Device,
		Ts:                 r.Ts,
		Sensor:             r.Sensor,
		Unit:               r.Unit,
		Status:             r.Status,
		DistanceCm:         r.DistanceCm,
		DistanceCmFiltered: r.DistanceCmFiltered,
		PercentFull:        r.PercentFull,
		TemperatureC:       r.TemperatureC,
	}
}

// IngestResult ingest 处理结果
type IngestResult struct {
	History Reading        `json:"history"`
	Latest  LatestSnapshot `json:"latest"`
}
