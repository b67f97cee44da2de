package models

import (
	"encoding/json"
	"time"
)

// AlertState 传感器离散报警状态
type AlertState string

const (
	StateNormal AlertState = "normal"
	StateLow    AlertState = "low"
)

// Valid 是否为已知状态
func (s AlertState) Valid() bool {
	return s == StateNormal || s == StateLow
}

// AlertSettings 报警参数
type AlertSettings struct {
	ThresholdPct  float64       `json:"thresholdPct"`
	HysteresisPct float64       `json:"hysteresisPct"`
	Cooldown      time.Duration `json:"cooldown"`
}

// DefaultAlertSettings 未配置时的默认值
func DefaultAlertSettings() AlertSettings {
	return AlertSettings{
		ThresholdPct:  10.0,
		HysteresisPct: 2.0,
		Cooldown:      6 * time.Hour,
	}
}

// SensorAlert 传感器报警配置 + 状态（每个 sensor_id 一条）
// 人工配置字段：Recipients / ThresholdPct / HysteresisPct / Cooldown（nil 表示使用默认值）
// 机器维护字段：State / LastAlertTs / LastSeenTs / LastLevel / Version
type SensorAlert struct {
	SensorID      string
	Recipients    []string
	ThresholdPct  *float64
	HysteresisPct *float64
	Cooldown      *time.Duration

	State       AlertState
	LastAlertTs string // 空表示从未发送
	LastSeenTs  string
	LastLevel   *float64

	// Version 乐观锁版本号，0 表示记录不存在
	Version int64
}

// NewSensorAlert 记录不存在时的默认状态
func NewSensorAlert(sensorID string) *SensorAlert {
	return &SensorAlert{
		SensorID: sensorID,
		State:    StateNormal,
	}
}

// Settings 合并默认值后的生效参数
func (s *SensorAlert) Settings(defaults AlertSettings) AlertSettings {
	out := defaults
	if s.ThresholdPct != nil {
		out.ThresholdPct = *s.ThresholdPct
	}
	if s.HysteresisPct != nil {
		out.HysteresisPct = *s.HysteresisPct
	}
	if s.Cooldown != nil {
		out.Cooldown = *s.Cooldown
	}
	return out
}

// SensorConfig 人工维护的传感器配置（seed / 管理写入，不触碰状态字段）
type SensorConfig struct {
	SensorID      string
	Recipients    []string
	ThresholdPct  *float64
	HysteresisPct *float64
	Cooldown      *time.Duration
}

// AlertRequest 报警评估请求（Redis Stream / Lambda / CLI 的原始输入）
type AlertRequest struct {
	TriggerID string          `json:"triggerId,omitempty"`
	SensorID  string          `json:"sensorId"`
	LevelPct  json.RawMessage `json:"levelPct"`
	Ts        string          `json:"ts,omitempty"`
	To        json.RawMessage `json:"to,omitempty"`
}

// AlertTrigger 校验后的报警触发
type AlertTrigger struct {
	SensorID string  `json:"sensorId"`
	LevelPct float64 `json:"levelPct"`
	Ts       string  `json:"ts"`
	// Override 为 true 时 To 覆盖已配置的收件人（仅本次评估，不持久化）
	Override bool     `json:"-"`
	To       []string `json:"-"`
}

// AlertResult 报警评估结果
type AlertResult struct {
	SensorID      string     `json:"sensorId"`
	PreviousState AlertState `json:"previousState"`
	NewState      AlertState `json:"newState"`
	Notified      []string   `json:"notified"`
	Reason        string     `json:"reason,omitempty"`
}
