// Package seed 从 YAML / JSON 文件导入传感器报警配置（收件人、阈值），不触碰报警状态。
//
// 支持两种格式：
//
//	sensors:
//	  - sensorId: tank-1
//	    recipients: [ops@example.com]
//	    thresholdPct: 10
//	    hysteresisPct: 2
//	    cooldown: 6h
//
// 或者 sensorId -> 收件人列表 的简单映射（JSON 同样适用）：
//
//	{"tank-1": ["ops@example.com"]}
package seed

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"brinetank-iot/internal/alert"
	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SensorEntry 文件中的一个传感器
type SensorEntry struct {
	SensorID      string   `yaml:"sensorId"`
	Recipients    []string `yaml:"recipients"`
	ThresholdPct  *float64 `yaml:"thresholdPct"`
	HysteresisPct *float64 `yaml:"hysteresisPct"`
	Cooldown      string   `yaml:"cooldown"`
}

type seedFile struct {
	Sensors []SensorEntry `yaml:"sensors"`
}

// Invalidator 收件人缓存失效（alert.CachedRecipients 实现）。
// 只能清除本进程的缓存；其他进程（alert 服务、Lambda 实例）的旧收件人
// 最多保留 ALERT_RECIPIENT_CACHE_TTL（默认 30s）后过期
type Invalidator interface {
	Invalidate(sensorID string)
}

// LoadFile 读取并解析配置文件
func LoadFile(path string) ([]models.SensorConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Parse 解析配置内容，返回按 sensorId 排序的配置
func Parse(data []byte) ([]models.SensorConfig, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, errs.NewValidation("seed", err.Error())
	}
	if len(root.Content) == 0 {
		return []models.SensorConfig{}, nil
	}

	var entries []SensorEntry
	if hasKey(root.Content[0], "sensors") {
		var f seedFile
		if err := root.Decode(&f); err != nil {
			return nil, errs.NewValidation("sensors", err.Error())
		}
		entries = f.Sensors
	} else {
		var mapping map[string][]string
		if err := root.Decode(&mapping); err != nil {
			return nil, errs.NewValidation("seed", "expected 'sensors' list or sensorId -> recipients mapping")
		}
		for id, recipients := range mapping {
			entries = append(entries, SensorEntry{SensorID: id, Recipients: recipients})
		}
	}

	configs := make([]models.SensorConfig, 0, len(entries))
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		cfg, err := entry.toConfig()
		if err != nil {
			return nil, err
		}
		if seen[cfg.SensorID] {
			return nil, errs.NewValidation("sensorId", "duplicate sensor " + cfg.SensorID)
		}
		seen[cfg.SensorID] = true
		configs = append(configs, cfg)
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].SensorID < configs[j].SensorID })
	return configs, nil
}

func (e SensorEntry) toConfig() (models.SensorConfig, error) {
	id := strings.TrimSpace(e.SensorID)
	if id == "" {
		return models.SensorConfig{}, errs.NewValidation("sensorId", "required")
	}
	cfg := models.SensorConfig{
		SensorID:      id,
		Recipients:    alert.CleanAddresses(e.Recipients),
		ThresholdPct:  e.ThresholdPct,
		HysteresisPct: e.HysteresisPct,
	}
	if e.HysteresisPct != nil && *e.HysteresisPct < 0 {
		return cfg, errs.NewValidation("hysteresisPct", "must not be negative (" + id + ")")
	}
	if e.Cooldown != "" {
		d, err := time.ParseDuration(e.Cooldown)
		if err != nil || d < 0 {
			return cfg, errs.NewValidation("cooldown", "invalid duration " + e.Cooldown + " (" + id + ")")
		}
		cfg.Cooldown = &d
	}
	return cfg, nil
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}

// Apply 逐个写入配置，写入成功后让本进程的缓存失效；返回成功写入的数量。
// 其他进程的缓存不受影响，收件人变更在 TTL 到期后生效
func Apply(ctx context.Context, sensors store.SensorStore, configs []models.SensorConfig, cache Invalidator, logger *zap.Logger) (int, error) {
	applied := 0
	for _, cfg := range configs {
		if err := sensors.UpsertSensorConfig(ctx, cfg); err != nil {
			return applied, errs.Dependency("upsert sensor config", err)
		}
		if cache != nil {
			cache.Invalidate(cfg.SensorID)
		}
		applied++
		logger.Info("Sensor seeded",
			zap.String("sensor_id", cfg.SensorID),
			zap.Int("recipients", len(cfg.Recipients)),
		)
	}
	return applied, nil
}
