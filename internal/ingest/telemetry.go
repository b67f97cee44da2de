package ingest

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"

	"github.com/shopspring/decimal"
)

// Defaults 遥测缺省字段
type Defaults struct {
	Sensor string
	Unit   string
}

// DecodeTelemetry 解析 JSON payload
func DecodeTelemetry(payload []byte) (models.TelemetryEvent, error) {
	var ev models.TelemetryEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, errs.NewValidation("payload", err.Error())
	}
	return ev, nil
}

// ValidateTelemetry 边界校验：device 必填；其余字段补默认值；
// 无法转换的可选数值字段置为缺失，并以 ConversionError 列表返回供记录日志
func ValidateTelemetry(ev models.TelemetryEvent, defaults Defaults, now time.Time) (models.Telemetry, []*errs.ConversionError, error) {
	device := strings.TrimSpace(ev.Device)
	if device == "" {
		return models.Telemetry{}, nil, errs.NewValidation("device", "missing 'device' in event")
	}

	t := models.Telemetry{
		Device: device,
		Ts:     ev.Ts,
		Sensor: ev.Sensor,
		Unit:   ev.Unit,
	}
	if t.Ts == "" {
		t.Ts = now.UTC().Format(models.ReadingTimeLayout)
	}
	if t.Sensor == "" {
		t.Sensor = defaults.Sensor
	}
	if t.Unit == "" {
		t.Unit = defaults.Unit
	}

	var conversions []*errs.ConversionError
	convert := func(field string, raw json.RawMessage) {
		if present(raw) {
			conversions = append(conversions, &errs.ConversionError{Field: field, Value: string(raw)})
		}
	}

	if status := ToDecimal(ev.Status); status != nil && inStatusRange(*status) {
		t.Status = int(status.IntPart())
	} else {
		convert("status", ev.Status)
	}

	if t.DistanceCm = ToDecimal(ev.DistanceCm); t.DistanceCm == nil {
		convert("distance_cm", ev.DistanceCm)
	}
	if t.DistanceCmFiltered = ToDecimal(ev.DistanceCmFiltered); t.DistanceCmFiltered == nil {
		convert("distance_cm_filtered", ev.DistanceCmFiltered)
	}
	if t.TemperatureC = ToDecimal(ev.TemperatureC); t.TemperatureC == nil {
		convert("temperature_c", ev.TemperatureC)
	}

	return t, conversions, nil
}

var (
	minStatus = decimal.NewFromInt(math.MinInt32)
	maxStatus = decimal.NewFromInt(math.MaxInt32)
)

// status 列为 INTEGER，超出 int32 的值按转换失败处理
func inStatusRange(d decimal.Decimal) bool {
	return d.GreaterThanOrEqual(minStatus) && d.LessThanOrEqual(maxStatus)
}
