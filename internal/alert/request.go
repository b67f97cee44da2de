package alert

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"

	"github.com/shopspring/decimal"
)

// DecodeAlertRequest 解析 JSON 请求
func DecodeAlertRequest(payload []byte) (models.AlertRequest, error) {
	var req models.AlertRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return req, errs.NewValidation("payload", err.Error())
	}
	return req, nil
}

// ParseAlertRequest 边界校验：sensorId 必填，levelPct 必须是数值（数字或数字字符串），
// ts 缺省为当前 UTC 时间；to 为字符串或字符串列表时覆盖已配置收件人
func ParseAlertRequest(req models.AlertRequest, now time.Time) (models.AlertTrigger, error) {
	sensorID := strings.TrimSpace(req.SensorID)
	if sensorID == "" {
		return models.AlertTrigger{}, errs.NewValidation("sensorId", "missing 'sensorId'")
	}

	level, err := parseLevel(req.LevelPct)
	if err != nil {
		return models.AlertTrigger{}, err
	}

	trigger := models.AlertTrigger{
		SensorID: sensorID,
		LevelPct: level,
		Ts:       req.Ts,
	}
	if trigger.Ts == "" {
		trigger.Ts = now.UTC().Format(models.TriggerTimeLayout)
	}

	to, override, err := parseRecipients(req.To)
	if err != nil {
		return models.AlertTrigger{}, err
	}
	trigger.Override = override
	trigger.To = to

	return trigger, nil
}

func parseLevel(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errs.NewValidation("levelPct", "missing 'levelPct'")
	}

	s := string(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, errs.NewValidation("levelPct", "invalid string")
		}
	}

	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, errs.NewValidation("levelPct", "not a number: "+s)
	}
	return d.InexactFloat64(), nil
}

// parseRecipients 返回 (收件人, 是否覆盖)；null / 缺失 / 其他类型不覆盖
func parseRecipients(raw json.RawMessage) ([]string, bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, false, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, false, errs.NewValidation("to", "invalid string")
		}
		return CleanAddresses([]string{s}), true, nil
	case '[':
		var list []string
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, false, errs.NewValidation("to", "must be a list of addresses")
		}
		return CleanAddresses(list), true, nil
	default:
		return nil, false, nil
	}
}

// CleanAddresses 去掉空白地址和重复地址，保持原顺序
func CleanAddresses(addrs []string) []string {
	out := make([]string, 0, len(addrs))
	seen := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if _, dup := seen[a]; dup {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}
