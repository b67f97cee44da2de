package ingest

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// ToDecimal 无损转换为十进制数；非数值输入返回 nil（不报错）
// float 使用最短十进制表示，不会把二进制舍入误差写入存储
func ToDecimal(v interface{}) *decimal.Decimal {
	var d decimal.Decimal
	switch val := v.(type) {
	case nil:
		return nil
	case decimal.Decimal:
		d = val
	case *decimal.Decimal:
		if val == nil {
			return nil
		}
		d = *val
	case int:
		d = decimal.NewFromInt(int64(val))
	case int32:
		d = decimal.NewFromInt32(val)
	case int64:
		d = decimal.NewFromInt(val)
	case float32:
		if math.IsNaN(float64(val)) || math.IsInf(float64(val), 0) {
			return nil
		}
		d = decimal.NewFromFloat32(val)
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil
		}
		d = decimal.NewFromFloat(val)
	case json.Number:
		return parseDecimal(string(val))
	case string:
		return parseDecimal(val)
	case json.RawMessage:
		return rawToDecimal(val)
	default:
		return nil
	}
	return &d
}

func parseDecimal(s string) *decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	return &d
}

// rawToDecimal 处理 JSON 数字和带引号的数字字符串
func rawToDecimal(raw json.RawMessage) *decimal.Decimal {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		return parseDecimal(s)
	}
	return parseDecimal(string(raw))
}

// present 原始字段是否存在（未出现或为 null 视为缺失）
func present(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}
