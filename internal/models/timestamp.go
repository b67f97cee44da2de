package models

import (
	"strconv"
	"strings"
	"time"
)

const (
	// ReadingTimeLayout ingest 生成的默认时间戳格式
	ReadingTimeLayout = "2006-01-02T15:04:05Z"
	// TriggerTimeLayout alert 生成的默认时间戳格式
	TriggerTimeLayout = "2006-01-02T15:04:05.000000Z"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp 解析设备 / 触发方传入的时间戳，无时区的按 UTC 处理，
// 纯数字按 Unix 秒处理
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), true
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
