// Package alert 传感器低液位报警状态机：滞回 + 冷却 + 收件人解析 + 邮件发送。
//
// 状态只由 Evaluator 写入。每次评估都会持久化新状态，无论是否发送了通知。
package alert

import (
	"time"

	"brinetank-iot/internal/models"
)

// 未通知原因
const (
	ReasonAboveThreshold = "level not below threshold"
	ReasonAlreadyLow     = "sensor already low"
	ReasonCooldown       = "cooldown active"
	ReasonNoRecipients   = "no recipients"
)

// NextState 滞回状态转移：
// level < threshold → low；level >= threshold+hysteresis → normal；带内保持不变
func NextState(prev models.AlertState, level, threshold, hysteresis float64) models.AlertState {
	if level < threshold {
		return models.StateLow
	}
	if level >= threshold+hysteresis {
		return models.StateNormal
	}
	return prev
}

// ShouldNotify 是否满足发送条件（使用评估前的状态）
func ShouldNotify(prev models.AlertState, level, threshold float64, lastAlertTs string, cooldown time.Duration, now time.Time) bool {
	ok, _ := eligibility(prev, level, threshold, lastAlertTs, cooldown, now)
	return ok
}

// eligibility 返回是否可发送以及不可发送的原因
// 上次报警时间无法解析时视为冷却已过
func eligibility(prev models.AlertState, level, threshold float64, lastAlertTs string, cooldown time.Duration, now time.Time) (bool, string) {
	if level >= threshold {
		return false, ReasonAboveThreshold
	}
	if prev == models.StateLow {
		return false, ReasonAlreadyLow
	}
	if lastAlertTs == "" {
		return true, ""
	}
	last, ok := models.ParseTimestamp(lastAlertTs)
	if !ok {
		return true, ""
	}
	if now.Sub(last) >= cooldown {
		return true, ""
	}
	return false, ReasonCooldown
}
