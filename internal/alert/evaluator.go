package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"
	"brinetank-iot/internal/notify"
	"brinetank-iot/internal/store"

	"go.uber.org/zap"
)

// Evaluator 报警评估器
type Evaluator struct {
	sensors    store.SensorStore
	recipients RecipientDirectory
	mailer     notify.Mailer
	from       string
	defaults   models.AlertSettings
	now        func() time.Time
	logger     *zap.Logger
}

// NewEvaluator 创建报警评估器
func NewEvaluator(
	sensors store.SensorStore,
	recipients RecipientDirectory,
	mailer notify.Mailer,
	from string,
	defaults models.AlertSettings,
	logger *zap.Logger,
) *Evaluator {
	return &Evaluator{
		sensors:    sensors,
		recipients: recipients,
		mailer:     mailer,
		from:       from,
		defaults:   defaults,
		now:        time.Now,
		logger:     logger,
	}
}

// SetClock 替换时钟（测试用）
func (e *Evaluator) SetClock(now func() time.Time) {
	e.now = now
}

// HandleRequest 校验原始请求后评估
func (e *Evaluator) HandleRequest(ctx context.Context, req models.AlertRequest) (*models.AlertResult, error) {
	trigger, err := ParseAlertRequest(req, e.now())
	if err != nil {
		return nil, err
	}
	return e.Evaluate(ctx, trigger)
}

// Evaluate 评估一次报警触发：
// 读取状态 → 判断是否发送 → 计算新状态 → 发送邮件 → 持久化。
// 邮件发送失败时不持久化，由调用方的重投机制重新评估
func (e *Evaluator) Evaluate(ctx context.Context, trigger models.AlertTrigger) (*models.AlertResult, error) {
	if trigger.SensorID == "" {
		return nil, errs.NewValidation("sensorId", "missing 'sensorId'")
	}
	if trigger.Ts == "" {
		trigger.Ts = e.now().UTC().Format(models.TriggerTimeLayout)
	}

	record, err := e.sensors.GetSensorAlert(ctx, trigger.SensorID)
	if err != nil {
		return nil, errs.Dependency("load sensor alert", err)
	}

	settings := record.Settings(e.defaults)
	prev := record.State
	if !prev.Valid() {
		prev = models.StateNormal
	}

	now, ok := models.ParseTimestamp(trigger.Ts)
	if !ok {
		now = e.now()
	}

	eligible, reason := eligibility(prev, trigger.LevelPct, settings.ThresholdPct, record.LastAlertTs, settings.Cooldown, now)
	next := NextState(prev, trigger.LevelPct, settings.ThresholdPct, settings.HysteresisPct)

	result := &models.AlertResult{
		SensorID:      trigger.SensorID,
		PreviousState: prev,
		NewState:      next,
		Notified:      []string{},
		Reason:        reason,
	}

	sent := false
	if eligible {
		to, err := e.resolveRecipients(ctx, trigger)
		if err != nil {
			return nil, errs.Dependency("resolve recipients", err)
		}
		if len(to) == 0 {
			result.Reason = ReasonNoRecipients
			e.logger.Warn("No recipients configured, alert not sent",
				zap.String("sensor_id", trigger.SensorID),
				zap.Float64("level_pct", trigger.LevelPct),
			)
		} else {
			subject, body := BuildMessage(trigger.SensorID, trigger.LevelPct, trigger.Ts, settings.ThresholdPct)
			if err := e.mailer.Send(ctx, notify.Email{
				From:    e.from,
				To:      to,
				Subject: subject,
				Body:    body,
			}); err != nil {
				e.logger.Error("Failed to send alert email",
					zap.String("sensor_id", trigger.SensorID),
					zap.Strings("to", to),
					zap.Error(err),
				)
				return nil, errs.Dependency("send alert email", err)
			}
			result.Notified = to
			sent = true
		}
	}

	level := trigger.LevelPct
	record.State = next
	record.LastLevel = &level
	record.LastSeenTs = trigger.Ts
	record.ThresholdPct = &settings.ThresholdPct
	record.HysteresisPct = &settings.HysteresisPct
	record.Cooldown = &settings.Cooldown
	if sent {
		record.LastAlertTs = trigger.Ts
	}

	if _, err := e.sensors.SaveSensorState(ctx, *record); err != nil {
		fields := []zap.Field{
			zap.String("sensor_id", trigger.SensorID),
			zap.Bool("notified", sent),
			zap.Error(err),
		}
		if errors.Is(err, store.ErrConflict) {
			e.logger.Warn("Sensor state changed concurrently", fields...)
		} else {
			e.logger.Error("Failed to save sensor state", fields...)
		}
		return nil, errs.Dependency("save sensor state", err)
	}

	e.logger.Info("Alert evaluated",
		zap.String("sensor_id", trigger.SensorID),
		zap.Float64("level_pct", trigger.LevelPct),
		zap.String("state_prev", string(prev)),
		zap.String("state_new", string(next)),
		zap.Strings("notified", result.Notified),
		zap.String("reason", result.Reason),
	)

	return result, nil
}

func (e *Evaluator) resolveRecipients(ctx context.Context, trigger models.AlertTrigger) ([]string, error) {
	if trigger.Override {
		return CleanAddresses(trigger.To), nil
	}
	if e.recipients == nil {
		return nil, fmt.Errorf("no recipient directory configured")
	}
	return e.recipients.Recipients(ctx, trigger.SensorID)
}
