// Package dispatch ingest 到 alert 的触发通道。
//
// Dispatcher 负责把一次触发送达 alert（Redis Stream 或进程内调用）；
// AlertNotifier 是 ingest 侧的尽力而为入口：没有错误返回值，失败只记日志，不重试。
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"brinetank-iot/internal/models"
	rediscommon "brinetank-iot/pkg/redis"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Dispatcher 把报警触发送达 alert
type Dispatcher interface {
	Dispatch(ctx context.Context, trigger models.AlertTrigger) error
}

// Evaluator alert 评估入口（*alert.Evaluator 实现）
type Evaluator interface {
	Evaluate(ctx context.Context, trigger models.AlertTrigger) (*models.AlertResult, error)
	HandleRequest(ctx context.Context, req models.AlertRequest) (*models.AlertResult, error)
}

// NewRequest 触发转为线上格式（带 triggerId；有覆盖收件人时带 to）
func NewRequest(trigger models.AlertTrigger) (models.AlertRequest, error) {
	req := models.AlertRequest{
		TriggerID: uuid.NewString(),
		SensorID:  trigger.SensorID,
		LevelPct:  json.RawMessage(strconv.FormatFloat(trigger.LevelPct, 'f', -1, 64)),
		Ts:        trigger.Ts,
	}
	if trigger.Override {
		to := trigger.To
		if to == nil {
			to = []string{}
		}
		raw, err := json.Marshal(to)
		if err != nil {
			return req, err
		}
		req.To = raw
	}
	return req, nil
}

// StreamDispatcher 写入 Redis Stream，由 alert 服务的 StreamConsumer 消费
type StreamDispatcher struct {
	client *redis.Client
	stream string
}

// NewStreamDispatcher 创建 Stream 分发器
func NewStreamDispatcher(client *redis.Client, stream string) *StreamDispatcher {
	return &StreamDispatcher{client: client, stream: stream}
}

// Dispatch XADD 一条触发
func (d *StreamDispatcher) Dispatch(ctx context.Context, trigger models.AlertTrigger) error {
	req, err := NewRequest(trigger)
	if err != nil {
		return fmt.Errorf("failed to encode trigger: %w", err)
	}
	if _, err := rediscommon.PublishJSONToStream(ctx, d.client, d.stream, req); err != nil {
		return fmt.Errorf("failed to publish trigger to %s: %w", d.stream, err)
	}
	return nil
}

// LocalDispatcher 进程内直接调用 alert 评估（Lambda / 单进程部署）
type LocalDispatcher struct {
	evaluator Evaluator
}

// NewLocalDispatcher 创建进程内分发器
func NewLocalDispatcher(evaluator Evaluator) *LocalDispatcher {
	return &LocalDispatcher{evaluator: evaluator}
}

// Dispatch 同步评估
func (d *LocalDispatcher) Dispatch(ctx context.Context, trigger models.AlertTrigger) error {
	_, err := d.evaluator.Evaluate(ctx, trigger)
	return err
}
