package main

import (
	"bytes"
	"context"
	"encoding/json"

	"brinetank-iot/internal/alert"
	"brinetank-iot/internal/models"

	"go.uber.org/zap"
)

// Ingester ingest 处理（*ingest.Pipeline 实现）
type Ingester interface {
	HandlePayload(ctx context.Context, payload []byte) (*models.IngestResult, error)
}

// RequestEvaluator 报警评估（*alert.Evaluator 实现）
type RequestEvaluator interface {
	HandleRequest(ctx context.Context, req models.AlertRequest) (*models.AlertResult, error)
}

// alertResponse alert handler 的返回值
type alertResponse struct {
	OK     bool              `json:"ok"`
	Sent   []string          `json:"sent"`
	Reason string            `json:"reason,omitempty"`
	State  models.AlertState `json:"state"`
}

type ingestHandler struct {
	pipeline Ingester
	logger   *zap.Logger
}

// Handle IoT 规则转发的遥测消息
func (h *ingestHandler) Handle(ctx context.Context, event json.RawMessage) (*models.IngestResult, error) {
	result, err := h.pipeline.HandlePayload(ctx, unwrapEvent(event))
	if err != nil {
		h.logger.Error("Ingest failed", zap.Error(err))
		return nil, err
	}
	return result, nil
}

type alertHandler struct {
	evaluator RequestEvaluator
	logger    *zap.Logger
}

// Handle 报警触发事件 {sensorId, levelPct, ts, to}
func (h *alertHandler) Handle(ctx context.Context, event json.RawMessage) (*alertResponse, error) {
	req, err := alert.DecodeAlertRequest(unwrapEvent(event))
	if err != nil {
		return nil, err
	}

	result, err := h.evaluator.HandleRequest(ctx, req)
	if err != nil {
		h.logger.Error("Alert evaluation failed",
			zap.String("sensor_id", req.SensorID),
			zap.Error(err),
		)
		return nil, err
	}

	return &alertResponse{
		OK:     result.Reason != alert.ReasonNoRecipients,
		Sent:   result.Notified,
		Reason: result.Reason,
		State:  result.NewState,
	}, nil
}

// unwrapEvent 部分调用方把事件序列化成 JSON 字符串再投递，这里还原为对象；
// 解析失败时原样返回，由后续解码报校验错误
func unwrapEvent(event json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(event)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return event
	}
	var inner string
	if err := json.Unmarshal(trimmed, &inner); err != nil {
		return event
	}
	return json.RawMessage(inner)
}
