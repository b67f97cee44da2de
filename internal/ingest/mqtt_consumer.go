package ingest

import (
	"context"
	"fmt"
	"time"

	"brinetank-iot/internal/errs"
	mqttcommon "brinetank-iot/pkg/mqtt"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅接口（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// MQTTConsumer 订阅设备遥测主题并交给 Pipeline 处理
type MQTTConsumer struct {
	topic    string
	qos      byte
	timeout  time.Duration
	client   Subscriber
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewMQTTConsumer 创建MQTT消费者
func NewMQTTConsumer(
	topic string,
	qos byte,
	timeout time.Duration,
	client Subscriber,
	pipeline *Pipeline,
	logger *zap.Logger,
) *MQTTConsumer {
	return &MQTTConsumer{
		topic:    topic,
		qos:      qos,
		timeout:  timeout,
		client:   client,
		pipeline: pipeline,
		logger:   logger,
	}
}

// Start 订阅主题并阻塞到 ctx 取消
func (c *MQTTConsumer) Start(ctx context.Context) error {
	if err := c.client.Subscribe(c.topic, c.qos, c.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to telemetry topic: %w", err)
	}

	c.logger.Info("MQTT consumer started", zap.String("topic", c.topic))

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (c *MQTTConsumer) Stop() error {
	if err := c.client.Unsubscribe(c.topic); err != nil {
		c.logger.Error("Failed to unsubscribe", zap.Error(err))
		return err
	}
	c.logger.Info("MQTT consumer stopped")
	return nil
}

func (c *MQTTConsumer) handleMessage(topic string, payload []byte) error {
	c.logger.Debug("Received MQTT message",
		zap.String("topic", topic),
		zap.Int("payload_size", len(payload)),
	)

	ctx := context.Background()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if _, err := c.pipeline.HandlePayload(ctx, payload); err != nil {
		if errs.IsValidation(err) {
			// 校验失败的消息直接丢弃
			c.logger.Warn("Discarded invalid telemetry",
				zap.String("topic", topic),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("failed to ingest telemetry from %s: %w", topic, err)
	}
	return nil
}
