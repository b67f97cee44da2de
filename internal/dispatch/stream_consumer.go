package dispatch

import (
	"context"
	"fmt"
	"time"

	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"
	rediscommon "brinetank-iot/pkg/redis"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ConsumerOptions Stream 消费参数
type ConsumerOptions struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
	Block     time.Duration
}

// StreamConsumer alert 侧的 Redis Streams 消费者：
// 启动时先处理本消费者未确认的消息，之后读取新消息；
// 评估成功或请求本身无效时 XACK，依赖失败的消息保留在 pending 中等待重投
type StreamConsumer struct {
	client    *redis.Client
	opts      ConsumerOptions
	evaluator Evaluator
	logger    *zap.Logger
}

// NewStreamConsumer 创建 Streams 消费者
func NewStreamConsumer(client *redis.Client, opts ConsumerOptions, evaluator Evaluator, logger *zap.Logger) *StreamConsumer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &StreamConsumer{
		client:    client,
		opts:      opts,
		evaluator: evaluator,
		logger:    logger,
	}
}

// Start 启动消费者，阻塞到 ctx 取消
func (c *StreamConsumer) Start(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, c.client, c.opts.Stream, c.opts.Group); err != nil {
		return err
	}

	c.logger.Info("Stream consumer started",
		zap.String("stream", c.opts.Stream),
		zap.String("consumer_group", c.opts.Group),
		zap.String("consumer_name", c.opts.Consumer),
	)

	retryPending := true
	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var err error
		if retryPending {
			var failed int
			failed, err = c.DrainPending(ctx)
			retryPending = failed > 0
		}
		if err == nil {
			var n, failed int
			n, failed, err = c.poll(ctx, ">")
			if failed > 0 {
				retryPending = true
			}
			// 非阻塞读取时空闲需要主动等待
			if n == 0 && c.opts.Block <= 0 {
				sleepCtx(ctx, backoffDuration)
			}
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume alert stream",
				zap.Error(err),
				zap.Duration("backoff", backoffDuration),
			)
			sleepCtx(ctx, backoffDuration)
			backoffDuration *= 2
			if backoffDuration > maxBackoff {
				backoffDuration = maxBackoff
			}
			continue
		}
		backoffDuration = time.Second
	}
}

// DrainPending 重新处理本消费者已读取但未确认的消息，返回仍失败的条数
func (c *StreamConsumer) DrainPending(ctx context.Context) (int, error) {
	lastID := "0"
	totalFailed := 0
	for {
		messages, err := rediscommon.ReadFromStream(ctx, c.client, c.opts.Stream, rediscommon.ReadOptions{
			Group:    c.opts.Group,
			Consumer: c.opts.Consumer,
			Count:    c.opts.BatchSize,
			StartID:  lastID,
		})
		if err != nil {
			return totalFailed, fmt.Errorf("failed to read pending from %s: %w", c.opts.Stream, err)
		}
		if len(messages) == 0 {
			return totalFailed, nil
		}
		totalFailed += c.handleBatch(ctx, messages)
		lastID = messages[len(messages)-1].ID
	}
}

// poll 读取一批消息并处理，返回 (读取条数, 失败条数, 错误)
func (c *StreamConsumer) poll(ctx context.Context, startID string) (int, int, error) {
	messages, err := rediscommon.ReadFromStream(ctx, c.client, c.opts.Stream, rediscommon.ReadOptions{
		Group:    c.opts.Group,
		Consumer: c.opts.Consumer,
		Count:    c.opts.BatchSize,
		Block:    c.opts.Block,
		StartID:  startID,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read from stream %s: %w", c.opts.Stream, err)
	}
	return len(messages), c.handleBatch(ctx, messages), nil
}

func (c *StreamConsumer) handleBatch(ctx context.Context, messages []rediscommon.StreamMessage) int {
	failed := 0
	for _, msg := range messages {
		if err := c.processMessage(ctx, msg); err != nil {
			failed++
			c.logger.Error("Failed to process alert trigger",
				zap.String("stream", c.opts.Stream),
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
			continue
		}
		if err := rediscommon.AckMessage(ctx, c.client, c.opts.Stream, c.opts.Group, msg.ID); err != nil {
			c.logger.Warn("Failed to ack alert trigger",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}
	return failed
}

// processMessage 处理单条消息；无效消息返回 nil（确认后丢弃）
func (c *StreamConsumer) processMessage(ctx context.Context, msg rediscommon.StreamMessage) error {
	var req models.AlertRequest
	if err := rediscommon.DecodeJSONMessage(msg, &req); err != nil {
		c.logger.Warn("Discarded malformed alert trigger",
			zap.String("message_id", msg.ID),
			zap.Error(err),
		)
		return nil
	}

	result, err := c.evaluator.HandleRequest(ctx, req)
	if err != nil {
		if errs.IsValidation(err) {
			c.logger.Warn("Discarded invalid alert trigger",
				zap.String("message_id", msg.ID),
				zap.String("trigger_id", req.TriggerID),
				zap.Error(err),
			)
			return nil
		}
		return err
	}

	c.logger.Debug("Alert trigger processed",
		zap.String("message_id", msg.ID),
		zap.String("trigger_id", req.TriggerID),
		zap.String("sensor_id", result.SensorID),
		zap.String("state_new", string(result.NewState)),
		zap.Int("notified", len(result.Notified)),
	)
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
