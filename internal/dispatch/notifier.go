package dispatch

import (
	"context"
	"sync"
	"time"

	"brinetank-iot/internal/models"

	"go.uber.org/zap"
)

// AsyncNotifier 有界队列 + 后台 worker 的尽力而为通知：
// 队列满时丢弃并告警，分发失败只记日志，不重试
type AsyncNotifier struct {
	dispatcher Dispatcher
	queue      chan models.AlertTrigger
	timeout    time.Duration
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsyncNotifier 创建异步通知器并启动 worker
func NewAsyncNotifier(dispatcher Dispatcher, queueSize, workers int, timeout time.Duration, logger *zap.Logger) *AsyncNotifier {
	if queueSize <= 0 {
		queueSize = 1
	}
	if workers <= 0 {
		workers = 1
	}
	n := &AsyncNotifier{
		dispatcher: dispatcher,
		queue:      make(chan models.AlertTrigger, queueSize),
		timeout:    timeout,
		logger:     logger,
	}
	for i := 0; i < workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}
	return n
}

// Notify 入队，不阻塞
func (n *AsyncNotifier) Notify(trigger models.AlertTrigger) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		n.logger.Warn("Alert notifier closed, trigger dropped",
			zap.String("sensor_id", trigger.SensorID),
		)
		return
	}

	select {
	case n.queue <- trigger:
	default:
		n.logger.Warn("Alert notifier queue full, trigger dropped",
			zap.String("sensor_id", trigger.SensorID),
			zap.Float64("level_pct", trigger.LevelPct),
		)
	}
}

// Close 停止接收并等待队列中的触发处理完
func (n *AsyncNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *AsyncNotifier) worker() {
	defer n.wg.Done()
	for trigger := range n.queue {
		dispatchLogged(n.dispatcher, trigger, n.timeout, n.logger)
	}
}

// BestEffortNotifier 同步分发（带超时），失败只记日志；
// 用于 Lambda 这类调用结束后后台 goroutine 会被冻结的环境
type BestEffortNotifier struct {
	dispatcher Dispatcher
	timeout    time.Duration
	logger     *zap.Logger
}

// NewBestEffortNotifier 创建同步尽力而为通知器
func NewBestEffortNotifier(dispatcher Dispatcher, timeout time.Duration, logger *zap.Logger) *BestEffortNotifier {
	return &BestEffortNotifier{dispatcher: dispatcher, timeout: timeout, logger: logger}
}

// Notify 分发一次
func (n *BestEffortNotifier) Notify(trigger models.AlertTrigger) {
	dispatchLogged(n.dispatcher, trigger, n.timeout, n.logger)
}

func dispatchLogged(d Dispatcher, trigger models.AlertTrigger, timeout time.Duration, logger *zap.Logger) {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := d.Dispatch(ctx, trigger); err != nil {
		logger.Warn("Failed to dispatch alert trigger",
			zap.String("sensor_id", trigger.SensorID),
			zap.Float64("level_pct", trigger.LevelPct),
			zap.Error(err),
		)
		return
	}
	logger.Debug("Alert trigger dispatched", zap.String("sensor_id", trigger.SensorID))
}
