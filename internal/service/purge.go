package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunPurgeLoop 按间隔删除过期历史记录，阻塞到 ctx 取消
func RunPurgeLoop(ctx context.Context, purger Purger, interval time.Duration, now func() time.Time, logger *zap.Logger) {
	if purger == nil || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			PurgeOnce(ctx, purger, now(), logger)
		}
	}
}

// PurgeOnce 执行一次清理，错误只记录日志
func PurgeOnce(ctx context.Context, purger Purger, now time.Time, logger *zap.Logger) int64 {
	deleted, err := purger.PurgeExpired(ctx, now.Unix())
	if err != nil {
		logger.Error("Failed to purge expired readings", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		logger.Info("Purged expired readings", zap.Int64("deleted", deleted))
	}
	return deleted
}
