package alert

import (
	"context"
	"errors"
	"sync"

	"brinetank-iot/internal/models"
	"brinetank-iot/internal/notify"
	"brinetank-iot/internal/store"
)

// fakeMailer 仅用于单元测试，记录发送的邮件
type fakeMailer struct {
	mu   sync.Mutex
	sent []notify.Email
	err  error
}

func (f *fakeMailer) Send(_ context.Context, email notify.Email) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, email)
	return nil
}

func (f *fakeMailer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// conflictStore 保存时总是返回版本冲突
type conflictStore struct {
	store.SensorStore
}

func (conflictStore) SaveSensorState(context.Context, models.SensorAlert) (int64, error) {
	return 0, store.ErrConflict
}

// countingSource 统计数据源调用次数
type countingSource struct {
	mu         sync.Mutex
	calls      int
	recipients map[string][]string
	err        error
}

func (c *countingSource) GetRecipients(_ context.Context, sensorID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.recipients[sensorID], nil
}

var errBoom = errors.New("boom")
