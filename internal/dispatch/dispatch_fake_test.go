package dispatch

import (
	"context"
	"sync"
	"time"

	"brinetank-iot/internal/alert"
	"brinetank-iot/internal/models"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// fakeEvaluator 仅用于单元测试：记录收到的触发，可按调用次数注入错误
type fakeEvaluator struct {
	mu       sync.Mutex
	triggers []models.AlertTrigger
	requests []models.AlertRequest
	failures int
	err      error
}

func (f *fakeEvaluator) Evaluate(_ context.Context, trigger models.AlertTrigger) (*models.AlertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	f.triggers = append(f.triggers, trigger)
	return &models.AlertResult{SensorID: trigger.SensorID, NewState: models.StateLow, Notified: []string{}}, nil
}

func (f *fakeEvaluator) HandleRequest(ctx context.Context, req models.AlertRequest) (*models.AlertResult, error) {
	trigger, err := alert.ParseAlertRequest(req, time.Now())
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.Evaluate(ctx, trigger)
}

func (f *fakeEvaluator) seen() []models.AlertTrigger {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.AlertTrigger(nil), f.triggers...)
}

// blockingDispatcher 在 release 关闭前阻塞
type blockingDispatcher struct {
	mu       sync.Mutex
	release  chan struct{}
	received []models.AlertTrigger
	err      error
}

func (b *blockingDispatcher) Dispatch(ctx context.Context, trigger models.AlertTrigger) error {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = append(b.received, trigger)
	return b.err
}

func (b *blockingDispatcher) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.received)
}

// fakeInvoker 记录 Invoke 请求，返回预设状态码
type fakeInvoker struct {
	mu     sync.Mutex
	inputs []*lambda.InvokeInput
	status int32
	fnErr  *string
	err    error
}

func (f *fakeInvoker) Invoke(_ context.Context, in *lambda.InvokeInput, _ ...func(*lambda.Options)) (*lambda.InvokeOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, in)
	return &lambda.InvokeOutput{StatusCode: f.status, FunctionError: f.fnErr}, nil
}
