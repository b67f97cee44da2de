package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"

	"brinetank-iot/internal/alert"
	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"
	rediscommon "brinetank-iot/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	lambdatypes "github.com/aws/aws-sdk-go-v2/service/lambda/types"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testStream = "brinetank:alert:triggers"

func setupTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func newTestConsumer(client *redis.Client, ev Evaluator, block time.Duration) *StreamConsumer {
	return NewStreamConsumer(client, ConsumerOptions{
		Stream:    testStream,
		Group:     "brinetank-alert",
		Consumer:  "worker-1",
		BatchSize: 10,
		Block:     block,
	}, ev, zap.NewNop())
}

func pendingCount(t *testing.T, client *redis.Client) int64 {
	t.Helper()
	p, err := client.XPending(context.Background(), testStream, "brinetank-alert").Result()
	require.NoError(t, err)
	return p.Count
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest(models.AlertTrigger{SensorID: "tank-1", LevelPct: 7.8, Ts: "2026-10-19T08:30:00Z"})
	require.NoError(t, err)
	assert.NotEmpty(t, req.TriggerID)
	assert.Equal(t, "7.8", string(req.LevelPct))
	assert.Empty(t, req.To)

	req, err = NewRequest(models.AlertTrigger{SensorID: "tank-1", LevelPct: 5, Override: true})
	require.NoError(t, err)
	assert.Equal(t, "[]", string(req.To))

	req, err = NewRequest(models.AlertTrigger{SensorID: "tank-1", LevelPct: 5, Override: true, To: []string{"ops@example.com"}})
	require.NoError(t, err)
	assert.JSONEq(t, `["ops@example.com"]`, string(req.To))
}

func TestStreamDispatcher_ToConsumer(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	ev := &fakeEvaluator{}
	c := newTestConsumer(client, ev, 0)
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, testStream, "brinetank-alert"))

	d := NewStreamDispatcher(client, testStream)
	require.NoError(t, d.Dispatch(ctx, models.AlertTrigger{
		SensorID: "tank-1", LevelPct: 7.8, Ts: "2026-10-19T08:30:00Z",
		Override: true, To: []string{"oncall@example.com"},
	}))

	n, failed, err := c.poll(ctx, ">")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, failed)

	got := ev.seen()
	require.Len(t, got, 1)
	assert.Equal(t, "tank-1", got[0].SensorID)
	assert.Equal(t, 7.8, got[0].LevelPct)
	assert.Equal(t, "2026-10-19T08:30:00Z", got[0].Ts)
	assert.True(t, got[0].Override)
	assert.Equal(t, []string{"oncall@example.com"}, got[0].To)
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestStreamConsumer_FailureStaysPending(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	ev := &fakeEvaluator{failures: 1, err: errs.Dependency("send alert email", errors.New("ses down"))}
	c := newTestConsumer(client, ev, 0)
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, testStream, "brinetank-alert"))

	require.NoError(t, NewStreamDispatcher(client, testStream).Dispatch(ctx, models.AlertTrigger{SensorID: "tank-1", LevelPct: 3}))

	_, failed, err := c.poll(ctx, ">")
	require.NoError(t, err)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(1), pendingCount(t, client))
	assert.Empty(t, ev.seen())

	failed, err = c.DrainPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int64(0), pendingCount(t, client))
	assert.Len(t, ev.seen(), 1)
}

func TestStreamConsumer_InvalidMessagesAcked(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	ev := &fakeEvaluator{}
	c := newTestConsumer(client, ev, 0)
	require.NoError(t, rediscommon.CreateConsumerGroup(ctx, client, testStream, "brinetank-alert"))

	_, err := rediscommon.PublishJSONToStream(ctx, client, testStream, map[string]interface{}{"sensorId": "", "levelPct": 5})
	require.NoError(t, err)
	_, err = rediscommon.PublishToStream(ctx, client, testStream, map[string]interface{}{"data": "{not json"})
	require.NoError(t, err)

	n, failed, err := c.poll(ctx, ">")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, failed)
	assert.Empty(t, ev.seen())
	assert.Equal(t, int64(0), pendingCount(t, client))
}

func TestStreamConsumer_Start(t *testing.T) {
	client := setupTestRedis(t)
	ev := &fakeEvaluator{}
	c := newTestConsumer(client, ev, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.NoError(t, NewStreamDispatcher(client, testStream).Dispatch(context.Background(), models.AlertTrigger{SensorID: "tank-9", LevelPct: 4}))
	require.Eventually(t, func() bool { return len(ev.seen()) == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestLocalDispatcher(t *testing.T) {
	ev := &fakeEvaluator{}
	d := NewLocalDispatcher(ev)
	require.NoError(t, d.Dispatch(context.Background(), models.AlertTrigger{SensorID: "tank-1", LevelPct: 5}))
	assert.Len(t, ev.seen(), 1)

	ev.failures, ev.err = 1, errors.New("boom")
	assert.Error(t, d.Dispatch(context.Background(), models.AlertTrigger{SensorID: "tank-1", LevelPct: 5}))
}

func TestLambdaDispatcher(t *testing.T) {
	invoker := &fakeInvoker{status: 202}
	d := NewLambdaDispatcher(invoker, "brinetank-alert")
	ctx := context.Background()

	trigger := models.AlertTrigger{SensorID: "tank-1", LevelPct: 7.5, Ts: "2026-10-19T08:30:00Z"}
	require.NoError(t, d.Dispatch(ctx, trigger))
	require.Len(t, invoker.inputs, 1)

	in := invoker.inputs[0]
	assert.Equal(t, "brinetank-alert", aws.ToString(in.FunctionName))
	assert.Equal(t, lambdatypes.InvocationTypeEvent, in.InvocationType)

	req, err := alert.DecodeAlertRequest(in.Payload)
	require.NoError(t, err)
	assert.NotEmpty(t, req.TriggerID)
	got, err := alert.ParseAlertRequest(req, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "tank-1", got.SensorID)
	assert.Equal(t, 7.5, got.LevelPct)
	assert.False(t, got.Override)
}

func TestLambdaDispatcher_Errors(t *testing.T) {
	ctx := context.Background()
	trigger := models.AlertTrigger{SensorID: "tank-1", LevelPct: 5}

	invoker := &fakeInvoker{err: errors.New("AccessDenied")}
	assert.Error(t, NewLambdaDispatcher(invoker, "brinetank-alert").Dispatch(ctx, trigger))

	invoker = &fakeInvoker{status: 200}
	assert.Error(t, NewLambdaDispatcher(invoker, "brinetank-alert").Dispatch(ctx, trigger))

	invoker = &fakeInvoker{status: 202, fnErr: aws.String("Unhandled")}
	assert.Error(t, NewLambdaDispatcher(invoker, "brinetank-alert").Dispatch(ctx, trigger))
}

func TestAsyncNotifier_DropsWhenFull(t *testing.T) {
	d := &blockingDispatcher{release: make(chan struct{})}
	n := NewAsyncNotifier(d, 1, 1, time.Second, zap.NewNop())

	n.Notify(models.AlertTrigger{SensorID: "a"})
	// worker 取走第一条后阻塞在 Dispatch
	require.Eventually(t, func() bool { return len(n.queue) == 0 }, time.Second, 5*time.Millisecond)

	n.Notify(models.AlertTrigger{SensorID: "b"})
	n.Notify(models.AlertTrigger{SensorID: "c"})

	close(d.release)
	n.Close()
	assert.Equal(t, 2, d.count())
}

func TestAsyncNotifier_CloseDrains(t *testing.T) {
	d := &blockingDispatcher{err: errors.New("redis down")}
	n := NewAsyncNotifier(d, 10, 2, time.Second, zap.NewNop())

	for i := 0; i < 5; i++ {
		n.Notify(models.AlertTrigger{SensorID: "tank-1", LevelPct: float64(i)})
	}
	n.Close()
	assert.Equal(t, 5, d.count())

	// 关闭后的通知被丢弃，不 panic
	n.Notify(models.AlertTrigger{SensorID: "tank-1"})
	n.Close()
	assert.Equal(t, 5, d.count())
}

func TestBestEffortNotifier(t *testing.T) {
	ev := &fakeEvaluator{failures: 1, err: errors.New("boom")}
	n := NewBestEffortNotifier(NewLocalDispatcher(ev), time.Second, zap.NewNop())

	n.Notify(models.AlertTrigger{SensorID: "tank-1", LevelPct: 5})
	assert.Empty(t, ev.seen())

	n.Notify(models.AlertTrigger{SensorID: "tank-1", LevelPct: 5})
	assert.Len(t, ev.seen(), 1)
}
