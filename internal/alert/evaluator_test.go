package alert

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const from = "alerts@salty-water.com"

type harness struct {
	mem       *store.MemoryStore
	mailer    *fakeMailer
	evaluator *Evaluator
}

func newHarness(t *testing.T, recipients []string, cooldown time.Duration) *harness {
	t.Helper()
	mem := store.NewMemoryStore()
	if recipients != nil || cooldown > 0 {
		cfg := models.SensorConfig{SensorID: "tank-1", Recipients: recipients}
		if cooldown > 0 {
			cfg.Cooldown = &cooldown
		}
		require.NoError(t, mem.UpsertSensorConfig(context.Background(), cfg))
	}
	mailer := &fakeMailer{}
	ev := NewEvaluator(mem, NewCachedRecipients(mem, 8, time.Minute), mailer, from, models.DefaultAlertSettings(), zap.NewNop())
	ev.SetClock(func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) })
	return &harness{mem: mem, mailer: mailer, evaluator: ev}
}

func (h *harness) eval(t *testing.T, level float64, ts string) *models.AlertResult {
	t.Helper()
	res, err := h.evaluator.Evaluate(context.Background(), models.AlertTrigger{SensorID: "tank-1", LevelPct: level, Ts: ts})
	require.NoError(t, err)
	return res
}

func (h *harness) state(t *testing.T) *models.SensorAlert {
	t.Helper()
	s, err := h.mem.GetSensorAlert(context.Background(), "tank-1")
	require.NoError(t, err)
	return s
}

func TestEvaluate_TankScenario(t *testing.T) {
	h := newHarness(t, []string{"ops@example.com"}, time.Hour)

	res := h.eval(t, 7, "2026-10-19T08:00:00Z")
	assert.Equal(t, models.StateNormal, res.PreviousState)
	assert.Equal(t, models.StateLow, res.NewState)
	assert.Equal(t, []string{"ops@example.com"}, res.Notified)
	require.Equal(t, 1, h.mailer.count())
	assert.Equal(t, from, h.mailer.sent[0].From)
	assert.Equal(t, "[Salt Alert] tank-1 below 10% (7.0%)", h.mailer.sent[0].Subject)

	res = h.eval(t, 8, "2026-10-19T08:10:00Z")
	assert.Equal(t, models.StateLow, res.NewState)
	assert.Empty(t, res.Notified)
	assert.Equal(t, ReasonAlreadyLow, res.Reason)

	res = h.eval(t, 13, "2026-10-19T08:20:00Z")
	assert.Equal(t, models.StateLow, res.PreviousState)
	assert.Equal(t, models.StateNormal, res.NewState)
	assert.Empty(t, res.Notified)

	// 9 < 10 重新进入 low，但仍在 1h 冷却内，不发送
	res = h.eval(t, 9, "2026-10-19T08:30:00Z")
	assert.Equal(t, models.StateNormal, res.PreviousState)
	assert.Equal(t, models.StateLow, res.NewState)
	assert.Empty(t, res.Notified)
	assert.Equal(t, ReasonCooldown, res.Reason)
	assert.Equal(t, 1, h.mailer.count())

	// 恢复后冷却已过，再次发送
	h.eval(t, 13, "2026-10-19T09:10:00Z")
	res = h.eval(t, 9, "2026-10-19T09:15:00Z")
	assert.Equal(t, models.StateLow, res.NewState)
	assert.Equal(t, []string{"ops@example.com"}, res.Notified)
	assert.Equal(t, 2, h.mailer.count())

	s := h.state(t)
	assert.Equal(t, "2026-10-19T09:15:00Z", s.LastAlertTs)
	assert.Equal(t, "2026-10-19T09:15:00Z", s.LastSeenTs)
	require.NotNil(t, s.LastLevel)
	assert.Equal(t, 9.0, *s.LastLevel)
	assert.Equal(t, []string{"ops@example.com"}, s.Recipients)
}

func TestEvaluate_RepeatLowSuppressedByState(t *testing.T) {
	h := newHarness(t, []string{"ops@example.com"}, 0)

	first := h.eval(t, 5, "2026-10-19T08:00:00Z")
	second := h.eval(t, 5, "2026-10-19T08:01:00Z")

	assert.Len(t, first.Notified, 1)
	assert.Empty(t, second.Notified)
	assert.Equal(t, ReasonAlreadyLow, second.Reason)
	assert.Equal(t, 1, h.mailer.count())
}

func TestEvaluate_CooldownGatesAfterForcedReset(t *testing.T) {
	h := newHarness(t, []string{"ops@example.com"}, 0)
	ctx := context.Background()

	h.eval(t, 5, "2026-10-19T08:00:00Z")

	// 人工把状态复位为 normal，第二次只由冷却（默认 6h）拦截
	s := h.state(t)
	s.State = models.StateNormal
	_, err := h.mem.SaveSensorState(ctx, *s)
	require.NoError(t, err)

	res := h.eval(t, 5, "2026-10-19T09:00:00Z")
	assert.Equal(t, models.StateNormal, res.PreviousState)
	assert.Equal(t, models.StateLow, res.NewState)
	assert.Empty(t, res.Notified)
	assert.Equal(t, ReasonCooldown, res.Reason)
	assert.Equal(t, 1, h.mailer.count())
	assert.Equal(t, "2026-10-19T08:00:00Z", h.state(t).LastAlertTs)
}

func TestEvaluate_UnparseableLastAlertFailsOpen(t *testing.T) {
	h := newHarness(t, []string{"ops@example.com"}, time.Hour)
	ctx := context.Background()

	s := h.state(t)
	s.LastAlertTs = "not-a-time"
	_, err := h.mem.SaveSensorState(ctx, *s)
	require.NoError(t, err)

	res := h.eval(t, 4, "2026-10-19T08:00:00Z")
	assert.Equal(t, []string{"ops@example.com"}, res.Notified)
}

func TestEvaluate_EmptyRecipientsStillAdvancesState(t *testing.T) {
	h := newHarness(t, nil, 0)

	res := h.eval(t, 7, "2026-10-19T08:00:00Z")
	assert.Equal(t, models.StateLow, res.NewState)
	assert.Empty(t, res.Notified)
	assert.Equal(t, ReasonNoRecipients, res.Reason)
	assert.Equal(t, 0, h.mailer.count())

	s := h.state(t)
	assert.Equal(t, models.StateLow, s.State)
	assert.Equal(t, "2026-10-19T08:00:00Z", s.LastSeenTs)
	assert.Empty(t, s.LastAlertTs)
	require.NotNil(t, s.ThresholdPct)
	assert.Equal(t, 10.0, *s.ThresholdPct)
	require.NotNil(t, s.Cooldown)
	assert.Equal(t, 6*time.Hour, *s.Cooldown)
}

func TestEvaluate_RecipientOverride(t *testing.T) {
	h := newHarness(t, []string{"ops@example.com"}, 0)
	ctx := context.Background()

	req, err := DecodeAlertRequest([]byte(`{"sensorId":"tank-1","levelPct":6,"ts":"2026-10-19T08:00:00Z","to":"oncall@example.com"}`))
	require.NoError(t, err)
	res, err := h.evaluator.HandleRequest(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, []string{"oncall@example.com"}, res.Notified)
	assert.Equal(t, []string{"oncall@example.com"}, h.mailer.sent[0].To)

	recipients, err := h.mem.GetRecipients(ctx, "tank-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ops@example.com"}, recipients)
}

func TestEvaluate_EmptyOverrideSkipsSend(t *testing.T) {
	h := newHarness(t, []string{"ops@example.com"}, 0)

	res, err := h.evaluator.Evaluate(context.Background(), models.AlertTrigger{
		SensorID: "tank-1", LevelPct: 6, Ts: "2026-10-19T08:00:00Z", Override: true, To: []string{},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Notified)
	assert.Equal(t, ReasonNoRecipients, res.Reason)
	assert.Equal(t, models.StateLow, h.state(t).State)
}

func TestEvaluate_SendFailureDoesNotPersist(t *testing.T) {
	h := newHarness(t, []string{"ops@example.com"}, 0)
	h.mailer.err = errors.New("ses throttled")

	_, err := h.evaluator.Evaluate(context.Background(), models.AlertTrigger{SensorID: "tank-1", LevelPct: 3, Ts: "2026-10-19T08:00:00Z"})
	require.Error(t, err)
	assert.True(t, errs.IsDependency(err))

	s := h.state(t)
	assert.Equal(t, models.StateNormal, s.State)
	assert.Empty(t, s.LastSeenTs)
	assert.Empty(t, s.LastAlertTs)

	// 重投后成功发送
	h.mailer.err = nil
	res := h.eval(t, 3, "2026-10-19T08:00:00Z")
	assert.Len(t, res.Notified, 1)
}

func TestEvaluate_ConflictIsDependencyError(t *testing.T) {
	mem := store.NewMemoryStore()
	ev := NewEvaluator(conflictStore{mem}, NewCachedRecipients(mem, 8, time.Minute), &fakeMailer{}, from, models.DefaultAlertSettings(), zap.NewNop())

	_, err := ev.Evaluate(context.Background(), models.AlertTrigger{SensorID: "tank-1", LevelPct: 50, Ts: "2026-10-19T08:00:00Z"})
	require.Error(t, err)
	assert.True(t, errs.IsDependency(err))
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestEvaluate_MissingTsUsesClock(t *testing.T) {
	h := newHarness(t, nil, 0)

	res := h.eval(t, 50, "")
	assert.Equal(t, models.StateNormal, res.NewState)
	assert.Equal(t, "2026-10-19T12:00:00.000000Z", h.state(t).LastSeenTs)
}

func TestEvaluate_MissingSensorID(t *testing.T) {
	h := newHarness(t, nil, 0)
	_, err := h.evaluator.Evaluate(context.Background(), models.AlertTrigger{LevelPct: 5})
	assert.True(t, errs.IsValidation(err))
}

func TestEvaluate_StateIsFoldOfTransitions(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for run := 0; run < 20; run++ {
		h := newHarness(t, []string{"ops@example.com"}, time.Minute)

		want := models.StateNormal
		base := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
		n := 1 + rng.Intn(30)
		for i := 0; i < n; i++ {
			level := float64(rng.Intn(300)) / 10
			ts := base.Add(time.Duration(i*rng.Intn(5)) * time.Minute).Format(models.ReadingTimeLayout)
			res := h.eval(t, level, ts)

			want = NextState(want, level, 10, 2)
			assert.Equal(t, want, res.NewState)
		}
		assert.Equal(t, want, h.state(t).State)
	}
}
