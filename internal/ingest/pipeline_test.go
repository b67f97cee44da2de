package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"brinetank-iot/internal/errs"
	"brinetank-iot/internal/models"
	"brinetank-iot/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var fixedNow = time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)

type recordingNotifier struct {
	mu       sync.Mutex
	triggers []models.AlertTrigger
}

func (r *recordingNotifier) Notify(trigger models.AlertTrigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, trigger)
}

type failingReadings struct{}

func (failingReadings) PutReading(context.Context, models.Reading) error {
	return errors.New("throttled")
}

func (failingReadings) ListReadings(context.Context, string, store.ReadingQuery) ([]models.Reading, error) {
	return nil, nil
}

type failingLatest struct{}

func (failingLatest) PutLatest(context.Context, models.LatestSnapshot) error {
	return errors.New("unavailable")
}

func (failingLatest) GetLatest(context.Context, string) (*models.LatestSnapshot, error) {
	return nil, store.ErrNotFound
}

func testOptions() Options {
	return Options{
		Calibration:       DefaultCalibration(),
		RetentionDays:     7,
		AlertPrefilterPct: 10,
		Defaults:          testDefaults,
	}
}

func newTestPipeline(readings store.ReadingStore, latest store.LatestStore, notifier AlertNotifier) *Pipeline {
	p := NewPipeline(readings, latest, notifier, testOptions(), zap.NewNop())
	p.SetClock(func() time.Time { return fixedNow })
	return p
}

func TestPipeline_HalfFullTank(t *testing.T) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := newTestPipeline(mem, mem, notifier)
	ctx := context.Background()

	result, err := p.HandlePayload(ctx, []byte(`{"device":"tank-1","distance_cm":38}`))
	require.NoError(t, err)

	require.NotNil(t, result.History.PercentFull)
	assert.True(t, decimal.NewFromInt(50).Equal(*result.History.PercentFull))
	assert.Equal(t, "2026-10-19T08:30:00Z", result.History.Ts)
	assert.Equal(t, "A02YYUW", result.History.Sensor)
	assert.Equal(t, "cm", result.History.Unit)
	assert.Equal(t, int64(1792398600+7*86400), result.History.TTLEpoch)
	assert.NotEmpty(t, result.History.ID)

	latest, err := mem.GetLatest(ctx, "tank-1")
	require.NoError(t, err)
	assert.Equal(t, result.Latest, *latest)
	assert.Equal(t, result.History.Snapshot(), *latest)

	assert.Empty(t, notifier.triggers)
}

func TestPipeline_LowLevelNotifies(t *testing.T) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := newTestPipeline(mem, mem, notifier)

	_, err := p.HandlePayload(context.Background(), []byte(`{"device":"tank-1","ts":"2026-10-19T06:00:00Z","distance_cm":65}`))
	require.NoError(t, err)

	require.Len(t, notifier.triggers, 1)
	trigger := notifier.triggers[0]
	assert.Equal(t, "tank-1", trigger.SensorID)
	assert.InDelta(t, 7.8, trigger.LevelPct, 1e-9)
	assert.Equal(t, "2026-10-19T06:00:00Z", trigger.Ts)
}

func TestPipeline_PrefilterIsStrict(t *testing.T) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	opts := testOptions()
	opts.AlertPrefilterPct = 50
	p := NewPipeline(mem, mem, notifier, opts, zap.NewNop())

	_, err := p.HandlePayload(context.Background(), []byte(`{"device":"tank-1","distance_cm":38}`))
	require.NoError(t, err)
	assert.Empty(t, notifier.triggers)
}

func TestPipeline_MissingDistance(t *testing.T) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := newTestPipeline(mem, mem, notifier)

	result, err := p.HandlePayload(context.Background(), []byte(`{"device":"tank-1","distance_cm":"abc","temperature_c":4.5}`))
	require.NoError(t, err)
	assert.Nil(t, result.History.DistanceCm)
	assert.Nil(t, result.History.PercentFull)
	assert.Equal(t, "4.5", result.History.TemperatureC.String())
	assert.Empty(t, notifier.triggers)
}

func TestPipeline_MissingDeviceWritesNothing(t *testing.T) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := newTestPipeline(mem, mem, notifier)
	ctx := context.Background()

	_, err := p.HandlePayload(ctx, []byte(`{"distance_cm":65}`))
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	readings, err := mem.ListReadings(ctx, "", store.ReadingQuery{})
	require.NoError(t, err)
	assert.Empty(t, readings)
	assert.Empty(t, notifier.triggers)
}

func TestPipeline_DoubleSubmit(t *testing.T) {
	mem := store.NewMemoryStore()
	p := newTestPipeline(mem, mem, nil)
	ctx := context.Background()
	payload := []byte(`{"device":"tank-1","ts":"2026-10-19T08:00:00Z","distance_cm":38}`)

	first, err := p.HandlePayload(ctx, payload)
	require.NoError(t, err)
	second, err := p.HandlePayload(ctx, payload)
	require.NoError(t, err)
	assert.NotEqual(t, first.History.ID, second.History.ID)

	readings, err := mem.ListReadings(ctx, "tank-1", store.ReadingQuery{})
	require.NoError(t, err)
	assert.Len(t, readings, 2)

	latest, err := mem.GetLatest(ctx, "tank-1")
	require.NoError(t, err)
	assert.Equal(t, second.Latest, *latest)
}

func TestPipeline_HistoryFailureSkipsLatest(t *testing.T) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := newTestPipeline(failingReadings{}, mem, notifier)

	_, err := p.HandlePayload(context.Background(), []byte(`{"device":"tank-1","distance_cm":65}`))
	require.Error(t, err)
	assert.True(t, errs.IsDependency(err))

	_, err = mem.GetLatest(context.Background(), "tank-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Empty(t, notifier.triggers)
}

func TestPipeline_LatestFailureKeepsHistory(t *testing.T) {
	mem := store.NewMemoryStore()
	notifier := &recordingNotifier{}
	p := newTestPipeline(mem, failingLatest{}, notifier)

	_, err := p.HandlePayload(context.Background(), []byte(`{"device":"tank-1","distance_cm":65}`))
	require.Error(t, err)
	assert.True(t, errs.IsDependency(err))

	readings, err := mem.ListReadings(context.Background(), "tank-1", store.ReadingQuery{})
	require.NoError(t, err)
	assert.Len(t, readings, 1)
	assert.Empty(t, notifier.triggers)
}
