package store

import (
	"context"
	"sort"
	"sync"

	"brinetank-iot/internal/models"
)

// MemoryStore 内存实现（STORE_BACKEND=memory，本地调试和单元测试使用）
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[string][]models.Reading // device -> readings（按写入顺序）
	latest   map[string]models.LatestSnapshot
	sensors  map[string]models.SensorAlert
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings: map[string][]models.Reading{},
		latest:   map[string]models.LatestSnapshot{},
		sensors:  map[string]models.SensorAlert{},
	}
}

// Stores 以 Stores 形式暴露
func (m *MemoryStore) Stores() *Stores {
	return &Stores{Readings: m, Latest: m, Sensors: m}
}

func (m *MemoryStore) PutReading(_ context.Context, reading models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[reading.Device] = append(m.readings[reading.Device], reading)
	return nil
}

func (m *MemoryStore) ListReadings(_ context.Context, device string, q ReadingQuery) ([]models.Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Reading, 0, len(m.readings[device]))
	for _, r := range m.readings[device] {
		if q.From != "" && r.Ts < q.From {
			continue
		}
		if q.To != "" && r.Ts > q.To {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Ts < out[j].Ts })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// PurgeExpired 删除 ttl_epoch 早于 now 的记录，返回删除数量
func (m *MemoryStore) PurgeExpired(_ context.Context, now int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var purged int64
	for device, list := range m.readings {
		kept := list[:0]
		for _, r := range list {
			if r.TTLEpoch > 0 && r.TTLEpoch < now {
				purged++
				continue
			}
			kept = append(kept, r)
		}
		m.readings[device] = kept
	}
	return purged, nil
}

func (m *MemoryStore) PutLatest(_ context.Context, snapshot models.LatestSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[snapshot.Device] = snapshot
	return nil
}

func (m *MemoryStore) GetLatest(_ context.Context, device string) (*models.LatestSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.latest[device]
	if !ok {
		return nil, ErrNotFound
	}
	return &snapshot, nil
}

func (m *MemoryStore) GetSensorAlert(_ context.Context, sensorID string) (*models.SensorAlert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sensors[sensorID]
	if !ok {
		return models.NewSensorAlert(sensorID), nil
	}
	s.Recipients = append([]string(nil), s.Recipients...)
	return &s, nil
}

func (m *MemoryStore) SaveSensorState(_ context.Context, state models.SensorAlert) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.sensors[state.SensorID]
	if exists && current.Version != state.Version {
		return 0, ErrConflict
	}
	if !exists && state.Version != 0 {
		return 0, ErrConflict
	}

	next := state
	next.Recipients = current.Recipients
	next.Version = current.Version + 1
	m.sensors[state.SensorID] = next
	return next.Version, nil
}

func (m *MemoryStore) GetRecipients(_ context.Context, sensorID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.sensors[sensorID].Recipients...), nil
}

func (m *MemoryStore) UpsertSensorConfig(_ context.Context, cfg models.SensorConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, exists := m.sensors[cfg.SensorID]
	if !exists {
		current = *models.NewSensorAlert(cfg.SensorID)
	}
	current.Recipients = append([]string(nil), cfg.Recipients...)
	current.ThresholdPct = cfg.ThresholdPct
	current.HysteresisPct = cfg.HysteresisPct
	current.Cooldown = cfg.Cooldown
	current.Version++
	m.sensors[cfg.SensorID] = current
	return nil
}
