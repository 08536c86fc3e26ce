package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/BatFabn/WarehouseContainerManager/internal/models"
)

// MemoryStore is an in-process Store keeping records in insertion order
type MemoryStore struct {
	mu      sync.RWMutex
	records []models.SensorRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Insert(ctx context.Context, record *models.SensorRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	m.records = append(m.records, *record)
	return nil
}

func (m *MemoryStore) CountByKey(ctx context.Context, key models.RetentionKey) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.byKey(key))), nil
}

func (m *MemoryStore) CountAll(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.records)), nil
}

func (m *MemoryStore) OldestIDs(ctx context.Context, key models.RetentionKey, limit int) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.byKey(key)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	if limit < len(records) {
		records = records[:limit]
	}

	ids := make([]uuid.UUID, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *MemoryStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	drop := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	kept := m.records[:0]
	for _, r := range m.records {
		if _, ok := drop[r.ID]; !ok {
			kept = append(kept, r)
		}
	}
	deleted := int64(len(m.records) - len(kept))
	m.records = kept
	return deleted, nil
}

func (m *MemoryStore) MarkOverflow(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Overflow = true
		}
	}
	return nil
}

func (m *MemoryStore) History(ctx context.Context, key models.RetentionKey, limit int) ([]models.SensorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.byKey(key)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	if limit < len(records) {
		records = records[len(records)-limit:]
	}
	return records, nil
}

func (m *MemoryStore) LatestPerLocation(ctx context.Context, owner string) ([]models.SensorRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	latest := make(map[[2]string]models.SensorRecord)
	for _, r := range m.records {
		if r.Email != owner {
			continue
		}
		loc := [2]string{r.ContainerID, r.RackID}
		if cur, ok := latest[loc]; !ok || r.Timestamp.After(cur.Timestamp) {
			latest[loc] = r
		}
	}

	out := make([]models.SensorRecord, 0, len(latest))
	for _, r := range latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ContainerID != out[j].ContainerID {
			return out[i].ContainerID < out[j].ContainerID
		}
		return out[i].RackID < out[j].RackID
	})
	return out, nil
}

// Records returns a copy of everything stored
func (m *MemoryStore) Records() []models.SensorRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.SensorRecord(nil), m.records...)
}

// byKey copies the records of one window; callers hold the lock
func (m *MemoryStore) byKey(key models.RetentionKey) []models.SensorRecord {
	var out []models.SensorRecord
	for _, r := range m.records {
		if r.Key() == key {
			out = append(out, r)
		}
	}
	return out
}

var _ Store = (*MemoryStore)(nil)
