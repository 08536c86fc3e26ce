package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/models"
)

// Store is the subset of the document store the enforcer needs
type Store interface {
	Insert(ctx context.Context, record *models.SensorRecord) error
	CountByKey(ctx context.Context, key models.RetentionKey) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	OldestIDs(ctx context.Context, key models.RetentionKey, limit int) ([]uuid.UUID, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	MarkOverflow(ctx context.Context, id uuid.UUID) error
}

// Result describes what one Persist call did
type Result struct {
	Inserted bool
	Evicted  int64
	Overflow bool
}

// Enforcer keeps every retention window bounded and flags writes made
// while the store is over its global capacity
type Enforcer struct {
	store     Store
	perKeyCap int64
	globalCap int64
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[models.RetentionKey]*keyLock
}

// keyLock serialises Persist calls for one retention window
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewEnforcer creates an enforcer. Both caps must be positive.
func NewEnforcer(store Store, perKeyCap, globalCap int64, logger *zap.Logger) (*Enforcer, error) {
	if perKeyCap <= 0 {
		return nil, fmt.Errorf("per-key cap must be positive, got %d", perKeyCap)
	}
	if globalCap <= 0 {
		return nil, fmt.Errorf("global cap must be positive, got %d", globalCap)
	}
	return &Enforcer{
		store:     store,
		perKeyCap: perKeyCap,
		globalCap: globalCap,
		logger:    logger,
		locks:     make(map[models.RetentionKey]*keyLock),
	}, nil
}

// EvictionBatch is the number of records removed when a window is full
func (e *Enforcer) EvictionBatch() int64 {
	return e.perKeyCap / 5
}

// Persist stores a record while enforcing retention:
//  1. if the record's window already holds perKeyCap records, the oldest
//     perKeyCap/5 are deleted in one batch;
//  2. the record is inserted;
//  3. if the store now holds more than globalCap records, the new record
//     gets the overflow marker. Writes are never refused.
//
// Calls for the same window run one at a time. An insert failure aborts;
// eviction and overflow failures are returned after the remaining steps
// have run.
func (e *Enforcer) Persist(ctx context.Context, record *models.SensorRecord) (Result, error) {
	var result Result
	key := record.Key()

	unlock := e.lock(key)
	defer unlock()

	evicted, evictErr := e.evict(ctx, key)
	if evictErr != nil {
		e.logger.Warn("Retention eviction failed, inserting anyway",
			zap.String("key", key.String()),
			zap.Error(evictErr),
		)
	}
	result.Evicted = evicted

	if err := e.store.Insert(ctx, record); err != nil {
		return result, errors.Join(evictErr, fmt.Errorf("failed to insert record: %w", err))
	}
	result.Inserted = true

	overflow, overflowErr := e.checkOverflow(ctx, record.ID)
	if overflow {
		record.Overflow = true
	}
	result.Overflow = overflow

	return result, errors.Join(evictErr, overflowErr)
}

// lock takes the window's lock and returns its release func. Entries are
// dropped once nobody holds or waits for them.
func (e *Enforcer) lock(key models.RetentionKey) func() {
	e.mu.Lock()
	l, ok := e.locks[key]
	if !ok {
		l = &keyLock{}
		e.locks[key] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, key)
		}
		e.mu.Unlock()
	}
}

func (e *Enforcer) evict(ctx context.Context, key models.RetentionKey) (int64, error) {
	count, err := e.store.CountByKey(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("failed to count records for %s: %w", key, err)
	}
	if count < e.perKeyCap || e.EvictionBatch() == 0 {
		return 0, nil
	}

	ids, err := e.store.OldestIDs(ctx, key, int(e.EvictionBatch()))
	if err != nil {
		return 0, fmt.Errorf("failed to select oldest records for %s: %w", key, err)
	}

	deleted, err := e.store.DeleteByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to delete oldest records for %s: %w", key, err)
	}

	e.logger.Info("Evicted oldest records",
		zap.String("key", key.String()),
		zap.Int64("count_before", count),
		zap.Int64("deleted", deleted),
	)
	return deleted, nil
}

func (e *Enforcer) checkOverflow(ctx context.Context, id uuid.UUID) (bool, error) {
	total, err := e.store.CountAll(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to count records: %w", err)
	}
	if total <= e.globalCap {
		return false, nil
	}

	if err := e.store.MarkOverflow(ctx, id); err != nil {
		return false, fmt.Errorf("failed to mark record %s as overflow: %w", id, err)
	}

	e.logger.Warn("Store exceeds global capacity",
		zap.Int64("total", total),
		zap.Int64("global_cap", e.globalCap),
		zap.String("record_id", id.String()),
	)
	return true, nil
}
