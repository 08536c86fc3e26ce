package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/BatFabn/WarehouseContainerManager/internal/models"
)

// ErrStore marks failures of the document store
var ErrStore = errors.New("store operation failed")

// Store is the keyed document store holding sensor history
type Store interface {
	Insert(ctx context.Context, record *models.SensorRecord) error
	CountByKey(ctx context.Context, key models.RetentionKey) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	OldestIDs(ctx context.Context, key models.RetentionKey, limit int) ([]uuid.UUID, error)
	DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error)
	MarkOverflow(ctx context.Context, id uuid.UUID) error
	History(ctx context.Context, key models.RetentionKey, limit int) ([]models.SensorRecord, error)
	LatestPerLocation(ctx context.Context, owner string) ([]models.SensorRecord, error)
}

// PostgresStore implements Store on top of GORM
type PostgresStore struct {
	db *gorm.DB
}

// NewPostgresStore creates a store using an open GORM connection
func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func wrap(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStore, op, err)
}

// byKey scopes a query to one retention window
func byKey(key models.RetentionKey) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("email = ? AND container_id = ? AND rack_id = ?",
			key.Owner, key.ContainerID, key.RackID)
	}
}

// Insert writes a new record; the id is assigned before the insert
func (s *PostgresStore) Insert(ctx context.Context, record *models.SensorRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return wrap("insert record", err)
	}
	return nil
}

// CountByKey counts the records stored for one retention window
func (s *PostgresStore) CountByKey(ctx context.Context, key models.RetentionKey) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.SensorRecord{}).
		Scopes(byKey(key)).
		Count(&count).Error
	if err != nil {
		return 0, wrap("count records by key", err)
	}
	return count, nil
}

// CountAll counts every stored record
func (s *PostgresStore) CountAll(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.SensorRecord{}).Count(&count).Error; err != nil {
		return 0, wrap("count records", err)
	}
	return count, nil
}

// OldestIDs returns up to limit record ids of a window, oldest first
func (s *PostgresStore) OldestIDs(ctx context.Context, key models.RetentionKey, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).
		Model(&models.SensorRecord{}).
		Scopes(byKey(key)).
		Order("timestamp ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, wrap("select oldest records", err)
	}
	return ids, nil
}

// DeleteByIDs removes the given records in a single statement
func (s *PostgresStore) DeleteByIDs(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.SensorRecord{})
	if result.Error != nil {
		return 0, wrap("delete records", result.Error)
	}
	return result.RowsAffected, nil
}

// MarkOverflow sets the soft overflow marker on a record
func (s *PostgresStore) MarkOverflow(ctx context.Context, id uuid.UUID) error {
	err := s.db.WithContext(ctx).
		Model(&models.SensorRecord{}).
		Where("id = ?", id).
		Update("overflow", true).Error
	if err != nil {
		return wrap("mark overflow", err)
	}
	return nil
}

// History returns the newest limit records of a window in ascending
// timestamp order
func (s *PostgresStore) History(ctx context.Context, key models.RetentionKey, limit int) ([]models.SensorRecord, error) {
	var records []models.SensorRecord
	err := s.db.WithContext(ctx).
		Scopes(byKey(key)).
		Order("timestamp DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, wrap("query history", err)
	}

	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// LatestPerLocation returns the most recent record of every
// (container, rack) pair the owner has data for
func (s *PostgresStore) LatestPerLocation(ctx context.Context, owner string) ([]models.SensorRecord, error) {
	var records []models.SensorRecord
	err := s.db.WithContext(ctx).Raw(`
		SELECT DISTINCT ON (container_id, rack_id) *
		FROM sensor_records
		WHERE email = ?
		ORDER BY container_id, rack_id, timestamp DESC
	`, owner).Scan(&records).Error
	if err != nil {
		return nil, wrap("query latest records", err)
	}
	return records, nil
}

var _ Store = (*PostgresStore)(nil)
