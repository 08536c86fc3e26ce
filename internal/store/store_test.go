package store

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BatFabn/WarehouseContainerManager/internal/models"
)

var testKey = models.RetentionKey{Owner: "owner@example.com", ContainerID: "c1", RackID: "r1"}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	return NewPostgresStore(db), mock
}

func TestInsertAssignsID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sensor_records"`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.SensorRecord{
		Email:       testKey.Owner,
		ContainerID: testKey.ContainerID,
		RackID:      testKey.RackID,
		Timestamp:   time.Now().UTC(),
		Fruit:       "apple",
		Status:      "Fresh",
		Image:       `"Missing image"`,
	}
	require.NoError(t, s.Insert(context.Background(), record))
	assert.NotEqual(t, uuid.Nil, record.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWrapsError(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "sensor_records"`)).
		WillReturnError(errors.New("disk full"))

	err := s.Insert(context.Background(), &models.SensorRecord{Image: `"Missing image"`})
	assert.ErrorIs(t, err, ErrStore)
	assert.ErrorContains(t, err, "disk full")
}

func TestCountByKey(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "sensor_records" WHERE email = $1 AND container_id = $2 AND rack_id = $3`)).
		WithArgs(testKey.Owner, testKey.ContainerID, testKey.RackID).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(42))

	count, err := s.CountByKey(context.Background(), testKey)
	require.NoError(t, err)
	assert.Equal(t, int64(42), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountAll(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "sensor_records"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.CountAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOldestIDs(t *testing.T) {
	s, mock := newMockStore(t)
	first, second := uuid.New(), uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT "id" FROM "sensor_records" WHERE email = $1 AND container_id = $2 AND rack_id = $3 ORDER BY timestamp ASC LIMIT`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).
			AddRow(first.String()).
			AddRow(second.String()))

	ids, err := s.OldestIDs(context.Background(), testKey, 2)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{first, second}, ids)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByIDs(t *testing.T) {
	s, mock := newMockStore(t)
	first, second := uuid.New(), uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM "sensor_records" WHERE id IN ($1,$2)`)).
		WithArgs(first.String(), second.String()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	deleted, err := s.DeleteByIDs(context.Background(), []uuid.UUID{first, second})
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteByIDsEmpty(t *testing.T) {
	s, mock := newMockStore(t)

	deleted, err := s.DeleteByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkOverflow(t *testing.T) {
	s, mock := newMockStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "sensor_records" SET "overflow"=$1 WHERE id = $2`)).
		WithArgs(true, id.String()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.MarkOverflow(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryReturnsAscendingOrder(t *testing.T) {
	s, mock := newMockStore(t)
	newer := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	older := newer.Add(-time.Minute)
	columns := []string{"id", "email", "container_id", "rack_id", "timestamp", "fruit", "status", "image", "overflow"}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "sensor_records" WHERE email = $1 AND container_id = $2 AND rack_id = $3 ORDER BY timestamp DESC LIMIT`)).
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(uuid.New().String(), testKey.Owner, "c1", "r1", newer, "apple", "Fresh", `"Missing image"`, false).
			AddRow(uuid.New().String(), testKey.Owner, "c1", "r1", older, "apple", "Spoiled", `"Missing image"`, true))

	records, err := s.History(context.Background(), testKey, 1000)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, older, records[0].Timestamp)
	assert.Equal(t, "Spoiled", records[0].Status)
	assert.True(t, records[0].Overflow)
	assert.Equal(t, newer, records[1].Timestamp)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLatestPerLocation(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT DISTINCT ON \(container_id, rack_id\) \*\s+FROM sensor_records\s+WHERE email = \$1`).
		WithArgs(testKey.Owner).
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "container_id", "rack_id", "status"}).
			AddRow(uuid.New().String(), testKey.Owner, "c1", "r1", "Fresh").
			AddRow(uuid.New().String(), testKey.Owner, "c1", "r2", "Spoiled"))

	records, err := s.LatestPerLocation(context.Background(), testKey.Owner)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "r2", records[1].RackID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
