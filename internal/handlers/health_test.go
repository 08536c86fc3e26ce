package handlers

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type stubBroker bool

func (b stubBroker) IsHealthy() bool { return bool(b) }

func newPingDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		DisableAutomaticPing: true,
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name         string
		pingErr      error
		broker       BrokerHealth
		wantStatus   int
		wantDatabase string
		wantRabbitMQ string
	}{
		{
			name:         "all healthy",
			broker:       stubBroker(true),
			wantStatus:   fiber.StatusOK,
			wantDatabase: "healthy",
			wantRabbitMQ: "healthy",
		},
		{
			name:         "database down",
			pingErr:      errors.New("connection refused"),
			broker:       stubBroker(true),
			wantStatus:   fiber.StatusServiceUnavailable,
			wantDatabase: "unhealthy: connection refused",
			wantRabbitMQ: "healthy",
		},
		{
			name:         "broker down",
			broker:       stubBroker(false),
			wantStatus:   fiber.StatusServiceUnavailable,
			wantDatabase: "healthy",
			wantRabbitMQ: "unhealthy: connection closed",
		},
		{
			name:         "no broker",
			wantStatus:   fiber.StatusServiceUnavailable,
			wantDatabase: "healthy",
			wantRabbitMQ: "unhealthy: connection closed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newPingDB(t)
			ping := mock.ExpectPing()
			if tt.pingErr != nil {
				ping.WillReturnError(tt.pingErr)
			}

			app := fiber.New()
			app.Get("/health", NewHealthHandler(db, tt.broker, zap.NewNop()).HealthCheck)

			resp := get(t, app, "/health")
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body := decode[HealthResponse](t, resp)
			assert.Equal(t, tt.wantDatabase, body.Services["database"])
			assert.Equal(t, tt.wantRabbitMQ, body.Services["rabbitmq"])
			assert.NotEmpty(t, body.Timestamp)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestHealthCheckWithoutDatabase(t *testing.T) {
	app := fiber.New()
	app.Get("/health", NewHealthHandler(nil, stubBroker(true), zap.NewNop()).HealthCheck)

	resp := get(t, app, "/health")
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	body := decode[HealthResponse](t, resp)
	assert.Equal(t, "unhealthy", body.Status)
}
