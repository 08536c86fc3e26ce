package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BatFabn/WarehouseContainerManager/internal/database"
)

// BrokerHealth reports whether the event channel connection is usable
type BrokerHealth interface {
	IsHealthy() bool
}

// HealthHandler reports the state of the service dependencies
type HealthHandler struct {
	DB     *gorm.DB
	RMQ    BrokerHealth
	Logger *zap.Logger
}

func NewHealthHandler(db *gorm.DB, rmq BrokerHealth, logger *zap.Logger) *HealthHandler {
	return &HealthHandler{
		DB:     db,
		RMQ:    rmq,
		Logger: logger,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles GET /health
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(ctx, h.DB); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	if h.RMQ == nil || !h.RMQ.IsHealthy() {
		services["rabbitmq"] = "unhealthy: connection closed"
		status = "unhealthy"
	} else {
		services["rabbitmq"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		h.Logger.Warn("Health check failed", zap.Any("services", services))
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}

	return c.JSON(response)
}
