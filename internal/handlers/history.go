package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/models"
)

// HistoryStore is the read side of the document store
type HistoryStore interface {
	History(ctx context.Context, key models.RetentionKey, limit int) ([]models.SensorRecord, error)
	LatestPerLocation(ctx context.Context, owner string) ([]models.SensorRecord, error)
}

// HistoryHandler serves stored sensor records
type HistoryHandler struct {
	Store  HistoryStore
	Limit  int
	Logger *zap.Logger
}

// NewHistoryHandler creates a history handler returning at most limit
// records per location
func NewHistoryHandler(store HistoryStore, limit int, logger *zap.Logger) *HistoryHandler {
	if limit <= 0 {
		limit = 1000
	}
	return &HistoryHandler{
		Store:  store,
		Limit:  limit,
		Logger: logger,
	}
}

// RecordDTO is one stored reading as returned by the history endpoints
type RecordDTO struct {
	ID          string          `json:"id"`
	Email       string          `json:"email"`
	ContainerID string          `json:"container_id"`
	RackID      string          `json:"rack_id"`
	Timestamp   string          `json:"timestamp"` // UTC RFC 3339
	Temperature *float64        `json:"temperature,omitempty"`
	Humidity    *float64        `json:"humidity,omitempty"`
	Methane     *float64        `json:"methane,omitempty"`
	Fruit       string          `json:"fruit"`
	Status      string          `json:"status"`
	Image       json.RawMessage `json:"image"`
	Error       string          `json:"error,omitempty"`
}

func newRecordDTO(r models.SensorRecord) RecordDTO {
	image := json.RawMessage(r.Image)
	if !json.Valid(image) {
		image, _ = json.Marshal(models.MissingImage)
	}

	dto := RecordDTO{
		ID:          r.ID.String(),
		Email:       r.Email,
		ContainerID: r.ContainerID,
		RackID:      r.RackID,
		Timestamp:   r.Timestamp.UTC().Format(time.RFC3339Nano),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Methane:     r.Methane,
		Fruit:       r.Fruit,
		Status:      r.Status,
		Image:       image,
	}
	if r.Overflow {
		dto.Error = models.OverflowMarker
	}
	return dto
}

func toDTOs(records []models.SensorRecord) []RecordDTO {
	out := make([]RecordDTO, 0, len(records))
	for _, r := range records {
		out = append(out, newRecordDTO(r))
	}
	return out
}

// GetHistory handles GET /api/v1/data
// Query parameters (all required): email, container_id, rack_id.
// Returns the newest records of that location in ascending time order.
func (h *HistoryHandler) GetHistory(c *fiber.Ctx) error {
	key := models.RetentionKey{
		Owner:       c.Query("email"),
		ContainerID: c.Query("container_id"),
		RackID:      c.Query("rack_id"),
	}
	if key.Owner == "" || key.ContainerID == "" || key.RackID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "email, container_id and rack_id query parameters are required",
		})
	}

	records, err := h.Store.History(c.UserContext(), key, h.Limit)
	if err != nil {
		h.Logger.Error("Failed to query history",
			zap.String("key", key.String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch history",
		})
	}

	return c.JSON(toDTOs(records))
}

// GetLatest handles GET /api/v1/data/latest?email=
// Returns the most recent record of every (container, rack) the owner has.
func (h *HistoryHandler) GetLatest(c *fiber.Ctx) error {
	owner := c.Query("email")
	if owner == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "email query parameter is required",
		})
	}

	records, err := h.Store.LatestPerLocation(c.UserContext(), owner)
	if err != nil {
		h.Logger.Error("Failed to query latest records",
			zap.String("email", owner),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch latest records",
		})
	}

	return c.JSON(toDTOs(records))
}
