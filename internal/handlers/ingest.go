package handlers

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/classifier"
	"github.com/BatFabn/WarehouseContainerManager/internal/distributor"
	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
	"github.com/BatFabn/WarehouseContainerManager/internal/metrics"
	"github.com/BatFabn/WarehouseContainerManager/internal/models"
)

var (
	errValidation          = errors.New("invalid request")
	errImageNotSupported   = errors.New("image classification is not configured")
	errClassificationError = errors.New("classification failed")
)

// IngestHandler fuses sensor readings into verdicts and publishes them
type IngestHandler struct {
	Engine    *fusion.Engine
	Images    classifier.ImageClassifier
	Publisher distributor.Publisher
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	now       func() time.Time
}

// NewIngestHandler creates an ingest handler. images may be nil, in which
// case requests carrying an image are refused.
func NewIngestHandler(
	engine *fusion.Engine,
	images classifier.ImageClassifier,
	publisher distributor.Publisher,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IngestHandler {
	return &IngestHandler{
		Engine:    engine,
		Images:    images,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
		now:       time.Now,
	}
}

// ingestRequest is the JSON body of /predict and /sensor. Image is base64,
// optionally as a data URL.
type ingestRequest struct {
	ContainerID string   `json:"container_id"`
	RackID      string   `json:"rack_id"`
	Email       string   `json:"email"`
	Fruit       string   `json:"fruit"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Methane     *float64 `json:"methane"`
	Image       string   `json:"image"`

	imageBytes []byte
}

// VerdictResponse is the fused result returned to sensor units
type VerdictResponse struct {
	Fruit   fusion.ProduceType `json:"fruit"`
	Image   models.ImageResult `json:"image"`
	Metrics map[string]string  `json:"metrics"`
}

func newVerdictResponse(v fusion.Verdict) VerdictResponse {
	return VerdictResponse{
		Fruit:   v.Produce,
		Image:   models.ImageResult{Counts: v.Image},
		Metrics: map[string]string{"status": string(v.Status)},
	}
}

// SensorResponse is returned by POST /sensor
type SensorResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Verdict VerdictResponse `json:"verdict"`
}

// Predict handles POST /api/v1/predict: fuse and return the verdict only
func (h *IngestHandler) Predict(c *fiber.Ctx) error {
	event, err := h.parseEvent(c, false)
	if err != nil {
		return h.fail(c, err)
	}

	verdict, err := h.fuse(c.UserContext(), event)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(newVerdictResponse(verdict))
}

// Sensor handles POST /api/v1/sensor: fuse, then publish on the event channel
func (h *IngestHandler) Sensor(c *fiber.Ctx) error {
	event, err := h.parseEvent(c, true)
	if err != nil {
		return h.fail(c, err)
	}

	verdict, err := h.fuse(c.UserContext(), event)
	if err != nil {
		return h.fail(c, err)
	}

	msg := models.NewSensorMessage(event, verdict)
	if err := h.Publisher.Publish(c.UserContext(), msg); err != nil {
		h.Logger.Error("Failed to publish sensor message",
			zap.String("key", msg.Key().String()),
			zap.Error(err),
		)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Event channel unavailable",
		})
	}

	h.Metrics.Ingested.WithLabelValues(string(verdict.Status)).Inc()
	h.Logger.Debug("Sensor reading published",
		zap.String("key", msg.Key().String()),
		zap.String("status", string(verdict.Status)),
	)

	return c.JSON(SensorResponse{
		Status:  "success",
		Message: "Data received!",
		Verdict: newVerdictResponse(verdict),
	})
}

func (h *IngestHandler) fuse(ctx context.Context, event *models.SensorEvent) (fusion.Verdict, error) {
	var counts *fusion.ClassCounts
	if event.HasImage() {
		if h.Images == nil {
			return fusion.Verdict{}, errImageNotSupported
		}
		c, err := h.Images.Classify(ctx, event.Image)
		if err != nil {
			return fusion.Verdict{}, fmt.Errorf("%w: %v", errClassificationError, err)
		}
		counts = &c
	}

	verdict, err := h.Engine.Fuse(ctx, counts, event.Metrics())
	if err != nil {
		return fusion.Verdict{}, fmt.Errorf("%w: %v", errClassificationError, err)
	}
	return verdict, nil
}

func (h *IngestHandler) fail(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, errImageNotSupported):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, errClassificationError):
		h.Logger.Error("Classification failed", zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "Classifier unavailable"})
	}

	h.Logger.Error("Failed to ingest reading", zap.Error(err))
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
}

// parseEvent reads a JSON or multipart body into a SensorEvent
func (h *IngestHandler) parseEvent(c *fiber.Ctx, requireLocation bool) (*models.SensorEvent, error) {
	var (
		req ingestRequest
		err error
	)
	if c.Is("json") {
		req, err = parseJSON(c)
	} else {
		req, err = parseForm(c)
	}
	if err != nil {
		return nil, err
	}

	event := &models.SensorEvent{
		ContainerID: strings.TrimSpace(req.ContainerID),
		RackID:      strings.TrimSpace(req.RackID),
		Email:       strings.TrimSpace(req.Email),
		Temperature: req.Temperature,
		Humidity:    req.Humidity,
		Methane:     req.Methane,
		Timestamp:   h.now().UTC(),
	}

	if requireLocation {
		var missing []string
		if event.ContainerID == "" {
			missing = append(missing, "container_id")
		}
		if event.RackID == "" {
			missing = append(missing, "rack_id")
		}
		if event.Email == "" {
			missing = append(missing, "email")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: missing required fields: %s", errValidation, strings.Join(missing, ", "))
		}
	}

	if fruit := strings.TrimSpace(req.Fruit); fruit != "" {
		produce, err := fusion.ParseProduceType(fruit)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errValidation, err)
		}
		event.Produce = produce
	}

	switch {
	case len(req.imageBytes) > 0:
		event.Image = req.imageBytes
	case req.Image != "":
		event.Image, err = decodeImage(req.Image)
		if err != nil {
			return nil, err
		}
	}

	return event, nil
}

func parseJSON(c *fiber.Ctx) (ingestRequest, error) {
	var req ingestRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fmt.Errorf("%w: malformed JSON body", errValidation)
	}
	return req, nil
}

func parseForm(c *fiber.Ctx) (ingestRequest, error) {
	req := ingestRequest{
		ContainerID: c.FormValue("container_id"),
		RackID:      c.FormValue("rack_id"),
		Email:       c.FormValue("email"),
		Fruit:       c.FormValue("fruit"),
	}

	for field, dst := range map[string]**float64{
		"temperature": &req.Temperature,
		"humidity":    &req.Humidity,
		"methane":     &req.Methane,
	} {
		v, err := formFloat(c, field)
		if err != nil {
			return req, err
		}
		*dst = v
	}

	image, err := formImage(c)
	if err != nil {
		return req, err
	}
	req.imageBytes = image

	return req, nil
}

func formFloat(c *fiber.Ctx, field string) (*float64, error) {
	raw := strings.TrimSpace(c.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("%w: %s must be a finite number", errValidation, field)
	}
	return &v, nil
}

// formImage reads the optional "image" file part
func formImage(c *fiber.Ctx) ([]byte, error) {
	header, err := c.FormFile("image")
	if err != nil {
		return nil, nil
	}
	f, err := header.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image part", errValidation)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image part", errValidation)
	}
	return data, nil
}

func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if _, payload, ok := strings.Cut(s, ","); ok {
			s = payload
		}
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: image must be base64 encoded", errValidation)
	}
	return data, nil
}
