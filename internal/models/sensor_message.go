package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
)

// MissingImage is the wire sentinel used in place of class counts when no
// image was supplied
const MissingImage = "Missing image"

// OverflowMarker is attached to stored records written while the store was
// over its global capacity
const OverflowMarker = "Database storage exceeded"

// ImageResult is either the image class counts or the "Missing image" sentinel
type ImageResult struct {
	Counts *fusion.ClassCounts
}

func (r ImageResult) MarshalJSON() ([]byte, error) {
	if r.Counts == nil {
		return json.Marshal(MissingImage)
	}
	return json.Marshal(r.Counts)
}

func (r *ImageResult) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || data[0] == '"' {
		// Any string (older producers sent "Missing input") means no image.
		r.Counts = nil
		return nil
	}

	var counts fusion.ClassCounts
	if err := json.Unmarshal(data, &counts); err != nil {
		return fmt.Errorf("invalid image counts: %w", err)
	}
	r.Counts = &counts
	return nil
}

// RetentionKey identifies one bounded history window: an owner's rack
// inside a container
type RetentionKey struct {
	Owner       string
	ContainerID string
	RackID      string
}

func (k RetentionKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Owner, k.ContainerID, k.RackID)
}

// SensorMessage is the composed event published on the event channel and
// pushed to real-time subscribers
type SensorMessage struct {
	ContainerID string             `json:"container_id"`
	RackID      string             `json:"rack_id"`
	Email       string             `json:"email,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
	Temperature *float64           `json:"temperature,omitempty"`
	Humidity    *float64           `json:"humidity,omitempty"`
	Methane     *float64           `json:"methane,omitempty"`
	Fruit       fusion.ProduceType `json:"fruit"`
	Status      fusion.Status      `json:"status"`
	Image       ImageResult        `json:"image"`
}

// NewSensorMessage composes the channel message for an ingested event
func NewSensorMessage(event *SensorEvent, verdict fusion.Verdict) *SensorMessage {
	return &SensorMessage{
		ContainerID: event.ContainerID,
		RackID:      event.RackID,
		Email:       event.Email,
		Timestamp:   event.Timestamp,
		Temperature: event.Temperature,
		Humidity:    event.Humidity,
		Methane:     event.Methane,
		Fruit:       verdict.Produce,
		Status:      verdict.Status,
		Image:       ImageResult{Counts: verdict.Image},
	}
}

// ParseSensorMessage decodes and validates a channel payload
func ParseSensorMessage(body []byte) (*SensorMessage, error) {
	var msg SensorMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, err
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the fields every consumer relies on
func (m *SensorMessage) Validate() error {
	if m.ContainerID == "" {
		return errors.New("container_id is required")
	}
	if m.RackID == "" {
		return errors.New("rack_id is required")
	}
	if m.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if _, err := fusion.ParseStatus(string(m.Status)); err != nil {
		return err
	}
	return nil
}

// Key returns the retention window the message belongs to
func (m *SensorMessage) Key() RetentionKey {
	return RetentionKey{
		Owner:       m.Email,
		ContainerID: m.ContainerID,
		RackID:      m.RackID,
	}
}
