package models

import (
	"time"

	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
)

// SensorEvent is one reading as received by the ingestion endpoints.
// It is not modified after the handler builds it.
type SensorEvent struct {
	ContainerID string
	RackID      string
	// Email identifies the owning account and is also where alerts go
	Email       string
	Temperature *float64
	Humidity    *float64
	Methane     *float64
	Produce     fusion.ProduceType
	Image       []byte
	Timestamp   time.Time
}

// Metrics returns the numeric half of the event for the fusion engine,
// or nil when the event carries neither readings nor a produce hint
func (e *SensorEvent) Metrics() *fusion.Metrics {
	if e.Produce == "" && e.Temperature == nil && e.Humidity == nil && e.Methane == nil {
		return nil
	}
	return &fusion.Metrics{
		Produce:     e.Produce,
		Temperature: e.Temperature,
		Humidity:    e.Humidity,
		Methane:     e.Methane,
	}
}

// HasImage reports whether image bytes were supplied
func (e *SensorEvent) HasImage() bool {
	return len(e.Image) > 0
}
