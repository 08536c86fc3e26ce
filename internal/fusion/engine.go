package fusion

import (
	"context"
	"fmt"
)

// Readings is a complete set of numeric sensor readings
type Readings struct {
	Temperature float64
	Humidity    float64
	Methane     float64
}

// Metrics is the numeric half of a sensor event. Any reading may be absent.
// Produce is the optional produce hint; the zero value means no hint.
type Metrics struct {
	Produce     ProduceType
	Temperature *float64
	Humidity    *float64
	Methane     *float64
}

// readings returns the readings only when all three are present
func (m *Metrics) readings() (Readings, bool) {
	if m == nil || m.Temperature == nil || m.Humidity == nil || m.Methane == nil {
		return Readings{}, false
	}
	return Readings{
		Temperature: *m.Temperature,
		Humidity:    *m.Humidity,
		Methane:     *m.Methane,
	}, true
}

func (m *Metrics) hint() ProduceType {
	if m == nil || !m.Produce.Known() {
		return ""
	}
	return m.Produce
}

// NumericClassifier labels a set of readings for a known produce type
type NumericClassifier interface {
	Classify(ctx context.Context, produce ProduceType, readings Readings) (NumericLabel, error)
}

// Engine fuses image and numeric evidence into a single verdict
type Engine struct {
	numeric NumericClassifier
}

// NewEngine creates a fusion engine backed by the given numeric classifier
func NewEngine(numeric NumericClassifier) *Engine {
	return &Engine{numeric: numeric}
}

// Fuse computes the verdict for one event. counts is nil when no image was
// supplied; metrics is nil when the event carried no numeric fields at all.
// The only error source is the numeric classifier.
func (e *Engine) Fuse(ctx context.Context, counts *ClassCounts, metrics *Metrics) (Verdict, error) {
	hint := metrics.hint()
	produce, image := imageEvidence(counts, hint)

	numeric := NumericMissing
	if readings, ok := metrics.readings(); ok && produce.Known() {
		label, err := e.numeric.Classify(ctx, produce, readings)
		if err != nil {
			return Verdict{}, fmt.Errorf("numeric classification failed: %w", err)
		}
		numeric = NumericStatus(label)
	}

	return Verdict{
		Produce: produce,
		Image:   counts,
		Status:  Decide(image, numeric),
	}, nil
}

// imageEvidence resolves the produce type and the image-based status.
// A known hint is authoritative for the produce type and restricts the
// candidate classes to that fruit; without one the global arg-max decides both.
func imageEvidence(counts *ClassCounts, hint ProduceType) (ProduceType, ImageStatus) {
	produce := UnknownProduce
	if hint != "" {
		produce = hint
	}
	if counts == nil {
		return produce, ImageMissing
	}

	keep := func(ProduceClass) bool { return true }
	if hint != "" {
		keep = func(c ProduceClass) bool { return c.Produce() == hint }
	}

	winner, ok := counts.argMax(keep)
	if !ok {
		return produce, ImageMissing
	}
	if hint == "" {
		produce = winner.Produce()
	}
	return produce, ImageStatus(winner.Freshness())
}

// Decide applies the fusion precedence. Early spoilage from the sensors
// outranks everything, and a spoiled signal from either side outranks fresh.
func Decide(image ImageStatus, numeric NumericStatus) Status {
	switch {
	case numeric == NumericEarlySpoilage:
		return StatusEarlySpoilage
	case image == ImageSpoiled || numeric == NumericSpoiled:
		return StatusSpoiled
	case image == ImageMissing && numeric == NumericMissing:
		return StatusMissingImageAndMetrics
	case image == ImageFresh || numeric == NumericFresh:
		return StatusFresh
	default:
		return StatusUnknown
	}
}
