package classifier

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
)

// Band is the pair of limits for one reading. A reading at or above
// EarlySpoilage flags early spoilage, at or above Spoiled flags spoilage.
// A zero limit is not checked.
type Band struct {
	EarlySpoilage float64 `yaml:"early_spoilage"`
	Spoiled       float64 `yaml:"spoiled"`
}

func (b Band) label(v float64) fusion.NumericLabel {
	switch {
	case b.Spoiled > 0 && v >= b.Spoiled:
		return fusion.LabelSpoiled
	case b.EarlySpoilage > 0 && v >= b.EarlySpoilage:
		return fusion.LabelEarlySpoilage
	}
	return fusion.LabelFresh
}

func (b Band) validate() error {
	if b.EarlySpoilage < 0 || b.Spoiled < 0 {
		return fmt.Errorf("limits must not be negative")
	}
	if b.EarlySpoilage > 0 && b.Spoiled > 0 && b.EarlySpoilage > b.Spoiled {
		return fmt.Errorf("early_spoilage limit %.2f is above spoiled limit %.2f", b.EarlySpoilage, b.Spoiled)
	}
	return nil
}

// Thresholds holds the limits for one produce type
type Thresholds struct {
	Temperature Band `yaml:"temperature"`
	Humidity    Band `yaml:"humidity"`
	Methane     Band `yaml:"methane"`
}

// ThresholdTable maps produce types to their limits
type ThresholdTable map[fusion.ProduceType]Thresholds

// DefaultThresholds is used when no threshold file is configured
func DefaultThresholds() ThresholdTable {
	return ThresholdTable{
		fusion.Apple: {
			Temperature: Band{EarlySpoilage: 25, Spoiled: 32},
			Humidity:    Band{EarlySpoilage: 85, Spoiled: 95},
			Methane:     Band{EarlySpoilage: 1.5, Spoiled: 3},
		},
		fusion.Banana: {
			Temperature: Band{EarlySpoilage: 24, Spoiled: 30},
			Humidity:    Band{EarlySpoilage: 80, Spoiled: 92},
			Methane:     Band{EarlySpoilage: 1.2, Spoiled: 2.5},
		},
		fusion.Orange: {
			Temperature: Band{EarlySpoilage: 27, Spoiled: 34},
			Humidity:    Band{EarlySpoilage: 88, Spoiled: 96},
			Methane:     Band{EarlySpoilage: 1.8, Spoiled: 3.5},
		},
	}
}

// LoadThresholds reads a YAML threshold table:
//
//	apple:
//	  temperature: {early_spoilage: 25, spoiled: 32}
//	  methane: {early_spoilage: 1.5, spoiled: 3}
func LoadThresholds(path string) (ThresholdTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read threshold file: %w", err)
	}
	return ParseThresholds(data)
}

// ParseThresholds decodes and validates a YAML threshold table
func ParseThresholds(data []byte) (ThresholdTable, error) {
	var raw map[string]Thresholds
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse threshold file: %w", err)
	}

	table := make(ThresholdTable, len(raw))
	for name, th := range raw {
		produce, err := fusion.ParseProduceType(name)
		if err != nil {
			return nil, err
		}
		for reading, band := range map[string]Band{
			"temperature": th.Temperature,
			"humidity":    th.Humidity,
			"methane":     th.Methane,
		} {
			if err := band.validate(); err != nil {
				return nil, fmt.Errorf("%s %s: %w", produce, reading, err)
			}
		}
		table[produce] = th
	}

	if len(table) == 0 {
		return nil, fmt.Errorf("threshold file defines no produce types")
	}
	return table, nil
}

// ThresholdClassifier labels readings against a local threshold table.
// The worst label across the three readings wins.
type ThresholdClassifier struct {
	table ThresholdTable
}

func NewThresholdClassifier(table ThresholdTable) *ThresholdClassifier {
	return &ThresholdClassifier{table: table}
}

func (c *ThresholdClassifier) Classify(ctx context.Context, produce fusion.ProduceType, r fusion.Readings) (fusion.NumericLabel, error) {
	th, ok := c.table[produce]
	if !ok {
		return "", fmt.Errorf("%w: no thresholds for produce %q", ErrClassifier, produce)
	}

	result := fusion.LabelFresh
	for _, label := range []fusion.NumericLabel{
		th.Temperature.label(r.Temperature),
		th.Humidity.label(r.Humidity),
		th.Methane.label(r.Methane),
	} {
		if severity(label) > severity(result) {
			result = label
		}
	}
	return result, nil
}

func severity(l fusion.NumericLabel) int {
	switch l {
	case fusion.LabelSpoiled:
		return 2
	case fusion.LabelEarlySpoilage:
		return 1
	}
	return 0
}

var _ fusion.NumericClassifier = (*ThresholdClassifier)(nil)
