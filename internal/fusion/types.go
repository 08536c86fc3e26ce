package fusion

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProduceType identifies the kind of produce stored in a container
type ProduceType string

const (
	Apple          ProduceType = "apple"
	Banana         ProduceType = "banana"
	Orange         ProduceType = "orange"
	UnknownProduce ProduceType = "Unknown"
)

var knownProduce = []ProduceType{Apple, Banana, Orange}

// ParseProduceType parses a produce name (case-insensitive, optional plural)
// Returns an error for anything other than apple, banana or orange
func ParseProduceType(name string) (ProduceType, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimSuffix(name, "s")

	for _, p := range knownProduce {
		if string(p) == name {
			return p, nil
		}
	}

	return "", fmt.Errorf("unknown produce type: %q", name)
}

// Known reports whether p is one of the three classifiable produce types
func (p ProduceType) Known() bool {
	return p == Apple || p == Banana || p == Orange
}

// Freshness is the visual freshness prefix of an image class
type Freshness string

const (
	Fresh   Freshness = "Fresh"
	Spoiled Freshness = "Spoiled"
)

// ProduceClass is one of the six image classes (freshness x produce).
// Declaration order doubles as the tie-break order for arg-max.
type ProduceClass int

const (
	FreshApple ProduceClass = iota
	FreshBanana
	FreshOrange
	SpoiledApple
	SpoiledBanana
	SpoiledOrange
)

// NumClasses is the number of image classes
const NumClasses = 6

var classNames = [NumClasses]string{
	"fresh_apple",
	"fresh_banana",
	"fresh_orange",
	"spoiled_apple",
	"spoiled_banana",
	"spoiled_orange",
}

var classProduce = [NumClasses]ProduceType{Apple, Banana, Orange, Apple, Banana, Orange}

func (c ProduceClass) String() string {
	if c < 0 || int(c) >= NumClasses {
		return fmt.Sprintf("ProduceClass(%d)", int(c))
	}
	return classNames[c]
}

// Produce returns the fruit of the class
func (c ProduceClass) Produce() ProduceType {
	return classProduce[c]
}

// Freshness returns the freshness prefix of the class
func (c ProduceClass) Freshness() Freshness {
	if c >= SpoiledApple {
		return Spoiled
	}
	return Fresh
}

// ParseProduceClass parses canonical labels ("spoiled_banana") as well as the
// classifier's legacy labels ("Spoiled_bananas", and its misspelled
// "Spolied_oranges")
func ParseProduceClass(label string) (ProduceClass, error) {
	prefix, fruit, ok := strings.Cut(strings.ToLower(strings.TrimSpace(label)), "_")
	if !ok {
		return 0, fmt.Errorf("invalid produce class label: %q", label)
	}

	produce, err := ParseProduceType(fruit)
	if err != nil {
		return 0, fmt.Errorf("invalid produce class label %q: %w", label, err)
	}

	var offset ProduceClass
	switch prefix {
	case "fresh":
		offset = FreshApple
	case "spoiled", "spolied":
		offset = SpoiledApple
	default:
		return 0, fmt.Errorf("invalid freshness in produce class label: %q", label)
	}

	for i, p := range knownProduce {
		if p == produce {
			return offset + ProduceClass(i), nil
		}
	}
	return 0, fmt.Errorf("invalid produce class label: %q", label)
}

// ClassCounts holds the per-class object counts reported by the image classifier
type ClassCounts [NumClasses]int

// ParseClassCounts converts a label->count mapping into ClassCounts.
// Labels may repeat in different spellings; their counts are summed.
func ParseClassCounts(raw map[string]int) (ClassCounts, error) {
	var counts ClassCounts
	for label, n := range raw {
		class, err := ParseProduceClass(label)
		if err != nil {
			return ClassCounts{}, err
		}
		if n < 0 {
			return ClassCounts{}, fmt.Errorf("negative count %d for class %s", n, class)
		}
		counts[class] += n
	}
	return counts, nil
}

// Map returns the counts keyed by canonical class label
func (c ClassCounts) Map() map[string]int {
	out := make(map[string]int, NumClasses)
	for i, n := range c {
		out[classNames[i]] = n
	}
	return out
}

func (c ClassCounts) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

func (c *ClassCounts) UnmarshalJSON(data []byte) error {
	var raw map[string]int
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	counts, err := ParseClassCounts(raw)
	if err != nil {
		return err
	}
	*c = counts
	return nil
}

// argMax returns the class with the highest non-zero count among those
// accepted by keep. Ties go to the earliest declared class.
func (c ClassCounts) argMax(keep func(ProduceClass) bool) (ProduceClass, bool) {
	best, found := ProduceClass(0), false
	for i, n := range c {
		class := ProduceClass(i)
		if n <= 0 || !keep(class) {
			continue
		}
		if !found || n > c[best] {
			best, found = class, true
		}
	}
	return best, found
}

// Status is the fused spoilage verdict
type Status string

const (
	StatusFresh                  Status = "Fresh"
	StatusEarlySpoilage          Status = "EarlySpoilage"
	StatusSpoiled                Status = "Spoiled"
	StatusUnknown                Status = "Unknown"
	StatusMissingImageAndMetrics Status = "MissingImageAndMetrics"
)

// ParseStatus parses a verdict status as it appears on the event channel
func ParseStatus(name string) (Status, error) {
	for _, s := range []Status{
		StatusFresh,
		StatusEarlySpoilage,
		StatusSpoiled,
		StatusUnknown,
		StatusMissingImageAndMetrics,
	} {
		if string(s) == name {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown spoilage status: %q", name)
}

// IsSpoilage reports whether the status should raise an alert
func (s Status) IsSpoilage() bool {
	return s == StatusEarlySpoilage || s == StatusSpoiled
}

// NumericLabel is the three-way output of the numeric classifier
type NumericLabel string

const (
	LabelFresh         NumericLabel = "Fresh"
	LabelEarlySpoilage NumericLabel = "EarlySpoilage"
	LabelSpoiled       NumericLabel = "Spoiled"
)

// ParseNumericLabel accepts "EarlySpoilage" as well as the model server's
// "Early Spoilage"
func ParseNumericLabel(name string) (NumericLabel, error) {
	switch strings.ReplaceAll(strings.TrimSpace(name), " ", "") {
	case string(LabelFresh):
		return LabelFresh, nil
	case string(LabelEarlySpoilage):
		return LabelEarlySpoilage, nil
	case string(LabelSpoiled):
		return LabelSpoiled, nil
	}
	return "", fmt.Errorf("unknown numeric label: %q", name)
}

// ImageStatus is the evidence contributed by the image classification
type ImageStatus string

const (
	ImageFresh   ImageStatus = "Fresh"
	ImageSpoiled ImageStatus = "Spoiled"
	ImageMissing ImageStatus = "missing image"
)

// NumericStatus is the evidence contributed by the numeric classifier
type NumericStatus string

const (
	NumericFresh         NumericStatus = "Fresh"
	NumericEarlySpoilage NumericStatus = "EarlySpoilage"
	NumericSpoiled       NumericStatus = "Spoiled"
	NumericMissing       NumericStatus = "missing metrics"
)

// Verdict is the fused result for one sensor event
type Verdict struct {
	Produce ProduceType
	// Image is nil when no image was supplied
	Image  *ClassCounts
	Status Status
}
