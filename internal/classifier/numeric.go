package classifier

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
)

type numericRequest struct {
	Fruit       fusion.ProduceType `json:"fruit"`
	Temperature float64            `json:"temperature"`
	Humidity    float64            `json:"humidity"`
	Methane     float64            `json:"methane"`
}

type numericResponse struct {
	Status string `json:"status"`
}

// HTTPNumericClassifier asks a model server for the freshness label of a
// set of readings
type HTTPNumericClassifier struct {
	http *httpClient
}

func NewHTTPNumericClassifier(cfg Config, logger *zap.Logger) (*HTTPNumericClassifier, error) {
	c, err := newHTTPClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPNumericClassifier{http: c}, nil
}

func (c *HTTPNumericClassifier) Classify(ctx context.Context, produce fusion.ProduceType, r fusion.Readings) (fusion.NumericLabel, error) {
	payload, err := json.Marshal(numericRequest{
		Fruit:       produce,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Methane:     r.Methane,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to marshal payload: %v", ErrClassifier, err)
	}

	body, err := c.http.post(ctx, "application/json", payload)
	if err != nil {
		return "", err
	}

	var resp numericResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: invalid response: %v", ErrClassifier, err)
	}

	label, err := fusion.ParseNumericLabel(resp.Status)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	return label, nil
}

var _ fusion.NumericClassifier = (*HTTPNumericClassifier)(nil)
