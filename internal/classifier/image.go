package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"

	"go.uber.org/zap"

	"github.com/BatFabn/WarehouseContainerManager/internal/fusion"
)

// ImageClassifier turns an image into per-class detection counts
type ImageClassifier interface {
	Classify(ctx context.Context, image []byte) (fusion.ClassCounts, error)
}

// HTTPImageClassifier uploads the image to a model server as multipart form
// data and expects a JSON object of label -> count in return
type HTTPImageClassifier struct {
	http *httpClient
}

func NewHTTPImageClassifier(cfg Config, logger *zap.Logger) (*HTTPImageClassifier, error) {
	c, err := newHTTPClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &HTTPImageClassifier{http: c}, nil
}

func (c *HTTPImageClassifier) Classify(ctx context.Context, image []byte) (fusion.ClassCounts, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("image", "frame.jpg")
	if err != nil {
		return fusion.ClassCounts{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	if _, err := part.Write(image); err != nil {
		return fusion.ClassCounts{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	if err := w.Close(); err != nil {
		return fusion.ClassCounts{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}

	body, err := c.http.post(ctx, w.FormDataContentType(), buf.Bytes())
	if err != nil {
		return fusion.ClassCounts{}, err
	}

	var raw map[string]int
	if err := json.Unmarshal(body, &raw); err != nil {
		return fusion.ClassCounts{}, fmt.Errorf("%w: invalid response: %v", ErrClassifier, err)
	}

	counts, err := fusion.ParseClassCounts(raw)
	if err != nil {
		return fusion.ClassCounts{}, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	return counts, nil
}
