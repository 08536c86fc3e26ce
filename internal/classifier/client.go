package classifier

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ErrClassifier is returned when a model server could not produce a result
var ErrClassifier = errors.New("classifier request failed")

const maxResponseBodySize = 64 * 1024

// Config holds the settings shared by the HTTP classifier clients
type Config struct {
	URL            string
	Secret         string
	TimeoutSeconds int
}

// httpClient posts a body to a model server and returns the response body
type httpClient struct {
	url    string
	secret string
	client *http.Client
	logger *zap.Logger
}

func newHTTPClient(cfg Config, logger *zap.Logger) (*httpClient, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("classifier url is required")
	}
	timeout := cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 10
	}
	return &httpClient{
		url:    cfg.URL,
		secret: cfg.Secret,
		client: &http.Client{Timeout: time.Duration(timeout) * time.Second},
		logger: logger,
	}, nil
}

func (c *httpClient) post(ctx context.Context, contentType string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create HTTP request: %v", ErrClassifier, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	if c.secret != "" {
		signature, err := GenerateHMACSignature(payload, c.secret)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to sign request: %v", ErrClassifier, err)
		}
		req.Header.Set(SignatureHeader, signature)
	}

	startTime := time.Now()
	resp, err := c.client.Do(req)
	latency := time.Since(startTime)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrClassifier, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", ErrClassifier, err)
	}

	c.logger.Debug("Classifier responded",
		zap.String("url", c.url),
		zap.Int("http_status", resp.StatusCode),
		zap.Duration("latency", latency),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		summary := string(body)
		if len(summary) > 500 {
			summary = summary[:500] + "..."
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrClassifier, resp.StatusCode, summary)
	}

	return body, nil
}
