// Package ocr defines the recognition boundary. The engine itself runs as a
// sidecar service; this package only carries bytes to it and text back.
package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Engine turns a prescription image into raw text.
type Engine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// HTTPEngine talks to the recognition sidecar over HTTP.
type HTTPEngine struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

func NewHTTPEngine(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPEngine{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type recognizeResponse struct {
	Text string `json:"text"`
}

// Recognize posts the image to the sidecar. Any failure here fails the whole
// scan upstream.
func (e *HTTPEngine) Recognize(ctx context.Context, image []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/recognize", bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("build recognize request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("ocr engine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("ocr engine returned %d: %s", resp.StatusCode, body)
	}

	var parsed recognizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ocr response: %w", err)
	}
	return parsed.Text, nil
}
