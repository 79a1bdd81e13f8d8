// Package backend talks to the detection backend's HTTP endpoints.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Client calls the detection backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "backend_client").Logger(),
	}
}

// IntroduceAnomaly asks the backend to inject an anomalous sample into the
// stream. The response body is returned for logging only.
func (c *Client) IntroduceAnomaly(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/introduce_anomaly", nil)
	if err != nil {
		return nil, fmt.Errorf("build introduce_anomaly request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("introduce_anomaly request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read introduce_anomaly response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, fmt.Errorf("introduce_anomaly returned status %d", resp.StatusCode)
	}

	c.logger.Info().RawJSON("response", jsonOrString(body)).Msg("Backend accepted anomaly injection")
	return body, nil
}

// jsonOrString keeps JSON bodies structured in the log line.
func jsonOrString(body []byte) []byte {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && json.Valid(trimmed) {
		return trimmed
	}
	quoted, _ := json.Marshal(string(trimmed))
	return quoted
}
