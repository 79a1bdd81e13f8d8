// Package healer fetches mitigation suggestions from the healing service.
package healer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
	"github.com/rs/zerolog"
)

// Response formats.
const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatText = "text"
)

const maxBodyBytes = 1 << 20

var (
	// ErrEmptyMitigation is returned when a response carries no text.
	ErrEmptyMitigation = errors.New("healing service returned no mitigation")
	// ErrServiceReported wraps errors the healing service reports in its body.
	ErrServiceReported = errors.New("healing service reported an error")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("healing service returned status %d: %s", e.StatusCode, e.Body)
}

// Client calls GET /heal on the healing service.
type Client struct {
	baseURL    string
	format     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a client for baseURL. format is one of FormatAuto,
// FormatJSON or FormatText; anything else is treated as FormatAuto.
func NewClient(baseURL string, timeout time.Duration, format string, logger zerolog.Logger) *Client {
	switch format {
	case FormatJSON, FormatText:
	default:
		format = FormatAuto
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		format:     format,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "healer_client").Logger(),
	}
}

// Mitigation asks the healing service for a recommendation for features.
func (c *Client) Mitigation(ctx context.Context, features telemetry.FeatureVector) (string, error) {
	encoded, err := features.Encode()
	if err != nil {
		return "", fmt.Errorf("encode features: %w", err)
	}

	endpoint := c.baseURL + "/heal?" + url.Values{"anomaly": {encoded}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("build heal request: %w", err)
	}
	req.Header.Set("Accept", "application/json, text/plain")

	c.logger.Debug().Int("features", len(features)).Msg("Requesting mitigation")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("heal request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read heal response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: excerpt(body)}
	}

	return c.decode(body)
}

// decode handles the response variants the healing service has shipped:
// {"raw_output": ...}, {"mitigation_strategy": ...}, {"error": ...}, a JSON
// string and plain text.
func (c *Client) decode(body []byte) (string, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return "", ErrEmptyMitigation
	}

	if c.format != FormatText {
		text, handled, err := decodeJSON(trimmed)
		if handled {
			return text, err
		}
		if c.format == FormatJSON {
			return "", fmt.Errorf("healing service returned non-JSON body: %s", excerpt(trimmed))
		}
	}

	text := string(trimmed)
	if err := reportedError(text); err != nil {
		return "", err
	}
	return text, nil
}

// reportedError returns ErrServiceReported for "Error: ..." texts.
func reportedError(s string) error {
	if !strings.HasPrefix(s, "Error:") {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrServiceReported, strings.TrimSpace(strings.TrimPrefix(s, "Error:")))
}

func decodeJSON(body []byte) (string, bool, error) {
	switch body[0] {
	case '"':
		var s string
		if err := json.Unmarshal(body, &s); err != nil {
			return "", false, nil
		}
		s = strings.TrimSpace(s)
		if err := reportedError(s); err != nil {
			return "", true, err
		}
		if s == "" {
			return "", true, ErrEmptyMitigation
		}
		return s, true, nil
	case '{':
		var obj struct {
			RawOutput          *string `json:"raw_output"`
			MitigationStrategy *string `json:"mitigation_strategy"`
			Error              *string `json:"error"`
			Details            string  `json:"details"`
		}
		if err := json.Unmarshal(body, &obj); err != nil {
			return "", false, nil
		}
		switch {
		case obj.RawOutput != nil:
			return *obj.RawOutput, true, nil
		case obj.MitigationStrategy != nil:
			return *obj.MitigationStrategy, true, nil
		case obj.Error != nil:
			msg := *obj.Error
			if obj.Details != "" {
				msg += ": " + obj.Details
			}
			return "", true, fmt.Errorf("%w: %s", ErrServiceReported, msg)
		default:
			return "", true, ErrEmptyMitigation
		}
	}
	return "", false, nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
