package errors

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentError_Unwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewStreamError("stream_listener", "ws://localhost:8000/ws/monitor", cause)

	assert.True(t, stderrors.Is(err, cause))
	assert.Equal(t, "[stream_listener] stream: Telemetry stream unavailable: connection refused", err.Error())
	assert.Equal(t, "ws://localhost:8000/ws/monitor", err.Details["url"])
}

func TestNewDecodeError_TruncatesPayload(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 300)
	err := NewDecodeError("stream_listener", payload, nil)

	excerpt := err.Details["payload"].(string)
	assert.Len(t, excerpt, 259)
	assert.Equal(t, SeverityLow, err.Severity)
}

func TestErrorHandler_LogLevelBySeverity(t *testing.T) {
	tests := []struct {
		severity Severity
		level    string
	}{
		{SeverityCritical, "error"},
		{SeverityHigh, "error"},
		{SeverityMedium, "warn"},
		{SeverityLow, "info"},
		{SeverityInfo, "debug"},
	}

	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			var buf bytes.Buffer
			eh := NewErrorHandler(zerolog.New(&buf).Level(zerolog.DebugLevel), nil)

			require.NoError(t, eh.HandleError(context.Background(), &ComponentError{
				Component: "reactor",
				ErrorType: "mitigation",
				Severity:  tt.severity,
			}))

			var entry map[string]interface{}
			require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
			assert.Equal(t, tt.level, entry["level"])
			assert.Equal(t, "reactor", entry["component"])
		})
	}
}

func TestStatsCollector(t *testing.T) {
	collector := NewStatsCollector()
	eh := NewErrorHandler(zerolog.Nop(), collector)
	ctx := context.Background()

	require.NoError(t, eh.HandleError(ctx, NewMitigationError("anomaly_reactor", 3, stderrors.New("timeout"))))
	require.NoError(t, eh.HandleError(ctx, NewActionError("action_dispatcher", "introduce_anomaly", stderrors.New("refused"))))
	require.NoError(t, eh.HandleError(ctx, NewMitigationError("anomaly_reactor", 4, stderrors.New("timeout"))))

	stats := collector.GetErrorStats()
	assert.Equal(t, 3, stats.TotalErrors)
	assert.Equal(t, 2, stats.ErrorsByType["mitigation"])
	assert.Equal(t, 1, stats.ErrorsByComponent["action_dispatcher"])
	assert.Equal(t, 3, stats.ErrorsBySeverity[SeverityMedium])
	require.NotNil(t, stats.LastError)
	assert.Equal(t, uint64(4), stats.LastError.Details["token"])

	// The returned stats are a copy.
	stats.ErrorsByType["mitigation"] = 100
	assert.Equal(t, 2, collector.GetErrorStats().ErrorsByType["mitigation"])
}
