package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lucid-vigil/nids-watch/pkg/actions"
	dashboarderrors "github.com/lucid-vigil/nids-watch/pkg/errors"
	"github.com/lucid-vigil/nids-watch/pkg/events"
	"github.com/lucid-vigil/nids-watch/pkg/monitors/base"
	"github.com/lucid-vigil/nids-watch/pkg/state"
	"github.com/lucid-vigil/nids-watch/pkg/telemetry"
	"github.com/lucid-vigil/nids-watch/pkg/view"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockActionRunner is a mock implementation of the ActionRunner interface.
type MockActionRunner struct {
	mock.Mock
}

func (m *MockActionRunner) Execute(ctx context.Context, name string, data map[string]interface{}) error {
	args := m.Called(ctx, name, data)
	return args.Error(0)
}

func (m *MockActionRunner) Names() []string {
	return []string{"clear", "introduce_anomaly"}
}

type testEnv struct {
	store   *state.Store
	runner  *MockActionRunner
	server  *Server
	http    *httptest.Server
	cancel  context.CancelFunc
	monitor *base.BaseMonitor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := state.NewStore(50, 0.7, nil, zerolog.Nop())
	runner := new(MockActionRunner)
	monitor := base.NewBaseMonitor("stream_listener", zerolog.Nop())
	collector := dashboarderrors.NewStatsCollector()

	srv, err := NewServer(Options{
		Store:   store,
		Actions: runner,
		Bus:     events.NewEventBus(zerolog.Nop(), 8),
		Errors:  collector,
		Monitors: func() []StatusProvider {
			return []StatusProvider{monitor}
		},
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Hub().Run(ctx)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		cancel()
		hs.Close()
	})
	return &testEnv{store: store, runner: runner, server: srv, http: hs, cancel: cancel, monitor: monitor}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestState(t *testing.T) {
	env := newTestEnv(t)
	env.store.AppendSample(telemetry.Sample{Timestamp: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC), Probability: 0.42})
	env.store.ResolveMitigation("Rate Limiting and Throttling", true, true)

	resp, err := http.Get(env.http.URL + "/api/state")
	require.NoError(t, err)
	defer resp.Body.Close()

	var m view.Model
	decodeBody(t, resp, &m)
	require.Len(t, m.Chart, 1)
	assert.Equal(t, "09:30:00", m.Chart[0].Time)
	assert.True(t, m.ShowMitigation)
	assert.Equal(t, "Rate Limiting and Throttling", m.Mitigation)
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t)
	env.store.BeginAnomaly(telemetry.FeatureVector{"Seq": telemetry.Num(12)})

	resp, err := http.Get(env.http.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(body), "Detection Threshold: 0.70")
	assert.Contains(t, string(body), "Sequence Number")
	assert.Contains(t, string(body), "12.000")
}

func TestThreshold(t *testing.T) {
	env := newTestEnv(t)

	resp := env.post(t, "/api/threshold", `{"threshold":0.35}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var m view.Model
	decodeBody(t, resp, &m)
	assert.Equal(t, 0.35, m.Threshold)
	assert.Equal(t, "Detection Threshold: 0.35", m.ThresholdLabel)

	for _, body := range []string{`{"threshold":1.5}`, `{"threshold":-0.1}`, `{}`, `not json`} {
		resp := env.post(t, "/api/threshold", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}
	assert.Equal(t, 0.35, env.store.Snapshot().Threshold)
}

func TestActions(t *testing.T) {
	env := newTestEnv(t)
	env.runner.On("Execute", mock.Anything, "clear", mock.Anything).Return(nil)
	env.runner.On("Execute", mock.Anything, "block_ip", mock.Anything).
		Return(fmt.Errorf("%w: %q", actions.ErrUnknownAction, "block_ip"))
	env.runner.On("Execute", mock.Anything, "introduce_anomaly", mock.Anything).
		Return(fmt.Errorf("%w: introduce_anomaly", actions.ErrRateLimited)).Once()
	env.runner.On("Execute", mock.Anything, "introduce_anomaly", mock.Anything).
		Return(fmt.Errorf("introduce anomaly: connection refused")).Once()

	assert.Equal(t, http.StatusOK, env.post(t, "/api/actions/clear", "").StatusCode)
	assert.Equal(t, http.StatusNotFound, env.post(t, "/api/actions/block_ip", "").StatusCode)

	limited := env.post(t, "/api/actions/introduce_anomaly", "")
	assert.Equal(t, http.StatusTooManyRequests, limited.StatusCode)
	assert.Equal(t, "1", limited.Header.Get("Retry-After"))

	failed := env.post(t, "/api/actions/introduce_anomaly", "")
	assert.Equal(t, http.StatusBadGateway, failed.StatusCode)
	var body map[string]string
	decodeBody(t, failed, &body)
	assert.Contains(t, body["error"], "connection refused")

	env.runner.AssertExpectations(t)
}

func TestActionsDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.runner.On("Execute", mock.Anything, "clear", mock.Anything).Return(actions.ErrActionsDisabled)

	assert.Equal(t, http.StatusForbidden, env.post(t, "/api/actions/clear", "").StatusCode)
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t)
	env.monitor.MarkRunning()

	resp, err := http.Get(env.http.URL + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()

	var st StatusResponse
	decodeBody(t, resp, &st)
	require.Len(t, st.Monitors, 1)
	assert.Equal(t, "stream_listener", st.Monitors[0].Name)
	assert.True(t, st.Monitors[0].Running)
	assert.NotNil(t, st.EventBus)
	assert.NotNil(t, st.Errors)
	assert.Equal(t, []string{"clear", "introduce_anomaly"}, st.Actions)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodGet, env.http.URL+"/api/state", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.http.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "nids_watch_view_clients")
}

func TestWebSocketPushesModel(t *testing.T) {
	env := newTestEnv(t)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	read := func() view.Model {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var m view.Model
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	}

	initial := read()
	assert.False(t, initial.ShowFeatures)
	assert.Eventually(t, func() bool { return env.server.Hub().GetClientCount() == 1 }, time.Second, 5*time.Millisecond)

	env.store.BeginAnomaly(telemetry.FeatureVector{"Seq": telemetry.Num(5)})
	require.NoError(t, env.server.Hub().Handle(context.Background(), events.StateEvent{Type: events.EventAnomalyDetected}))

	updated := read()
	assert.True(t, updated.ShowFeatures)
	assert.True(t, updated.HealLoading)
	assert.True(t, updated.ShowMitigation)
}
