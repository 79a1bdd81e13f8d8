package runtime

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/lucid-vigil/nids-watch/pkg/metrics"
	"github.com/lucid-vigil/nids-watch/pkg/monitors/base"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProc struct {
	rss    uint64
	cpu    float64
	memErr error
}

func (f *fakeProc) MemoryInfo() (*process.MemoryInfoStat, error) {
	if f.memErr != nil {
		return nil, f.memErr
	}
	return &process.MemoryInfoStat{RSS: f.rss}, nil
}

func (f *fakeProc) CPUPercent() (float64, error) {
	return f.cpu, nil
}

func newTestMonitor(p statsSource, buf *bytes.Buffer) *RuntimeMonitor {
	logger := zerolog.New(buf)
	return &RuntimeMonitor{BaseMonitor: base.NewBaseMonitor(Name, logger), proc: p}
}

func TestRuntimeMonitor_SetsGauges(t *testing.T) {
	var buf bytes.Buffer
	rm := newTestMonitor(&fakeProc{rss: 64 << 20, cpu: 12.5}, &buf)

	require.NoError(t, rm.Run(context.Background()))

	assert.Equal(t, float64(64<<20), testutil.ToFloat64(metrics.ProcessRSSBytes))
	assert.Equal(t, 12.5, testutil.ToFloat64(metrics.ProcessCPUPercent))
	assert.Greater(t, testutil.ToFloat64(metrics.ProcessGoroutines), 0.0)

	st := rm.Status()
	assert.Equal(t, 1, st.Runs)
	assert.Equal(t, uint64(64<<20), st.Metrics["rss_bytes"])
	assert.NotContains(t, buf.String(), "above threshold")
}

func TestRuntimeMonitor_WarnsAboveThreshold(t *testing.T) {
	var buf bytes.Buffer
	rm := newTestMonitor(&fakeProc{rss: 300 << 20, cpu: 95}, &buf)
	require.NoError(t, rm.Configure(map[string]interface{}{
		"rss_warn_mb":      256,
		"cpu_warn_percent": 80.0,
	}))

	require.NoError(t, rm.Run(context.Background()))

	assert.Contains(t, buf.String(), "Dashboard memory above threshold")
	assert.Contains(t, buf.String(), "Dashboard CPU above threshold")
}

func TestRuntimeMonitor_CollectError(t *testing.T) {
	rm := newTestMonitor(&fakeProc{memErr: errors.New("permission denied")}, &bytes.Buffer{})

	err := rm.Run(context.Background())
	assert.ErrorContains(t, err, "permission denied")
	assert.Contains(t, rm.Status().LastError, "permission denied")
}

func TestRuntimeMonitor_Configure(t *testing.T) {
	rm := newTestMonitor(&fakeProc{}, &bytes.Buffer{})

	assert.NoError(t, rm.Configure(map[string]interface{}{}))
	assert.Error(t, rm.Configure(map[string]interface{}{"rss_warn_mb": "lots"}))
	assert.Error(t, rm.Configure(map[string]interface{}{"cpu_warn_percent": -1.0}))
}

func TestNewRuntimeMonitor(t *testing.T) {
	rm, err := NewRuntimeMonitor(zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, Name, rm.Name())
}
