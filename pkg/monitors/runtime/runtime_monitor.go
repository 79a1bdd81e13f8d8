package runtime

import (
	"context"
	"fmt"
	"os"
	goruntime "runtime"

	"github.com/lucid-vigil/nids-watch/pkg/metrics"
	"github.com/lucid-vigil/nids-watch/pkg/monitors/base"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/process"
)

// Name is the monitor's registration name.
const Name = "runtime_monitor"

// RuntimeMonitorConfig holds the warning thresholds for the dashboard process.
type RuntimeMonitorConfig struct {
	RSSWarnMB  float64 `mapstructure:"rss_warn_mb"`
	CPUWarnPct float64 `mapstructure:"cpu_warn_percent"`
}

// ProcessStats is one sample of the dashboard process.
type ProcessStats struct {
	RSSBytes   uint64
	CPUPercent float64
	Goroutines int
}

// statsSource is satisfied by *process.Process.
type statsSource interface {
	MemoryInfo() (*process.MemoryInfoStat, error)
	CPUPercent() (float64, error)
}

// RuntimeMonitor samples the process's memory, CPU and goroutine count into
// the Prometheus gauges. It runs on an interval.
type RuntimeMonitor struct {
	*base.BaseMonitor
	config RuntimeMonitorConfig
	proc   statsSource
}

// NewRuntimeMonitor creates a monitor for the current process.
func NewRuntimeMonitor(logger zerolog.Logger) (*RuntimeMonitor, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("open own process: %w", err)
	}
	return &RuntimeMonitor{
		BaseMonitor: base.NewBaseMonitor(Name, logger),
		proc:        p,
	}, nil
}

// Configure reads rss_warn_mb and cpu_warn_percent.
func (rm *RuntimeMonitor) Configure(config map[string]interface{}) error {
	for key, dst := range map[string]*float64{
		"rss_warn_mb":      &rm.config.RSSWarnMB,
		"cpu_warn_percent": &rm.config.CPUWarnPct,
	} {
		raw, ok := config[key]
		if !ok {
			continue
		}
		switch v := raw.(type) {
		case int:
			*dst = float64(v)
		case int64:
			*dst = float64(v)
		case float64:
			*dst = v
		default:
			return fmt.Errorf("%s must be a number, got %T", key, raw)
		}
		if *dst < 0 {
			return fmt.Errorf("%s must not be negative", key)
		}
	}
	return nil
}

// Run takes one sample.
func (rm *RuntimeMonitor) Run(ctx context.Context) error {
	stats, err := rm.collect()
	rm.RecordRun(err)
	if err != nil {
		return err
	}

	metrics.ProcessRSSBytes.Set(float64(stats.RSSBytes))
	metrics.ProcessCPUPercent.Set(stats.CPUPercent)
	metrics.ProcessGoroutines.Set(float64(stats.Goroutines))

	rm.UpdateMetrics("rss_bytes", stats.RSSBytes)
	rm.UpdateMetrics("cpu_percent", stats.CPUPercent)
	rm.UpdateMetrics("goroutines", stats.Goroutines)

	logger := rm.Logger()
	if rm.config.RSSWarnMB > 0 && float64(stats.RSSBytes) > rm.config.RSSWarnMB*1024*1024 {
		logger.Warn().Uint64("rss_bytes", stats.RSSBytes).Float64("limit_mb", rm.config.RSSWarnMB).Msg("Dashboard memory above threshold")
	}
	if rm.config.CPUWarnPct > 0 && stats.CPUPercent > rm.config.CPUWarnPct {
		logger.Warn().Float64("cpu_percent", stats.CPUPercent).Float64("limit", rm.config.CPUWarnPct).Msg("Dashboard CPU above threshold")
	}
	logger.Debug().
		Uint64("rss_bytes", stats.RSSBytes).
		Float64("cpu_percent", stats.CPUPercent).
		Int("goroutines", stats.Goroutines).
		Msg("Runtime sample")
	return nil
}

func (rm *RuntimeMonitor) collect() (ProcessStats, error) {
	mem, err := rm.proc.MemoryInfo()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("read memory info: %w", err)
	}
	cpu, err := rm.proc.CPUPercent()
	if err != nil {
		return ProcessStats{}, fmt.Errorf("read cpu percent: %w", err)
	}
	return ProcessStats{
		RSSBytes:   mem.RSS,
		CPUPercent: cpu,
		Goroutines: goruntime.NumGoroutine(),
	}, nil
}
