package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMetrics holds CPU and memory metrics for the supervised child.
type ProcessMetrics struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	MemoryVMS  uint64    `json:"memory_vms"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ProcessMetricsConfig holds configuration for child resource sampling.
type ProcessMetricsConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// ProcessSampler periodically samples the resource usage of one PID.
// Sampling is informational only; nothing is enforced.
type ProcessSampler struct {
	enabled  bool
	interval time.Duration

	mu      sync.RWMutex
	last    ProcessMetrics
	peakRSS uint64
	samples int

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cpuPercent prometheus.Gauge
	memoryRSS  prometheus.Gauge
	numThreads prometheus.Gauge
	numFDs     prometheus.Gauge
}

// NewProcessSampler creates a sampler; Interval defaults to 5s.
func NewProcessSampler(config ProcessMetricsConfig) *ProcessSampler {
	interval := config.Interval
	if interval == 0 {
		interval = 5 * time.Second // default
	}
	return &ProcessSampler{
		enabled:  config.Enabled,
		interval: interval,
		stopCh:   make(chan struct{}),
		cpuPercent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telenotify",
			Subsystem: "child",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of the supervised command.",
		}),
		memoryRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telenotify",
			Subsystem: "child",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the supervised command.",
		}),
		numThreads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telenotify",
			Subsystem: "child",
			Name:      "num_threads",
			Help:      "Number of threads of the supervised command.",
		}),
		numFDs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "telenotify",
			Subsystem: "child",
			Name:      "num_fds",
			Help:      "Number of file descriptors of the supervised command (Unix only).",
		}),
	}
}

// RegisterMetrics registers the sampler gauges with the provided registerer.
func (c *ProcessSampler) RegisterMetrics(r prometheus.Registerer) error {
	if !c.enabled {
		return nil
	}
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryRSS, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, collector := range collectors {
		if err := r.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Start samples pid every interval until ctx is done or Stop is called.
func (c *ProcessSampler) Start(ctx context.Context, pid int32) {
	if !c.enabled || pid <= 0 {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			case <-ticker.C:
				m, err := sample(pid, time.Now())
				if err != nil {
					slog.Debug("Failed to sample child process", "pid", pid, "error", err)
					continue
				}
				c.record(m)
			}
		}
	}()
}

// Stop stops sampling and waits for the sampling goroutine.
func (c *ProcessSampler) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
}

// Last returns the most recent sample, if any was taken.
func (c *ProcessSampler) Last() (ProcessMetrics, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last, c.samples > 0
}

// PeakRSS returns the highest resident memory observed.
func (c *ProcessSampler) PeakRSS() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peakRSS
}

func (c *ProcessSampler) record(m ProcessMetrics) {
	c.mu.Lock()
	c.last = m
	c.samples++
	if m.MemoryRSS > c.peakRSS {
		c.peakRSS = m.MemoryRSS
	}
	c.mu.Unlock()

	c.cpuPercent.Set(m.CPUPercent)
	c.memoryRSS.Set(float64(m.MemoryRSS))
	c.numThreads.Set(float64(m.NumThreads))
	if runtime.GOOS != "windows" && m.NumFDs > 0 {
		c.numFDs.Set(float64(m.NumFDs))
	}
}

// sample retrieves CPU and memory metrics for a single process.
func sample(pid int32, timestamp time.Time) (ProcessMetrics, error) {
	proc, err := process.NewProcess(pid)
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to create process handle: %w", err)
	}

	// CPU percentage may require a previous call for accurate calculation
	cpuPercent, err := proc.CPUPercent()
	if err != nil {
		cpuPercent = 0
	}

	memInfo, err := proc.MemoryInfo()
	if err != nil {
		return ProcessMetrics{}, fmt.Errorf("failed to get memory info: %w", err)
	}

	numThreads, err := proc.NumThreads()
	if err != nil {
		numThreads = 0
	}

	m := ProcessMetrics{
		PID:        pid,
		CPUPercent: cpuPercent,
		MemoryMB:   float64(memInfo.RSS) / 1024 / 1024,
		MemoryRSS:  memInfo.RSS,
		MemoryVMS:  memInfo.VMS,
		NumThreads: numThreads,
		Timestamp:  timestamp,
	}
	if runtime.GOOS != "windows" {
		if n, err := proc.NumFDs(); err == nil {
			m.NumFDs = n
		}
	}
	return m, nil
}
