// Package resources tracks CPU, memory and accelerator usage and decides
// whether background learning may run.
package resources

import (
	"fmt"
	"sync"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
)

// Limits are the ceilings the engine must stay under.
type Limits struct {
	// CPUWithAccelerator applies while an accelerator is active.
	CPUWithAccelerator float64 `yaml:"cpu_with_accelerator"`
	// CPUWithoutAccelerator applies when everything runs on the CPU.
	CPUWithoutAccelerator float64 `yaml:"cpu_without_accelerator"`
	MemoryMB              float64 `yaml:"memory_mb"`
	// AcceleratorMemoryPercent caps accelerator memory use.
	AcceleratorMemoryPercent float64 `yaml:"accelerator_memory_percent"`
	// PauseCPUFactor scales the CPU ceiling for the pause decision.
	PauseCPUFactor float64 `yaml:"pause_cpu_factor"`
	// PauseMemoryFraction scales the memory ceiling for the pause decision.
	PauseMemoryFraction float64 `yaml:"pause_memory_fraction"`
}

// DefaultLimits returns the standard ceilings: 5% CPU with an accelerator,
// 20% without, and 4 GB of memory.
func DefaultLimits() Limits {
	return Limits{
		CPUWithAccelerator:       0.05,
		CPUWithoutAccelerator:    0.20,
		MemoryMB:                 4096,
		AcceleratorMemoryPercent: 80,
		PauseCPUFactor:           1.5,
		PauseMemoryFraction:      0.9,
	}
}

// Options configures a Monitor.
type Options struct {
	Limits Limits
	// CacheFor reuses a sample for this long. Zero samples on every call.
	CacheFor time.Duration
}

// DefaultOptions returns DefaultLimits with a 500ms sample cache.
func DefaultOptions() Options {
	return Options{Limits: DefaultLimits(), CacheFor: 500 * time.Millisecond}
}

// Monitor answers budget questions from recent samples. It is safe for
// concurrent use.
type Monitor struct {
	sampler Sampler
	opts    Options
	logger  *zap.Logger

	mu     sync.Mutex
	last   Usage
	lastAt time.Time
	now    func() time.Time
}

// NewMonitor returns a Monitor reading from sampler.
func NewMonitor(sampler Sampler, opts Options, logger *zap.Logger) *Monitor {
	logger = applog.OrNop(logger)
	return &Monitor{
		sampler: sampler,
		opts:    opts,
		logger:  logger.Named("resources"),
		now:     time.Now,
	}
}

// Limits returns the configured ceilings.
func (m *Monitor) Limits() Limits {
	return m.opts.Limits
}

// Usage returns the latest sample. A failed sample is reported with Err set
// and zero usage.
func (m *Monitor) Usage() Usage {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastAt.IsZero() && now.Sub(m.lastAt) < m.opts.CacheFor {
		return m.last
	}

	u, err := m.sample()
	if err != nil {
		m.logger.Warn("resource sample failed", zap.Error(err))
		rollbar.Warning(err)
		u = Usage{Err: err, SampledAt: now}
	}
	if u.SampledAt.IsZero() {
		u.SampledAt = now
	}
	m.last, m.lastAt = u, now
	return u
}

func (m *Monitor) sample() (u Usage, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("sampler panicked: %v", r)
		}
	}()
	return m.sampler.Sample()
}

// CPULimit returns the CPU ceiling that applies to u.
func (m *Monitor) CPULimit(u Usage) float64 {
	if u.AcceleratorActive {
		return m.opts.Limits.CPUWithAccelerator
	}
	return m.opts.Limits.CPUWithoutAccelerator
}

// IsWithinLimits reports whether every ceiling is respected. It returns
// false when usage cannot be sampled.
func (m *Monitor) IsWithinLimits() bool {
	u := m.Usage()
	if !u.Known() {
		return false
	}
	limits := m.opts.Limits
	if cpuLimit := m.CPULimit(u); u.CPU > cpuLimit {
		m.logger.Debug("cpu over limit", zap.Float64("cpu", u.CPU), zap.Float64("limit", cpuLimit))
		return false
	}
	if u.MemoryMB > limits.MemoryMB {
		m.logger.Debug("memory over limit", zap.Float64("memory_mb", u.MemoryMB), zap.Float64("limit_mb", limits.MemoryMB))
		return false
	}
	if u.AcceleratorActive && u.AcceleratorMemoryPercent > limits.AcceleratorMemoryPercent {
		m.logger.Debug("accelerator memory over limit", zap.Float64("percent", u.AcceleratorMemoryPercent))
		return false
	}
	return true
}

// ShouldPauseTraining reports whether background learning should stop for
// now. Its thresholds are looser than IsWithinLimits so that short bursts do
// not interrupt training. It returns true when usage cannot be sampled.
func (m *Monitor) ShouldPauseTraining() bool {
	u := m.Usage()
	if !u.Known() {
		return true
	}
	limits := m.opts.Limits
	return u.CPU > m.CPULimit(u)*limits.PauseCPUFactor ||
		u.MemoryMB > limits.MemoryMB*limits.PauseMemoryFraction
}

// Summary describes the latest sample for logs.
func (m *Monitor) Summary() string {
	u := m.Usage()
	if !u.Known() {
		return fmt.Sprintf("usage unknown: %v", u.Err)
	}
	s := fmt.Sprintf("cpu %.1f%% (limit %.0f%%), memory %s (limit %s)",
		u.CPU*100, m.CPULimit(u)*100,
		humanize.IBytes(uint64(u.MemoryMB*(1<<20))),
		humanize.IBytes(uint64(m.opts.Limits.MemoryMB*(1<<20))))
	if u.AcceleratorActive {
		s += fmt.Sprintf(", accelerator memory %.0f%%", u.AcceleratorMemoryPercent)
	}
	return s
}
