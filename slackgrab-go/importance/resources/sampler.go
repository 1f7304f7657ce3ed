package resources

import (
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
	"github.com/slackgrab/slackgrab/slackgrab-golib/performance"
)

// Usage is a point-in-time view of the engine's resource consumption.
type Usage struct {
	// CPU is the host load as a fraction of capacity, in [0,1]. It is 0 when
	// the platform has no load average.
	CPU float64
	// MemoryMB is this process's resident memory.
	MemoryMB                 float64
	AcceleratorActive        bool
	AcceleratorMemoryPercent float64
	SampledAt                time.Time
	// Err is set when the sample could not be taken; the other fields are
	// then zero and must not be trusted.
	Err error
}

// Known reports whether the sample succeeded.
func (u Usage) Known() bool {
	return u.Err == nil
}

// Sampler takes resource samples.
type Sampler interface {
	Sample() (Usage, error)
}

// SamplerFunc adapts a function to a Sampler.
type SamplerFunc func() (Usage, error)

// Sample implements Sampler.
func (f SamplerFunc) Sample() (Usage, error) {
	return f()
}

// Accelerator reports on a hardware accelerator used for inference.
type Accelerator interface {
	Name() string
	Active() bool
	MemoryPercent() (float64, error)
}

// CPUOnly is the Accelerator for hosts where inference runs on the CPU.
type CPUOnly struct{}

// Name implements Accelerator.
func (CPUOnly) Name() string { return "cpu" }

// Active implements Accelerator.
func (CPUOnly) Active() bool { return false }

// MemoryPercent implements Accelerator.
func (CPUOnly) MemoryPercent() (float64, error) { return 0, nil }

// SystemSampler samples the host and the current process.
type SystemSampler struct {
	accel Accelerator
}

// NewSystemSampler returns a sampler for this process. A nil accel means CPUOnly.
func NewSystemSampler(accel Accelerator) *SystemSampler {
	if accel == nil {
		accel = CPUOnly{}
	}
	return &SystemSampler{accel: accel}
}

// Sample implements Sampler.
func (s *SystemSampler) Sample() (Usage, error) {
	u := Usage{SampledAt: time.Now()}

	if avg, err := performance.LoadAvg(); err == nil && len(avg) > 0 {
		u.CPU = clamp01(avg[0] / float64(performance.LogicalCores()))
	}

	rss, err := performance.MemoryUsage()
	if err != nil {
		return Usage{}, errors.Wrapf(err, "sampling memory")
	}
	u.MemoryMB = float64(rss) / (1 << 20)

	if s.accel.Active() {
		pct, err := s.accel.MemoryPercent()
		if err != nil {
			return Usage{}, errors.Wrapf(err, "sampling %s memory", s.accel.Name())
		}
		u.AcceleratorActive = true
		u.AcceleratorMemoryPercent = pct
	}
	return u, nil
}

func clamp01(x float64) float64 {
	switch {
	case x != x || x < 0:
		return 0
	case x > 1:
		return 1
	}
	return x
}

// Host describes the machine the limits apply to.
type Host struct {
	CPUBrand     string
	LogicalCores int
	// TotalMemory is zero when host memory cannot be read.
	TotalMemory uint64
}

// DescribeHost reads the processor and memory of the current host.
func DescribeHost() Host {
	h := Host{CPUBrand: performance.CPUBrand(), LogicalCores: performance.LogicalCores()}
	if total, err := performance.TotalMemory(); err == nil {
		h.TotalMemory = total
	}
	return h
}

func (h Host) String() string {
	brand := h.CPUBrand
	if brand == "" {
		brand = "unknown cpu"
	}
	mem := "unknown memory"
	if h.TotalMemory > 0 {
		mem = humanize.IBytes(h.TotalMemory)
	}
	return fmt.Sprintf("%s, %d cores, %s", brand, h.LogicalCores, mem)
}
