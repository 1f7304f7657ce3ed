// Package performance reads process and host counters for resource budgeting.
package performance

import (
	"os"
	"runtime"
	"sync"

	"github.com/klauspost/cpuid"
	"github.com/shirou/gopsutil/load"
	"github.com/shirou/gopsutil/mem"
	"github.com/shirou/gopsutil/process"
	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
)

var (
	selfOnce sync.Once
	self     *process.Process
	selfErr  error
)

func currentProcess() (*process.Process, error) {
	selfOnce.Do(func() {
		self, selfErr = process.NewProcess(int32(os.Getpid()))
	})
	return self, selfErr
}

// MemoryUsage returns the resident memory size of this process in bytes.
func MemoryUsage() (uint64, error) {
	p, err := currentProcess()
	if err != nil {
		return 0, errors.Wrapf(err, "looking up current process")
	}
	info, err := p.MemoryInfo()
	if err != nil {
		return 0, errors.Wrapf(err, "reading process memory")
	}
	if info == nil {
		return 0, errors.New("no memory info for current process")
	}
	return info.RSS, nil
}

// TotalMemory returns the host's physical memory in bytes.
func TotalMemory() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, errors.Wrapf(err, "reading host memory")
	}
	return vm.Total, nil
}

// LoadAvg returns the 1, 5 and 15 minute load averages. Platforms without a
// load average return an error.
func LoadAvg() ([]float64, error) {
	avg, err := load.Avg()
	if err != nil {
		return nil, errors.Wrapf(err, "reading load average")
	}
	if avg == nil {
		return nil, errors.New("load average unavailable")
	}
	return []float64{avg.Load1, avg.Load5, avg.Load15}, nil
}

// LogicalCores returns the number of logical processors.
func LogicalCores() int {
	if n := cpuid.CPU.LogicalCores; n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// CPUBrand returns the processor brand string, if known.
func CPUBrand() string {
	return cpuid.CPU.BrandName
}
