package profiling

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// minSampleGap throttles proc reads; developer-mode metrics do not need
// sub-second freshness.
const minSampleGap = 2 * time.Second

// ProcessSampler reports the host process's memory and CPU usage for
// developer-mode metrics. Samples are cached briefly so frequent cue
// batches do not hammer /proc.
type ProcessSampler struct {
	mu      sync.Mutex
	proc    *process.Process
	lastAt  time.Time
	lastRSS uint64
	lastCPU float64
	lastErr error
}

// NewProcessSampler binds to the current process
func NewProcessSampler() (*ProcessSampler, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	return &ProcessSampler{proc: proc}, nil
}

// Sample returns resident memory bytes and CPU percent
func (s *ProcessSampler) Sample() (uint64, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastAt) < minSampleGap && !s.lastAt.IsZero() {
		return s.lastRSS, s.lastCPU, s.lastErr
	}

	s.lastAt = time.Now()
	s.lastErr = nil

	mem, err := s.proc.MemoryInfo()
	if err != nil {
		s.lastErr = err
		return 0, 0, err
	}
	cpu, err := s.proc.CPUPercent()
	if err != nil {
		s.lastErr = err
		return 0, 0, err
	}

	s.lastRSS = mem.RSS
	s.lastCPU = cpu
	return s.lastRSS, s.lastCPU, nil
}
