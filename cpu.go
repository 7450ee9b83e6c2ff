package buddy

import (
	"runtime"
	"sync/atomic"
)

// CPUProbe supplies current_cpu(): a nonnegative integer used only to
// seed the starting position of a row scan in Alloc. Correctness never
// depends on its value, only contention spread (spec.md §6).
type CPUProbe interface {
	CurrentCPU() int
}

// RoundRobinCPUProbe is the portable fallback: an atomic counter mod
// runtime.NumCPU(), advanced once per call. It requires no OS support;
// Construct uses it whenever no CPUProbe is given, and LinuxCPUProbe
// falls back to it when getcpu(2) fails.
type RoundRobinCPUProbe struct {
	next atomic.Uint64
}

// NewRoundRobinCPUProbe returns a ready-to-use portable probe.
func NewRoundRobinCPUProbe() *RoundRobinCPUProbe {
	return &RoundRobinCPUProbe{}
}

func (p *RoundRobinCPUProbe) CurrentCPU() int {
	n := runtime.NumCPU()
	if n <= 0 {
		n = 1
	}
	return int(p.next.Add(1) % uint64(n))
}
