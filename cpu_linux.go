//go:build linux

package buddy

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// LinuxCPUProbe reads the calling thread's current CPU with getcpu(2).
// It is advisory only: a thread can migrate between the read and the
// subsequent try_alloc_node, which is why the allocator treats its
// result purely as a contention-spreading seed.
type LinuxCPUProbe struct {
	fallback *RoundRobinCPUProbe
}

// NewLinuxCPUProbe returns a probe backed by getcpu(2).
func NewLinuxCPUProbe() *LinuxCPUProbe {
	return &LinuxCPUProbe{fallback: NewRoundRobinCPUProbe()}
}

func (p *LinuxCPUProbe) CurrentCPU() int {
	var cpu, node uint32
	_, _, errno := unix.Syscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)),
		uintptr(unsafe.Pointer(&node)),
		0)
	if errno != 0 {
		return p.fallback.CurrentCPU()
	}
	return int(cpu)
}
