//go:build linux || darwin

package buddy

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MmapBackend reserves the tree and container regions as anonymous,
// private mmap'd pages instead of Go heap memory. The allocator's own
// Node and Container arrays are still built on the Go heap by
// tree.Build; they are not placed in these regions.
type MmapBackend struct {
	nodes      []byte
	containers []byte
}

// NewMmapBackend returns a Backend ready for Construct.
func NewMmapBackend() *MmapBackend {
	return &MmapBackend{}
}

func (b *MmapBackend) Version() string { return "1.0.0" }

func mmapZeroed(size int) ([]byte, error) {
	if size == 0 {
		size = 1
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("buddy: mmap %d bytes: %w", size, err)
	}
	return data, nil
}

func (b *MmapBackend) AllocateNodes(count int) ([]byte, error) {
	data, err := mmapZeroed(count * NodeRecordSize)
	if err != nil {
		return nil, err
	}
	b.nodes = data
	return data, nil
}

func (b *MmapBackend) AllocateContainers(count int) ([]byte, error) {
	data, err := mmapZeroed(count * ContainerRecordSize)
	if err != nil {
		return nil, err
	}
	b.containers = data
	return data, nil
}

func (b *MmapBackend) Release() {
	if b.nodes != nil {
		_ = unix.Munmap(b.nodes)
		b.nodes = nil
	}
	if b.containers != nil {
		_ = unix.Munmap(b.containers)
		b.containers = nil
	}
}
