package buddy

import (
	"fmt"
)

// NodeRecordSize is the number of bytes a Backend must reserve per
// tree node. It is a sizing contract only: this package lays out its
// own typed Node records after the Backend confirms it could satisfy
// the reservation (spec.md's Non-goals rule out real memory I/O on the
// hot path, so the reserved bytes back lifecycle accounting, not the
// Node array itself).
const NodeRecordSize = 24

// ContainerRecordSize is the number of bytes a Backend must reserve
// per container (one 64-bit atomic word).
const ContainerRecordSize = 8

// Backend is the external collaborator spec.md §1 calls out as
// out-of-scope: it supplies two zeroed byte regions sized for the tree
// and container metadata, and releases them on teardown. Construct
// fails if the backend cannot satisfy either allocation.
type Backend interface {
	// Version reports the backend's ABI version as a semver string,
	// checked against Config.BackendMinVersion at Construct time.
	Version() string

	// AllocateNodes reserves count*NodeRecordSize zeroed bytes.
	AllocateNodes(count int) ([]byte, error)

	// AllocateContainers reserves count*ContainerRecordSize zeroed bytes.
	AllocateContainers(count int) ([]byte, error)

	// Release returns both regions to the backend. Called exactly
	// once, when the Allocator is torn down.
	Release()
}

// HeapBackend is the default Backend: plain Go heap allocations. It
// has no external dependency and never fails except on absurd sizes.
type HeapBackend struct {
	nodes      []byte
	containers []byte
}

// NewHeapBackend returns a Backend ready for Construct.
func NewHeapBackend() *HeapBackend {
	return &HeapBackend{}
}

func (b *HeapBackend) Version() string { return "1.0.0" }

func (b *HeapBackend) AllocateNodes(count int) ([]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("buddy: negative node count %d", count)
	}
	b.nodes = make([]byte, count*NodeRecordSize)
	return b.nodes, nil
}

func (b *HeapBackend) AllocateContainers(count int) ([]byte, error) {
	if count < 0 {
		return nil, fmt.Errorf("buddy: negative container count %d", count)
	}
	b.containers = make([]byte, count*ContainerRecordSize)
	return b.containers, nil
}

func (b *HeapBackend) Release() {
	b.nodes = nil
	b.containers = nil
}
