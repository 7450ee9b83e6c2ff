package buddy

import (
	"fmt"
	"log"
	"os"

	"github.com/pskrgag/lock-free-buddy-allocator/internal/tree"
)

// Allocator serves 2^k-page requests out of a fixed 2^H-page region.
// Every exported method is safe for concurrent use by multiple
// goroutines; no method ever blocks on a mutex.
type Allocator struct {
	tree       *tree.Tree
	backend    Backend
	cpu        CPUProbe
	spin       spinPolicy
	regionBase uint64
	pageSize   uint64
	logger     *log.Logger
}

// Construct builds an allocator over [regionBase, regionBase +
// 2^order * pageSize). backend supplies the tree/container storage
// reservation; cpu seeds row-scan starting positions. A nil cfg uses
// DefaultConfig(); a nil cpu uses RoundRobinCPUProbe; a nil backend
// uses HeapBackend.
func Construct(regionBase uint64, order uint8, pageSize uint64, backend Backend, cpu CPUProbe, cfg *Config) (*Allocator, error) {
	if pageSize == 0 {
		return nil, fmt.Errorf("buddy: page size must be nonzero")
	}
	if backend == nil {
		backend = NewHeapBackend()
	}
	if cpu == nil {
		cpu = NewRoundRobinCPUProbe()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := checkBackendVersion(cfg, backend.Version()); err != nil {
		return nil, err
	}

	t, err := tree.Build(order)
	if err != nil {
		return nil, fmt.Errorf("buddy: build tree: %w", err)
	}

	if _, err := backend.AllocateNodes(int(t.NodeCount())); err != nil {
		return nil, fmt.Errorf("buddy: backend nodes: %w", err)
	}
	if _, err := backend.AllocateContainers(t.ContainerCount()); err != nil {
		return nil, fmt.Errorf("buddy: backend containers: %w", err)
	}

	logger := log.New(os.Stderr, "buddy: ", log.LstdFlags)
	logger.Printf("constructed: height=%d base=%#x page_size=%d backend=%s containers=%d",
		order, regionBase, pageSize, backend.Version(), t.ContainerCount())

	return &Allocator{
		tree:       t,
		backend:    backend,
		cpu:        cpu,
		spin:       spinPolicy{maxSpins: cfg.MaxCASSpins, yield: cfg.YieldOnContention},
		regionBase: regionBase,
		pageSize:   pageSize,
		logger:     logger,
	}, nil
}

// Close releases the backend's reserved memory. The allocator must not
// be used afterward.
func (a *Allocator) Close() {
	a.backend.Release()
}

// Height returns H, the allocator's order.
func (a *Allocator) Height() uint8 {
	return a.tree.Height()
}

// tryAllocAtOrder attempts to claim the node at pos as a whole order-k
// block, handling the container-boundary publication and rollback
// described in spec.md §4.3.
func (a *Allocator) tryAllocAtOrder(pos uint32) (ok bool, conflictPos uint32) {
	node := a.tree.Node(pos)

	ok, conflictPos = a.tryAllocNode(node)
	if !ok {
		return false, conflictPos
	}

	if node.ContainerOffset == 0 {
		return true, 0
	}

	conflict, viaPos, hasConflict := a.checkParent(a.tree.ContainerRootPos(node.ContainerOffset))
	if hasConflict {
		a.freeNode(node, a.tree.Node(viaPos))
		return false, conflict
	}

	return true, 0
}

// Alloc claims a contiguous order-k block and returns its page-aligned
// address, or ErrOutOfMemory once the full row at this order has been
// scanned without success.
func (a *Allocator) Alloc(order uint8) (uint64, error) {
	if order > a.tree.Height() {
		return 0, ErrInvalidOrder
	}

	level := a.tree.Height() - order
	startNode := uint32(1) << level
	lastNode := 2*startNode - 1

	rng := lastNode - startNode

	var seed uint32
	if rng > 0 {
		seed = uint32(a.cpu.CurrentCPU()) % rng
	}

	pos := startNode + seed
	startedAt := pos
	restarted := false

	for {
		ok, conflictPos := a.tryAllocAtOrder(pos)
		if ok {
			node := a.tree.Node(pos)
			return a.regionBase + node.Start*a.pageSize, nil
		}

		if conflictPos == 1 {
			a.logger.Printf("alloc(%d): out of memory", order)
			return 0, ErrOutOfMemory
		}

		shift := uint(tree.LevelOf(pos) - tree.LevelOf(conflictPos))
		pos = (conflictPos + 1) << shift

		if pos > lastNode {
			pos = startNode
			restarted = true
		}
		if restarted && pos >= startedAt {
			a.logger.Printf("alloc(%d): out of memory", order)
			return 0, ErrOutOfMemory
		}
	}
}

// Free releases the order-k block at addr, previously returned by Alloc.
func (a *Allocator) Free(addr uint64, order uint8) error {
	if order > a.tree.Height() {
		return ErrInvalidOrder
	}

	level := a.tree.Height() - order
	blockSize := (uint64(1) << order) * a.pageSize
	index := (addr - a.regionBase) / blockSize
	pos := (uint32(1) << level) + uint32(index)

	a.freeNode(a.tree.Node(pos), a.tree.Root())
	return nil
}
