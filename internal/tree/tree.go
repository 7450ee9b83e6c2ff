// Package tree builds the static, immutable full binary tree of nodes
// and the containers that tile it. Construction is the only mutation
// this package performs; after Build returns, only a Container's state
// word is ever written again, and only through atomic compare-and-swap.
package tree

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"github.com/pskrgag/lock-free-buddy-allocator/internal/state"
)

// Node is an immutable record describing one position in the tree.
type Node struct {
	Pos             uint32 // heap index, root = 1
	Order           uint8  // 2^Order pages
	Start           uint64 // page offset from region base
	ContainerOffset uint32 // index into Tree.containers
	ContainerPos    uint8  // slot within that container, 1..15
}

// Container owns one atomic 64-bit state word covering up to 15 nodes
// (a 4-level sub-tree). RootPos is the tree position of the slot-1
// node of this container.
type Container struct {
	word    atomic.Uint64
	RootPos uint32
}

// Load reads the current packed state (Go's sequentially consistent
// atomic load; the algorithm needs no more than this because every
// observable transition of a container is a single CAS, so any
// concurrent reader sees either the pre- or the post-state of another
// thread's update to this container).
func (c *Container) Load() state.Packed {
	return state.Packed(c.word.Load())
}

// CompareAndSwap attempts the single CAS that linearizes all
// transitions on this container.
func (c *Container) CompareAndSwap(old, new state.Packed) bool {
	return c.word.CompareAndSwap(uint64(old), uint64(new))
}

// Tree is the full static binary tree, heap-indexed from 1 to 2N-1,
// partitioned into containers. It never changes shape after Build.
type Tree struct {
	height     uint8
	nodes      []Node // index by Pos, nodes[0] unused
	containers []Container
}

// Build constructs the tree for a region of 2^height pages. It
// allocates 2*2^height node records and the minimum number of
// 15-slot containers needed to tile them.
func Build(height uint8) (*Tree, error) {
	if height > 30 {
		return nil, fmt.Errorf("tree: height %d too large", height)
	}

	n := uint32(1) << height
	nodeCount := 2*n - 1

	t := &Tree{
		height: height,
		nodes:  make([]Node, nodeCount+1),
	}

	// Walk positions in increasing (= level, BFS) order; a parent's
	// record always exists before its children's because pos/2 < pos.
	for pos := uint32(1); pos <= nodeCount; pos++ {
		level := levelOf(pos)
		order := height - uint8(level)

		if pos == 1 {
			t.containers = append(t.containers, Container{RootPos: 1})
			t.nodes[pos] = Node{
				Pos:             1,
				Order:           order,
				Start:           0,
				ContainerOffset: 0,
				ContainerPos:    1,
			}
			continue
		}

		parent := t.nodes[pos/2]
		isLeft := pos%2 == 0

		var start uint64
		if isLeft {
			start = parent.Start
		} else {
			start = parent.Start + (uint64(1) << order)
		}

		var containerOffset uint32
		var containerPos uint8

		if level%4 == 0 {
			containerOffset = uint32(len(t.containers))
			t.containers = append(t.containers, Container{RootPos: pos})
			containerPos = 1
		} else {
			containerOffset = parent.ContainerOffset
			if isLeft {
				containerPos = parent.ContainerPos * 2
			} else {
				containerPos = parent.ContainerPos*2 + 1
			}
		}

		t.nodes[pos] = Node{
			Pos:             pos,
			Order:           order,
			Start:           start,
			ContainerOffset: containerOffset,
			ContainerPos:    containerPos,
		}
	}

	return t, nil
}

// levelOf returns the tree depth of a heap-indexed position, root = 0.
func levelOf(pos uint32) int {
	return bits.Len32(pos) - 1
}

// Height returns H, the tree's order.
func (t *Tree) Height() uint8 { return t.height }

// NodeCount returns 2N-1, the number of logical nodes.
func (t *Tree) NodeCount() uint32 { return uint32(len(t.nodes)) - 1 }

// Node returns the immutable record at position pos.
func (t *Tree) Node(pos uint32) *Node {
	return &t.nodes[pos]
}

// Root returns the global tree root node (position 1).
func (t *Tree) Root() *Node {
	return &t.nodes[1]
}

// Container returns the container at the given offset.
func (t *Tree) Container(offset uint32) *Container {
	return &t.containers[offset]
}

// ContainerCount returns the number of containers tiling the tree.
func (t *Tree) ContainerCount() int {
	return len(t.containers)
}

// ContainerRootPos returns the tree position of the root slot (slot 1)
// of the container at offset.
func (t *Tree) ContainerRootPos(offset uint32) uint32 {
	return t.containers[offset].RootPos
}

// LevelOf exposes levelOf for callers outside this package that need
// to compute skip distances during a row scan.
func LevelOf(pos uint32) int {
	return levelOf(pos)
}
