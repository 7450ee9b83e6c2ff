package buddy

import (
	"runtime"

	"github.com/pskrgag/lock-free-buddy-allocator/internal/state"
	"github.com/pskrgag/lock-free-buddy-allocator/internal/tree"
)

// spinPolicy governs how a CAS retry loop behaves under contention. It
// never changes an outcome, only scheduler-friendliness.
type spinPolicy struct {
	maxSpins int
	yield    bool
}

func (p spinPolicy) pause(attempt int) {
	if p.yield && attempt > 0 && attempt%max(p.maxSpins, 1) == 0 {
		runtime.Gosched()
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// lockSubtree locks slot and, recursively, every descendant slot that
// still lives within the same 15-slot container. Used both to claim a
// whole sub-tree in one CAS (try_alloc_node) and to re-lock a freed
// node's descendants as a block (free_node's unlock_descendants step).
func lockSubtree(s state.Packed, slot uint8) state.Packed {
	if slot >= 8 {
		return state.LockLeaf(s, slot)
	}
	s = state.LockNotLeaf(s, slot)
	left, right := slot*2, slot*2+1
	if left <= 15 {
		s = lockSubtree(s, left)
	}
	if right <= 15 {
		s = lockSubtree(s, right)
	}
	return s
}

// lockAncestors applies lock_not_leaf to every proper ancestor of slot
// within the same container, up through and including the container
// root (slot 1).
func lockAncestors(s state.Packed, slot uint8) state.Packed {
	for slot != 1 {
		slot = state.ParentOf(slot)
		s = state.LockNotLeaf(s, slot)
	}
	return s
}

// checkBrother reports whether cur's in-container sibling is still not
// allocable in val — the short-circuit that aborts an upward unlock at
// the first ancestor with an unfreed sibling.
func checkBrother(cur uint8, val state.Packed) bool {
	if cur == 1 {
		return false
	}
	return !state.IsAllocable(val, state.SiblingOf(cur))
}

// tryAllocNode attempts to claim node within its own container. It
// returns (true, 0) on success, or (false, pos) with pos the position
// of the conflicting slot: either node itself (local conflict) or, for
// container roots, propagated from checkParent by the caller.
func (a *Allocator) tryAllocNode(node *tree.Node) (ok bool, conflictPos uint32) {
	cont := a.tree.Container(node.ContainerOffset)
	for attempt := 0; ; attempt++ {
		a.spin.pause(attempt)

		old := cont.Load()
		if !state.IsAllocable(old, node.ContainerPos) {
			return false, node.Pos
		}

		next := lockAncestors(old, node.ContainerPos)
		next = lockSubtree(next, node.ContainerPos)

		if cont.CompareAndSwap(old, next) {
			return true, 0
		}
	}
}

// checkParent walks upward from a container root, publishing occupancy
// at every ancestor container in turn. It returns conflict=true with
// (conflictPos, viaPos) when an ancestor slot is already occupied:
// viaPos is the node the caller must roll back via free_node, and
// conflictPos is the position alloc's row scan should skip past.
func (a *Allocator) checkParent(containerRootPos uint32) (conflictPos, viaPos uint32, conflict bool) {
	cur := containerRootPos

	for {
		node := a.tree.Node(cur)
		parent := a.tree.Node(node.Pos / 2)
		cont := a.tree.Container(parent.ContainerOffset)
		isLeft := state.IsLeftChild(node.Pos)

		var done bool

		for attempt := 0; ; attempt++ {
			a.spin.pause(attempt)

			old := cont.Load()
			if state.IsOccupied(old, parent.ContainerPos) {
				return parent.Pos, node.Pos, true
			}

			next := old
			if isLeft {
				next = state.CleanCoalesceLeft(next, parent.ContainerPos)
				next = state.OccupyLeft(next, parent.ContainerPos)
			} else {
				next = state.CleanCoalesceRight(next, parent.ContainerPos)
				next = state.OccupyRight(next, parent.ContainerPos)
			}
			next = lockAncestors(next, parent.ContainerPos)

			if cont.CompareAndSwap(old, next) {
				done = true
				break
			}
		}

		if !done {
			continue
		}

		containerRoot := a.tree.ContainerRootPos(parent.ContainerOffset)
		if containerRoot == 1 {
			return 0, 0, false
		}
		cur = containerRoot
	}
}

// freeNode publishes the release of node, whose allocation was
// claimed somewhere at or below upperBound. It handles both the
// in-container unlock and, when node crosses a container boundary
// below upperBound, the mark/unmark coalescing handshake with
// concurrent allocators.
func (a *Allocator) freeNode(node *tree.Node, upperBound *tree.Node) {
	crosses := node.ContainerOffset != upperBound.ContainerOffset

	if crosses {
		a.mark(a.tree.ContainerRootPos(node.ContainerOffset), upperBound.Pos)
	}

	cont := a.tree.Container(node.ContainerOffset)

	var exit bool

	for attempt := 0; ; attempt++ {
		a.spin.pause(attempt)

		old := cont.Load()
		next := old
		exit = false

		cur := node.ContainerPos
		for cur != 1 {
			if checkBrother(cur, next) {
				exit = true
				break
			}
			parentSlot := state.ParentOf(cur)
			next = state.UnlockNotLeaf(next, parentSlot)
			cur = parentSlot
		}

		left, right := node.ContainerPos*2, node.ContainerPos*2+1
		if left <= 15 {
			next = lockSubtree(next, left)
		}
		if right <= 15 {
			next = lockSubtree(next, right)
		}

		if node.ContainerPos >= 8 {
			next = state.UnlockLeaf(next, node.ContainerPos)
		} else {
			next = state.UnlockNotLeaf(next, node.ContainerPos)
		}

		if cont.CompareAndSwap(old, next) {
			break
		}
	}

	if crosses && !exit {
		a.unmark(a.tree.ContainerRootPos(node.ContainerOffset), upperBound.Pos)
	}
}

// mark publishes "a descendant free is in flight" on every ancestor
// container up to upperBound, so a concurrent try_alloc_node finds the
// slot not IsAllocable and yields rather than racing the in-flight free.
func (a *Allocator) mark(pos uint32, upperBoundPos uint32) {
	cur := pos

	for {
		node := a.tree.Node(cur)
		parent := a.tree.Node(node.Pos / 2)
		cont := a.tree.Container(parent.ContainerOffset)
		isLeft := state.IsLeftChild(node.Pos)

		for attempt := 0; ; attempt++ {
			a.spin.pause(attempt)

			old := cont.Load()

			var next state.Packed
			if isLeft {
				next = state.CoalesceLeft(old, parent.ContainerPos)
			} else {
				next = state.CoalesceRight(old, parent.ContainerPos)
			}

			if cont.CompareAndSwap(old, next) {
				break
			}
		}

		containerRoot := a.tree.ContainerRootPos(parent.ContainerOffset)
		if containerRoot == upperBoundPos {
			return
		}
		cur = containerRoot
	}
}

// unmark completes the handshake mark started: it clears the
// coalescing bits mark set and, once both sides of a parent slot are
// clear, continues unlocking ancestors exactly like freeNode's
// in-container walk, propagating up to upperBound.
//
// The invariant driving every branch below: after clearing the
// coalesce+occupy bits for our side, if the sibling side is still
// occupied we terminate this thread's upward propagation immediately
// after committing that one transition; otherwise we continue the
// unlock walk in the same CAS.
func (a *Allocator) unmark(pos uint32, upperBoundPos uint32) {
	cur := pos

	for {
		node := a.tree.Node(cur)
		parent := a.tree.Node(node.Pos / 2)
		cont := a.tree.Container(parent.ContainerOffset)
		isLeft := state.IsLeftChild(node.Pos)

		var (
			advance     bool
			exit        bool
			nextRootPos uint32
		)

		for attempt := 0; ; attempt++ {
			a.spin.pause(attempt)

			old := cont.Load()

			if isLeft && !state.IsLeftCoalescing(old, parent.ContainerPos) {
				return // a concurrent allocator already reclaimed this ancestor
			}
			if !isLeft && !state.IsRightCoalescing(old, parent.ContainerPos) {
				return
			}

			next := old
			if isLeft {
				next = state.CleanCoalesceLeft(next, parent.ContainerPos)
				next = state.CleanOccupyLeft(next, parent.ContainerPos)
			} else {
				next = state.CleanCoalesceRight(next, parent.ContainerPos)
				next = state.CleanOccupyRight(next, parent.ContainerPos)
			}

			var siblingStillOccupied bool
			if isLeft {
				siblingStillOccupied = state.IsOccupiedRight(next, parent.ContainerPos)
			} else {
				siblingStillOccupied = state.IsOccupiedLeft(next, parent.ContainerPos)
			}

			if siblingStillOccupied {
				if cont.CompareAndSwap(old, next) {
					return
				}
				continue
			}

			localExit := false
			walk := parent.ContainerPos
			for walk != 1 {
				if checkBrother(walk, next) {
					localExit = true
					break
				}
				up := state.ParentOf(walk)
				next = state.UnlockNotLeaf(next, up)
				walk = up
			}

			if cont.CompareAndSwap(old, next) {
				exit = localExit
				if !exit {
					nextRootPos = a.tree.ContainerRootPos(parent.ContainerOffset)
					advance = nextRootPos != upperBoundPos
				}
				break
			}
		}

		if exit || !advance {
			return
		}
		cur = nextRootPos
	}
}
