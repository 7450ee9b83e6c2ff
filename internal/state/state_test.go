package state

import "testing"

func TestNonLeafLockIdempotent(t *testing.T) {
	for p := uint8(1); p <= 7; p++ {
		var s Packed
		locked := LockNotLeaf(s, p)
		if LockNotLeaf(locked, p) != locked {
			t.Errorf("slot %d: lock not idempotent", p)
		}
		if unlocked := UnlockNotLeaf(locked, p); unlocked != s {
			t.Errorf("slot %d: unlock(lock(s)) != s, got %#x want %#x", p, unlocked, s)
		}
	}
}

func TestLeafLockIdempotent(t *testing.T) {
	for p := uint8(8); p <= 15; p++ {
		var s Packed
		locked := LockLeaf(s, p)
		if LockLeaf(locked, p) != locked {
			t.Errorf("slot %d: lock not idempotent", p)
		}
		if unlocked := UnlockLeaf(locked, p); unlocked != s {
			t.Errorf("slot %d: unlock(lock(s)) != s", p)
		}
	}
}

func TestIsAllocableVsOccupied(t *testing.T) {
	for p := uint8(1); p <= 15; p++ {
		var s Packed
		if !IsAllocable(s, p) {
			t.Fatalf("slot %d: zero state must be allocable", p)
		}
		if IsOccupied(s, p) {
			t.Fatalf("slot %d: zero state must not be occupied", p)
		}

		var locked Packed
		if p >= 8 {
			locked = LockLeaf(s, p)
		} else {
			locked = LockNotLeaf(s, p)
		}
		if IsAllocable(locked, p) {
			t.Errorf("slot %d: locked slot reported allocable", p)
		}
	}
}

func TestLeafOccupyIdempotentAndIndependent(t *testing.T) {
	for p := uint8(8); p <= 15; p++ {
		var s Packed
		left := OccupyLeft(s, p)
		if !IsOccupiedLeft(left, p) {
			t.Errorf("slot %d: occupy_left not observed", p)
		}
		if IsOccupiedRight(left, p) {
			t.Errorf("slot %d: occupy_left set right too", p)
		}
		if OccupyLeft(left, p) != left {
			t.Errorf("slot %d: occupy_left not idempotent", p)
		}
		if IsOccupied(left, p) {
			t.Errorf("slot %d: occupy_left alone must not set IsOccupied (only the lock bit does)", p)
		}

		cleaned := CleanOccupyLeft(left, p)
		if cleaned != s {
			t.Errorf("slot %d: clean(occupy(s)) != s", p)
		}
	}
}

func TestLockLeafSetsOccupySidesAndIsOccupied(t *testing.T) {
	for p := uint8(8); p <= 15; p++ {
		var s Packed
		locked := LockLeaf(s, p)
		if !IsOccupied(locked, p) {
			t.Errorf("slot %d: IsOccupied false after LockLeaf", p)
		}
		if !IsOccupiedLeft(locked, p) || !IsOccupiedRight(locked, p) {
			t.Errorf("slot %d: LockLeaf must publish both occupy sides", p)
		}
		released := UnlockLeaf(locked, p)
		if released != s {
			t.Errorf("slot %d: UnlockLeaf(LockLeaf(s)) != s, got %#x want %#x", p, released, s)
		}
	}
}

func TestCoalesceIdempotentAndIndependent(t *testing.T) {
	for p := uint8(8); p <= 15; p++ {
		var s Packed
		right := CoalesceRight(s, p)
		if !IsRightCoalescing(right, p) {
			t.Errorf("slot %d: coalesce_right not observed", p)
		}
		if IsLeftCoalescing(right, p) {
			t.Errorf("slot %d: coalesce_right set left too", p)
		}
		if CleanCoalesceRight(right, p) != s {
			t.Errorf("slot %d: clean(coalesce(s)) != s", p)
		}
	}
}

func TestFieldsDoNotOverlapAcrossLeafSlots(t *testing.T) {
	var s Packed
	s = LockLeaf(s, 8)
	for p := uint8(9); p <= 15; p++ {
		if !IsAllocable(s, p) {
			t.Errorf("locking slot 8 affected slot %d", p)
		}
	}
}

func TestNonLeafBitsDoNotOverlapLeafFields(t *testing.T) {
	var s Packed
	for p := uint8(1); p <= 7; p++ {
		s = LockNotLeaf(s, p)
	}
	for p := uint8(8); p <= 15; p++ {
		if !IsAllocable(s, p) {
			t.Errorf("locking all non-leaf bits affected leaf slot %d", p)
		}
	}
}

func TestSiblingAndParent(t *testing.T) {
	cases := []struct {
		slot, sibling, parent uint8
	}{
		{2, 3, 1}, {3, 2, 1},
		{8, 9, 4}, {9, 8, 4},
		{14, 15, 7}, {15, 14, 7},
	}
	for _, c := range cases {
		if got := SiblingOf(c.slot); got != c.sibling {
			t.Errorf("SiblingOf(%d) = %d, want %d", c.slot, got, c.sibling)
		}
		if got := ParentOf(c.slot); got != c.parent {
			t.Errorf("ParentOf(%d) = %d, want %d", c.slot, got, c.parent)
		}
	}
}

func TestIsLeftChild(t *testing.T) {
	if !IsLeftChild(2) || IsLeftChild(3) {
		t.Fatal("IsLeftChild wrong for slots 2/3")
	}
	if !IsLeftChild(8) || IsLeftChild(9) {
		t.Fatal("IsLeftChild wrong for slots 8/9")
	}
}
