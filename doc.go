// Package buddy implements a scalable lock-free buddy-system allocator
// over a fixed address range of 2^H pages. Every alloc and free is a
// compare-and-swap state machine over a packed binary tree (see
// internal/state and internal/tree); no operation ever blocks, and
// concurrent operations on disjoint sub-trees never serialize against
// each other.
//
// The allocator performs no real memory I/O: Alloc returns only an
// address within the configured range. Callers supply a Backend for
// the tree/container storage and, optionally, a CPUProbe used to
// spread contention across the row of nodes at a given order.
package buddy
