package buddy

import "errors"

// ErrOutOfMemory is returned by Alloc when the full scan of the target
// row wraps past its starting point without finding an allocable node.
var ErrOutOfMemory = errors.New("buddy: out of memory")

// ErrInvalidOrder is returned by Free when order exceeds the tree's
// height, and by Alloc for the same reason.
var ErrInvalidOrder = errors.New("buddy: invalid order")
