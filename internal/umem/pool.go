// Package umem owns the UMEM memory region and frame pool: the
// backing buffer shared with the kernel and the bookkeeping that
// tracks which frames are currently free.
package umem

import "fmt"

// InvalidFrame is the sentinel address meaning "no frame".
const InvalidFrame = ^uint64(0)

// FramePool is a fixed-capacity LIFO stack of UMEM frame addresses.
// It has a single owner (the Engine goroutine) and is never accessed
// concurrently, so no locking is needed.
type FramePool struct {
	free []uint64
}

// NewFramePool returns a pool seeded with addresses
// {0, frameSize, 2*frameSize, ..., (n-1)*frameSize}, free count n.
func NewFramePool(nFrames uint32, frameSize uint64) *FramePool {
	free := make([]uint64, nFrames)
	for i := range free {
		free[i] = uint64(i) * frameSize
	}
	return &FramePool{free: free}
}

// Alloc pops the top address. ok is false if the pool is empty.
// O(1), never blocks.
func (p *FramePool) Alloc() (addr uint64, ok bool) {
	n := len(p.free)
	if n == 0 {
		return InvalidFrame, false
	}
	addr = p.free[n-1]
	p.free = p.free[:n-1]
	return addr, true
}

// Free returns an address to the pool. The caller must only pass an
// address it previously received from the kernel (an RX descriptor it
// chose not to bounce, or a Completion-ring entry) — pushing an
// address that would exceed the pool's original capacity means a
// frame was double-freed or fabricated, which is a corruption bug,
// not a runtime condition.
func (p *FramePool) Free(addr uint64, capacity uint32) {
	if uint32(len(p.free)) >= capacity {
		panic(fmt.Sprintf("umem: pool overflow freeing frame %#x (capacity %d)", addr, capacity))
	}
	p.free = append(p.free, addr)
}

// FreeCount returns the current number of free frames.
func (p *FramePool) FreeCount() uint32 {
	return uint32(len(p.free))
}
