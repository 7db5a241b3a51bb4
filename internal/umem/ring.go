package umem

import (
	"sync/atomic"
	"unsafe"
)

// RingOffsets mirrors the layout returned by
// getsockopt(SOL_XDP, XDP_MMAP_OFFSETS): where within the ring's
// mmap'd region the producer cursor, consumer cursor, flags word, and
// descriptor array begin. Both umem.Ring (Fill/Completion, 8-byte
// uint64 slots) and the xsk package's descriptor rings (RX/TX,
// 16-byte xdp_desc slots) are built on top of it.
type RingOffsets struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
	Flags    uint64
}

// Ring is the cursor/mask bookkeeping shared by all four AF_XDP
// rings. Each is a lock-free SPSC queue between this process and the
// kernel: the producer and consumer words live in memory mmap'd from
// the kernel and must be read and written atomically to match the
// fence discipline the kernel's own ring code expects. Ring itself
// does not know the slot size or type — callers read/write slots via
// Slot, casting the returned pointer to the entry type they carry.
type Ring struct {
	mem      []byte
	producer *uint32
	consumer *uint32
	flags    *uint32
	descOff  uintptr
	mask     uint32
	size     uint32

	// cachedProducer/cachedConsumer track this side's view of its own
	// cursor between Reserve/Submit (or Peek/Release) calls, avoiding
	// an atomic load on every single descriptor access.
	cachedProducer uint32
	cachedConsumer uint32
}

// NewRing builds a Ring over an mmap'd region at the given offsets.
// size must be a power of two.
func NewRing(mem []byte, off RingOffsets, size uint32) *Ring {
	r := &Ring{
		mem:      mem,
		producer: (*uint32)(unsafe.Pointer(&mem[off.Producer])),
		consumer: (*uint32)(unsafe.Pointer(&mem[off.Consumer])),
		flags:    (*uint32)(unsafe.Pointer(&mem[off.Flags])),
		descOff:  uintptr(off.Desc),
		mask:     size - 1,
		size:     size,
	}
	r.cachedProducer = atomic.LoadUint32(r.producer)
	r.cachedConsumer = atomic.LoadUint32(r.consumer)
	return r
}

// Slot returns a pointer to the descriptor slot at the given cursor
// value, which must already be masked or will be masked here.
// slotSize is the byte size of one entry (8 for a frame-address ring,
// 16 for an {addr,len,options} descriptor ring).
func (r *Ring) Slot(cursor uint32, slotSize uintptr) unsafe.Pointer {
	idx := uintptr(cursor&r.mask) * slotSize
	return unsafe.Pointer(&r.mem[r.descOff+idx])
}

// ReserveProducer reserves up to n slots on the producer side (Fill,
// TX). It returns the cursor to start writing at and the number
// actually reserved, which may be less than n if the kernel has not
// yet consumed enough of the ring to make room — each call re-reads
// the consumer cursor to discover the current free count.
func (r *Ring) ReserveProducer(n uint32) (cursor uint32, got uint32) {
	consumerVal := atomic.LoadUint32(r.consumer)
	free := r.size - (r.cachedProducer - consumerVal)
	if n > free {
		n = free
	}
	cursor = r.cachedProducer
	r.cachedProducer += n
	return cursor, n
}

// SubmitProducer publishes n previously-reserved slots to the kernel
// with a release store on the producer cursor.
func (r *Ring) SubmitProducer(n uint32) {
	atomic.StoreUint32(r.producer, r.cachedProducer)
}

// UnreserveProducer rolls back a reservation that could not be fully
// used (e.g. allocated frames ran out before filling every reserved
// slot). It must only be called before SubmitProducer for the same
// reservation.
func (r *Ring) UnreserveProducer(n uint32) {
	r.cachedProducer -= n
}

// PeekConsumer returns how many entries are available to read (up to
// max) and the cursor to start reading from, refreshing this side's
// view of the producer cursor with an acquire load.
func (r *Ring) PeekConsumer(max uint32) (cursor uint32, available uint32) {
	producerVal := atomic.LoadUint32(r.producer)
	available = producerVal - r.cachedConsumer
	if available > max {
		available = max
	}
	return r.cachedConsumer, available
}

// ReleaseConsumer marks n previously peeked entries as consumed,
// publishing the advanced consumer cursor to the kernel.
func (r *Ring) ReleaseConsumer(n uint32) {
	r.cachedConsumer += n
	atomic.StoreUint32(r.consumer, r.cachedConsumer)
}

// NeedWakeup reports whether the kernel has set the need-wakeup flag
// on this ring, meaning a Notify kick is required to make progress.
func (r *Ring) NeedWakeup() bool {
	const xdpRingNeedWakeup = 1 << 0
	return atomic.LoadUint32(r.flags)&xdpRingNeedWakeup != 0
}
