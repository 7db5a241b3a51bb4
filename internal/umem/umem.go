//go:build linux

package umem

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rajmodi8905/afxdp-path-manager/internal/xdperr"
)

// Region owns the UMEM backing buffer and its two kernel-facing
// rings, Fill and Completion. The buffer is registered on the same
// socket descriptor that will later be bound to the interface queue
// (this module never shares one UMEM across multiple sockets).
type Region struct {
	mem       []byte
	numFrames uint32
	frameSize uint64

	fillMem []byte
	compMem []byte

	Fill *Ring
	Comp *Ring

	Pool *FramePool
}

// New allocates the UMEM buffer, registers it with the kernel on fd,
// and maps the Fill and Completion rings. ringSize must be a power of
// two. After return, the Fill and Completion rings are empty and the
// pool holds all numFrames addresses.
func New(fd int, numFrames uint32, frameSize uint64, ringSize uint32) (*Region, error) {
	total := int(numFrames) * int(frameSize)

	mem, err := unix.Mmap(-1, 0, total, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, &xdperr.ResourceError{Op: "mmap umem", Err: err}
	}
	if err := unix.Mlock(mem); err != nil {
		// Non-fatal: some kernels/containers disallow mlock outright but
		// still permit the UMEM registration to proceed.
	}

	reg := umemReg{
		Addr:      uint64(uintptr(unsafe.Pointer(&mem[0]))),
		Len:       uint64(total),
		ChunkSize: uint32(frameSize),
		Headroom:  0,
	}
	if err := setSockoptRaw(fd, XDPUmemReg, unsafe.Pointer(&reg), unsafe.Sizeof(reg)); err != nil {
		unix.Munmap(mem)
		return nil, &xdperr.KernelError{Op: "XDP_UMEM_REG", Errno: err}
	}

	size32 := ringSize
	if err := setSockoptRaw(fd, XDPUmemFillRing, unsafe.Pointer(&size32), unsafe.Sizeof(size32)); err != nil {
		unix.Munmap(mem)
		return nil, &xdperr.KernelError{Op: "XDP_UMEM_FILL_RING", Errno: err}
	}
	if err := setSockoptRaw(fd, XDPUmemCompletionRing, unsafe.Pointer(&size32), unsafe.Sizeof(size32)); err != nil {
		unix.Munmap(mem)
		return nil, &xdperr.KernelError{Op: "XDP_UMEM_COMPLETION_RING", Errno: err}
	}

	var offs xdpMmapOffsets
	if err := getSockoptRaw(fd, XDPMmapOffsets, unsafe.Pointer(&offs), unsafe.Sizeof(offs)); err != nil {
		unix.Munmap(mem)
		return nil, &xdperr.KernelError{Op: "XDP_MMAP_OFFSETS", Errno: err}
	}

	fillLen := int(offs.FR.Desc) + int(ringSize)*8
	fillMem, err := unix.Mmap(fd, xdpUmemPgoffFillRing, fillLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(mem)
		return nil, &xdperr.ResourceError{Op: "mmap fill ring", Err: err}
	}

	compLen := int(offs.CR.Desc) + int(ringSize)*8
	compMem, err := unix.Mmap(fd, xdpUmemPgoffCompRing, compLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(fillMem)
		unix.Munmap(mem)
		return nil, &xdperr.ResourceError{Op: "mmap completion ring", Err: err}
	}

	return &Region{
		mem:       mem,
		numFrames: numFrames,
		frameSize: frameSize,
		fillMem:   fillMem,
		compMem:   compMem,
		Fill:      NewRing(fillMem, offs.FR.asRingOffsets(), ringSize),
		Comp:      NewRing(compMem, offs.CR.asRingOffsets(), ringSize),
		Pool:      NewFramePool(numFrames, frameSize),
	}, nil
}

// Frame returns the byte slice backing the frame at addr, truncated
// to length, for reading a received packet or writing one to
// transmit. The caller must never hold on to the returned slice past
// the frame's next ownership transfer.
func (r *Region) Frame(addr uint64, length uint32) []byte {
	if addr+uint64(length) > uint64(len(r.mem)) {
		panic(fmt.Sprintf("umem: frame %#x len %d out of bounds (region size %d)", addr, length, len(r.mem)))
	}
	return r.mem[addr : addr+uint64(length)]
}

// FrameCapacity returns the configured per-frame byte capacity.
func (r *Region) FrameCapacity() uint64 { return r.frameSize }

// NumFrames returns the total frame count the region was built with.
func (r *Region) NumFrames() uint32 { return r.numFrames }

// FillAddr writes a frame address into a reserved Fill-ring slot.
func (r *Region) FillAddr(cursor uint32, addr uint64) {
	p := (*uint64)(r.Fill.Slot(cursor, 8))
	*p = addr
}

// CompAddr reads a frame address out of a Completion-ring slot.
func (r *Region) CompAddr(cursor uint32) uint64 {
	p := (*uint64)(r.Comp.Slot(cursor, 8))
	return *p
}

// Close unmaps the UMEM buffer and its rings. Must only be called
// after the owning socket has released its reference (i.e. after the
// socket fd is closed), matching the teardown ordering in the
// rollback stack.
func (r *Region) Close() error {
	var firstErr error
	if err := unix.Munmap(r.compMem); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(r.fillMem); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(r.mem); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
