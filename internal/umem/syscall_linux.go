//go:build linux

package umem

// AF_XDP socket-option level and option names, from <linux/if_xdp.h>.
// golang.org/x/sys/unix does not export these (it ships the socket
// address family and descriptor types but not the setsockopt
// constants), so they are reproduced here the same way the rest of
// the corpus's raw-syscall AF_XDP code does.
const (
	SolXDP = 283

	XDPMmapOffsets        = 1
	XDPRxRing             = 2
	XDPTxRing             = 3
	XDPUmemReg            = 4
	XDPUmemFillRing       = 5
	XDPUmemCompletionRing = 6
	XDPStatistics         = 7

	XDPShredUmem     = 1 << 0
	XDPCopy          = 1 << 1
	XDPZeroCopy      = 1 << 2
	XDPUseNeedWakeup = 1 << 3

	xdpPgoffRxRing        = 0
	xdpPgoffTxRing        = 0x80000000
	xdpUmemPgoffFillRing  = 0x100000000
	xdpUmemPgoffCompRing  = 0x180000000
)

// umemReg mirrors struct xdp_umem_reg.
type umemReg struct {
	Addr      uint64
	Len       uint64
	ChunkSize uint32
	Headroom  uint32
	Flags     uint32
	_         uint32 // trailing padding to match the kernel's 8-byte struct alignment
}

// xdpRingOffset mirrors struct xdp_ring_offset (post-5.4 layout, with
// the trailing flags word).
type xdpRingOffset struct {
	Producer uint64
	Consumer uint64
	Desc     uint64
	Flags    uint64
}

// xdpMmapOffsets mirrors struct xdp_mmap_offsets.
type xdpMmapOffsets struct {
	RX xdpRingOffset
	TX xdpRingOffset
	FR xdpRingOffset
	CR xdpRingOffset
}

func (o xdpRingOffset) asRingOffsets() RingOffsets {
	return RingOffsets{Producer: o.Producer, Consumer: o.Consumer, Desc: o.Desc, Flags: o.Flags}
}
