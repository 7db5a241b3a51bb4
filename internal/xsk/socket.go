//go:build linux

// Package xsk owns the AF_XDP socket itself: binding to an
// (interface, queue) pair and the kernel-facing RX and TX descriptor
// rings. It composes a *umem.Region for the backing memory and frame
// pool.
package xsk

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rajmodi8905/afxdp-path-manager/internal/config"
	"github.com/rajmodi8905/afxdp-path-manager/internal/umem"
	"github.com/rajmodi8905/afxdp-path-manager/internal/xdperr"
)

const solXDP = umem.SolXDP

const descSize = 16 // {addr uint64, len uint32, options uint32}

// Desc is the wire-layout {addr, len, options} descriptor carried by
// the RX and TX rings.
type Desc struct {
	Addr    uint64
	Len     uint32
	Options uint32
}

// Socket is an AF_XDP socket bound to one (interface, queue) pair,
// with its RX/TX rings mapped and a UMEM region registered on it.
// A Socket is owned by exactly one polling goroutine; none of its
// methods are safe for concurrent use.
type Socket struct {
	fd      int
	ifindex int
	queueID uint32

	Umem *umem.Region

	rxMem []byte
	txMem []byte
	RX    *umem.Ring
	TX    *umem.Ring
}

// Open creates the AF_XDP socket, registers a UMEM region on it,
// maps the RX and TX rings, and binds it to the named interface and
// queue. On any failure, everything allocated so far is released
// before the error is returned.
func Open(cfg *config.Config) (_ *Socket, err error) {
	ifi, ifErr := net.InterfaceByName(cfg.Interface)
	if ifErr != nil {
		return nil, &xdperr.ConfigError{Field: "interface", Err: ifErr}
	}

	fd, sockErr := unix.Socket(unix.AF_XDP, unix.SOCK_RAW, 0)
	if sockErr != nil {
		return nil, &xdperr.KernelError{Op: "socket(AF_XDP)", Errno: sockErr}
	}

	var release []func()
	rollback := func() {
		for i := len(release) - 1; i >= 0; i-- {
			release[i]()
		}
	}
	defer func() {
		if err != nil {
			rollback()
		}
	}()
	release = append(release, func() { unix.Close(fd) })

	region, umemErr := umem.New(fd, cfg.NumFrames, cfg.FrameSize, cfg.RingSize)
	if umemErr != nil {
		return nil, umemErr
	}
	// Registered ahead of the fd close so a rollback closes the socket
	// before unmapping the UMEM it references.
	release = append([]func(){func() { region.Close() }}, release...)

	s := &Socket{fd: fd, ifindex: ifi.Index, queueID: cfg.QueueID, Umem: region}

	if setupErr := s.setupRxTxRings(cfg.RingSize); setupErr != nil {
		return nil, setupErr
	}
	release = append(release, func() {
		unix.Munmap(s.rxMem)
		unix.Munmap(s.txMem)
	})

	if bindErr := s.bind(cfg.BindMode); bindErr != nil {
		return nil, bindErr
	}

	if primeErr := s.primeFillRing(cfg.RingSize); primeErr != nil {
		return nil, primeErr
	}

	return s, nil
}

func (s *Socket) setupRxTxRings(ringSize uint32) error {
	size32 := ringSize
	if err := setSockopt(s.fd, umem.XDPRxRing, unsafe.Pointer(&size32), unsafe.Sizeof(size32)); err != nil {
		return &xdperr.KernelError{Op: "XDP_RX_RING", Errno: err}
	}
	if err := setSockopt(s.fd, umem.XDPTxRing, unsafe.Pointer(&size32), unsafe.Sizeof(size32)); err != nil {
		return &xdperr.KernelError{Op: "XDP_TX_RING", Errno: err}
	}

	var offs struct {
		RX, TX, FR, CR struct {
			Producer, Consumer, Desc, Flags uint64
		}
	}
	if err := getSockopt(s.fd, umem.XDPMmapOffsets, unsafe.Pointer(&offs), unsafe.Sizeof(offs)); err != nil {
		return &xdperr.KernelError{Op: "XDP_MMAP_OFFSETS", Errno: err}
	}

	rxLen := int(offs.RX.Desc) + int(ringSize)*descSize
	rxMem, err := unix.Mmap(s.fd, 0 /* XDP_PGOFF_RX_RING */, rxLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		return &xdperr.ResourceError{Op: "mmap rx ring", Err: err}
	}
	txLen := int(offs.TX.Desc) + int(ringSize)*descSize
	txMem, err := unix.Mmap(s.fd, 0x80000000 /* XDP_PGOFF_TX_RING */, txLen, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_POPULATE)
	if err != nil {
		unix.Munmap(rxMem)
		return &xdperr.ResourceError{Op: "mmap tx ring", Err: err}
	}

	s.rxMem, s.txMem = rxMem, txMem
	s.RX = umem.NewRing(rxMem, umem.RingOffsets{Producer: offs.RX.Producer, Consumer: offs.RX.Consumer, Desc: offs.RX.Desc, Flags: offs.RX.Flags}, ringSize)
	s.TX = umem.NewRing(txMem, umem.RingOffsets{Producer: offs.TX.Producer, Consumer: offs.TX.Consumer, Desc: offs.TX.Desc, Flags: offs.TX.Flags}, ringSize)
	return nil
}

func (s *Socket) bind(mode config.BindMode) error {
	sa := &unix.SockaddrXDP{
		Ifindex: uint32(s.ifindex),
		QueueID: s.queueID,
	}
	switch mode {
	case config.BindZeroCopy:
		sa.Flags = umem.XDPZeroCopy
	case config.BindCopy:
		sa.Flags = umem.XDPCopy
	}
	// Always request need-wakeup: it lets phaseD skip the sendto kick
	// whenever the kernel hasn't asked for one, regardless of bind mode.
	sa.Flags |= umem.XDPUseNeedWakeup
	if err := unix.Bind(s.fd, sa); err != nil {
		return &xdperr.KernelError{Op: "bind(AF_XDP)", Errno: err}
	}
	return nil
}

// primeFillRing reserves the full Fill ring, allocates that many
// frames from the pool, and submits them — mandatory before the
// kernel has anywhere to place received packets.
func (s *Socket) primeFillRing(ringSize uint32) error {
	cursor, got := s.Umem.Fill.ReserveProducer(ringSize)
	if got != ringSize {
		return &xdperr.ResourceError{Op: "prime fill ring", Err: fmt.Errorf("reserved %d of %d slots", got, ringSize)}
	}
	for i := uint32(0); i < got; i++ {
		addr, ok := s.Umem.Pool.Alloc()
		if !ok {
			return &xdperr.ResourceError{Op: "prime fill ring", Err: fmt.Errorf("pool exhausted after %d frames", i)}
		}
		s.Umem.FillAddr(cursor+i, addr)
	}
	s.Umem.Fill.SubmitProducer(got)
	return nil
}

// FD returns the socket file descriptor, for poll-based waiting and
// for inserting into the redirect program's socket map.
func (s *Socket) FD() int { return s.fd }

// RxDesc reads the descriptor at the given ring index.
func (s *Socket) RxDesc(cursor uint32) Desc {
	p := (*Desc)(s.RX.Slot(cursor, descSize))
	return *p
}

// TxSet writes a descriptor into a reserved TX slot.
func (s *Socket) TxSet(cursor uint32, d Desc) {
	p := (*Desc)(s.TX.Slot(cursor, descSize))
	*p = d
}

// Notify wakes the kernel to process the TX ring. AF_XDP sockets
// accept a zero-length sendto as a nonblocking kick; MSG_DONTWAIT
// guarantees it never suspends the calling goroutine.
func (s *Socket) Notify() error {
	err := unix.Sendto(s.fd, nil, unix.MSG_DONTWAIT, &unix.SockaddrXDP{Ifindex: uint32(s.ifindex), QueueID: s.queueID})
	if err != nil && err != unix.EAGAIN && err != unix.EBUSY && err != unix.ENOBUFS {
		return &xdperr.KernelError{Op: "notify tx", Errno: err}
	}
	return nil
}

// Close releases the RX/TX ring mappings, the socket descriptor, and
// the UMEM region, in that order (UMEM must outlive the socket
// referencing it until the very end).
func (s *Socket) Close() error {
	var firstErr error
	if err := unix.Munmap(s.txMem); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(s.rxMem); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Close(s.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Umem.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func setSockopt(fd, opt int, val unsafe.Pointer, size uintptr) error {
	_, _, errno := unix.Syscall6(unix.SYS_SETSOCKOPT, uintptr(fd), uintptr(solXDP), uintptr(opt), uintptr(val), size, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func getSockopt(fd, opt int, val unsafe.Pointer, size uintptr) error {
	sz := size
	_, _, errno := unix.Syscall6(unix.SYS_GETSOCKOPT, uintptr(fd), uintptr(solXDP), uintptr(opt), uintptr(val), uintptr(unsafe.Pointer(&sz)), 0)
	if errno != 0 {
		return errno
	}
	return nil
}
