package engine

// Socket is the ring-level vocabulary the Engine drives. It is
// satisfied both by *xsk.Socket (the real kernel-backed datapath) and
// by the mock kernel in engine_test.go, so the batch loop in engine.go
// can be exercised against the property tests in isolation from any
// live AF_XDP socket.
type Socket interface {
	FD() int
	Notify() error

	RxPeek(max uint32) (cursor uint32, count uint32)
	RxDescAt(cursor uint32) (addr uint64, length uint32)
	RxRelease(n uint32)
	FrameBytes(addr uint64, length uint32) []byte

	TxReserve(n uint32) (cursor uint32, got uint32)
	TxSetAddr(cursor uint32, addr uint64, length uint32)
	TxSubmit(n uint32)
	TxNeedWakeup() bool

	FqReserve(n uint32) (cursor uint32, got uint32)
	FqFill(cursor uint32, addr uint64)
	FqSubmit(n uint32)
	FqUnreserve(n uint32)

	CqPeek(max uint32) (cursor uint32, count uint32)
	CqEntry(cursor uint32) uint64
	CqRelease(n uint32)

	PoolAlloc() (uint64, bool)
	PoolFree(addr uint64)
	PoolFreeCount() uint32
}
