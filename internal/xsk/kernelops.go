//go:build linux

package xsk

// The methods in this file are the ring-operation vocabulary the
// engine package drives through its Socket interface — named after
// the same call sites (Peek/Release/Reserve/Set/Notify/FillAll) a
// caller would use against a single library-provided control block,
// but here implemented against this package's own rings so the
// engine can be driven by a mock kernel in tests.

// RxPeek returns up to max available RX descriptors and the cursor to
// start reading them from.
func (s *Socket) RxPeek(max uint32) (cursor uint32, count uint32) {
	return s.RX.PeekConsumer(max)
}

// RxDescAt reads the addr/len pair at the given RX cursor.
func (s *Socket) RxDescAt(cursor uint32) (addr uint64, length uint32) {
	d := s.RxDesc(cursor)
	return d.Addr, d.Len
}

// RxRelease marks n RX entries consumed.
func (s *Socket) RxRelease(n uint32) { s.RX.ReleaseConsumer(n) }

// TxReserve reserves up to n TX slots.
func (s *Socket) TxReserve(n uint32) (cursor uint32, got uint32) {
	return s.TX.ReserveProducer(n)
}

// TxSetAddr writes an addr/len pair into a reserved TX slot.
func (s *Socket) TxSetAddr(cursor uint32, addr uint64, length uint32) {
	s.TxSet(cursor, Desc{Addr: addr, Len: length})
}

// TxNeedWakeup reports whether the kernel has set the TX ring's
// need-wakeup flag, i.e. whether a sendto kick is actually required
// to make progress (see bind's XDP_USE_NEED_WAKEUP flag).
func (s *Socket) TxNeedWakeup() bool { return s.TX.NeedWakeup() }

// TxSubmit publishes n reserved TX slots to the kernel.
func (s *Socket) TxSubmit(n uint32) { s.TX.SubmitProducer(n) }

// FqReserve reserves up to n Fill-ring slots.
func (s *Socket) FqReserve(n uint32) (cursor uint32, got uint32) {
	return s.Umem.Fill.ReserveProducer(n)
}

// FqFill writes a frame address into a reserved Fill-ring slot.
func (s *Socket) FqFill(cursor uint32, addr uint64) { s.Umem.FillAddr(cursor, addr) }

// FqSubmit publishes n reserved Fill-ring slots.
func (s *Socket) FqSubmit(n uint32) { s.Umem.Fill.SubmitProducer(n) }

// FqUnreserve rolls back an incomplete Fill-ring reservation.
func (s *Socket) FqUnreserve(n uint32) { s.Umem.Fill.UnreserveProducer(n) }

// CqPeek returns up to max available Completion-ring entries.
func (s *Socket) CqPeek(max uint32) (cursor uint32, count uint32) {
	return s.Umem.Comp.PeekConsumer(max)
}

// CqEntry reads the frame address at the given Completion-ring cursor.
func (s *Socket) CqEntry(cursor uint32) uint64 { return s.Umem.CompAddr(cursor) }

// CqRelease marks n Completion-ring entries consumed.
func (s *Socket) CqRelease(n uint32) { s.Umem.Comp.ReleaseConsumer(n) }

// PoolAlloc allocates a frame from the UMEM pool.
func (s *Socket) PoolAlloc() (uint64, bool) { return s.Umem.Pool.Alloc() }

// PoolFree returns a frame to the UMEM pool.
func (s *Socket) PoolFree(addr uint64) { s.Umem.Pool.Free(addr, s.Umem.NumFrames()) }

// PoolFreeCount reports the UMEM pool's current free count.
func (s *Socket) PoolFreeCount() uint32 { return s.Umem.Pool.FreeCount() }

// FrameBytes returns the raw bytes backing a received frame, for
// trace-level inspection only; the engine never mutates what it
// returns.
func (s *Socket) FrameBytes(addr uint64, length uint32) []byte {
	return s.Umem.Frame(addr, length)
}
