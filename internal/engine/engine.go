// Package engine implements the polling core: the RX→bounce→TX→complete
// batch loop that owns a Socket and never leaks, overfills, or
// underfills a ring.
package engine

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/rajmodi8905/afxdp-path-manager/internal/config"
	"github.com/rajmodi8905/afxdp-path-manager/internal/xdperr"
)

// State is the engine's lifecycle stage. Transitions are linear and
// non-reentrant.
type State int32

const (
	Uninitialized State = iota
	Initialized
	Running
	Stopping
	Terminated
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Terminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// Engine is the polling driver. It owns sock exclusively — no other
// goroutine may call its methods or touch the underlying rings while
// Run is active. The stats reporter reads Counters concurrently but
// never calls into Engine itself.
type Engine struct {
	sock        Socket
	cfg         *config.Config
	log         *logrus.Entry
	Counters    *Counters
	cooperative bool

	state         atomic.Int32
	stopRequested atomic.Bool
}

// New returns an Initialized Engine driving sock.
func New(sock Socket, cfg *config.Config, log *logrus.Entry) *Engine {
	e := &Engine{
		sock:        sock,
		cfg:         cfg,
		log:         log,
		Counters:    &Counters{},
		cooperative: cfg.Cooperative,
	}
	e.state.Store(int32(Initialized))
	return e
}

// State returns the engine's current lifecycle stage.
func (e *Engine) State() State { return State(e.state.Load()) }

// RequestStop sets the one-shot stop flag observed at the top of the
// next shutdown check. Safe to call from any goroutine, any number of
// times (idempotent).
func (e *Engine) RequestStop() { e.stopRequested.Store(true) }

// Run drives batch iterations until stop is requested by ctx
// cancellation, the configured TTL, or the configured packet limit,
// then drains outstanding transmissions before returning.
func (e *Engine) Run(ctx context.Context) error {
	if !e.state.CompareAndSwap(int32(Initialized), int32(Running)) {
		return fmt.Errorf("engine: Run called from state %s", State(e.state.Load()))
	}

	start := time.Now()
	for {
		if ctx.Err() != nil {
			e.stopRequested.Store(true)
		}
		if e.stopRequested.Load() {
			break
		}

		if e.cooperative {
			e.waitReadable()
		}
		e.iterate()

		if e.cfg.PktLimit > 0 && e.Counters.RxPackets.Load() >= e.cfg.PktLimit {
			e.stopRequested.Store(true)
		}
		if e.cfg.TTL > 0 && time.Since(start) >= e.cfg.TTL {
			e.stopRequested.Store(true)
		}
	}

	e.state.Store(int32(Stopping))
	e.drain()
	e.state.Store(int32(Terminated))
	return nil
}

// waitReadable blocks on the socket descriptor's readability for up
// to one second in cooperative mode. Phase D still runs every
// iteration regardless of the outcome.
func (e *Engine) waitReadable() {
	fds := []unix.PollFd{{Fd: int32(e.sock.FD()), Events: unix.POLLIN}}
	unix.Poll(fds, 1000)
}

// iterate runs one batch of phases A-D.
func (e *Engine) iterate() {
	rxCursor, rcvd := e.sock.RxPeek(e.cfg.RXBatchSize)
	if rcvd == 0 {
		e.phaseD()
		return
	}
	e.phaseB()
	e.phaseC(rxCursor, rcvd)
	e.phaseD()
}

// phaseB replenishes the Fill ring from the frame pool, bounded by
// cfg.MaxFQRetries attempts with a scheduling-point backoff between
// them. Exhausting the retry budget without placing a single frame is
// a BackpressureStall: logged and the iteration proceeds with
// whatever the ring already has queued rather than hanging.
func (e *Engine) phaseB() {
	need := e.sock.PoolFreeCount()
	if need == 0 {
		return
	}

	var cursor, got uint32
	for attempt := 0; attempt < e.cfg.MaxFQRetries; attempt++ {
		cursor, got = e.sock.FqReserve(need)
		if got > 0 {
			break
		}
		fqBackoff()
	}
	if got == 0 {
		e.Counters.FQStalls.Add(1)
		e.log.Warn("fill ring backpressure stall: no slots reserved after max retries")
		return
	}

	var placed uint32
	for placed = 0; placed < got; placed++ {
		addr, ok := e.sock.PoolAlloc()
		if !ok {
			e.sock.FqUnreserve(got - placed)
			break
		}
		e.sock.FqFill(cursor+placed, addr)
	}
	e.sock.FqSubmit(placed)
}

// phaseC bounces each received descriptor onto the TX ring, or
// returns its frame to the pool and counts a drop when the TX ring
// has no room.
func (e *Engine) phaseC(rxCursor, rcvd uint32) {
	var rxBytes uint64
	for i := uint32(0); i < rcvd; i++ {
		addr, length := e.sock.RxDescAt(rxCursor + i)
		rxBytes += uint64(length)

		if e.log.Logger.IsLevelEnabled(logrus.TraceLevel) {
			e.log.WithField("addr", addr).Tracef("rx frame: % x", e.sock.FrameBytes(addr, length))
		}

		txCursor, got := e.sock.TxReserve(1)
		if got == 1 {
			e.sock.TxSetAddr(txCursor, addr, length)
			e.sock.TxSubmit(1)
			e.Counters.OutstandingTx.Add(1)
			e.Counters.TxPackets.Add(1)
			e.Counters.TxBytes.Add(uint64(length))
		} else {
			e.sock.PoolFree(addr)
			e.Counters.TxDrop.Add(1)
		}
	}
	e.sock.RxRelease(rcvd)
	e.Counters.RxPackets.Add(uint64(rcvd))
	e.Counters.RxBytes.Add(rxBytes)
}

// phaseD kicks the kernel to process pending transmissions — only
// when the TX ring's need-wakeup flag is actually set, sparing a
// syscall on kernels that keep draining without one — and drains the
// Completion ring, returning finished frames to the pool.
// outstanding_tx is decremented only by completions observed in this
// call; since that count cannot exceed outstanding_tx by the kernel's
// own invariants, an observed underflow means phase C's accounting
// has a bug and must not be hidden behind a saturating subtraction.
func (e *Engine) phaseD() {
	if e.Counters.OutstandingTx.Load() > 0 && e.sock.TxNeedWakeup() {
		if err := e.sock.Notify(); err != nil {
			e.log.WithError(err).Debug("tx notify")
		}
	}

	cursor, completed := e.sock.CqPeek(e.cfg.RingSize)
	if completed == 0 {
		return
	}
	for i := uint32(0); i < completed; i++ {
		addr := e.sock.CqEntry(cursor + i)
		e.sock.PoolFree(addr)
	}
	e.sock.CqRelease(completed)

	if remaining := e.Counters.OutstandingTx.Add(-int64(completed)); remaining < 0 {
		panic(&xdperr.InvariantViolation{What: fmt.Sprintf("outstanding_tx underflowed to %d draining %d completions", remaining, completed)})
	}
}

// drain runs phase D repeatedly until outstanding_tx reaches zero or
// the deadline passes, whichever comes first. Frames still in flight
// at the deadline are left for the UMEM region's own teardown.
func (e *Engine) drain() {
	deadline := time.Now().Add(config.DefaultDrainDeadline)
	for e.Counters.OutstandingTx.Load() > 0 && time.Now().Before(deadline) {
		e.phaseD()
	}
}

func fqBackoff() {
	// A scheduling point, not a sleep: MAX_FQ_RETRIES attempts at this
	// cost are cheap enough to stay well inside one batch interval,
	// while still giving the kernel a chance to drain the ring between
	// attempts.
	runtime.Gosched()
}
