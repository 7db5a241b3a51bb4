package engine

import "sync/atomic"

// Counters is the engine's shared counter block. The engine goroutine
// is the sole writer; the stats reporter and the metrics HTTP handler
// are readers. All fields are accessed through sync/atomic so reads
// never observe a torn 64-bit value, matching the concurrency model's
// requirement that the reporter never block or lock against the
// datapath.
type Counters struct {
	RxPackets     atomic.Uint64
	RxBytes       atomic.Uint64
	TxPackets     atomic.Uint64
	TxBytes       atomic.Uint64
	TxDrop        atomic.Uint64
	FQStalls      atomic.Uint64
	OutstandingTx atomic.Int64
}

// Snapshot is a point-in-time copy of Counters, used by the stats
// reporter to compute interval deltas.
type Snapshot struct {
	TimestampNs int64
	RxPackets   uint64
	RxBytes     uint64
	TxPackets   uint64
	TxBytes     uint64
}

// Snapshot reads every counter with an atomic load.
func (c *Counters) Snapshot(timestampNs int64) Snapshot {
	return Snapshot{
		TimestampNs: timestampNs,
		RxPackets:   c.RxPackets.Load(),
		RxBytes:     c.RxBytes.Load(),
		TxPackets:   c.TxPackets.Load(),
		TxBytes:     c.TxBytes.Load(),
	}
}
