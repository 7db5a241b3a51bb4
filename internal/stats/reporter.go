// Package stats reports engine throughput at a fixed interval, either
// as log lines or (optionally) a live terminal view.
package stats

import (
	"context"
	"time"

	"github.com/cilium/ebpf"
	"github.com/sirupsen/logrus"

	"github.com/rajmodi8905/afxdp-path-manager/internal/engine"
)

const interval = time.Second

// stats_map key layout, per the contract in
// internal/xdpload/testdata/redirect.c: one u64 per CPU at each of
// these indices, summed across CPUs into the KernelCounters below.
const (
	statsKeyAborted uint32 = iota
	statsKeyDropped
	statsKeyPassed
	statsKeyRedirected
)

// Reporter polls an engine's counter block on a timer and renders the
// per-interval rates. It never writes to the counters and never blocks
// the engine goroutine.
type Reporter struct {
	counters *engine.Counters
	log      *logrus.Entry
	render   func(Sample)
	statsMap *ebpf.Map
}

// KernelCounters are the kernel-side packet-action tallies read from
// the optional stats_map, summed across CPUs. They supplement, but
// never replace, the engine's own userspace counters.
type KernelCounters struct {
	Aborted    uint64
	Dropped    uint64
	Passed     uint64
	Redirected uint64
}

// Sample is one interval's computed rates, handed to the active
// render function (log line or TUI update).
type Sample struct {
	PPS           float64
	Mbps          float64
	TxDrop        uint64
	FQStalls      uint64
	OutstandingTx int64
	Kernel        KernelCounters
}

// New returns a Reporter that logs one line per interval.
func New(counters *engine.Counters, log *logrus.Entry) *Reporter {
	r := &Reporter{counters: counters, log: log}
	r.render = r.logLine
	return r
}

// WithRender overrides the per-interval render function, used by the
// TUI to push samples into a bubbletea program instead of logging them.
func (r *Reporter) WithRender(fn func(Sample)) *Reporter {
	r.render = fn
	return r
}

// WithKernelStatsMap attaches the optional stats_map resolved by
// xdpload.Loader; each interval's sample then folds in the kernel-side
// counters alongside the engine's own. m may be nil, meaning the
// loaded program did not expose one.
func (r *Reporter) WithKernelStatsMap(m *ebpf.Map) *Reporter {
	r.statsMap = m
	return r
}

// Run polls until ctx is canceled, emitting one sample per interval.
// It is safe to run concurrently with Engine.Run against the same
// Counters; every read is an atomic load.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := r.counters.Snapshot(time.Now().UnixNano())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := r.counters.Snapshot(time.Now().UnixNano())
			sample := sampleFrom(prev, now, r.counters)
			sample.Kernel = r.readKernelStats()
			r.render(sample)
			prev = now
		}
	}
}

func sampleFrom(prev, now engine.Snapshot, counters *engine.Counters) Sample {
	dt := float64(now.TimestampNs-prev.TimestampNs) / float64(time.Second)
	if dt <= 0 {
		dt = 1
	}
	dPackets := float64(now.RxPackets - prev.RxPackets)
	dBytes := float64(now.RxBytes - prev.RxBytes)
	return Sample{
		PPS:           dPackets / dt,
		Mbps:          (dBytes * 8) / (dt * 1e6),
		TxDrop:        counters.TxDrop.Load(),
		FQStalls:      counters.FQStalls.Load(),
		OutstandingTx: counters.OutstandingTx.Load(),
	}
}

// readKernelStats returns the zero KernelCounters when no stats_map
// was resolved, or when a read fails — the map is informational only
// and a failed lookup must never interrupt reporting.
func (r *Reporter) readKernelStats() KernelCounters {
	if r.statsMap == nil {
		return KernelCounters{}
	}
	return KernelCounters{
		Aborted:    r.sumPerCPU(statsKeyAborted),
		Dropped:    r.sumPerCPU(statsKeyDropped),
		Passed:     r.sumPerCPU(statsKeyPassed),
		Redirected: r.sumPerCPU(statsKeyRedirected),
	}
}

func (r *Reporter) sumPerCPU(key uint32) uint64 {
	var perCPU []uint64
	if err := r.statsMap.Lookup(key, &perCPU); err != nil {
		r.log.WithError(err).Debug("stats_map lookup")
		return 0
	}
	var total uint64
	for _, v := range perCPU {
		total += v
	}
	return total
}

func (r *Reporter) logLine(s Sample) {
	fields := logrus.Fields{
		"pps":            int64(s.PPS),
		"mbps":           s.Mbps,
		"tx_drop":        s.TxDrop,
		"fq_stalls":      s.FQStalls,
		"outstanding_tx": s.OutstandingTx,
	}
	if r.statsMap != nil {
		fields["kernel_aborted"] = s.Kernel.Aborted
		fields["kernel_dropped"] = s.Kernel.Dropped
		fields["kernel_passed"] = s.Kernel.Passed
		fields["kernel_redirected"] = s.Kernel.Redirected
	}
	r.log.WithFields(fields).Info("stats")
}
