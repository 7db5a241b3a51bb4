package metrics

import (
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"

	"github.com/rajmodi8905/afxdp-path-manager/internal/engine"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func TestRegistryReflectsCounters(t *testing.T) {
	counters := &engine.Counters{}
	r := New(counters, ":0", testLogger())

	counters.RxPackets.Store(10)
	counters.RxBytes.Store(1500)
	counters.TxPackets.Store(8)
	counters.TxBytes.Store(1200)
	counters.TxDrop.Store(2)
	counters.FQStalls.Store(1)
	counters.OutstandingTx.Store(3)

	if got := testutil.ToFloat64(r.rxPackets); got != 10 {
		t.Errorf("rxPackets = %v, want 10", got)
	}
	if got := testutil.ToFloat64(r.rxBytes); got != 1500 {
		t.Errorf("rxBytes = %v, want 1500", got)
	}
	if got := testutil.ToFloat64(r.txPackets); got != 8 {
		t.Errorf("txPackets = %v, want 8", got)
	}
	if got := testutil.ToFloat64(r.txBytes); got != 1200 {
		t.Errorf("txBytes = %v, want 1200", got)
	}
	if got := testutil.ToFloat64(r.txDrop); got != 2 {
		t.Errorf("txDrop = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.fqStalls); got != 1 {
		t.Errorf("fqStalls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.outstandingTx); got != 3 {
		t.Errorf("outstandingTx = %v, want 3", got)
	}
}

func TestRegistryTracksLiveUpdates(t *testing.T) {
	counters := &engine.Counters{}
	r := New(counters, ":0", testLogger())

	if got := testutil.ToFloat64(r.rxPackets); got != 0 {
		t.Fatalf("rxPackets = %v, want 0 before any traffic", got)
	}
	counters.RxPackets.Add(42)
	if got := testutil.ToFloat64(r.rxPackets); got != 42 {
		t.Errorf("rxPackets = %v, want 42 after Add", got)
	}
}
