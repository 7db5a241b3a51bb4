// Package metrics exposes the engine's counter block as Prometheus
// gauges/counters on a small HTTP server alongside a /healthz probe.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/rajmodi8905/afxdp-path-manager/internal/engine"
)

// Registry wraps the counter gauges and the HTTP server exposing them.
type Registry struct {
	reg      *prometheus.Registry
	counters *engine.Counters
	server   *http.Server
	log      *logrus.Entry

	rxPackets     prometheus.CounterFunc
	rxBytes       prometheus.CounterFunc
	txPackets     prometheus.CounterFunc
	txBytes       prometheus.CounterFunc
	txDrop        prometheus.CounterFunc
	fqStalls      prometheus.CounterFunc
	outstandingTx prometheus.GaugeFunc
}

// New builds a Registry bound to counters and mounts /metrics and
// /healthz on addr. The server is not started until Serve is called.
func New(counters *engine.Counters, addr string, log *logrus.Entry) *Registry {
	r := &Registry{reg: prometheus.NewRegistry(), counters: counters, log: log}

	r.rxPackets = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "afxdp_rx_packets_total", Help: "Packets received from the RX ring.",
	}, func() float64 { return float64(counters.RxPackets.Load()) })
	r.rxBytes = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "afxdp_rx_bytes_total", Help: "Bytes received from the RX ring.",
	}, func() float64 { return float64(counters.RxBytes.Load()) })
	r.txPackets = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "afxdp_tx_packets_total", Help: "Packets submitted to the TX ring.",
	}, func() float64 { return float64(counters.TxPackets.Load()) })
	r.txBytes = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "afxdp_tx_bytes_total", Help: "Bytes submitted to the TX ring.",
	}, func() float64 { return float64(counters.TxBytes.Load()) })
	r.txDrop = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "afxdp_tx_drop_total", Help: "Packets dropped because the TX ring had no free slot.",
	}, func() float64 { return float64(counters.TxDrop.Load()) })
	r.fqStalls = prometheus.NewCounterFunc(prometheus.CounterOpts{
		Name: "afxdp_fq_stalls_total", Help: "Fill-ring replenishment attempts exhausted without placing a frame.",
	}, func() float64 { return float64(counters.FQStalls.Load()) })
	r.outstandingTx = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "afxdp_outstanding_tx", Help: "TX descriptors submitted but not yet completed.",
	}, func() float64 { return float64(counters.OutstandingTx.Load()) })

	r.reg.MustRegister(r.rxPackets, r.rxBytes, r.txPackets, r.txBytes, r.txDrop, r.fqStalls, r.outstandingTx)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}))

	r.server = &http.Server{Addr: addr, Handler: mux}
	return r
}

// Serve starts the HTTP server in the background. Call Shutdown to
// stop it; ListenAndServe errors other than a clean shutdown are
// logged rather than propagated, matching the ambient pattern of a
// sidecar server that must never take the datapath down with it.
func (r *Registry) Serve() {
	go func() {
		r.log.WithField("addr", r.server.Addr).Info("metrics server listening")
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.WithError(err).Error("metrics server stopped")
		}
	}()
}

// Shutdown gracefully stops the HTTP server.
func (r *Registry) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.server.Shutdown(shutdownCtx)
}
