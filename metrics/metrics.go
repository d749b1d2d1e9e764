// Package metrics instruments the driver and consumer with
// github.com/prometheus/client_golang, the same ambient observability
// layer Generativebots-ocx-backend-go-svc and adred-codev-ws_poc expose
// from their own services: a registry of gauges/counters/histograms
// served over HTTP from cmd/tensorpool-driver's /metrics endpoint.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tensorpool/tensorpool/tperr"
)

// Metrics holds every tensorpool driver/consumer metric and the
// registry that owns them.
type Metrics struct {
	registry *prometheus.Registry

	LeasesActive     prometheus.Gauge
	EpochsCreated    *prometheus.CounterVec
	SweepDuration    prometheus.Histogram
	LeaseExpirations *prometheus.CounterVec
	ConsumerGaps     *prometheus.CounterVec
	ConsumerLate     *prometheus.CounterVec
}

// New builds a Metrics with every series registered against a fresh
// prometheus.Registry (not the global default registerer, so multiple
// Metrics instances can coexist in tests).
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		LeasesActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tensorpool",
			Subsystem: "driver",
			Name:      "leases_active",
			Help:      "Number of leases currently held in the driver's lease table.",
		}),
		EpochsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tensorpool",
			Subsystem: "driver",
			Name:      "epochs_created_total",
			Help:      "Epochs provisioned per stream id.",
		}, []string{"stream_id"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "tensorpool",
			Subsystem: "driver",
			Name:      "sweep_duration_seconds",
			Help:      "Wall-clock duration of one lease/epoch sweep pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		LeaseExpirations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tensorpool",
			Subsystem: "driver",
			Name:      "lease_expirations_total",
			Help:      "Leases dropped by a sweep after missing their keepalive deadline.",
		}, []string{"stream_id"}),
		ConsumerGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tensorpool",
			Subsystem: "consumer",
			Name:      "gap_total",
			Help:      "Slot reads classified GAP (producer hasn't reached the requested seq yet).",
		}, []string{"stream_id"}),
		ConsumerLate: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tensorpool",
			Subsystem: "consumer",
			Name:      "late_total",
			Help:      "Slot reads classified LATE (the ring has wrapped past the requested seq).",
		}, []string{"stream_id"}),
	}

	m.registry.MustRegister(
		m.LeasesActive,
		m.EpochsCreated,
		m.SweepDuration,
		m.LeaseExpirations,
		m.ConsumerGaps,
		m.ConsumerLate,
	)
	return m
}

// Handler returns the HTTP handler to mount at /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveSweep records how long one sweep pass took.
func (m *Metrics) ObserveSweep(d time.Duration) {
	m.SweepDuration.Observe(d.Seconds())
}

// RecordLeaseExpirations increments the expirations counter for
// streamID by n.
func (m *Metrics) RecordLeaseExpirations(streamID uint32, n int) {
	if n <= 0 {
		return
	}
	m.LeaseExpirations.WithLabelValues(streamIDLabel(streamID)).Add(float64(n))
}

// RecordEpochCreated increments the epochs-created counter for streamID.
func (m *Metrics) RecordEpochCreated(streamID uint32) {
	m.EpochsCreated.WithLabelValues(streamIDLabel(streamID)).Inc()
}

// RecordReadError classifies err (as returned from seqlock.Slot.Read or
// ring.Consumer.Read) and increments the matching GAP/LATE counter; any
// other error kind is ignored here since it isn't a per-read classification.
func (m *Metrics) RecordReadError(streamID uint32, err error) {
	switch tperr.KindOf(err) {
	case tperr.Gap:
		m.ConsumerGaps.WithLabelValues(streamIDLabel(streamID)).Inc()
	case tperr.Late:
		m.ConsumerLate.WithLabelValues(streamIDLabel(streamID)).Inc()
	}
}

func streamIDLabel(streamID uint32) string {
	return strconv.FormatUint(uint64(streamID), 10)
}
