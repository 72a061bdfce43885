//go:build prometheus

// Package metrics exposes counters/gauges/histograms for the
// transaction, dialog, transport, and TURN layers. Build-tag gated on
// "prometheus", mirroring the teacher's pkg/dialog/metrics.go (also
// "+build prometheus") versus pkg/dialog/metrics_simple.go — the same
// Collector API compiles to a Prometheus-backed implementation here
// and a no-op one in metrics_noop.go.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector is the metrics surface every component records against.
type Collector interface {
	TransactionCreated(kind string)
	TransactionCompleted(kind string, d time.Duration)
	TransactionTimedOut(kind string)
	DialogCreated()
	DialogTerminated(d time.Duration)
	TransportBytesSent(scheme string, n int)
	TransportBytesRecv(scheme string, n int)
	TransportError(scheme string)
	TurnAllocationActive(delta int)
	TurnChannelActive(delta int)
	TurnPermissionActive(delta int)
}

type promCollector struct {
	txCreated      *prometheus.CounterVec
	txDuration     *prometheus.HistogramVec
	txTimeouts     *prometheus.CounterVec
	dialogsTotal   prometheus.Counter
	dialogDuration prometheus.Histogram
	transportBytes *prometheus.CounterVec
	transportErrs  *prometheus.CounterVec
	turnAllocGauge prometheus.Gauge
	turnChanGauge  prometheus.Gauge
	turnPermGauge  prometheus.Gauge
}

// New constructs a Prometheus-backed Collector under the given
// namespace/subsystem, registered against the default registerer.
func New(namespace, subsystem string) Collector {
	return &promCollector{
		txCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "transactions_created_total",
		}, []string{"kind"}),
		txDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "transaction_duration_seconds",
		}, []string{"kind"}),
		txTimeouts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "transaction_timeouts_total",
		}, []string{"kind"}),
		dialogsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "dialogs_total",
		}),
		dialogDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "dialog_duration_seconds",
		}),
		transportBytes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "transport_bytes_total",
		}, []string{"scheme", "direction"}),
		transportErrs: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "transport_errors_total",
		}, []string{"scheme"}),
		turnAllocGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "turn_allocations_active",
		}),
		turnChanGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "turn_channels_active",
		}),
		turnPermGauge: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem, Name: "turn_permissions_active",
		}),
	}
}

func (c *promCollector) TransactionCreated(kind string) { c.txCreated.WithLabelValues(kind).Inc() }
func (c *promCollector) TransactionCompleted(kind string, d time.Duration) {
	c.txDuration.WithLabelValues(kind).Observe(d.Seconds())
}
func (c *promCollector) TransactionTimedOut(kind string) { c.txTimeouts.WithLabelValues(kind).Inc() }
func (c *promCollector) DialogCreated()                 { c.dialogsTotal.Inc() }
func (c *promCollector) DialogTerminated(d time.Duration) { c.dialogDuration.Observe(d.Seconds()) }
func (c *promCollector) TransportBytesSent(scheme string, n int) {
	c.transportBytes.WithLabelValues(scheme, "sent").Add(float64(n))
}
func (c *promCollector) TransportBytesRecv(scheme string, n int) {
	c.transportBytes.WithLabelValues(scheme, "recv").Add(float64(n))
}
func (c *promCollector) TransportError(scheme string) { c.transportErrs.WithLabelValues(scheme).Inc() }
func (c *promCollector) TurnAllocationActive(delta int) { c.turnAllocGauge.Add(float64(delta)) }
func (c *promCollector) TurnChannelActive(delta int)    { c.turnChanGauge.Add(float64(delta)) }
func (c *promCollector) TurnPermissionActive(delta int) { c.turnPermGauge.Add(float64(delta)) }
