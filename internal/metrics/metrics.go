// Package metrics exposes Prometheus instrumentation for the transfer
// protocol.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	transfersTotal      *prometheus.CounterVec
	compensationsTotal  prometheus.Counter
	peerRequestDuration *prometheus.HistogramVec
}

// New registers the protocol collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		transfersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sinpe",
			Name:      "transfers_total",
			Help:      "Transfers processed, by routing case and outcome.",
		}, []string{"case", "outcome"}),
		compensationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "sinpe",
			Name:      "compensations_total",
			Help:      "Local debits reversed after a failed outbound leg.",
		}),
		peerRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sinpe",
			Name:      "peer_request_duration_seconds",
			Help:      "Duration of outbound peer bank calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"bank_code", "outcome"}),
	}
}

// ObserveTransfer counts one routed transfer. Nil receiver is a no-op
// so tests can run without a registry.
func (m *Metrics) ObserveTransfer(routingCase, outcome string) {
	if m == nil {
		return
	}
	m.transfersTotal.WithLabelValues(routingCase, outcome).Inc()
}

// ObserveCompensation counts one successful debit reversal.
func (m *Metrics) ObserveCompensation() {
	if m == nil {
		return
	}
	m.compensationsTotal.Inc()
}

// ObservePeerRequest records one outbound call to a peer bank.
func (m *Metrics) ObservePeerRequest(bankCode, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.peerRequestDuration.WithLabelValues(bankCode, outcome).Observe(elapsed.Seconds())
}
