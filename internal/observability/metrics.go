package observability

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters for the slot engine and the fulfillment
// pipeline. A nil *BookingMetrics is valid and records nothing.
type BookingMetrics struct {
	claims        *prometheus.CounterVec
	sagas         *prometheus.CounterVec
	compensations *prometheus.CounterVec
	directives    *prometheus.CounterVec
	reconciled    prometheus.Counter
	sagaLatency   *prometheus.HistogramVec
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "slots",
			Name:      "claims_total",
			Help:      "Slot claim attempts by result",
		}, []string{"result"}),
		sagas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "booking",
			Name:      "operations_total",
			Help:      "Booking engine operations by outcome",
		}, []string{"operation", "outcome"}),
		compensations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "booking",
			Name:      "compensations_total",
			Help:      "Compensating slot releases by result",
		}, []string{"result"}),
		directives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "fulfillment",
			Name:      "directives_total",
			Help:      "Directives handled by the fulfillment consumer",
		}, []string{"kind", "outcome"}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dental",
			Subsystem: "slots",
			Name:      "reconciled_total",
			Help:      "Orphaned slots released by the reconciliation sweep",
		}),
		sagaLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dental",
			Subsystem: "booking",
			Name:      "operation_seconds",
			Help:      "Latency of booking engine operations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.claims, m.sagas, m.compensations, m.directives, m.reconciled, m.sagaLatency)
	return m
}

func (m *BookingMetrics) ObserveClaim(result string) {
	if m == nil {
		return
	}
	m.claims.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveOperation(operation, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.sagas.WithLabelValues(operation, outcome).Inc()
	m.sagaLatency.WithLabelValues(operation).Observe(seconds)
}

func (m *BookingMetrics) ObserveCompensation(ok bool) {
	if m == nil {
		return
	}
	result := "released"
	if !ok {
		result = "failed"
	}
	m.compensations.WithLabelValues(result).Inc()
}

func (m *BookingMetrics) ObserveDirective(kind, outcome string) {
	if m == nil {
		return
	}
	m.directives.WithLabelValues(kind, outcome).Inc()
}

func (m *BookingMetrics) ObserveReconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.Add(float64(n))
}
