package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ClinicMetrics exposes counters for the booking, check-in and intake flows.
// A nil *ClinicMetrics is a valid no-op recorder.
type ClinicMetrics struct {
	bookings    *prometheus.CounterVec
	checkIns    *prometheus.CounterVec
	transitions *prometheus.CounterVec
	ocr         *prometheus.CounterVec
	slotHolds   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	ocrLatency  prometheus.Histogram
}

func NewClinicMetrics(reg prometheus.Registerer) *ClinicMetrics {
	m := &ClinicMetrics{
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "commits_total",
			Help:      "Public booking commits by outcome",
		}, []string{"outcome"}),
		checkIns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "checkin",
			Name:      "attempts_total",
			Help:      "Kiosk check-in steps by step and outcome",
		}, []string{"step", "outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "reservation",
			Name:      "transitions_total",
			Help:      "Reservation status changes",
		}, []string{"from", "to", "modeled"}),
		ocr: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "insurance",
			Name:      "ocr_total",
			Help:      "Insurance card OCR calls by outcome",
		}, []string{"outcome"}),
		slotHolds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "booking",
			Name:      "slot_holds_total",
			Help:      "Slot hold attempts by outcome",
		}, []string{"outcome"}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clinic",
			Subsystem: "store",
			Name:      "errors_total",
			Help:      "Store failures surfaced to users, by operation",
		}, []string{"op"}),
		ocrLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "clinic",
			Subsystem: "insurance",
			Name:      "ocr_latency_seconds",
			Help:      "Latency of insurance card OCR calls",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20},
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.bookings, m.checkIns, m.transitions, m.ocr, m.slotHolds, m.storeErrors, m.ocrLatency)
	return m
}

func (m *ClinicMetrics) ObserveBooking(outcome string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(outcome).Inc()
}

func (m *ClinicMetrics) ObserveCheckIn(step, outcome string) {
	if m == nil {
		return
	}
	m.checkIns.WithLabelValues(step, outcome).Inc()
}

func (m *ClinicMetrics) ObserveTransition(from, to string, modeled bool) {
	if m == nil {
		return
	}
	label := "false"
	if modeled {
		label = "true"
	}
	m.transitions.WithLabelValues(from, to, label).Inc()
}

func (m *ClinicMetrics) ObserveOCR(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ocr.WithLabelValues(outcome).Inc()
	m.ocrLatency.Observe(seconds)
}

func (m *ClinicMetrics) ObserveSlotHold(outcome string) {
	if m == nil {
		return
	}
	m.slotHolds.WithLabelValues(outcome).Inc()
}

func (m *ClinicMetrics) ObserveStoreError(op string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(op).Inc()
}

// Handler serves the metrics in g, or the default gatherer when g is nil.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
