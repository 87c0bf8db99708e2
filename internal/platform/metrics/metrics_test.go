package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClinicMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClinicMetrics(reg)

	m.ObserveBooking("created")
	m.ObserveBooking("created")
	m.ObserveBooking("conflict")
	m.ObserveCheckIn("search", "matched")
	m.ObserveTransition("confirmed", "checked_in", true)
	m.ObserveTransition("tentative", "completed", false)
	m.ObserveOCR("ok", 1.2)
	m.ObserveSlotHold("contended")
	m.ObserveStoreError("create reservation")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookings.WithLabelValues("created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookings.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("tentative", "completed", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.slotHolds.WithLabelValues("contended")))
}

func TestClinicMetricsNilSafe(t *testing.T) {
	var m *ClinicMetrics
	m.ObserveBooking("created")
	m.ObserveCheckIn("confirm", "ok")
	m.ObserveTransition("a", "b", true)
	m.ObserveOCR("failed", 0.1)
	m.ObserveSlotHold("acquired")
	m.ObserveStoreError("op")
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewClinicMetrics(reg)
	m.ObserveBooking("created")

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `clinic_booking_commits_total{outcome="created"} 1`))
}
