package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/shikaclinic/clinic/internal/config"
	"github.com/shikaclinic/clinic/internal/domain/booking"
	"github.com/shikaclinic/clinic/internal/domain/checkin"
	"github.com/shikaclinic/clinic/internal/domain/identity"
	"github.com/shikaclinic/clinic/internal/domain/insurance"
	"github.com/shikaclinic/clinic/internal/domain/intake"
	"github.com/shikaclinic/clinic/internal/domain/scheduling"
	"github.com/shikaclinic/clinic/internal/domain/scheduling/schedulingtest"
	"github.com/shikaclinic/clinic/internal/platform/blobstore"
	"github.com/shikaclinic/clinic/internal/platform/metrics"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func testConfig(env string) *config.Config {
	return &config.Config{
		Env:                 env,
		AuthSigningKey:      "test-signing-key",
		CORSOrigins:         []string{"http://localhost:3000"},
		RateLimitRPS:        100,
		RateLimitBurst:      100,
		RequestTimeout:      5 * time.Second,
		ClinicTimezone:      "Asia/Tokyo",
		ClinicOpenHour:      9,
		ClinicCloseHour:     18,
		SlotIntervalMinutes: 30,
		ClosedWeekdays:      []int{0},
		OccupancyPolicy:     config.OccupancyClinic,
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, pinger fakePinger) http.Handler {
	t.Helper()
	logger := zerolog.Nop()
	store := schedulingtest.NewStore()
	reg := prometheus.NewRegistry()
	m := metrics.NewClinicMetrics(reg)

	sched := scheduling.NewService(store.Reservations(), store.Units(), store.WaitingList(), store.Tx(),
		businessHours(cfg), cfg.OccupancyPolicy, m, logger)
	patients := identity.NewService(store.Patients())
	cards := insurance.NewService(nil, blobstore.NewMemoryStore(), nil, m, logger)

	return newRouter(cfg, logger, handlers{
		scheduling: scheduling.NewHandler(sched),
		identity:   identity.NewHandler(patients),
		booking:    booking.NewHandler(booking.NewService(sched, patients, nil, m, logger)),
		checkin:    checkin.NewHandler(checkin.NewService(sched, cards, m, logger)),
		insurance:  insurance.NewHandler(cards),
		intake:     intake.NewHandler(intake.NewService(nil, sched, store.Tx(), logger)),
	}, pinger, reg)
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestRouter_Health(t *testing.T) {
	h := newTestRouter(t, testConfig("production"), fakePinger{})
	if rec := serve(h, http.MethodGet, "/health"); rec.Code != http.StatusOK {
		t.Errorf("/health = %d", rec.Code)
	}
	if rec := serve(h, http.MethodGet, "/metrics"); rec.Code != http.StatusOK {
		t.Errorf("/metrics = %d", rec.Code)
	}
}

func TestRouter_HealthDB_Down(t *testing.T) {
	h := newTestRouter(t, testConfig("production"), fakePinger{err: errors.New("refused")})
	if rec := serve(h, http.MethodGet, "/health/db"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("/health/db = %d, want 503", rec.Code)
	}
}

func TestRouter_PublicRoutesNeedNoToken(t *testing.T) {
	h := newTestRouter(t, testConfig("production"), fakePinger{})
	rec := serve(h, http.MethodGet, "/api/v1/public/booking/slots")
	if rec.Code != http.StatusOK {
		t.Fatalf("public slots = %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"days"`) {
		t.Errorf("expected the week grid, got %s", rec.Body.String())
	}
}

func TestRouter_AdminRoutesNeedToken(t *testing.T) {
	h := newTestRouter(t, testConfig("production"), fakePinger{})
	if rec := serve(h, http.MethodGet, "/api/v1/units"); rec.Code != http.StatusUnauthorized {
		t.Errorf("admin without token = %d, want 401", rec.Code)
	}
}

func TestRouter_DevAuth(t *testing.T) {
	h := newTestRouter(t, testConfig("development"), fakePinger{})
	if rec := serve(h, http.MethodGet, "/api/v1/units"); rec.Code != http.StatusOK {
		t.Errorf("admin in development = %d, want 200", rec.Code)
	}
}

func TestBusinessHours(t *testing.T) {
	cfg := testConfig("production")
	cfg.ClosedWeekdays = []int{0, 3}
	hours := businessHours(cfg)
	if hours.OpenHour != 9 || hours.CloseHour != 18 || hours.SlotIntervalMinutes != 30 {
		t.Errorf("unexpected hours %+v", hours)
	}
	if len(hours.ClosedWeekdays) != 2 || hours.ClosedWeekdays[1] != time.Wednesday {
		t.Errorf("unexpected closed days %v", hours.ClosedWeekdays)
	}
	if hours.Location.String() != "Asia/Tokyo" {
		t.Errorf("unexpected location %v", hours.Location)
	}
}

func TestPrintGrid(t *testing.T) {
	grid := []scheduling.DaySlots{
		{Date: "2024-06-09", Weekday: 0, Closed: true},
		{Date: "2024-06-10", Weekday: 1, Slots: []scheduling.Slot{
			{Time: "09:00", Available: false},
			{Time: "09:30", Available: true},
			{Time: "10:00", Available: true},
		}},
		{Date: "2024-06-11", Weekday: 2, Slots: []scheduling.Slot{{Time: "09:00"}}},
	}
	var buf bytes.Buffer
	printGrid(&buf, grid)

	want := "2024-06-09 Sun  closed\n2024-06-10 Mon  09:30 10:00\n2024-06-11 Tue  full\n"
	if buf.String() != want {
		t.Errorf("printGrid:\n%s\nwant:\n%s", buf.String(), want)
	}
}
