package checkin_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/shikaclinic/clinic/internal/domain/checkin"
	"github.com/shikaclinic/clinic/internal/domain/identity"
	"github.com/shikaclinic/clinic/internal/domain/insurance"
	"github.com/shikaclinic/clinic/internal/domain/scheduling"
	"github.com/shikaclinic/clinic/internal/domain/scheduling/schedulingtest"
	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/metrics"
)

var tokyo, _ = time.LoadLocation("Asia/Tokyo")

// fixedNow is Monday 2024-06-10 09:05 in Tokyo.
var fixedNow = time.Date(2024, 6, 10, 9, 5, 0, 0, tokyo)

type fakeCards struct {
	mu       sync.Mutex
	onFile   map[uuid.UUID]bool
	captured []uuid.UUID
	getErr   error
}

func newFakeCards() *fakeCards { return &fakeCards{onFile: map[uuid.UUID]bool{}} }

func (f *fakeCards) Capture(_ context.Context, patientID uuid.UUID, front insurance.Image, _ *insurance.Image) (*insurance.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(front.Data) == 0 {
		return nil, apperr.Validation("capture insurance", "front image is required")
	}
	f.onFile[patientID] = true
	f.captured = append(f.captured, patientID)
	return &insurance.CaptureResult{Insurance: &insurance.Insurance{PatientID: patientID}, OCR: insurance.OCRFailed}, nil
}

func (f *fakeCards) Get(_ context.Context, patientID uuid.UUID) (*insurance.Insurance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if !f.onFile[patientID] {
		return nil, apperr.NotFound("get insurance", "insurance card not found")
	}
	return &insurance.Insurance{PatientID: patientID}, nil
}

type fixture struct {
	svc   *checkin.Service
	sched *scheduling.Service
	store *schedulingtest.Store
	cards *fakeCards
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := schedulingtest.NewStore()
	store.Now = func() time.Time { return fixedNow }
	m := metrics.NewClinicMetrics(prometheus.NewRegistry())
	hours := scheduling.BusinessHours{
		OpenHour: 9, CloseHour: 18, SlotIntervalMinutes: 30,
		ClosedWeekdays: []time.Weekday{time.Sunday},
		Location:       tokyo,
	}
	sched := scheduling.NewService(store.Reservations(), store.Units(), store.WaitingList(), store.Tx(),
		hours, scheduling.PolicyClinic, m, zerolog.Nop())
	sched.SetClock(func() time.Time { return fixedNow })
	cards := newFakeCards()
	return &fixture{
		svc:   checkin.NewService(sched, cards, m, zerolog.Nop()),
		sched: sched,
		store: store,
		cards: cards,
	}
}

func strPtr(s string) *string { return &s }

func (f *fixture) yamada() *identity.Patient {
	return f.store.AddPatient(&identity.Patient{
		NameLast: "山田", NameFirst: "太郎", BirthDate: strPtr("1990-01-01"), Phone: strPtr("090-1234-5678"),
	})
}

func (f *fixture) checkedIn(date string, at time.Time) {
	p := f.store.AddPatient(&identity.Patient{NameLast: "他", NameFirst: "患者"})
	f.store.AddReservation(&scheduling.Reservation{
		PatientID: p.ID, Date: date, StartTime: "09:00",
		Status: scheduling.StatusCheckedIn, CheckedInAt: &at,
	})
}

func TestCheckIn_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p := f.yamada()
	res := f.store.AddReservation(&scheduling.Reservation{
		PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00", Category: scheduling.CategoryCheckup,
	})
	f.checkedIn("2024-06-10", fixedNow.Add(-30*time.Minute))
	f.checkedIn("2024-06-10", fixedNow.Add(-5*time.Minute))
	f.checkedIn("2024-06-11", fixedNow.Add(-time.Hour))

	m, err := f.svc.Search(ctx, checkin.Query{NameLast: "山田", NameFirst: "太郎", BirthDate: "1990-01-01"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if m.ReservationID != res.ID || m.NameLast != "山田" {
		t.Fatalf("unexpected match %+v", m)
	}

	ticket, err := f.svc.Confirm(ctx, m.ReservationID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if ticket.WaitingNumber != 3 {
		t.Errorf("expected waiting number 3, got %d", ticket.WaitingNumber)
	}

	r, err := f.sched.GetReservation(ctx, res.ID)
	if err != nil {
		t.Fatal(err)
	}
	if r.Status != scheduling.StatusCheckedIn {
		t.Errorf("expected checked_in, got %s", r.Status)
	}
	if r.CheckedInAt == nil || !r.CheckedInAt.Equal(fixedNow) {
		t.Errorf("expected checked_in_at %v, got %v", fixedNow, r.CheckedInAt)
	}
	if f.store.WaitingCount() != 1 {
		t.Errorf("expected 1 waiting entry, got %d", f.store.WaitingCount())
	}

	again, err := f.svc.Confirm(ctx, m.ReservationID)
	if err != nil {
		t.Fatalf("repeat confirm: %v", err)
	}
	if again.WaitingNumber != 3 || f.store.WaitingCount() != 1 {
		t.Error("repeat confirm must be idempotent")
	}

	done, err := f.svc.Complete(ctx, m.ReservationID)
	if err != nil {
		t.Fatal(err)
	}
	if done.WaitingNumber != 3 || done.InsuranceOnFile {
		t.Errorf("unexpected completion %+v", done)
	}
}

func TestSearch_PhoneMatch(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	res := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-12", StartTime: "11:00"})

	m, err := f.svc.Search(context.Background(), checkin.Query{
		NameLast: "山田", NameFirst: "太郎", BirthDate: "1985-05-05", Phone: "+81 90 1234 5678",
	})
	if err != nil {
		t.Fatal(err)
	}
	if m.ReservationID != res.ID {
		t.Error("expected the phone to identify the patient")
	}
}

func TestSearch_EarliestWins(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-12", StartTime: "09:00"})
	early := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-11", StartTime: "15:00"})
	f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-11", StartTime: "16:00"})

	m, err := f.svc.Search(context.Background(), checkin.Query{NameLast: "山田", NameFirst: "太郎", BirthDate: "1990-01-01"})
	if err != nil {
		t.Fatal(err)
	}
	if m.ReservationID != early.ID {
		t.Errorf("expected earliest reservation %s, got %s %s", early.ID, m.Date, m.StartTime)
	}
}

func TestSearch_NoMatch(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00"})
	f.store.AddReservation(&scheduling.Reservation{
		PatientID: p.ID, Date: "2024-06-11", StartTime: "10:00", Status: scheduling.StatusCancelled,
	})

	tests := []struct {
		name string
		q    checkin.Query
	}{
		{"wrong birth date", checkin.Query{NameLast: "山田", NameFirst: "太郎", BirthDate: "1990-02-02"}},
		{"wrong phone", checkin.Query{NameLast: "山田", NameFirst: "太郎", Phone: "080-9999-0000"}},
		{"different name", checkin.Query{NameLast: "山田", NameFirst: "花子", BirthDate: "1990-01-01"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Search(context.Background(), tt.q)
			if !errors.Is(err, apperr.ErrNoMatch) {
				t.Errorf("expected no match, got %v", err)
			}
		})
	}
}

func TestSearch_Validation(t *testing.T) {
	f := newFixture(t)
	for _, q := range []checkin.Query{
		{NameFirst: "太郎", BirthDate: "1990-01-01"},
		{NameLast: "山田", NameFirst: "太郎"},
	} {
		if _, err := f.svc.Search(context.Background(), q); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("expected validation error for %+v, got %v", q, err)
		}
	}
}

func TestSearch_StoreUnavailable(t *testing.T) {
	f := newFixture(t)
	f.store.FailOn("FindCheckInCandidates", apperr.Unavailable("find candidates", errors.New("down")))

	_, err := f.svc.Search(context.Background(), checkin.Query{NameLast: "山田", NameFirst: "太郎", BirthDate: "1990-01-01"})
	if !errors.Is(err, apperr.ErrStoreUnavailable) {
		t.Errorf("expected store unavailable, got %v", err)
	}
}

func TestConfirm_RefusesClosedReservations(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	for _, st := range []scheduling.Status{scheduling.StatusCancelled, scheduling.StatusCompleted, scheduling.StatusNoShow} {
		r := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00", Status: st})
		if _, err := f.svc.Confirm(context.Background(), r.ID); !errors.Is(err, apperr.ErrValidation) {
			t.Errorf("%s: expected validation error, got %v", st, err)
		}
	}
	if _, err := f.svc.Confirm(context.Background(), uuid.New()); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if f.store.WaitingCount() != 0 {
		t.Error("refused check-ins must not enqueue")
	}
}

func TestInsuranceStep(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	r := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00"})

	res, err := f.svc.Insurance(context.Background(), r.ID, insurance.Image{ContentType: "image/jpeg", Data: []byte("x")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if res.Insurance.PatientID != p.ID {
		t.Error("card must be saved for the reservation's patient")
	}

	ticket, err := f.svc.Confirm(context.Background(), r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !ticket.InsuranceOnFile {
		t.Error("expected insurance on file")
	}
	if ticket.WaitingNumber != 1 {
		t.Errorf("expected first in line, got %d", ticket.WaitingNumber)
	}
}

func TestComplete_NotCheckedIn(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	r := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00"})

	if _, err := f.svc.Complete(context.Background(), r.ID); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestComplete_InsuranceLookupFailureIsTolerated(t *testing.T) {
	f := newFixture(t)
	p := f.yamada()
	r := f.store.AddReservation(&scheduling.Reservation{PatientID: p.ID, Date: "2024-06-10", StartTime: "10:00"})
	if _, err := f.svc.Confirm(context.Background(), r.ID); err != nil {
		t.Fatal(err)
	}
	f.cards.getErr = apperr.Unavailable("get insurance", errors.New("down"))

	ticket, err := f.svc.Complete(context.Background(), r.ID)
	if err != nil {
		t.Fatalf("expected ticket despite insurance error, got %v", err)
	}
	if ticket.InsuranceOnFile {
		t.Error("unknown insurance state must read as not on file")
	}
}
