// Package checkin implements the kiosk check-in: find the patient's
// reservation, optionally capture the insurance card, check in and hand out
// a waiting number.
package checkin

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shikaclinic/clinic/internal/domain/insurance"
	"github.com/shikaclinic/clinic/internal/domain/scheduling"
	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/metrics"
)

var tracer = otel.Tracer("clinic.internal.domain.checkin")

// Scheduler is the part of the scheduling service the kiosk drives.
type Scheduler interface {
	FindCheckInCandidates(ctx context.Context, nameLast, nameFirst string) ([]*scheduling.Reservation, error)
	GetReservation(ctx context.Context, id uuid.UUID) (*scheduling.Reservation, error)
	CheckIn(ctx context.Context, id uuid.UUID) (*scheduling.Reservation, error)
	WaitingNumber(ctx context.Context, r *scheduling.Reservation) (int, error)
}

// Cards captures and looks up insurance cards.
type Cards interface {
	Capture(ctx context.Context, patientID uuid.UUID, front insurance.Image, back *insurance.Image) (*insurance.CaptureResult, error)
	Get(ctx context.Context, patientID uuid.UUID) (*insurance.Insurance, error)
}

type Service struct {
	scheduler Scheduler
	cards     Cards
	metrics   *metrics.ClinicMetrics
	logger    zerolog.Logger
}

func NewService(sched Scheduler, cards Cards, m *metrics.ClinicMetrics, logger zerolog.Logger) *Service {
	return &Service{scheduler: sched, cards: cards, metrics: m, logger: logger}
}

// Query is what the patient types at the kiosk.
type Query struct {
	NameLast  string `json:"name_last"`
	NameFirst string `json:"name_first"`
	BirthDate string `json:"birth_date"`
	Phone     string `json:"phone"`
}

// Match is the reservation shown back to the patient. It leaves out the
// contact details that were used to find it.
type Match struct {
	ReservationID uuid.UUID           `json:"reservation_id"`
	PatientID     uuid.UUID           `json:"patient_id"`
	NameLast      string              `json:"name_last"`
	NameFirst     string              `json:"name_first"`
	Date          string              `json:"reservation_date"`
	StartTime     string              `json:"start_time"`
	Category      scheduling.Category `json:"category"`
}

func toMatch(r *scheduling.Reservation) *Match {
	m := &Match{
		ReservationID: r.ID,
		PatientID:     r.PatientID,
		Date:          r.Date,
		StartTime:     r.StartTime,
		Category:      r.Category,
	}
	if r.Patient != nil {
		m.NameLast, m.NameFirst = r.Patient.NameLast, r.Patient.NameFirst
	}
	return m
}

func (s *Service) finish(span trace.Span, step string, err error) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, apperr.ErrNoMatch):
		outcome = "no_match"
	case errors.Is(err, apperr.ErrValidation):
		outcome = "invalid"
	default:
		outcome = "error"
	}
	s.metrics.ObserveCheckIn(step, outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, apperr.Message(err))
	}
	span.End()
}

// Search finds the earliest confirmed reservation whose patient has exactly
// this name and whose birth date or phone agrees with q.
func (s *Service) Search(ctx context.Context, q Query) (m *Match, err error) {
	const op = "check-in search"
	ctx, span := tracer.Start(ctx, "checkin.search")
	defer func() { s.finish(span, "search", err) }()

	q.NameLast = strings.TrimSpace(q.NameLast)
	q.NameFirst = strings.TrimSpace(q.NameFirst)
	q.BirthDate = strings.TrimSpace(q.BirthDate)
	q.Phone = strings.TrimSpace(q.Phone)
	if q.NameLast == "" || q.NameFirst == "" {
		return nil, apperr.Validation(op, "お名前を入力してください")
	}
	if q.BirthDate == "" && q.Phone == "" {
		return nil, apperr.Validation(op, "生年月日または電話番号を入力してください")
	}

	candidates, err := s.scheduler.FindCheckInCandidates(ctx, q.NameLast, q.NameFirst)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("clinic.candidates", len(candidates)))
	for _, r := range candidates {
		if r.Patient == nil {
			continue
		}
		if identityMatches(q, r.Patient.BirthDate, r.Patient.Phone) {
			span.SetAttributes(attribute.String("clinic.reservation_id", r.ID.String()))
			return toMatch(r), nil
		}
	}
	return nil, apperr.NoMatch(op,
		"ご予約が見つかりませんでした。入力内容をご確認いただくか、受付スタッフにお声がけください。")
}

// kioskReservation loads a reservation the kiosk may act on: confirmed, or
// already checked in when the patient repeats a step.
func (s *Service) kioskReservation(ctx context.Context, op string, id uuid.UUID) (*scheduling.Reservation, error) {
	r, err := s.scheduler.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.Status != scheduling.StatusConfirmed && r.Status != scheduling.StatusCheckedIn {
		return nil, apperr.Validation(op, "this reservation cannot be checked in at the kiosk, please ask the front desk")
	}
	return r, nil
}

// Insurance stores the patient's card images for the reservation and runs
// OCR on the front. OCR problems are absorbed by the insurance service.
func (s *Service) Insurance(ctx context.Context, reservationID uuid.UUID, front insurance.Image, back *insurance.Image) (res *insurance.CaptureResult, err error) {
	const op = "check-in insurance"
	ctx, span := tracer.Start(ctx, "checkin.insurance")
	defer func() { s.finish(span, "insurance", err) }()

	r, err := s.kioskReservation(ctx, op, reservationID)
	if err != nil {
		return nil, err
	}
	res, err = s.cards.Capture(ctx, r.PatientID, front, back)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("clinic.ocr", res.OCR))
	return res, nil
}

// Ticket is the check-in result shown on the kiosk.
type Ticket struct {
	Reservation     *Match `json:"reservation"`
	WaitingNumber   int    `json:"waiting_number"`
	InsuranceOnFile bool   `json:"insurance_on_file"`
}

// Confirm checks the reservation in and returns the waiting number.
// Confirming twice returns the same number.
func (s *Service) Confirm(ctx context.Context, reservationID uuid.UUID) (t *Ticket, err error) {
	const op = "check-in confirm"
	ctx, span := tracer.Start(ctx, "checkin.confirm")
	span.SetAttributes(attribute.String("clinic.reservation_id", reservationID.String()))
	defer func() { s.finish(span, "confirm", err) }()

	if _, err := s.kioskReservation(ctx, op, reservationID); err != nil {
		return nil, err
	}
	r, err := s.scheduler.CheckIn(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	t, err = s.ticket(ctx, r)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("reservation_id", r.ID.String()).
		Int("waiting_number", t.WaitingNumber).
		Msg("patient checked in")
	return t, nil
}

// Complete shows the ticket again for a reservation that is checked in.
func (s *Service) Complete(ctx context.Context, reservationID uuid.UUID) (t *Ticket, err error) {
	const op = "check-in complete"
	ctx, span := tracer.Start(ctx, "checkin.complete")
	defer func() { s.finish(span, "complete", err) }()

	r, err := s.scheduler.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.Status != scheduling.StatusCheckedIn || r.CheckedInAt == nil {
		return nil, apperr.Validation(op, "this reservation is not checked in yet")
	}
	return s.ticket(ctx, r)
}

func (s *Service) ticket(ctx context.Context, r *scheduling.Reservation) (*Ticket, error) {
	n, err := s.scheduler.WaitingNumber(ctx, r)
	if err != nil {
		return nil, err
	}
	t := &Ticket{Reservation: toMatch(r), WaitingNumber: n}
	if s.cards != nil {
		_, err := s.cards.Get(ctx, r.PatientID)
		switch {
		case err == nil:
			t.InsuranceOnFile = true
		case !errors.Is(err, apperr.ErrNotFound):
			// The ticket is still valid; the desk asks for the card.
			s.logger.Warn().Err(err).Str("reservation_id", r.ID.String()).Msg("insurance lookup failed")
		}
	}
	return t, nil
}
