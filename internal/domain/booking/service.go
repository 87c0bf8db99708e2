// Package booking implements the public web booking wizard: a weekly slot
// grid, a review step and the commit that creates the patient and the
// reservation. The wizard keeps no server-side session; every step carries
// the whole form.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shikaclinic/clinic/internal/domain/identity"
	"github.com/shikaclinic/clinic/internal/domain/scheduling"
	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/metrics"
	"github.com/shikaclinic/clinic/internal/platform/slothold"
)

var tracer = otel.Tracer("clinic.internal.domain.booking")

// Scheduler is the part of the scheduling service the wizard drives.
type Scheduler interface {
	Now() time.Time
	Hours() scheduling.BusinessHours
	Availability(ctx context.Context, from, to time.Time) ([]scheduling.DaySlots, error)
	SlotBookable(ctx context.Context, date, hhmm string) (bool, error)
	CreateReservation(ctx context.Context, r *scheduling.Reservation) (*scheduling.Reservation, error)
}

// Patients finds or creates the booking patient.
type Patients interface {
	UpsertByPhone(ctx context.Context, draft *identity.Patient) (*identity.Patient, bool, error)
}

type Service struct {
	scheduler Scheduler
	patients  Patients
	holds     slothold.Holder
	metrics   *metrics.ClinicMetrics
	logger    zerolog.Logger
}

// NewService wires the wizard. A nil holder disables slot holds.
func NewService(sched Scheduler, patients Patients, holds slothold.Holder, m *metrics.ClinicMetrics, logger zerolog.Logger) *Service {
	if holds == nil {
		holds = slothold.Nop{}
	}
	return &Service{scheduler: sched, patients: patients, holds: holds, metrics: m, logger: logger}
}

// Week is one page of the booking grid, Sunday through Saturday.
type Week struct {
	Start     string                `json:"start"`
	End       string                `json:"end"`
	Prev      string                `json:"prev"`
	Next      string                `json:"next"`
	CanGoBack bool                  `json:"can_go_back"`
	Days      []scheduling.DaySlots `json:"days"`
}

// Week returns the grid of the week containing anchor (YYYY-MM-DD). An
// empty anchor means the current week.
func (s *Service) Week(ctx context.Context, anchor string) (*Week, error) {
	hours := s.scheduler.Hours()
	now := s.scheduler.Now()
	day := now
	if anchor != "" {
		d, err := hours.ParseDate(anchor)
		if err != nil {
			return nil, apperr.Validation("booking week", "week must be YYYY-MM-DD")
		}
		day = d
	}
	start := scheduling.WeekStart(day)
	end := start.AddDate(0, 0, 6)

	days, err := s.scheduler.Availability(ctx, start, end)
	if err != nil {
		return nil, err
	}
	return &Week{
		Start:     start.Format(scheduling.DateLayout),
		End:       end.Format(scheduling.DateLayout),
		Prev:      start.AddDate(0, 0, -7).Format(scheduling.DateLayout),
		Next:      start.AddDate(0, 0, 7).Format(scheduling.DateLayout),
		CanGoBack: start.After(scheduling.WeekStart(now)),
		Days:      days,
	}, nil
}

// Form is everything the patient entered. It travels unchanged from the
// review step to the commit.
type Form struct {
	Date          string `json:"reservation_date"`
	StartTime     string `json:"start_time"`
	NameLast      string `json:"name_last"`
	NameFirst     string `json:"name_first"`
	NameLastKana  string `json:"name_last_kana"`
	NameFirstKana string `json:"name_first_kana"`
	BirthDate     string `json:"birth_date"`
	Gender        string `json:"gender"`
	Phone         string `json:"phone"`
	Email         string `json:"email"`
	Category      string `json:"category"`
	Note          string `json:"note"`
}

var categoryLabels = map[scheduling.Category]string{
	scheduling.CategoryFirstVisit:   "初診",
	scheduling.CategoryCheckup:      "定期検診",
	scheduling.CategoryTreatment:    "治療",
	scheduling.CategoryConsultation: "相談",
	scheduling.CategoryEmergency:    "急患",
	scheduling.CategoryOther:        "その他",
}

var genderLabels = map[string]string{"male": "男性", "female": "女性", "other": "その他"}

var weekdayLabels = [...]string{"日", "月", "火", "水", "木", "金", "土"}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// patient builds the identity draft from the form.
func (f *Form) patient() *identity.Patient {
	return &identity.Patient{
		NameLast:      f.NameLast,
		NameFirst:     f.NameFirst,
		NameLastKana:  optional(f.NameLastKana),
		NameFirstKana: optional(f.NameFirstKana),
		BirthDate:     optional(f.BirthDate),
		Gender:        optional(f.Gender),
		Phone:         optional(f.Phone),
		Email:         optional(f.Email),
	}
}

// normalize trims the form and defaults the category to treatment.
func (f *Form) normalize() {
	for _, p := range []*string{&f.Date, &f.StartTime, &f.NameLast, &f.NameFirst, &f.NameLastKana,
		&f.NameFirstKana, &f.BirthDate, &f.Gender, &f.Phone, &f.Email, &f.Category, &f.Note} {
		*p = strings.TrimSpace(*p)
	}
	if f.Category == "" {
		f.Category = string(scheduling.CategoryTreatment)
	}
}

func (f *Form) validate(op string) error {
	if f.Date == "" || f.StartTime == "" {
		return apperr.Validation(op, "please choose a date and time")
	}
	if _, err := time.Parse(scheduling.DateLayout, f.Date); err != nil {
		return apperr.Validation(op, "reservation_date must be YYYY-MM-DD")
	}
	if _, err := time.Parse(scheduling.TimeLayout, f.StartTime); err != nil {
		return apperr.Validation(op, "start_time must be HH:MM")
	}
	if f.NameLast == "" {
		return apperr.Validation(op, "姓を入力してください")
	}
	if f.NameFirst == "" {
		return apperr.Validation(op, "名を入力してください")
	}
	if f.Phone == "" {
		return apperr.Validation(op, "電話番号を入力してください")
	}
	if !scheduling.Category(f.Category).Valid() {
		return apperr.Validation(op, "invalid category: "+f.Category)
	}
	p := f.patient()
	p.Normalize()
	return p.Validate(op)
}

// Summary is the confirmation screen.
type Summary struct {
	Form          Form   `json:"form"`
	DateLabel     string `json:"date_label"`
	CategoryLabel string `json:"category_label"`
	GenderLabel   string `json:"gender_label,omitempty"`
}

func (s *Service) summarize(f Form) *Summary {
	sum := &Summary{
		Form:          f,
		CategoryLabel: categoryLabels[scheduling.Category(f.Category)],
		GenderLabel:   genderLabels[f.Gender],
	}
	if d, err := s.scheduler.Hours().ParseDate(f.Date); err == nil {
		sum.DateLabel = d.Format("2006年1月2日") + "（" + weekdayLabels[d.Weekday()] + "） " + f.StartTime
	}
	return sum
}

var errSlotGone = apperr.Conflict("booking", "this time slot is no longer available, please pick another")

// Review validates the form and checks the slot is still open.
func (s *Service) Review(ctx context.Context, f Form) (*Summary, error) {
	f.normalize()
	if err := f.validate("booking review"); err != nil {
		return nil, err
	}
	ok, err := s.scheduler.SlotBookable(ctx, f.Date, f.StartTime)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errSlotGone
	}
	return s.summarize(f), nil
}

// Confirmation is returned once the reservation exists.
type Confirmation struct {
	ReservationID  uuid.UUID `json:"reservation_id"`
	PatientID      uuid.UUID `json:"patient_id"`
	PatientCreated bool      `json:"patient_created"`
	Date           string    `json:"reservation_date"`
	StartTime      string    `json:"start_time"`
	Summary        *Summary  `json:"summary"`
}

// Commit re-validates f, upserts the patient by phone and creates a
// confirmed web reservation. The patient is written before the
// reservation and is kept if the reservation fails.
func (s *Service) Commit(ctx context.Context, f Form) (conf *Confirmation, err error) {
	const op = "booking commit"
	ctx, span := tracer.Start(ctx, "booking.commit")
	defer span.End()
	defer func() {
		s.metrics.ObserveBooking(outcome(err))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, apperr.Message(err))
		}
	}()

	f.normalize()
	span.SetAttributes(
		attribute.String("clinic.reservation_date", f.Date),
		attribute.String("clinic.start_time", f.StartTime),
	)
	if err := f.validate(op); err != nil {
		return nil, err
	}

	hold, err := s.holds.Acquire(ctx, f.Date, f.StartTime)
	switch {
	case errors.Is(err, slothold.ErrHeld):
		s.metrics.ObserveSlotHold("contended")
		return nil, errSlotGone
	case err != nil:
		// Redis trouble only loses the fast path; the store re-check
		// still guards the slot.
		s.metrics.ObserveSlotHold("error")
		s.logger.Warn().Err(err).Str("date", f.Date).Str("time", f.StartTime).Msg("slot hold unavailable")
	default:
		s.metrics.ObserveSlotHold("acquired")
		defer func() {
			if rerr := hold.Release(context.WithoutCancel(ctx)); rerr != nil {
				s.logger.Warn().Err(rerr).Msg("slot hold release failed")
			}
		}()
	}

	ok, err := s.scheduler.SlotBookable(ctx, f.Date, f.StartTime)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errSlotGone
	}

	patient, created, err := s.patients.UpsertByPhone(ctx, f.patient())
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("clinic.patient_id", patient.ID.String()))

	r, err := s.scheduler.CreateReservation(ctx, &scheduling.Reservation{
		PatientID:          patient.ID,
		Date:               f.Date,
		StartTime:          f.StartTime,
		Category:           scheduling.Category(f.Category),
		Status:             scheduling.StatusConfirmed,
		Source:             scheduling.SourceWeb,
		InterviewCompleted: false,
		Note:               optional(f.Note),
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("patient_id", patient.ID.String()).
			Bool("patient_created", created).
			Msg("web reservation failed after patient upsert")
		return nil, err
	}
	span.SetAttributes(attribute.String("clinic.reservation_id", r.ID.String()))

	s.logger.Info().
		Str("reservation_id", r.ID.String()).
		Str("patient_id", patient.ID.String()).
		Str("date", r.Date).
		Str("time", r.StartTime).
		Msg("web reservation created")

	return &Confirmation{
		ReservationID:  r.ID,
		PatientID:      patient.ID,
		PatientCreated: created,
		Date:           r.Date,
		StartTime:      r.StartTime,
		Summary:        s.summarize(f),
	}, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "created"
	case errors.Is(err, apperr.ErrSlotConflict):
		return "conflict"
	case errors.Is(err, apperr.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
