package scheduling

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/metrics"
)

type Service struct {
	reservations ReservationRepository
	units        UnitRepository
	waiting      WaitingListRepository
	tx           TxRunner
	hours        BusinessHours
	policy       string
	metrics      *metrics.ClinicMetrics
	logger       zerolog.Logger
	now          func() time.Time
}

func NewService(res ReservationRepository, units UnitRepository, wl WaitingListRepository, tx TxRunner,
	hours BusinessHours, policy string, m *metrics.ClinicMetrics, logger zerolog.Logger) *Service {
	return &Service{
		reservations: res,
		units:        units,
		waiting:      wl,
		tx:           tx,
		hours:        hours,
		policy:       policy,
		metrics:      m,
		logger:       logger,
		now:          time.Now,
	}
}

// SetClock replaces the service clock. Used by tests and the slots preview.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) Now() time.Time { return s.now().In(s.hours.loc()) }

func (s *Service) Hours() BusinessHours { return s.hours }

// Calculator returns a calculator sized for the current unit roster.
func (s *Service) Calculator(ctx context.Context) (*Calculator, error) {
	capacity := 1
	if s.policy == PolicyUnit {
		units, err := s.units.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		capacity = len(units)
	}
	return NewCalculator(s.hours, s.policy, capacity), nil
}

// -- Availability --

// Availability returns the slot grid for from..to inclusive.
func (s *Service) Availability(ctx context.Context, from, to time.Time) ([]DaySlots, error) {
	if to.Before(from) {
		return nil, apperr.Validation("availability", "end date is before start date")
	}
	if to.Sub(from) > 62*24*time.Hour {
		return nil, apperr.Validation("availability", "date range is too long")
	}
	calc, err := s.Calculator(ctx)
	if err != nil {
		return nil, err
	}
	reserved, err := s.reservations.FindByDateRange(ctx, from.Format(DateLayout), to.Format(DateLayout), Filter{})
	if err != nil {
		return nil, err
	}
	return slices.Collect(calc.Days(from, to, reserved, s.Now())), nil
}

// SlotBookable reports whether date+hhmm can be offered to the public.
func (s *Service) SlotBookable(ctx context.Context, date, hhmm string) (bool, error) {
	calc, err := s.Calculator(ctx)
	if err != nil {
		return false, err
	}
	reserved, err := s.reservations.FindByDateRange(ctx, date, date, Filter{})
	if err != nil {
		return false, err
	}
	return calc.IsAvailable(date, hhmm, BuildOccupancy(reserved), s.Now()), nil
}

// -- Reservations --

func (s *Service) ListReservations(ctx context.Context, from, to string, f Filter) ([]*Reservation, error) {
	if err := s.validateDate("list reservations", from); err != nil {
		return nil, err
	}
	if err := s.validateDate("list reservations", to); err != nil {
		return nil, err
	}
	if f.Status != nil && !f.Status.Valid() {
		return nil, apperr.Validation("list reservations", "invalid status: "+string(*f.Status))
	}
	if f.Source != nil && !f.Source.Valid() {
		return nil, apperr.Validation("list reservations", "invalid source: "+string(*f.Source))
	}
	return s.reservations.FindByDateRange(ctx, from, to, f)
}

func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.reservations.FindByID(ctx, id)
}

func (s *Service) validateDate(op, date string) error {
	if _, err := time.Parse(DateLayout, date); err != nil {
		return apperr.Validation(op, "date must be YYYY-MM-DD")
	}
	return nil
}

func (s *Service) validateStartTime(op, hhmm string) error {
	t, err := time.Parse(TimeLayout, hhmm)
	if err != nil {
		return apperr.Validation(op, "start time must be HH:MM")
	}
	if (t.Hour()*60+t.Minute())%s.hours.SlotIntervalMinutes != 0 {
		return apperr.Validation(op, fmt.Sprintf("start time must fall on a %d-minute boundary", s.hours.SlotIntervalMinutes))
	}
	return nil
}

// CreateReservation validates r, fills defaults and inserts it. Web-sourced
// reservations re-check the slot inside one transaction: the slot is
// locked, counted before the insert and recounted after it.
func (s *Service) CreateReservation(ctx context.Context, r *Reservation) (*Reservation, error) {
	const op = "create reservation"
	if r.PatientID == uuid.Nil {
		return nil, apperr.Validation(op, "patient_id is required")
	}
	if err := s.validateDate(op, r.Date); err != nil {
		return nil, err
	}
	if err := s.validateStartTime(op, r.StartTime); err != nil {
		return nil, err
	}
	if r.EndTime != nil {
		if _, err := time.Parse(TimeLayout, *r.EndTime); err != nil || *r.EndTime <= r.StartTime {
			return nil, apperr.Validation(op, "end time must be HH:MM after the start time")
		}
	}
	if r.Category == "" {
		r.Category = CategoryTreatment
	}
	if !r.Category.Valid() {
		return nil, apperr.Validation(op, "invalid category: "+string(r.Category))
	}
	if r.Status == "" {
		r.Status = StatusConfirmed
	}
	if r.Status != StatusConfirmed && r.Status != StatusTentative {
		return nil, apperr.Validation(op, "new reservations start as tentative or confirmed")
	}
	if r.Source == "" {
		r.Source = SourceManual
	}
	if !r.Source.Valid() {
		return nil, apperr.Validation(op, "invalid source: "+string(r.Source))
	}
	r.CheckedInAt = nil

	if r.Source != SourceWeb {
		if err := s.reservations.Create(ctx, r); err != nil {
			s.metrics.ObserveStoreError(op)
			return nil, err
		}
		return s.reservations.FindByID(ctx, r.ID)
	}

	calc, err := s.Calculator(ctx)
	if err != nil {
		return nil, err
	}
	if !calc.IsAvailable(r.Date, r.StartTime, nil, s.Now()) {
		return nil, apperr.Validation(op, "the selected time is not open for booking")
	}
	capacity := calc.Capacity()

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.reservations.LockSlot(ctx, r.Date, r.StartTime); err != nil {
			return err
		}
		n, err := s.reservations.CountLive(ctx, r.Date, r.StartTime)
		if err != nil {
			return err
		}
		if n >= capacity {
			return apperr.Conflict(op, "this time slot was just taken, please pick another")
		}
		if err := s.reservations.Create(ctx, r); err != nil {
			return err
		}
		n, err = s.reservations.CountLive(ctx, r.Date, r.StartTime)
		if err != nil {
			return err
		}
		if n > capacity {
			return apperr.Conflict(op, "this time slot was just taken, please pick another")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reservations.FindByID(ctx, r.ID)
}

// UpdateReservation applies an admin edit. Any valid status may be set;
// moves outside the modeled lifecycle are logged, not refused. Moving into
// checked_in stamps checked_in_at and enqueues the patient exactly once.
func (s *Service) UpdateReservation(ctx context.Context, id uuid.UUID, p Patch) (*Reservation, error) {
	const op = "update reservation"
	if p.Status != nil && !p.Status.Valid() {
		return nil, apperr.Validation(op, "invalid status: "+string(*p.Status))
	}
	if p.Category != nil && !p.Category.Valid() {
		return nil, apperr.Validation(op, "invalid category: "+string(*p.Category))
	}
	if p.Status == nil {
		return s.reservations.Update(ctx, id, p)
	}

	var out *Reservation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		cur, err := s.reservations.FindByID(ctx, id)
		if err != nil {
			return err
		}
		tr, err := Plan(cur.Status, *p.Status)
		if err != nil {
			return err
		}
		if !tr.Modeled {
			s.logger.Warn().
				Str("reservation_id", id.String()).
				Str("from", string(tr.From)).
				Str("to", string(tr.To)).
				Msg("reservation status change outside the modeled lifecycle")
		}
		if tr.CheckIn {
			now := s.now()
			p.CheckedInAt = &now
		}

		out, err = s.reservations.Update(ctx, id, p)
		if err != nil {
			return err
		}

		if tr.CheckIn {
			created, err := s.waiting.CreateIfAbsent(ctx, &WaitingListEntry{
				PatientID:      out.PatientID,
				ReservationID:  out.ID,
				AssignedUnitID: out.UnitID,
				Status:         WaitingStatusWaiting,
			})
			if err != nil {
				return err
			}
			if !created {
				s.logger.Debug().Str("reservation_id", id.String()).Msg("check-in repeated; waiting list entry already present")
			}
		}
		s.metrics.ObserveTransition(string(tr.From), string(tr.To), tr.Modeled)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetStatus is UpdateReservation restricted to the status column.
func (s *Service) SetStatus(ctx context.Context, id uuid.UUID, to Status) (*Reservation, error) {
	return s.UpdateReservation(ctx, id, Patch{Status: &to})
}

// CheckIn moves a reservation to checked_in. Calling it again is a no-op
// apart from updated_at.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	return s.SetStatus(ctx, id, StatusCheckedIn)
}

// WaitingNumber is the patient's queue position for the day: one more than
// the number of other checked-in reservations that day that checked in
// earlier.
func (s *Service) WaitingNumber(ctx context.Context, r *Reservation) (int, error) {
	if r.CheckedInAt == nil {
		return 0, apperr.Validation("waiting number", "reservation is not checked in")
	}
	n, err := s.reservations.CountCheckedInBefore(ctx, r.Date, *r.CheckedInAt)
	if err != nil {
		return 0, err
	}
	return n + 1, nil
}

// -- Calendar, units, waiting list --

func (s *Service) Calendar(ctx context.Context, date string) (*Calendar, error) {
	if err := s.validateDate("calendar", date); err != nil {
		return nil, err
	}
	units, err := s.units.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	reserved, err := s.reservations.FindByDateRange(ctx, date, date, Filter{})
	if err != nil {
		return nil, err
	}
	return NewCalculator(s.hours, s.policy, len(units)).Calendar(date, units, reserved), nil
}

func (s *Service) ListUnits(ctx context.Context) ([]*Unit, error) {
	return s.units.ListActive(ctx)
}

func (s *Service) WaitingList(ctx context.Context, date string) ([]*WaitingListEntry, error) {
	if err := s.validateDate("waiting list", date); err != nil {
		return nil, err
	}
	return s.waiting.ListByDate(ctx, date)
}

// FindCheckInCandidates returns confirmed reservations for an exact name,
// earliest first.
func (s *Service) FindCheckInCandidates(ctx context.Context, nameLast, nameFirst string) ([]*Reservation, error) {
	return s.reservations.FindCheckInCandidates(ctx, nameLast, nameFirst)
}
