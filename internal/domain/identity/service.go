package identity

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
)

// MinSearchLength is the shortest query Search accepts.
const MinSearchLength = 2

type Service struct {
	patients PatientRepository
}

func NewService(patients PatientRepository) *Service {
	return &Service{patients: patients}
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// Normalize trims every field and drops empty optionals.
func (p *Patient) Normalize() {
	p.NameLast = strings.TrimSpace(p.NameLast)
	p.NameFirst = strings.TrimSpace(p.NameFirst)
	p.NameLastKana = trimPtr(p.NameLastKana)
	p.NameFirstKana = trimPtr(p.NameFirstKana)
	p.BirthDate = trimPtr(p.BirthDate)
	p.Gender = trimPtr(p.Gender)
	p.Phone = trimPtr(p.Phone)
	p.Email = trimPtr(p.Email)
	p.Address = trimPtr(p.Address)
}

// Validate checks a normalized patient draft.
func (p *Patient) Validate(op string) error {
	if p.NameLast == "" || p.NameFirst == "" {
		return apperr.Validation(op, "name_last and name_first are required")
	}
	if p.BirthDate != nil {
		if _, err := time.Parse("2006-01-02", *p.BirthDate); err != nil {
			return apperr.Validation(op, "birth_date must be YYYY-MM-DD")
		}
	}
	if p.Gender != nil && !validGenders[*p.Gender] {
		return apperr.Validation(op, "gender must be male, female or other")
	}
	if p.Email != nil && !strings.Contains(*p.Email, "@") {
		return apperr.Validation(op, "email is invalid")
	}
	return nil
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	p.Normalize()
	if err := p.Validate("create patient"); err != nil {
		return err
	}
	p.Active = true
	return s.patients.Create(ctx, p)
}

func (s *Service) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.GetByID(ctx, id)
}

// SearchPatients lists active patients, filtered by q when given.
func (s *Service) SearchPatients(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return s.patients.List(ctx, limit, offset)
	}
	if utf8.RuneCountInString(q) < MinSearchLength {
		return nil, 0, apperr.Validation("search patients", "search needs at least 2 characters")
	}
	return s.patients.Search(ctx, q, limit, offset)
}

// UpsertByPhone returns the patient whose phone matches draft.Phone exactly,
// creating draft when there is none. The match is a heuristic: numbers
// written differently create separate patients, and concurrent calls can
// race to create duplicates. created reports whether a row was inserted.
func (s *Service) UpsertByPhone(ctx context.Context, draft *Patient) (p *Patient, created bool, err error) {
	const op = "upsert patient"
	draft.Normalize()
	if draft.Phone == nil {
		return nil, false, apperr.Validation(op, "phone is required")
	}
	if err := draft.Validate(op); err != nil {
		return nil, false, err
	}

	existing, err := s.patients.FindByPhone(ctx, *draft.Phone)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, false, err
	}

	draft.Active = true
	if err := s.patients.Create(ctx, draft); err != nil {
		return nil, false, err
	}
	return draft, true, nil
}
