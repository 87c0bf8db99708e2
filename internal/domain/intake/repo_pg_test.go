package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
)

func TestRepoPG_Create(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	now := time.Now()
	iv := &Interview{
		PatientID: uuid.New(), ReservationID: uuid.New(), ChiefComplaint: "歯が痛い",
		PainLevel: 3, PainTypes: []string{"sweet"}, MedicalHistory: []string{"none"}, Smoking: true,
	}
	mock.ExpectQuery(`INSERT INTO interviews`).
		WithArgs(pgxmock.AnyArg(), iv.PatientID, iv.ReservationID, "歯が痛い", "", 3,
			[]string{"sweet"}, []string{"none"}, pgxmock.AnyArg(), pgxmock.AnyArg(), "", true, "").
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(now))

	if err := NewRepoPG(mock).Create(context.Background(), iv); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iv.ID == uuid.Nil || !iv.CreatedAt.Equal(now) {
		t.Errorf("expected id and created_at to be set, got %+v", iv)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRepoPG_Create_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown reservation", &pgconn.PgError{Code: "23503"}, apperr.ErrNotFound},
		{"check violation", &pgconn.PgError{Code: "23514"}, apperr.ErrValidation},
		{"connection", errors.New("connection refused"), apperr.ErrStoreUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			if err != nil {
				t.Fatal(err)
			}
			defer mock.Close()
			iv := &Interview{PatientID: uuid.New(), ReservationID: uuid.New(), ChiefComplaint: "痛み"}
			mock.ExpectQuery(`INSERT INTO interviews`).
				WithArgs(pgxmock.AnyArg(), iv.PatientID, iv.ReservationID, "痛み", pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnError(tt.err)

			err = NewRepoPG(mock).Create(context.Background(), iv)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRepoPG_GetByReservation(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatal(err)
	}
	defer mock.Close()

	rid := uuid.New()
	cols := []string{"id", "patient_id", "reservation_id", "chief_complaint", "symptom_duration", "pain_level",
		"pain_types", "medical_history", "current_medications", "allergies", "dental_anxiety",
		"lifestyle_smoking", "pregnancy_status", "created_at"}
	mock.ExpectQuery(`SELECT .* FROM interviews WHERE reservation_id = \$1`).
		WithArgs(rid).
		WillReturnRows(pgxmock.NewRows(cols).AddRow(uuid.New(), uuid.New(), rid, "歯が痛い", "week", 4,
			[]string{"night"}, []string{}, (*string)(nil), (*string)(nil), "very", false, "none", time.Now()))

	iv, err := NewRepoPG(mock).GetByReservation(context.Background(), rid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if iv.ReservationID != rid || iv.PainLevel != 4 || len(iv.PainTypes) != 1 {
		t.Errorf("unexpected interview %+v", iv)
	}

	mock.ExpectQuery(`SELECT .* FROM interviews`).WithArgs(rid).WillReturnError(pgx.ErrNoRows)
	if _, err := NewRepoPG(mock).GetByReservation(context.Background(), rid); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
