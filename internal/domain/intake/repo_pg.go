package intake

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/db"
)

type repoPG struct{ pool db.Querier }

func NewRepoPG(pool db.Querier) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

func interviewErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "interview not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Msg: "patient or reservation not found", Err: err}
		case "23514":
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: "invalid answers", Err: err}
		}
	}
	return apperr.Unavailable(op, err)
}

func (r *repoPG) Create(ctx context.Context, iv *Interview) error {
	iv.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO interviews (id, patient_id, reservation_id, chief_complaint, symptom_duration,
			pain_level, pain_types, medical_history, current_medications, allergies,
			dental_anxiety, lifestyle_smoking, pregnancy_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at`,
		iv.ID, iv.PatientID, iv.ReservationID, iv.ChiefComplaint, iv.SymptomDuration,
		iv.PainLevel, iv.PainTypes, iv.MedicalHistory, iv.CurrentMedications, iv.Allergies,
		iv.DentalAnxiety, iv.Smoking, iv.PregnancyStatus,
	).Scan(&iv.CreatedAt)
	if err != nil {
		return interviewErr("save interview", err)
	}
	return nil
}

func (r *repoPG) GetByReservation(ctx context.Context, reservationID uuid.UUID) (*Interview, error) {
	var iv Interview
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, patient_id, reservation_id, COALESCE(chief_complaint, ''), COALESCE(symptom_duration, ''),
			COALESCE(pain_level, 0), pain_types, medical_history, current_medications, allergies,
			COALESCE(dental_anxiety, ''), lifestyle_smoking, COALESCE(pregnancy_status, ''), created_at
		FROM interviews WHERE reservation_id = $1
		ORDER BY created_at DESC LIMIT 1`, reservationID,
	).Scan(&iv.ID, &iv.PatientID, &iv.ReservationID, &iv.ChiefComplaint, &iv.SymptomDuration,
		&iv.PainLevel, &iv.PainTypes, &iv.MedicalHistory, &iv.CurrentMedications, &iv.Allergies,
		&iv.DentalAnxiety, &iv.Smoking, &iv.PregnancyStatus, &iv.CreatedAt)
	if err != nil {
		return nil, interviewErr("get interview", err)
	}
	return &iv, nil
}
