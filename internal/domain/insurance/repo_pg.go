package insurance

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/db"
)

type repoPG struct{ pool db.Querier }

func NewRepoPG(pool db.Querier) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const insuranceCols = `id, patient_id, front_image, back_image, insurer_number, insurer_name, symbol,
	insured_number, insured_name, relationship, copay_rate, to_char(valid_from, 'YYYY-MM-DD'),
	to_char(valid_until, 'YYYY-MM-DD'), is_verified, verified_at, updated_at`

func scanInsurance(row pgx.Row) (*Insurance, error) {
	var ins Insurance
	err := row.Scan(&ins.ID, &ins.PatientID, &ins.FrontImage, &ins.BackImage, &ins.InsurerNumber,
		&ins.InsurerName, &ins.Symbol, &ins.InsuredNumber, &ins.InsuredName, &ins.Relationship,
		&ins.CopayRate, &ins.ValidFrom, &ins.ValidUntil, &ins.IsVerified, &ins.VerifiedAt, &ins.UpdatedAt)
	return &ins, err
}

func insuranceErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "insurance card not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return &apperr.Error{Kind: apperr.KindNotFound, Op: op, Msg: "patient not found", Err: err}
		case "22007", "22008":
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: "invalid card dates", Err: err}
		}
	}
	return apperr.Unavailable(op, err)
}

// Upsert replaces every card column, so fields the new capture could not
// read are cleared and verification resets.
func (r *repoPG) Upsert(ctx context.Context, ins *Insurance) error {
	if ins.ID == uuid.Nil {
		ins.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurances (id, patient_id, front_image, back_image, insurer_number, insurer_name,
			symbol, insured_number, insured_name, relationship, copay_rate, valid_from, valid_until,
			is_verified, verified_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::date, $13::date, FALSE, NULL)
		ON CONFLICT (patient_id) DO UPDATE SET
			front_image = EXCLUDED.front_image,
			back_image = EXCLUDED.back_image,
			insurer_number = EXCLUDED.insurer_number,
			insurer_name = EXCLUDED.insurer_name,
			symbol = EXCLUDED.symbol,
			insured_number = EXCLUDED.insured_number,
			insured_name = EXCLUDED.insured_name,
			relationship = EXCLUDED.relationship,
			copay_rate = EXCLUDED.copay_rate,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			is_verified = FALSE,
			verified_at = NULL,
			updated_at = NOW()
		RETURNING id, updated_at`,
		ins.ID, ins.PatientID, ins.FrontImage, ins.BackImage, ins.InsurerNumber, ins.InsurerName,
		ins.Symbol, ins.InsuredNumber, ins.InsuredName, ins.Relationship, ins.CopayRate,
		ins.ValidFrom, ins.ValidUntil,
	).Scan(&ins.ID, &ins.UpdatedAt)
	if err != nil {
		return insuranceErr("save insurance", err)
	}
	ins.IsVerified = false
	ins.VerifiedAt = nil
	return nil
}

func (r *repoPG) GetByPatient(ctx context.Context, patientID uuid.UUID) (*Insurance, error) {
	ins, err := scanInsurance(r.conn(ctx).QueryRow(ctx,
		`SELECT `+insuranceCols+` FROM insurances WHERE patient_id = $1`, patientID))
	if err != nil {
		return nil, insuranceErr("get insurance", err)
	}
	return ins, nil
}

func (r *repoPG) MarkVerified(ctx context.Context, patientID uuid.UUID, at time.Time) (*Insurance, error) {
	ins, err := scanInsurance(r.conn(ctx).QueryRow(ctx, `
		UPDATE insurances SET is_verified = TRUE, verified_at = $2, updated_at = NOW()
		WHERE patient_id = $1
		RETURNING `+insuranceCols, patientID, at))
	if err != nil {
		return nil, insuranceErr("verify insurance", err)
	}
	return ins, nil
}
