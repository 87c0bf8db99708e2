package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/db"
)

type patientRepoPG struct{ pool db.Querier }

func NewPatientRepoPG(pool db.Querier) PatientRepository { return &patientRepoPG{pool: pool} }

func (r *patientRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const patientCols = `id, patient_number, name_last, name_first, name_last_kana, name_first_kana,
	to_char(birth_date, 'YYYY-MM-DD'), gender, phone, email, address, active, created_at, updated_at`

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(&p.ID, &p.PatientNumber, &p.NameLast, &p.NameFirst, &p.NameLastKana, &p.NameFirstKana,
		&p.BirthDate, &p.Gender, &p.Phone, &p.Email, &p.Address, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	return &p, err
}

func patientErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, "patient not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "23514" || pgErr.Code == "22007" || pgErr.Code == "22008") {
		return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: "invalid patient details", Err: err}
	}
	return apperr.Unavailable(op, err)
}

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	p.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (id, name_last, name_first, name_last_kana, name_first_kana,
			birth_date, gender, phone, email, address, active)
		VALUES ($1, $2, $3, $4, $5, $6::date, $7, $8, $9, $10, $11)
		RETURNING patient_number, created_at, updated_at`,
		p.ID, p.NameLast, p.NameFirst, p.NameLastKana, p.NameFirstKana,
		p.BirthDate, p.Gender, p.Phone, p.Email, p.Address, p.Active,
	).Scan(&p.PatientNumber, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return patientErr("create patient", err)
	}
	return nil
}

func (r *patientRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id))
	if err != nil {
		return nil, patientErr("get patient", err)
	}
	return p, nil
}

func (r *patientRepoPG) FindByPhone(ctx context.Context, phone string) (*Patient, error) {
	p, err := scanPatient(r.conn(ctx).QueryRow(ctx,
		`SELECT `+patientCols+` FROM patients WHERE phone = $1 ORDER BY created_at LIMIT 1`, phone))
	if err != nil {
		return nil, patientErr("find patient by phone", err)
	}
	return p, nil
}

func (r *patientRepoPG) page(ctx context.Context, op, where string, args []any, limit, offset int) ([]*Patient, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`+where, args...).Scan(&total); err != nil {
		return nil, 0, patientErr(op, err)
	}
	n := len(args)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+patientCols+` FROM patients`+where+
		fmt.Sprintf(` ORDER BY patient_number DESC LIMIT $%d OFFSET $%d`, n+1, n+2), args...)
	if err != nil {
		return nil, 0, patientErr(op, err)
	}
	defer rows.Close()
	var items []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, 0, patientErr(op, err)
		}
		items = append(items, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, patientErr(op, err)
	}
	return items, total, nil
}

func (r *patientRepoPG) List(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return r.page(ctx, "list patients", ` WHERE active`, nil, limit, offset)
}

// likeEscaper neutralizes LIKE wildcards in user input.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *patientRepoPG) Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error) {
	pattern := "%" + likeEscaper.Replace(q) + "%"
	return r.page(ctx, "search patients", ` WHERE active AND (phone ILIKE $1 OR name_last ILIKE $1
		OR name_first ILIKE $1 OR name_last_kana ILIKE $1 OR name_first_kana ILIKE $1)`,
		[]any{pattern}, limit, offset)
}
