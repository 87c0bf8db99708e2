package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/db"
)

// storeErr classifies a pgx error for op.
func storeErr(op, what string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(op, what+" not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return &apperr.Error{Kind: apperr.KindSlotConflict, Op: op, Msg: "this time slot was just taken, please pick another", Err: err}
		case "23503", "23514", "22P02", "22007", "22008":
			return &apperr.Error{Kind: apperr.KindValidation, Op: op, Msg: "invalid " + what, Err: err}
		}
	}
	return apperr.Unavailable(op, err)
}

// =========== Reservation Repository ===========

type reservationRepoPG struct{ pool db.Querier }

func NewReservationRepoPG(pool db.Querier) ReservationRepository {
	return &reservationRepoPG{pool: pool}
}

func (r *reservationRepoPG) conn(ctx context.Context) db.Querier { return db.Conn(ctx, r.pool) }

const resSelect = `SELECT r.id, r.patient_id, r.unit_id,
	to_char(r.reservation_date, 'YYYY-MM-DD'), to_char(r.start_time, 'HH24:MI'), to_char(r.end_time, 'HH24:MI'),
	r.category, r.status, r.source, r.interview_completed, r.note, r.checked_in_at, r.created_at, r.updated_at,
	p.patient_number, p.name_last, p.name_first, p.name_last_kana, p.name_first_kana,
	to_char(p.birth_date, 'YYYY-MM-DD'), p.phone,
	u.unit_number, u.name, u.is_active
FROM reservations r
JOIN patients p ON p.id = r.patient_id
LEFT JOIN units u ON u.id = r.unit_id`

func scanReservation(row pgx.Row) (*Reservation, error) {
	var (
		res                      Reservation
		pat                      PatientRef
		category, status, source string
		unitNumber               *int
		unitName                 *string
		unitActive               *bool
	)
	err := row.Scan(&res.ID, &res.PatientID, &res.UnitID,
		&res.Date, &res.StartTime, &res.EndTime,
		&category, &status, &source, &res.InterviewCompleted, &res.Note, &res.CheckedInAt,
		&res.CreatedAt, &res.UpdatedAt,
		&pat.PatientNumber, &pat.NameLast, &pat.NameFirst, &pat.NameLastKana, &pat.NameFirstKana,
		&pat.BirthDate, &pat.Phone,
		&unitNumber, &unitName, &unitActive)
	if err != nil {
		return nil, err
	}
	res.Category, res.Status, res.Source = Category(category), Status(status), Source(source)
	pat.ID = res.PatientID
	res.Patient = &pat
	if res.UnitID != nil && unitNumber != nil {
		res.Unit = &Unit{ID: *res.UnitID, UnitNumber: *unitNumber, Name: deref(unitName), IsActive: unitActive != nil && *unitActive}
	}
	return &res, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (r *reservationRepoPG) list(ctx context.Context, op, query string, args ...any) ([]*Reservation, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, storeErr(op, "reservation", err)
	}
	defer rows.Close()
	var items []*Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, storeErr(op, "reservation", err)
		}
		items = append(items, res)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(op, "reservation", err)
	}
	return items, nil
}

func (r *reservationRepoPG) FindByDateRange(ctx context.Context, from, to string, f Filter) ([]*Reservation, error) {
	query := resSelect + ` WHERE r.reservation_date BETWEEN $1::date AND $2::date`
	args := []any{from, to}
	idx := 3

	if f.Status != nil {
		query += fmt.Sprintf(` AND r.status = $%d`, idx)
		args = append(args, string(*f.Status))
		idx++
	} else if !f.IncludeCancelled {
		query += ` AND r.status <> 'cancelled'`
	}
	if f.Source != nil {
		query += fmt.Sprintf(` AND r.source = $%d`, idx)
		args = append(args, string(*f.Source))
		idx++
	}
	if f.UnitID != nil {
		query += fmt.Sprintf(` AND r.unit_id = $%d`, idx)
		args = append(args, *f.UnitID)
	}
	query += ` ORDER BY r.reservation_date, r.start_time`

	return r.list(ctx, "find reservations", query, args...)
}

func (r *reservationRepoPG) FindByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	res, err := scanReservation(r.conn(ctx).QueryRow(ctx, resSelect+` WHERE r.id = $1`, id))
	if err != nil {
		return nil, storeErr("find reservation", "reservation", err)
	}
	return res, nil
}

func (r *reservationRepoPG) Create(ctx context.Context, res *Reservation) error {
	res.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO reservations (id, patient_id, unit_id, reservation_date, start_time, end_time,
			category, status, source, interview_completed, note)
		VALUES ($1, $2, $3, $4::date, $5::time, $6::time, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`,
		res.ID, res.PatientID, res.UnitID, res.Date, res.StartTime, res.EndTime,
		string(res.Category), string(res.Status), string(res.Source), res.InterviewCompleted, res.Note,
	).Scan(&res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return storeErr("create reservation", "reservation", err)
	}
	return nil
}

// Update applies p. checked_in_at keeps its first value once set.
func (r *reservationRepoPG) Update(ctx context.Context, id uuid.UUID, p Patch) (*Reservation, error) {
	if p.Empty() {
		return r.FindByID(ctx, id)
	}

	var sets []string
	args := []any{id}
	add := func(expr string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(expr, len(args)))
	}
	if p.Status != nil {
		add("status = $%d", string(*p.Status))
	}
	if p.ClearUnit {
		sets = append(sets, "unit_id = NULL")
	} else if p.UnitID != nil {
		add("unit_id = $%d", *p.UnitID)
	}
	if p.Category != nil {
		add("category = $%d", string(*p.Category))
	}
	if p.Note != nil {
		add("note = $%d", *p.Note)
	}
	if p.CheckedInAt != nil {
		add("checked_in_at = COALESCE(checked_in_at, $%d)", *p.CheckedInAt)
	}
	if p.InterviewCompleted != nil {
		add("interview_completed = $%d", *p.InterviewCompleted)
	}
	sets = append(sets, "updated_at = NOW()")

	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE reservations SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
	if err != nil {
		return nil, storeErr("update reservation", "reservation", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.NotFound("update reservation", "reservation not found")
	}
	return r.FindByID(ctx, id)
}

func (r *reservationRepoPG) LockSlot(ctx context.Context, date, startTime string) error {
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "slot:"+date+" "+startTime)
	if err != nil {
		return storeErr("lock slot", "slot", err)
	}
	return nil
}

func (r *reservationRepoPG) CountLive(ctx context.Context, date, startTime string) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE reservation_date = $1::date AND start_time = $2::time AND status <> 'cancelled'`,
		date, startTime).Scan(&n)
	if err != nil {
		return 0, storeErr("count slot", "slot", err)
	}
	return n, nil
}

func (r *reservationRepoPG) CountCheckedInBefore(ctx context.Context, date string, before time.Time) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM reservations
		WHERE reservation_date = $1::date AND status = 'checked_in' AND checked_in_at < $2`,
		date, before).Scan(&n)
	if err != nil {
		return 0, storeErr("count check-ins", "reservation", err)
	}
	return n, nil
}

func (r *reservationRepoPG) FindCheckInCandidates(ctx context.Context, nameLast, nameFirst string) ([]*Reservation, error) {
	return r.list(ctx, "find check-in candidates", resSelect+`
		WHERE p.name_last = $1 AND p.name_first = $2 AND r.status = 'confirmed'
		ORDER BY r.reservation_date, r.start_time`,
		nameLast, nameFirst)
}

// =========== Unit Repository ===========

type unitRepoPG struct{ pool db.Querier }

func NewUnitRepoPG(pool db.Querier) UnitRepository { return &unitRepoPG{pool: pool} }

func (r *unitRepoPG) ListActive(ctx context.Context) ([]*Unit, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, unit_number, name, is_active FROM units
		WHERE is_active ORDER BY sort_order, unit_number`)
	if err != nil {
		return nil, storeErr("list units", "unit", err)
	}
	defer rows.Close()
	var units []*Unit
	for rows.Next() {
		var u Unit
		if err := rows.Scan(&u.ID, &u.UnitNumber, &u.Name, &u.IsActive); err != nil {
			return nil, storeErr("list units", "unit", err)
		}
		units = append(units, &u)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list units", "unit", err)
	}
	return units, nil
}

// =========== Waiting List Repository ===========

type waitingListRepoPG struct{ pool db.Querier }

func NewWaitingListRepoPG(pool db.Querier) WaitingListRepository {
	return &waitingListRepoPG{pool: pool}
}

const wlCols = `w.id, w.patient_id, w.reservation_id, w.assigned_unit_id, w.status, w.created_at`

func scanWaiting(row pgx.Row) (*WaitingListEntry, error) {
	var e WaitingListEntry
	if err := row.Scan(&e.ID, &e.PatientID, &e.ReservationID, &e.AssignedUnitID, &e.Status, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *waitingListRepoPG) CreateIfAbsent(ctx context.Context, e *WaitingListEntry) (bool, error) {
	e.ID = uuid.New()
	if e.Status == "" {
		e.Status = WaitingStatusWaiting
	}
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO waiting_list (id, patient_id, reservation_id, assigned_unit_id, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (reservation_id) DO NOTHING`,
		e.ID, e.PatientID, e.ReservationID, e.AssignedUnitID, e.Status)
	if err != nil {
		return false, storeErr("enqueue check-in", "waiting list entry", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *waitingListRepoPG) GetByReservation(ctx context.Context, reservationID uuid.UUID) (*WaitingListEntry, error) {
	e, err := scanWaiting(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+wlCols+` FROM waiting_list w WHERE w.reservation_id = $1`, reservationID))
	if err != nil {
		return nil, storeErr("get waiting list entry", "waiting list entry", err)
	}
	return e, nil
}

func (r *waitingListRepoPG) ListByDate(ctx context.Context, date string) ([]*WaitingListEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT `+wlCols+` FROM waiting_list w
		JOIN reservations r ON r.id = w.reservation_id
		WHERE r.reservation_date = $1::date
		ORDER BY r.checked_in_at NULLS LAST, w.created_at`, date)
	if err != nil {
		return nil, storeErr("list waiting list", "waiting list entry", err)
	}
	defer rows.Close()
	var items []*WaitingListEntry
	for rows.Next() {
		e, err := scanWaiting(rows)
		if err != nil {
			return nil, storeErr("list waiting list", "waiting list entry", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list waiting list", "waiting list entry", err)
	}
	return items, nil
}

// =========== Transactions ===========

type txRunnerPG struct{ pool db.Beginner }

func NewTxRunner(pool db.Beginner) TxRunner { return &txRunnerPG{pool: pool} }

func (t *txRunnerPG) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	err := db.WithTx(ctx, t.pool, fn)
	var domainErr *apperr.Error
	if err != nil && !errors.As(err, &domainErr) {
		return apperr.Unavailable("transaction", err)
	}
	return err
}
