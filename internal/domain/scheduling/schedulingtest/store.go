// Package schedulingtest provides an in-memory clinic store for tests. It
// implements the scheduling repositories, a transaction runner and the
// patient repository over one shared state, so flows that span packages can
// be exercised without Postgres.
package schedulingtest

import (
	"context"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shikaclinic/clinic/internal/domain/identity"
	"github.com/shikaclinic/clinic/internal/domain/scheduling"
	"github.com/shikaclinic/clinic/internal/platform/apperr"
)

type state struct {
	patients     map[uuid.UUID]*identity.Patient
	units        map[uuid.UUID]*scheduling.Unit
	reservations map[uuid.UUID]*scheduling.Reservation
	waiting      map[uuid.UUID]*scheduling.WaitingListEntry // keyed by reservation
	patientSeq   int
}

func (s *state) clone() *state {
	c := &state{
		patients:     make(map[uuid.UUID]*identity.Patient, len(s.patients)),
		units:        maps.Clone(s.units),
		reservations: make(map[uuid.UUID]*scheduling.Reservation, len(s.reservations)),
		waiting:      make(map[uuid.UUID]*scheduling.WaitingListEntry, len(s.waiting)),
		patientSeq:   s.patientSeq,
	}
	for k, v := range s.patients {
		p := *v
		c.patients[k] = &p
	}
	for k, v := range s.reservations {
		r := *v
		c.reservations[k] = &r
	}
	for k, v := range s.waiting {
		e := *v
		c.waiting[k] = &e
	}
	return c
}

// Store is a concurrency-safe in-memory clinic database. Transactions are
// serialized, which stands in for the slot advisory lock.
type Store struct {
	mu   sync.Mutex
	txMu sync.Mutex
	st   *state
	fail map[string]error

	// Now stamps created_at and updated_at.
	Now func() time.Time

	creates int
}

type txKey struct{}

func NewStore() *Store {
	return &Store{
		st: &state{
			patients:     make(map[uuid.UUID]*identity.Patient),
			units:        make(map[uuid.UUID]*scheduling.Unit),
			reservations: make(map[uuid.UUID]*scheduling.Reservation),
			waiting:      make(map[uuid.UUID]*scheduling.WaitingListEntry),
		},
		fail: make(map[string]error),
		Now:  time.Now,
	}
}

// FailOn makes every call of op return err until cleared with a nil err.
// op is the repository method name, e.g. "Create" or "FindByDateRange".
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, op)
		return
	}
	s.fail[op] = err
}

func (s *Store) check(op string) error {
	if err, ok := s.fail[op]; ok {
		return err
	}
	return nil
}

// -- Seeding and inspection --

func (s *Store) AddUnit(number int, name string) *scheduling.Unit {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := &scheduling.Unit{ID: uuid.New(), UnitNumber: number, Name: name, IsActive: true}
	s.st.units[u.ID] = u
	return u
}

// AddPatient stores p as given, assigning ID and number when unset.
func (s *Store) AddPatient(p *identity.Patient) *identity.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertPatient(p)
	return p
}

// AddReservation stores r directly, bypassing service validation.
func (s *Store) AddReservation(r *scheduling.Reservation) *scheduling.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.Status == "" {
		r.Status = scheduling.StatusConfirmed
	}
	now := s.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	s.st.reservations[r.ID] = &c
	return r
}

// ReservationCount counts rows, cancelled included.
func (s *Store) ReservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.reservations)
}

func (s *Store) PatientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.patients)
}

func (s *Store) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.st.waiting)
}

// ReservationCreates counts successful reservation inserts.
func (s *Store) ReservationCreates() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

// -- Views --

func (s *Store) Reservations() scheduling.ReservationRepository { return reservationView{s} }
func (s *Store) Units() scheduling.UnitRepository               { return unitView{s} }
func (s *Store) WaitingList() scheduling.WaitingListRepository  { return waitingView{s} }
func (s *Store) Patients() identity.PatientRepository           { return patientView{s} }
func (s *Store) Tx() scheduling.TxRunner                        { return txView{s} }

// -- Transactions --

type txView struct{ s *Store }

// InTx serializes fn against other transactions and restores the previous
// state when fn fails.
func (t txView) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s := t.s
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	if err := s.check("InTx"); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.st.clone()
	creates := s.creates
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.mu.Lock()
		s.st = snapshot
		s.creates = creates
		s.mu.Unlock()
		return err
	}
	return nil
}

// -- Reservations --

type reservationView struct{ s *Store }

// joined returns a copy of r with patient and unit attached. Caller holds mu.
func (s *Store) joined(r *scheduling.Reservation) *scheduling.Reservation {
	c := *r
	if p, ok := s.st.patients[r.PatientID]; ok {
		c.Patient = &scheduling.PatientRef{
			ID: p.ID, PatientNumber: p.PatientNumber, NameLast: p.NameLast, NameFirst: p.NameFirst,
			NameLastKana: p.NameLastKana, NameFirstKana: p.NameFirstKana, BirthDate: p.BirthDate, Phone: p.Phone,
		}
	}
	if r.UnitID != nil {
		if u, ok := s.st.units[*r.UnitID]; ok {
			uc := *u
			c.Unit = &uc
		}
	}
	return &c
}

func sortReservations(rs []*scheduling.Reservation) {
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].Date != rs[j].Date {
			return rs[i].Date < rs[j].Date
		}
		return rs[i].StartTime < rs[j].StartTime
	})
}

func (v reservationView) FindByDateRange(_ context.Context, from, to string, f scheduling.Filter) ([]*scheduling.Reservation, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("FindByDateRange"); err != nil {
		return nil, err
	}
	var out []*scheduling.Reservation
	for _, r := range s.st.reservations {
		if r.Date < from || r.Date > to {
			continue
		}
		if f.Status != nil {
			if r.Status != *f.Status {
				continue
			}
		} else if !f.IncludeCancelled && r.Status == scheduling.StatusCancelled {
			continue
		}
		if f.Source != nil && r.Source != *f.Source {
			continue
		}
		if f.UnitID != nil && (r.UnitID == nil || *r.UnitID != *f.UnitID) {
			continue
		}
		out = append(out, s.joined(r))
	}
	sortReservations(out)
	return out, nil
}

func (v reservationView) FindByID(_ context.Context, id uuid.UUID) (*scheduling.Reservation, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("FindByID"); err != nil {
		return nil, err
	}
	r, ok := s.st.reservations[id]
	if !ok {
		return nil, apperr.NotFound("find reservation", "reservation not found")
	}
	return s.joined(r), nil
}

func (v reservationView) Create(_ context.Context, r *scheduling.Reservation) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Create"); err != nil {
		return err
	}
	if _, ok := s.st.patients[r.PatientID]; !ok {
		return apperr.Validation("create reservation", "invalid reservation")
	}
	if r.UnitID != nil {
		for _, o := range s.st.reservations {
			if o.UnitID != nil && *o.UnitID == *r.UnitID && o.Date == r.Date &&
				o.StartTime == r.StartTime && o.Status != scheduling.StatusCancelled {
				return apperr.Conflict("create reservation", "this time slot was just taken, please pick another")
			}
		}
	}
	r.ID = uuid.New()
	now := s.Now()
	r.CreatedAt, r.UpdatedAt = now, now
	c := *r
	c.Patient, c.Unit = nil, nil
	s.st.reservations[r.ID] = &c
	s.creates++
	return nil
}

func (v reservationView) Update(_ context.Context, id uuid.UUID, p scheduling.Patch) (*scheduling.Reservation, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("Update"); err != nil {
		return nil, err
	}
	r, ok := s.st.reservations[id]
	if !ok {
		return nil, apperr.NotFound("update reservation", "reservation not found")
	}
	if p.Empty() {
		return s.joined(r), nil
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ClearUnit {
		r.UnitID = nil
	} else if p.UnitID != nil {
		uid := *p.UnitID
		r.UnitID = &uid
	}
	if p.Category != nil {
		r.Category = *p.Category
	}
	if p.Note != nil {
		n := *p.Note
		r.Note = &n
	}
	if p.CheckedInAt != nil && r.CheckedInAt == nil {
		at := *p.CheckedInAt
		r.CheckedInAt = &at
	}
	if p.InterviewCompleted != nil {
		r.InterviewCompleted = *p.InterviewCompleted
	}
	r.UpdatedAt = s.Now()
	return s.joined(r), nil
}

func (v reservationView) LockSlot(ctx context.Context, _, _ string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	return v.s.check("LockSlot")
}

func (v reservationView) CountLive(_ context.Context, date, startTime string) (int, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CountLive"); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range s.st.reservations {
		if r.Date == date && r.StartTime == startTime && r.Status != scheduling.StatusCancelled {
			n++
		}
	}
	return n, nil
}

func (v reservationView) CountCheckedInBefore(_ context.Context, date string, before time.Time) (int, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CountCheckedInBefore"); err != nil {
		return 0, err
	}
	n := 0
	for _, r := range s.st.reservations {
		if r.Date == date && r.Status == scheduling.StatusCheckedIn && r.CheckedInAt != nil && r.CheckedInAt.Before(before) {
			n++
		}
	}
	return n, nil
}

func (v reservationView) FindCheckInCandidates(_ context.Context, nameLast, nameFirst string) ([]*scheduling.Reservation, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("FindCheckInCandidates"); err != nil {
		return nil, err
	}
	var out []*scheduling.Reservation
	for _, r := range s.st.reservations {
		p, ok := s.st.patients[r.PatientID]
		if !ok || p.NameLast != nameLast || p.NameFirst != nameFirst || r.Status != scheduling.StatusConfirmed {
			continue
		}
		out = append(out, s.joined(r))
	}
	sortReservations(out)
	return out, nil
}

// -- Units --

type unitView struct{ s *Store }

func (v unitView) ListActive(context.Context) ([]*scheduling.Unit, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListActive"); err != nil {
		return nil, err
	}
	var out []*scheduling.Unit
	for _, u := range s.st.units {
		if u.IsActive {
			c := *u
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *scheduling.Unit) int { return a.UnitNumber - b.UnitNumber })
	return out, nil
}

// -- Waiting list --

type waitingView struct{ s *Store }

func (v waitingView) CreateIfAbsent(_ context.Context, e *scheduling.WaitingListEntry) (bool, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreateIfAbsent"); err != nil {
		return false, err
	}
	if _, ok := s.st.waiting[e.ReservationID]; ok {
		return false, nil
	}
	e.ID = uuid.New()
	if e.Status == "" {
		e.Status = scheduling.WaitingStatusWaiting
	}
	e.CreatedAt = s.Now()
	c := *e
	s.st.waiting[e.ReservationID] = &c
	return true, nil
}

func (v waitingView) GetByReservation(_ context.Context, reservationID uuid.UUID) (*scheduling.WaitingListEntry, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.st.waiting[reservationID]
	if !ok {
		return nil, apperr.NotFound("get waiting list entry", "waiting list entry not found")
	}
	c := *e
	return &c, nil
}

func (v waitingView) ListByDate(_ context.Context, date string) ([]*scheduling.WaitingListEntry, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("ListByDate"); err != nil {
		return nil, err
	}
	var out []*scheduling.WaitingListEntry
	for rid, e := range s.st.waiting {
		if r, ok := s.st.reservations[rid]; ok && r.Date == date {
			c := *e
			out = append(out, &c)
		}
	}
	slices.SortFunc(out, func(a, b *scheduling.WaitingListEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// -- Patients --

type patientView struct{ s *Store }

// insertPatient assigns identity fields and stores a copy. Caller holds mu.
func (s *Store) insertPatient(p *identity.Patient) {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.st.patientSeq++
	if p.PatientNumber == 0 {
		p.PatientNumber = s.st.patientSeq
	}
	now := s.Now()
	p.CreatedAt, p.UpdatedAt = now, now
	c := *p
	s.st.patients[p.ID] = &c
}

func (v patientView) Create(_ context.Context, p *identity.Patient) error {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("CreatePatient"); err != nil {
		return err
	}
	p.ID = uuid.Nil
	p.PatientNumber = 0
	s.insertPatient(p)
	return nil
}

func (v patientView) GetByID(_ context.Context, id uuid.UUID) (*identity.Patient, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.patients[id]
	if !ok {
		return nil, apperr.NotFound("get patient", "patient not found")
	}
	c := *p
	return &c, nil
}

func (v patientView) FindByPhone(_ context.Context, phone string) (*identity.Patient, error) {
	s := v.s
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("FindByPhone"); err != nil {
		return nil, err
	}
	var best *identity.Patient
	for _, p := range s.st.patients {
		if p.Phone == nil || *p.Phone != phone {
			continue
		}
		if best == nil || p.PatientNumber < best.PatientNumber {
			best = p
		}
	}
	if best == nil {
		return nil, apperr.NotFound("find patient by phone", "patient not found")
	}
	c := *best
	return &c, nil
}

func (s *Store) pagePatients(match func(*identity.Patient) bool, limit, offset int) ([]*identity.Patient, int) {
	var all []*identity.Patient
	for _, p := range s.st.patients {
		if p.Active && match(p) {
			c := *p
			all = append(all, &c)
		}
	}
	slices.SortFunc(all, func(a, b *identity.Patient) int { return b.PatientNumber - a.PatientNumber })
	total := len(all)
	start := min(offset, total)
	end := min(start+limit, total)
	return all[start:end], total
}

func (v patientView) List(_ context.Context, limit, offset int) ([]*identity.Patient, int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	items, total := v.s.pagePatients(func(*identity.Patient) bool { return true }, limit, offset)
	return items, total, nil
}

func (v patientView) Search(_ context.Context, q string, limit, offset int) ([]*identity.Patient, int, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	q = strings.ToLower(q)
	has := func(s *string) bool { return s != nil && strings.Contains(strings.ToLower(*s), q) }
	items, total := v.s.pagePatients(func(p *identity.Patient) bool {
		return has(p.Phone) || has(&p.NameLast) || has(&p.NameFirst) || has(p.NameLastKana) || has(p.NameFirstKana)
	}, limit, offset)
	return items, total, nil
}
