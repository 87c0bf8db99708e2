package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ReservationRepository interface {
	// FindByDateRange returns reservations with from <= date <= to, joined
	// with patient and unit, ordered by date then start time.
	FindByDateRange(ctx context.Context, from, to string, f Filter) ([]*Reservation, error)
	FindByID(ctx context.Context, id uuid.UUID) (*Reservation, error)
	Create(ctx context.Context, r *Reservation) error
	Update(ctx context.Context, id uuid.UUID, p Patch) (*Reservation, error)
	// LockSlot serializes writers of one date and start time until the
	// surrounding transaction ends.
	LockSlot(ctx context.Context, date, startTime string) error
	// CountLive counts non-cancelled reservations at one date and start time.
	CountLive(ctx context.Context, date, startTime string) (int, error)
	// CountCheckedInBefore counts checked-in reservations on date whose
	// checked_in_at is earlier than before.
	CountCheckedInBefore(ctx context.Context, date string, before time.Time) (int, error)
	// FindCheckInCandidates returns confirmed reservations of patients with
	// exactly this name, ordered by date then start time.
	FindCheckInCandidates(ctx context.Context, nameLast, nameFirst string) ([]*Reservation, error)
}

type UnitRepository interface {
	ListActive(ctx context.Context) ([]*Unit, error)
}

type WaitingListRepository interface {
	// CreateIfAbsent inserts e unless the reservation already has an entry.
	// It reports whether a row was inserted.
	CreateIfAbsent(ctx context.Context, e *WaitingListEntry) (bool, error)
	GetByReservation(ctx context.Context, reservationID uuid.UUID) (*WaitingListEntry, error)
	ListByDate(ctx context.Context, date string) ([]*WaitingListEntry, error)
}

// TxRunner runs fn in a single database transaction.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
