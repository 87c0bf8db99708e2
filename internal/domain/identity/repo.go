package identity

import (
	"context"

	"github.com/google/uuid"
)

type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	// FindByPhone returns the oldest patient whose phone equals phone
	// exactly, or a not-found error.
	FindByPhone(ctx context.Context, phone string) (*Patient, error)
	List(ctx context.Context, limit, offset int) ([]*Patient, int, error)
	// Search matches q as a case-insensitive substring of phone, names and
	// phonetic names.
	Search(ctx context.Context, q string, limit, offset int) ([]*Patient, int, error)
}
