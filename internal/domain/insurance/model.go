package insurance

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Insurance is a patient's health insurance card. A patient has at most one;
// a new capture replaces the previous card.
type Insurance struct {
	ID            uuid.UUID  `json:"id"`
	PatientID     uuid.UUID  `json:"patient_id"`
	FrontImage    *string    `json:"front_image,omitempty"`
	BackImage     *string    `json:"back_image,omitempty"`
	InsurerNumber *string    `json:"insurer_number,omitempty"`
	InsurerName   *string    `json:"insurer_name,omitempty"`
	Symbol        *string    `json:"symbol,omitempty"`
	InsuredNumber *string    `json:"insured_number,omitempty"`
	InsuredName   *string    `json:"insured_name,omitempty"`
	Relationship  *string    `json:"relationship,omitempty"`
	CopayRate     *int       `json:"copay_rate,omitempty"`
	ValidFrom     *string    `json:"valid_from,omitempty"`
	ValidUntil    *string    `json:"valid_until,omitempty"`
	IsVerified    bool       `json:"is_verified"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Image is an uploaded card photo.
type Image struct {
	ContentType string
	Data        []byte
}

type Repository interface {
	// Upsert inserts ins or replaces the patient's existing card. ID and
	// UpdatedAt are filled from the stored row.
	Upsert(ctx context.Context, ins *Insurance) error
	GetByPatient(ctx context.Context, patientID uuid.UUID) (*Insurance, error)
	// MarkVerified flags the card as checked by staff at time at.
	MarkVerified(ctx context.Context, patientID uuid.UUID, at time.Time) (*Insurance, error)
}
