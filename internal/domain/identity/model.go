package identity

import (
	"time"

	"github.com/google/uuid"
)

type Patient struct {
	ID            uuid.UUID `json:"id"`
	PatientNumber int       `json:"patient_number"`
	NameLast      string    `json:"name_last"`
	NameFirst     string    `json:"name_first"`
	NameLastKana  *string   `json:"name_last_kana,omitempty"`
	NameFirstKana *string   `json:"name_first_kana,omitempty"`
	BirthDate     *string   `json:"birth_date,omitempty"`
	Gender        *string   `json:"gender,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
	Email         *string   `json:"email,omitempty"`
	Address       *string   `json:"address,omitempty"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

var validGenders = map[string]bool{"male": true, "female": true, "other": true}

// FullName is the family name followed by the given name.
func (p *Patient) FullName() string {
	return p.NameLast + " " + p.NameFirst
}
