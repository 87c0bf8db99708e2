package intake

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Interview is one completed pre-visit questionnaire.
type Interview struct {
	ID                 uuid.UUID `json:"id"`
	PatientID          uuid.UUID `json:"patient_id"`
	ReservationID      uuid.UUID `json:"reservation_id"`
	ChiefComplaint     string    `json:"chief_complaint"`
	SymptomDuration    string    `json:"symptom_duration"`
	PainLevel          int       `json:"pain_level"`
	PainTypes          []string  `json:"pain_types"`
	MedicalHistory     []string  `json:"medical_history"`
	CurrentMedications *string   `json:"current_medications,omitempty"`
	Allergies          *string   `json:"allergies,omitempty"`
	DentalAnxiety      string    `json:"dental_anxiety"`
	Smoking            bool      `json:"lifestyle_smoking"`
	PregnancyStatus    string    `json:"pregnancy_status"`
	CreatedAt          time.Time `json:"created_at"`
}

// Option is one choice offered on the questionnaire.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

var (
	PainTypeOptions = []Option{
		{"constant", "常に痛い"},
		{"intermittent", "時々痛い"},
		{"when_eating", "噛むと痛い"},
		{"hot_cold", "熱い・冷たいものがしみる"},
		{"sweet", "甘いものがしみる"},
		{"night", "夜間に痛む"},
	}
	MedicalHistoryOptions = []Option{
		{"hypertension", "高血圧"},
		{"diabetes", "糖尿病"},
		{"heart_disease", "心臓病"},
		{"asthma", "喘息"},
		{"hepatitis", "肝炎"},
		{"kidney_disease", "腎臓病"},
		{"stroke", "脳卒中"},
		{"cancer", "がん"},
		{HistoryNone, "特になし"},
	}
	SymptomDurationOptions = []Option{
		{"today", "今日から"},
		{"few_days", "2〜3日前から"},
		{"week", "1週間前から"},
		{"two_weeks", "2週間前から"},
		{"month", "1ヶ月前から"},
		{"more", "1ヶ月以上前から"},
	}
	DentalAnxietyOptions = []Option{
		{"none", "特にない"},
		{"little", "少し不安"},
		{"very", "とても不安"},
	}
	PregnancyOptions = []Option{
		{"none", "該当なし"},
		{"possible", "可能性あり"},
		{"pregnant", "妊娠中"},
		{"nursing", "授乳中"},
	}
)

// HistoryNone excludes every other medical history answer.
const HistoryNone = "none"

func allowed(opts []Option, v string) bool {
	for _, o := range opts {
		if o.Value == v {
			return true
		}
	}
	return false
}

type Repository interface {
	Create(ctx context.Context, iv *Interview) error
	// GetByReservation returns the latest interview for the reservation.
	GetByReservation(ctx context.Context, reservationID uuid.UUID) (*Interview, error)
}
