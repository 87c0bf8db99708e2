package scheduling

import (
	"time"

	"github.com/google/uuid"
)

// Date and time layouts shared by the store and the API.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Category string

const (
	CategoryFirstVisit   Category = "first_visit"
	CategoryCheckup      Category = "checkup"
	CategoryTreatment    Category = "treatment"
	CategoryConsultation Category = "consultation"
	CategoryEmergency    Category = "emergency"
	CategoryOther        Category = "other"
)

var validCategories = map[Category]bool{
	CategoryFirstVisit: true, CategoryCheckup: true, CategoryTreatment: true,
	CategoryConsultation: true, CategoryEmergency: true, CategoryOther: true,
}

func (c Category) Valid() bool { return validCategories[c] }

type Source string

const (
	SourceManual  Source = "manual"
	SourcePhone   Source = "phone"
	SourceWeb     Source = "web"
	SourceLine    Source = "line"
	SourceAIPhone Source = "ai_phone"
)

var validSources = map[Source]bool{
	SourceManual: true, SourcePhone: true, SourceWeb: true, SourceLine: true, SourceAIPhone: true,
}

func (s Source) Valid() bool { return validSources[s] }

// Unit is a treatment chair.
type Unit struct {
	ID         uuid.UUID `json:"id"`
	UnitNumber int       `json:"unit_number"`
	Name       string    `json:"name"`
	IsActive   bool      `json:"is_active"`
}

// PatientRef is the slice of the patient row joined onto reservation reads.
type PatientRef struct {
	ID            uuid.UUID `json:"id"`
	PatientNumber int       `json:"patient_number"`
	NameLast      string    `json:"name_last"`
	NameFirst     string    `json:"name_first"`
	NameLastKana  *string   `json:"name_last_kana,omitempty"`
	NameFirstKana *string   `json:"name_first_kana,omitempty"`
	BirthDate     *string   `json:"birth_date,omitempty"`
	Phone         *string   `json:"phone,omitempty"`
}

type Reservation struct {
	ID                 uuid.UUID   `json:"id"`
	PatientID          uuid.UUID   `json:"patient_id"`
	UnitID             *uuid.UUID  `json:"unit_id,omitempty"`
	Date               string      `json:"reservation_date"`
	StartTime          string      `json:"start_time"`
	EndTime            *string     `json:"end_time,omitempty"`
	Category           Category    `json:"category"`
	Status             Status      `json:"status"`
	Source             Source      `json:"source"`
	InterviewCompleted bool        `json:"interview_completed"`
	Note               *string     `json:"note,omitempty"`
	CheckedInAt        *time.Time  `json:"checked_in_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
	Patient            *PatientRef `json:"patient,omitempty"`
	Unit               *Unit       `json:"unit,omitempty"`
}

// Patch is a partial update. Only these columns are mutable after creation;
// the patient, date and start time are fixed.
type Patch struct {
	Status             *Status
	UnitID             *uuid.UUID
	ClearUnit          bool
	Category           *Category
	Note               *string
	CheckedInAt        *time.Time
	InterviewCompleted *bool
}

func (p Patch) Empty() bool {
	return p.Status == nil && p.UnitID == nil && !p.ClearUnit && p.Category == nil &&
		p.Note == nil && p.CheckedInAt == nil && p.InterviewCompleted == nil
}

// Filter narrows FindByDateRange. Cancelled rows are left out unless
// Status asks for them or IncludeCancelled is set.
type Filter struct {
	Status           *Status
	Source           *Source
	UnitID           *uuid.UUID
	IncludeCancelled bool
}

type WaitingListEntry struct {
	ID             uuid.UUID  `json:"id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	ReservationID  uuid.UUID  `json:"reservation_id"`
	AssignedUnitID *uuid.UUID `json:"assigned_unit_id,omitempty"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
}

const WaitingStatusWaiting = "waiting"
