package intake

import (
	"context"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shikaclinic/clinic/internal/domain/scheduling"
	"github.com/shikaclinic/clinic/internal/platform/apperr"
)

// Scheduler is the part of the scheduling service the questionnaire needs.
type Scheduler interface {
	GetReservation(ctx context.Context, id uuid.UUID) (*scheduling.Reservation, error)
	UpdateReservation(ctx context.Context, id uuid.UUID, p scheduling.Patch) (*scheduling.Reservation, error)
}

type Service struct {
	repo   Repository
	sched  Scheduler
	tx     scheduling.TxRunner
	logger zerolog.Logger
}

func NewService(repo Repository, sched Scheduler, tx scheduling.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, sched: sched, tx: tx, logger: logger}
}

// Submission is the questionnaire as posted by the patient.
type Submission struct {
	PatientID          uuid.UUID `json:"patient_id"`
	ReservationID      uuid.UUID `json:"reservation_id"`
	ChiefComplaint     string    `json:"chief_complaint"`
	SymptomDuration    string    `json:"symptom_duration"`
	PainLevel          int       `json:"pain_level"`
	PainTypes          []string  `json:"pain_types"`
	MedicalHistory     []string  `json:"medical_history"`
	CurrentMedications string    `json:"current_medications"`
	Allergies          string    `json:"allergies"`
	DentalAnxiety      string    `json:"dental_anxiety"`
	Smoking            string    `json:"smoking_status"`
	PregnancyStatus    string    `json:"pregnancy_status"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validateMulti(op, field string, opts []Option, values []string) error {
	for _, v := range values {
		if !allowed(opts, v) {
			return apperr.Validation(op, field+"の選択肢が不正です: "+v)
		}
	}
	return nil
}

func (sub Submission) interview() (*Interview, error) {
	const op = "submit interview"
	if sub.PatientID == uuid.Nil || sub.ReservationID == uuid.Nil {
		return nil, apperr.Validation(op, "予約情報が見つかりません")
	}
	complaint := strings.TrimSpace(sub.ChiefComplaint)
	if complaint == "" {
		return nil, apperr.Validation(op, "主訴を入力してください")
	}
	if sub.PainLevel < 0 || sub.PainLevel > 10 {
		return nil, apperr.Validation(op, "痛みの程度は0〜10で入力してください")
	}
	if sub.SymptomDuration != "" && !allowed(SymptomDurationOptions, sub.SymptomDuration) {
		return nil, apperr.Validation(op, "症状の期間の選択肢が不正です")
	}
	if sub.DentalAnxiety != "" && !allowed(DentalAnxietyOptions, sub.DentalAnxiety) {
		return nil, apperr.Validation(op, "歯科治療への不安の選択肢が不正です")
	}
	if sub.PregnancyStatus != "" && !allowed(PregnancyOptions, sub.PregnancyStatus) {
		return nil, apperr.Validation(op, "妊娠の可能性の選択肢が不正です")
	}
	if err := validateMulti(op, "痛みの種類", PainTypeOptions, sub.PainTypes); err != nil {
		return nil, err
	}
	if err := validateMulti(op, "既往歴", MedicalHistoryOptions, sub.MedicalHistory); err != nil {
		return nil, err
	}
	history := slices.Compact(slices.Sorted(slices.Values(sub.MedicalHistory)))
	if slices.Contains(history, HistoryNone) && len(history) > 1 {
		return nil, apperr.Validation(op, "「特になし」は他の既往歴と同時に選択できません")
	}
	switch sub.Smoking {
	case "", "yes", "no":
	default:
		return nil, apperr.Validation(op, "喫煙の選択肢が不正です")
	}

	painTypes := slices.Compact(slices.Sorted(slices.Values(sub.PainTypes)))
	if painTypes == nil {
		painTypes = []string{}
	}
	if history == nil {
		history = []string{}
	}
	return &Interview{
		PatientID:          sub.PatientID,
		ReservationID:      sub.ReservationID,
		ChiefComplaint:     complaint,
		SymptomDuration:    sub.SymptomDuration,
		PainLevel:          sub.PainLevel,
		PainTypes:          painTypes,
		MedicalHistory:     history,
		CurrentMedications: optional(sub.CurrentMedications),
		Allergies:          optional(sub.Allergies),
		DentalAnxiety:      sub.DentalAnxiety,
		Smoking:            sub.Smoking == "yes",
		PregnancyStatus:    sub.PregnancyStatus,
	}, nil
}

// Submit stores the answers and marks the reservation's questionnaire as
// done. Both writes share one transaction.
func (s *Service) Submit(ctx context.Context, sub Submission) (*Interview, error) {
	iv, err := sub.interview()
	if err != nil {
		return nil, err
	}
	res, err := s.sched.GetReservation(ctx, sub.ReservationID)
	if err != nil {
		return nil, err
	}
	if res.PatientID != sub.PatientID {
		return nil, apperr.Validation("submit interview", "予約情報が一致しません")
	}

	done := true
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.sched.UpdateReservation(ctx, res.ID, scheduling.Patch{InterviewCompleted: &done}); err != nil {
			return err
		}
		return s.repo.Create(ctx, iv)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("reservation_id", res.ID.String()).
		Str("interview_id", iv.ID.String()).
		Msg("interview submitted")
	return iv, nil
}

// FormView is what the questionnaire page renders before the patient
// answers.
type FormView struct {
	ReservationID      uuid.UUID `json:"reservation_id"`
	PatientID          uuid.UUID `json:"patient_id"`
	PatientName        string    `json:"patient_name"`
	Date               string    `json:"reservation_date"`
	StartTime          string    `json:"start_time"`
	InterviewCompleted bool      `json:"interview_completed"`
	PainTypes          []Option  `json:"pain_types"`
	MedicalHistory     []Option  `json:"medical_history"`
	SymptomDuration    []Option  `json:"symptom_duration"`
	DentalAnxiety      []Option  `json:"dental_anxiety"`
	Pregnancy          []Option  `json:"pregnancy_status"`
}

func (s *Service) Form(ctx context.Context, reservationID uuid.UUID) (*FormView, error) {
	res, err := s.sched.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	v := &FormView{
		ReservationID:      res.ID,
		PatientID:          res.PatientID,
		Date:               res.Date,
		StartTime:          res.StartTime,
		InterviewCompleted: res.InterviewCompleted,
		PainTypes:          PainTypeOptions,
		MedicalHistory:     MedicalHistoryOptions,
		SymptomDuration:    SymptomDurationOptions,
		DentalAnxiety:      DentalAnxietyOptions,
		Pregnancy:          PregnancyOptions,
	}
	if res.Patient != nil {
		v.PatientName = res.Patient.NameLast + " " + res.Patient.NameFirst
	}
	return v, nil
}

func (s *Service) ForReservation(ctx context.Context, reservationID uuid.UUID) (*Interview, error) {
	return s.repo.GetByReservation(ctx, reservationID)
}
