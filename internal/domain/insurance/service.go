package insurance

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/shikaclinic/clinic/internal/platform/apperr"
	"github.com/shikaclinic/clinic/internal/platform/blobstore"
	"github.com/shikaclinic/clinic/internal/platform/metrics"
	"github.com/shikaclinic/clinic/internal/platform/ocr"
)

// OCR outcomes reported by Capture.
const (
	OCRRead    = "read"
	OCRFailed  = "failed"
	OCRSkipped = "skipped"
)

const defaultOCRTimeout = 20 * time.Second

type Service struct {
	repo       Repository
	blobs      blobstore.Store
	extractor  ocr.Extractor
	metrics    *metrics.ClinicMetrics
	logger     zerolog.Logger
	ocrTimeout time.Duration
	now        func() time.Time
}

// NewService wires card capture. extractor may be nil, in which case cards
// are stored without reading them.
func NewService(repo Repository, blobs blobstore.Store, extractor ocr.Extractor, m *metrics.ClinicMetrics, logger zerolog.Logger) *Service {
	return &Service{
		repo:       repo,
		blobs:      blobs,
		extractor:  extractor,
		metrics:    m,
		logger:     logger,
		ocrTimeout: defaultOCRTimeout,
		now:        time.Now,
	}
}

func (s *Service) SetOCRTimeout(d time.Duration) { s.ocrTimeout = d }

// CaptureResult is the saved card and how the OCR step went.
type CaptureResult struct {
	Insurance *Insurance `json:"insurance"`
	OCR       string     `json:"ocr"`
}

// Capture stores the card images, reads the front with OCR and saves the
// card for the patient. An OCR failure of any kind leaves the fields unset
// and still saves the images. Image storage or database failures are
// returned.
func (s *Service) Capture(ctx context.Context, patientID uuid.UUID, front Image, back *Image) (*CaptureResult, error) {
	const op = "capture insurance"
	if patientID == uuid.Nil {
		return nil, apperr.Validation(op, "patient_id is required")
	}
	if len(front.Data) == 0 {
		return nil, apperr.Validation(op, "front image is required")
	}

	ins := &Insurance{PatientID: patientID}
	frontKey, err := s.store(ctx, op, patientID, "front", front)
	if err != nil {
		return nil, err
	}
	ins.FrontImage = &frontKey
	if back != nil && len(back.Data) > 0 {
		backKey, err := s.store(ctx, op, patientID, "back", *back)
		if err != nil {
			return nil, err
		}
		ins.BackImage = &backKey
	}

	outcome := s.read(ctx, patientID, front, ins)

	if err := s.repo.Upsert(ctx, ins); err != nil {
		s.metrics.ObserveStoreError(op)
		return nil, err
	}
	return &CaptureResult{Insurance: ins, OCR: outcome}, nil
}

func (s *Service) store(ctx context.Context, op string, patientID uuid.UUID, side string, img Image) (string, error) {
	key := blobstore.CardKey(patientID, side, img.ContentType)
	if _, err := s.blobs.Put(ctx, key, img.ContentType, bytes.NewReader(img.Data)); err != nil {
		switch {
		case errors.Is(err, blobstore.ErrInvalidContentType):
			return "", apperr.Validation(op, "card images must be JPEG, PNG, WebP or HEIC")
		case errors.Is(err, blobstore.ErrFileTooLarge):
			return "", apperr.Validation(op, "card image is too large")
		case errors.Is(err, blobstore.ErrEmptyFile):
			return "", apperr.Validation(op, side+" image is empty")
		}
		return "", apperr.Unavailable(op, err)
	}
	return key, nil
}

// read fills ins from the front image and reports the outcome.
func (s *Service) read(ctx context.Context, patientID uuid.UUID, front Image, ins *Insurance) string {
	if s.extractor == nil {
		s.metrics.ObserveOCR(OCRSkipped, 0)
		return OCRSkipped
	}
	ctx, cancel := context.WithTimeout(ctx, s.ocrTimeout)
	defer cancel()

	start := time.Now()
	card, err := s.extractor.ExtractCard(ctx, front.ContentType, front.Data)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.metrics.ObserveOCR(OCRFailed, elapsed)
		s.logger.Warn().Err(err).Str("patient_id", patientID.String()).Msg("insurance card OCR failed; saving images only")
		return OCRFailed
	}
	s.metrics.ObserveOCR(OCRRead, elapsed)

	ins.InsurerNumber = card.InsurerNumber
	ins.InsurerName = card.InsurerName
	ins.Symbol = card.Symbol
	ins.InsuredNumber = card.InsuredNumber
	ins.InsuredName = card.InsuredName
	ins.Relationship = card.Relationship
	ins.CopayRate = card.CopayRate
	ins.ValidFrom = card.ValidFrom
	ins.ValidUntil = card.ValidUntil
	return OCRRead
}

func (s *Service) Get(ctx context.Context, patientID uuid.UUID) (*Insurance, error) {
	return s.repo.GetByPatient(ctx, patientID)
}

// Verify records that staff checked the card against the original.
func (s *Service) Verify(ctx context.Context, patientID uuid.UUID) (*Insurance, error) {
	return s.repo.MarkVerified(ctx, patientID, s.now().UTC())
}
