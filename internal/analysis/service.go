package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/plate-watch/internal/dedupe"
	"github.com/zombor/plate-watch/internal/enhance"
	"github.com/zombor/plate-watch/internal/vision"
)

// IDGenerator generates unique IDs for analyses.
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

type defaultIDGenerator struct{}

func (defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service runs the analysis pipeline and manages the history.
type Service struct {
	provider   vision.Provider
	cache      *dedupe.Cache
	db         DB
	storage    Storage
	idGen      IDGenerator
	timeSource TimeSource
}

// NewService creates a new Service with default ID generator and time source.
func NewService(provider vision.Provider, cache *dedupe.Cache, db DB, storage Storage) *Service {
	return NewServiceWithDeps(provider, cache, db, storage, defaultIDGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing.
func NewServiceWithDeps(provider vision.Provider, cache *dedupe.Cache, db DB, storage Storage, idGen IDGenerator, timeSource TimeSource) *Service {
	return &Service{
		provider:   provider,
		cache:      cache,
		db:         db,
		storage:    storage,
		idGen:      idGen,
		timeSource: timeSource,
	}
}

// plateStrip removes the separators that vary between sightings of the same
// plate, so "AB-123.4" and "AB 1234" dedupe to the same key.
var plateStrip = strings.NewReplacer(" ", "", "-", "", ".", "")

// CanonicalPlate returns the dedup key for a plate string.
func CanonicalPlate(plate string) string {
	return strings.ToUpper(plateStrip.Replace(strings.TrimSpace(plate)))
}

// Analyze runs the full pipeline on one uploaded image: validate, extract
// the plate, dedup, extract vehicle attributes, enhance the plate crop, and
// record the outcome in the history.
//
// Stage failures after plate extraction do not abort the pipeline: attribute
// failures land in the result's Error field, enhancement failures in its
// Message field.
func (s *Service) Analyze(ctx context.Context, data []byte, contentType string) (*Analysis, error) {
	img, err := prepareImage(data, contentType)
	if err != nil {
		return nil, err
	}

	analysis := &Analysis{
		ID:        s.idGen.Generate(),
		CreatedAt: s.timeSource.Now(),
	}

	reading, err := s.provider.ExtractPlate(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("extracting plate: %w", err)
	}
	analysis.Plate = reading.Plate
	analysis.Confidence = reading.Confidence

	// Only concrete plates participate in deduplication; the sentinel and
	// processing errors never enter the cache.
	if reading.Found() {
		key := CanonicalPlate(reading.Plate)
		if s.cache.IsDuplicate(key) {
			analysis.Duplicate = true
			analysis.Message = fmt.Sprintf("plate %s was already analyzed within the retention window", reading.Plate)
			s.saveHistory(analysis)
			return analysis, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.cache.Insert(key)
	}

	// An unreadable plate is not a failure; the vehicle is still describable.
	attrs, err := s.provider.ExtractAttributes(ctx, img)
	if err != nil {
		analysis.Error = fmt.Sprintf("attribute extraction failed: %v", err)
	} else {
		analysis.Attributes = attrs
	}

	if reading.Found() || reading.Region != nil {
		s.enhancePlate(ctx, img, reading, analysis)
	}

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	s.saveHistory(analysis)
	return analysis, nil
}

// enhancePlate produces the magnified plate crop. Local enhancement from the
// reading's region is preferred; the provider-side crop is the fallback. A
// failure here is advisory only.
func (s *Service) enhancePlate(ctx context.Context, img vision.Image, reading *vision.PlateReading, analysis *Analysis) {
	if reading.Region != nil {
		result, err := enhance.Enhance(img.Data, img.MIME, enhance.Region{
			X:      reading.Region.X,
			Y:      reading.Region.Y,
			Width:  reading.Region.Width,
			Height: reading.Region.Height,
		})
		if err == nil {
			analysis.EnhancedPlate = &EnhancedPlate{Image: result.Data, MIME: result.MIME, Note: result.Note}
			return
		}
		if !errors.Is(err, enhance.ErrNoRegion) {
			slog.Warn("local plate enhancement failed", "analysis", analysis.ID, "error", err)
		}
	}

	crop, err := s.provider.CropPlate(ctx, img)
	if err != nil {
		analysis.Message = joinMessages(analysis.Message,
			fmt.Sprintf("plate enhancement unavailable: %v", err))
		return
	}
	analysis.EnhancedPlate = &EnhancedPlate{
		Image: crop.Data,
		MIME:  crop.MIME,
		Note:  "model-side crop; no local enhancement applied",
	}
}

// saveHistory persists the analysis record and its crop. History is an
// auxiliary surface: failures are logged, never surfaced to the caller.
func (s *Service) saveHistory(analysis *Analysis) {
	record := &Record{
		ID:         analysis.ID,
		Plate:      analysis.Plate,
		Confidence: analysis.Confidence,
		Duplicate:  analysis.Duplicate,
		Attributes: analysis.Attributes,
		Message:    analysis.Message,
		Error:      analysis.Error,
		CreatedAt:  analysis.CreatedAt,
	}

	if analysis.EnhancedPlate != nil {
		filename := analysis.ID + "_plate" + extensionFor(analysis.EnhancedPlate.MIME)
		saved, err := s.storage.Save(filename, analysis.EnhancedPlate.Image)
		if err != nil {
			slog.Warn("failed to store plate crop", "analysis", analysis.ID, "error", err)
		} else {
			record.CropFilename = saved
			record.CropMIME = analysis.EnhancedPlate.MIME
		}
	}

	if err := s.db.SaveRecord(record); err != nil {
		slog.Warn("failed to save analysis record", "analysis", analysis.ID, "error", err)
	}
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

func joinMessages(messages ...string) string {
	var parts []string
	for _, m := range messages {
		if m != "" {
			parts = append(parts, m)
		}
	}
	return strings.Join(parts, "; ")
}

// GetRecord retrieves an analysis record by ID.
func (s *Service) GetRecord(id string) (*Record, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, fmt.Errorf("getting analysis: %w", err)
	}
	return record, nil
}

// ListRecords returns all analysis records.
func (s *Service) ListRecords() ([]*Record, error) {
	records, err := s.db.ListRecords()
	if err != nil {
		return nil, fmt.Errorf("listing analyses: %w", err)
	}
	return records, nil
}

// GetRecordCrop retrieves the stored plate crop for an analysis.
func (s *Service) GetRecordCrop(id string) ([]byte, string, error) {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting analysis: %w", err)
	}
	if record.CropFilename == "" {
		return nil, "", fmt.Errorf("analysis %s has no stored crop", id)
	}
	data, err := s.storage.Get(record.CropFilename)
	if err != nil {
		return nil, "", fmt.Errorf("getting crop file: %w", err)
	}
	return data, record.CropMIME, nil
}

// DeleteRecord removes an analysis record and its crop file.
func (s *Service) DeleteRecord(id string) error {
	record, err := s.db.GetRecord(id)
	if err != nil {
		return fmt.Errorf("getting analysis for deletion: %w", err)
	}

	if record.CropFilename != "" {
		if err := s.storage.Delete(record.CropFilename); err != nil {
			slog.Warn("failed to delete crop file", "filename", record.CropFilename, "error", err)
		}
	}

	if err := s.db.DeleteRecord(id); err != nil {
		return fmt.Errorf("deleting analysis record: %w", err)
	}
	return nil
}
