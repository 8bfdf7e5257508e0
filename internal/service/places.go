package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/importer"
	"github.com/octobees/venue-pipeline/internal/repository"
	"github.com/octobees/venue-pipeline/internal/service/dedupe"
	"github.com/octobees/venue-pipeline/internal/service/enrich"
	"github.com/octobees/venue-pipeline/internal/service/normalize"
	"github.com/octobees/venue-pipeline/internal/service/upload"
	"github.com/octobees/venue-pipeline/internal/service/validation"
)

var (
	// ErrEnrichmentUnavailable is returned when no place provider is configured.
	ErrEnrichmentUnavailable = errors.New("enrichment is not configured")
	// ErrStoreUnavailable is returned when no document store is configured.
	ErrStoreUnavailable = errors.New("document store is not configured")
)

// DocumentQuerier reads stored documents back.
type DocumentQuerier interface {
	Query(ctx context.Context, filter repository.QueryFilter) ([]repository.Document, error)
}

// PlacesDeps wires the pipeline stages. Enricher, Uploader, Lookup and
// Documents are optional; the stages needing them report an error when they
// are nil.
type PlacesDeps struct {
	Normalizer  *normalize.Normalizer
	Validator   *validation.Validator
	Enricher    *enrich.Enricher
	Uploader    *upload.Uploader
	Lookup      dedupe.Lookup
	Documents   DocumentQuerier
	EnrichDelay time.Duration
	Logger      zerolog.Logger
}

// PlacesService runs the reconciliation stages individually or end to end.
type PlacesService struct {
	deps PlacesDeps
}

// NewPlacesService creates a PlacesService, defaulting the pure stages.
func NewPlacesService(deps PlacesDeps) *PlacesService {
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New()
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator("")
	}
	return &PlacesService{deps: deps}
}

// NormalizeReport lists normalized Places and the records that failed.
type NormalizeReport struct {
	Places []*entity.Place `json:"places"`
	Errors []string        `json:"errors,omitempty"`
}

// Normalize maps raw records to Places.
func (s *PlacesService) Normalize(raws []entity.RawRecord) NormalizeReport {
	places, err := s.deps.Normalizer.NormalizeAll(raws)
	report := NormalizeReport{Places: places}
	report.Errors = splitJoined(err)
	return report
}

// Validate checks Places and summarises the batch.
func (s *PlacesService) Validate(places []*entity.Place) validation.BatchSummary {
	return s.deps.Validator.ValidatePlaces(places)
}

// ValidateStream validates a newline-delimited record stream.
func (s *PlacesService) ValidateStream(r io.Reader) (validation.StreamResult, error) {
	return s.deps.Validator.ValidateStream(r)
}

// DedupeOptions selects the deduplication scope.
type DedupeOptions struct {
	ThresholdMeters float64 `json:"threshold_meters"`
	// AgainstStore additionally compares the batch with stored documents.
	AgainstStore bool `json:"against_store"`
}

// DedupeReport merges in-batch and store findings. Unique includes Places
// whose store lookup failed; they are also listed in Unchecked.
type DedupeReport struct {
	Unique          []*entity.Place         `json:"unique"`
	Duplicates      []dedupe.Duplicate      `json:"duplicates"`
	StoreDuplicates []dedupe.StoreDuplicate `json:"store_duplicates,omitempty"`
	Unchecked       []dedupe.Unchecked      `json:"unchecked,omitempty"`
}

// Dedupe flags near-duplicates within the batch and, optionally, against
// the store.
func (s *PlacesService) Dedupe(ctx context.Context, places []*entity.Place, opts DedupeOptions) (DedupeReport, error) {
	threshold := opts.ThresholdMeters
	if threshold <= 0 {
		threshold = dedupe.DefaultThresholdMeters
	}
	batch := dedupe.WithinBatch(places, threshold)
	report := DedupeReport{Unique: batch.Unique, Duplicates: batch.Duplicates}
	if !opts.AgainstStore {
		return report, nil
	}
	if s.deps.Lookup == nil {
		return report, ErrStoreUnavailable
	}

	stored, err := dedupe.AgainstStore(ctx, s.deps.Lookup, batch.Unique, threshold)
	if err != nil {
		return report, err
	}
	report.StoreDuplicates = stored.Duplicates
	report.Unchecked = stored.Unchecked
	report.Unique = keepOrder(batch.Unique, stored.Unique, stored.Unchecked)
	return report, nil
}

// Enrich fills gaps from the place provider.
func (s *PlacesService) Enrich(ctx context.Context, places []*entity.Place, onProgress func(enrich.Progress)) (enrich.Result, error) {
	if s.deps.Enricher == nil {
		return enrich.Result{}, ErrEnrichmentUnavailable
	}
	return s.deps.Enricher.Enrich(ctx, places, enrich.Options{Delay: s.deps.EnrichDelay, OnProgress: onProgress})
}

// SyncOptions configure persistence.
type SyncOptions struct {
	upload.Options
	// Batch uses chunked transactions instead of per-document writes.
	Batch bool `json:"batch"`
}

// Sync persists Places to the document store.
func (s *PlacesService) Sync(ctx context.Context, places []*entity.Place, opts SyncOptions) (upload.Stats, error) {
	if s.deps.Uploader == nil {
		return upload.Stats{}, ErrStoreUnavailable
	}
	if opts.Batch {
		return s.deps.Uploader.UploadBatch(ctx, places, opts.Options)
	}
	return s.deps.Uploader.UploadMany(ctx, places, opts.Options)
}

// ExportOptions select stored Places. Zero values are ignored.
type ExportOptions struct {
	Domain entity.Domain
	IDs    []string
	Box    *entity.BoundingBox
	Limit  int
}

// Export reads stored Places back in id order. A document whose body is not
// a Place fails the whole export.
func (s *PlacesService) Export(ctx context.Context, opts ExportOptions) ([]*entity.Place, error) {
	if s.deps.Documents == nil {
		return nil, ErrStoreUnavailable
	}
	docs, err := s.deps.Documents.Query(ctx, repository.QueryFilter{
		Type:   entity.DocumentType,
		IDs:    opts.IDs,
		Domain: opts.Domain,
		Box:    opts.Box,
		Limit:  opts.Limit,
	})
	if err != nil {
		return nil, err
	}
	places := make([]*entity.Place, 0, len(docs))
	for _, doc := range docs {
		var p entity.Place
		if err := json.Unmarshal(doc.Body, &p); err != nil {
			return nil, fmt.Errorf("decode document %q: %w", doc.ID, err)
		}
		if p.ID == "" {
			p.ID = doc.ID
		}
		places = append(places, &p)
	}
	return places, nil
}

// ImportReport describes a geospatial import.
type ImportReport struct {
	NormalizeReport
	Total           int `json:"total"`
	SkippedNoTitle  int `json:"skipped_no_title"`
	SkippedNoCoords int `json:"skipped_no_coordinates"`
}

// Import reads a GeoJSON feature collection and normalizes its features.
func (s *PlacesService) Import(r io.Reader, opts importer.Options) (ImportReport, error) {
	imported, err := importer.ImportFeatureCollection(r, opts)
	if err != nil {
		return ImportReport{}, err
	}
	return ImportReport{
		NormalizeReport: s.Normalize(imported.Records),
		Total:           imported.Total,
		SkippedNoTitle:  imported.SkippedNoTitle,
		SkippedNoCoords: imported.SkippedNoCoords,
	}, nil
}

// RunOptions select which stages Run executes after normalization.
type RunOptions struct {
	// DropInvalid removes Places with validation errors before deduplication.
	DropInvalid bool          `json:"drop_invalid"`
	Dedupe      DedupeOptions `json:"dedupe"`
	Enrich      bool          `json:"enrich"`
	Sync        bool          `json:"sync"`
	SyncOptions SyncOptions   `json:"sync_options"`
}

// EnrichReport is the serializable part of an enrich.Result.
type EnrichReport struct {
	Enriched int          `json:"enriched"`
	Skipped  []StageIssue `json:"skipped,omitempty"`
	Errors   []StageIssue `json:"errors,omitempty"`
}

// StageIssue names a Place and what happened to it.
type StageIssue struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// NewEnrichReport flattens r for reporting.
func NewEnrichReport(r enrich.Result) EnrichReport {
	out := EnrichReport{Enriched: r.EnrichedCount}
	for _, skip := range r.Skipped {
		out.Skipped = append(out.Skipped, StageIssue{Name: skip.Place.Name, Message: skip.Reason})
	}
	for _, e := range r.Errors {
		out.Errors = append(out.Errors, StageIssue{Name: e.Place.Name, Message: e.Err.Error()})
	}
	return out
}

// RunReport is the per-stage outcome of Run.
type RunReport struct {
	Normalized      int                     `json:"normalized"`
	NormalizeErrors []string                `json:"normalize_errors,omitempty"`
	Validation      validation.BatchSummary `json:"validation"`
	Dropped         int                     `json:"dropped_invalid"`
	Duplicates      []dedupe.Duplicate      `json:"duplicates"`
	StoreDuplicates []dedupe.StoreDuplicate `json:"store_duplicates,omitempty"`
	Unchecked       []dedupe.Unchecked      `json:"unchecked,omitempty"`
	Enrich          *EnrichReport           `json:"enrich,omitempty"`
	Sync            *upload.Stats           `json:"sync,omitempty"`
	Places          []*entity.Place         `json:"places"`
}

// Run executes normalize, validate, dedupe, enrich and sync in order. The
// report is returned even when a later stage fails.
func (s *PlacesService) Run(ctx context.Context, raws []entity.RawRecord, opts RunOptions) (RunReport, error) {
	logger := s.deps.Logger
	if opts.Enrich && s.deps.Enricher == nil {
		return RunReport{}, ErrEnrichmentUnavailable
	}
	if opts.Sync && s.deps.Uploader == nil {
		return RunReport{}, ErrStoreUnavailable
	}

	normalized := s.Normalize(raws)
	report := RunReport{Normalized: len(normalized.Places), NormalizeErrors: normalized.Errors}
	places := normalized.Places
	logger.Info().Int("records", len(raws)).Int("normalized", len(places)).Msg("normalized records")

	report.Validation = s.Validate(places)
	if opts.DropInvalid {
		valid := report.Validation.ValidOnly(places)
		report.Dropped = len(places) - len(valid)
		places = valid
	}

	deduped, err := s.Dedupe(ctx, places, opts.Dedupe)
	report.Duplicates = deduped.Duplicates
	report.StoreDuplicates = deduped.StoreDuplicates
	report.Unchecked = deduped.Unchecked
	if err != nil {
		report.Places = places
		return report, fmt.Errorf("dedupe: %w", err)
	}
	places = deduped.Unique
	logger.Info().Int("unique", len(places)).Int("duplicates", len(deduped.Duplicates)+len(deduped.StoreDuplicates)).Msg("deduplicated places")

	if opts.Enrich {
		res, err := s.Enrich(ctx, places, nil)
		enriched := NewEnrichReport(res)
		report.Enrich = &enriched
		if err != nil {
			report.Places = places
			return report, fmt.Errorf("enrich: %w", err)
		}
		logger.Info().Int("enriched", res.EnrichedCount).Int("skipped", res.SkippedCount).Int("failed", len(res.Errors)).Msg("enriched places")
	}

	report.Places = places
	if opts.Sync {
		stats, err := s.Sync(ctx, places, opts.SyncOptions)
		report.Sync = &stats
		if err != nil {
			return report, fmt.Errorf("sync: %w", err)
		}
		logger.Info().Int("created", stats.Created).Int("updated", stats.Updated).Int("skipped", stats.Skipped).
			Int("failed", stats.Failed).Int64("duration_ms", stats.DurationMs).Msg("synchronized places")
	}
	return report, nil
}

// keepOrder returns the Places of all that are in unique or unchecked,
// preserving the order of all.
func keepOrder(all, unique []*entity.Place, unchecked []dedupe.Unchecked) []*entity.Place {
	keep := make(map[*entity.Place]struct{}, len(unique)+len(unchecked))
	for _, p := range unique {
		keep[p] = struct{}{}
	}
	for _, u := range unchecked {
		keep[u.Place] = struct{}{}
	}
	out := make([]*entity.Place, 0, len(keep))
	for _, p := range all {
		if _, ok := keep[p]; ok {
			out = append(out, p)
		}
	}
	return out
}

// splitJoined flattens an errors.Join result into messages.
func splitJoined(err error) []string {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
