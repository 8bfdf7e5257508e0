package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/octobees/venue-pipeline/internal/dto"
	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/importer"
	"github.com/octobees/venue-pipeline/internal/scraper"
	"github.com/octobees/venue-pipeline/internal/service"
	"github.com/octobees/venue-pipeline/internal/service/upload"
)

// maxBodyBytes caps every request body read by the places handlers.
var maxBodyBytes int64 = 32 << 20

// PlacesHandler exposes the reconciliation stages over HTTP.
type PlacesHandler struct {
	svc     *service.PlacesService
	sources map[string]scraper.Source
}

// NewPlacesHandler wires the handler. sources may be empty.
func NewPlacesHandler(svc *service.PlacesService, sources map[string]scraper.Source) *PlacesHandler {
	return &PlacesHandler{svc: svc, sources: sources}
}

// Normalize handles POST /places/normalize.
func (h *PlacesHandler) Normalize(c echo.Context) error {
	var req dto.NormalizeRequest
	limitBody(c)
	if err := c.Bind(&req); err != nil {
		return bodyError(c, err)
	}
	return Success(c, http.StatusOK, "records normalized", h.svc.Normalize(req.Records))
}

// Validate handles POST /places/validate. A JSON body with "places" is
// validated record by record; any other body is treated as NDJSON.
func (h *PlacesHandler) Validate(c echo.Context) error {
	limitBody(c)
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		var req dto.PlacesRequest
		if err := c.Bind(&req); err != nil {
			return bodyError(c, err)
		}
		return Success(c, http.StatusOK, "places validated", h.svc.Validate(req.Places))
	}

	res, err := h.svc.ValidateStream(c.Request().Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return bodyError(c, err)
		}
		return Error(c, http.StatusBadRequest, err.Error())
	}
	return Success(c, http.StatusOK, "stream validated", res)
}

// Dedupe handles POST /places/dedupe.
func (h *PlacesHandler) Dedupe(c echo.Context) error {
	var req dto.DedupeRequest
	limitBody(c)
	if err := c.Bind(&req); err != nil {
		return bodyError(c, err)
	}
	if req.ThresholdMeters < 0 {
		return Error(c, http.StatusBadRequest, "threshold_meters must be positive")
	}
	report, err := h.svc.Dedupe(c.Request().Context(), req.Places, service.DedupeOptions{
		ThresholdMeters: req.ThresholdMeters,
		AgainstStore:    req.AgainstStore,
	})
	if err != nil {
		return h.stageError(c, err, nil)
	}
	return Success(c, http.StatusOK, "places deduplicated", report)
}

// Enrich handles POST /places/enrich.
func (h *PlacesHandler) Enrich(c echo.Context) error {
	var req dto.PlacesRequest
	limitBody(c)
	if err := c.Bind(&req); err != nil {
		return bodyError(c, err)
	}
	res, err := h.svc.Enrich(c.Request().Context(), req.Places, nil)
	if err != nil {
		return h.stageError(c, err, nil)
	}
	return Success(c, http.StatusOK, "places enriched", map[string]any{
		"places": res.Places,
		"report": service.NewEnrichReport(res),
	})
}

// Sync handles POST /places/sync.
func (h *PlacesHandler) Sync(c echo.Context) error {
	var req dto.SyncRequest
	limitBody(c)
	if err := c.Bind(&req); err != nil {
		return bodyError(c, err)
	}
	stats, err := h.svc.Sync(c.Request().Context(), req.Places, service.SyncOptions{
		Options: upload.Options{DryRun: req.DryRun, Replace: req.Replace, MissingOnly: req.MissingOnly},
		Batch:   req.Batch,
	})
	if err != nil {
		return h.stageError(c, err, nil)
	}
	return Success(c, http.StatusOK, "places synchronized", stats)
}

// Import handles POST /places/import with a GeoJSON body.
func (h *PlacesHandler) Import(c echo.Context) error {
	opts := importer.Options{RequireCoordinates: c.QueryParam("require_coordinates") == "true"}
	limitBody(c)
	report, err := h.svc.Import(c.Request().Body, opts)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return bodyError(c, err)
		}
		return Error(c, http.StatusBadRequest, err.Error())
	}
	return Success(c, http.StatusOK, "features imported", report)
}

// Run handles POST /places/run.
func (h *PlacesHandler) Run(c echo.Context) error {
	var req dto.RunRequest
	limitBody(c)
	if err := c.Bind(&req); err != nil {
		return bodyError(c, err)
	}
	report, err := h.svc.Run(c.Request().Context(), req.Records, service.RunOptions{
		DropInvalid: req.DropInvalid,
		Dedupe:      service.DedupeOptions{ThresholdMeters: req.ThresholdMeters, AgainstStore: req.AgainstStore},
		Enrich:      req.Enrich,
		Sync:        req.Sync,
		SyncOptions: service.SyncOptions{
			Options: upload.Options{DryRun: req.DryRun, Replace: req.Replace, MissingOnly: req.MissingOnly},
			Batch:   req.Batch,
		},
	})
	if err != nil {
		return h.stageError(c, err, report)
	}
	return Success(c, http.StatusOK, "pipeline finished", report)
}

// Scrape handles POST /places/scrape using a configured source.
func (h *PlacesHandler) Scrape(c echo.Context) error {
	var req dto.ScrapeRequest
	limitBody(c)
	if err := c.Bind(&req); err != nil {
		return bodyError(c, err)
	}
	src, ok := h.sources[strings.TrimSpace(req.Source)]
	if !ok {
		return Error(c, http.StatusBadRequest, "unknown source")
	}

	ctx := c.Request().Context()
	if req.URL != "" {
		record, err := src.ScrapeDetail(ctx, req.URL)
		if errors.Is(err, scraper.ErrDetailUnsupported) {
			return Error(c, http.StatusBadRequest, err.Error())
		}
		if err != nil {
			return Error(c, http.StatusBadGateway, err.Error())
		}
		if record == nil {
			return Error(c, http.StatusNotFound, "no record found")
		}
		return Success(c, http.StatusOK, "detail scraped", h.svc.Normalize([]entity.RawRecord{*record}))
	}

	if strings.TrimSpace(req.Query) == "" {
		return Error(c, http.StatusBadRequest, "query is required")
	}
	opts := scraper.Options{Query: strings.TrimSpace(req.Query), RadiusMeters: req.RadiusMeters, Limit: req.Limit}
	if req.Lat != nil && req.Lng != nil {
		opts.Near = &entity.GeoPoint{Lat: *req.Lat, Lng: *req.Lng}
	}
	res, err := src.Scrape(ctx, opts)
	if err != nil {
		return Error(c, http.StatusBadGateway, err.Error())
	}
	report := h.svc.Normalize(res.Records)
	return Success(c, http.StatusOK, "records scraped", map[string]any{
		"source":  res.Source,
		"skipped": res.Skipped,
		"places":  report.Places,
		"errors":  report.Errors,
	})
}

// stageError maps a stage failure to a status; data, when non-nil, is the
// partial result produced before the failure.
func (h *PlacesHandler) stageError(c echo.Context, err error, data any) error {
	switch {
	case errors.Is(err, service.ErrEnrichmentUnavailable), errors.Is(err, service.ErrStoreUnavailable):
		return Error(c, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, c.Request().Context().Err()) && c.Request().Context().Err() != nil:
		return ErrorWithData(c, http.StatusRequestTimeout, "request cancelled", data)
	default:
		return ErrorWithData(c, http.StatusInternalServerError, err.Error(), data)
	}
}

// limitBody caps the request body before anything reads it.
func limitBody(c echo.Context) {
	req := c.Request()
	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)
}

// bodyError reports an oversized body as 413 and anything else as a bad
// payload.
func bodyError(c echo.Context, err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return Error(c, http.StatusRequestEntityTooLarge, "request body too large")
	}
	return Error(c, http.StatusBadRequest, "invalid payload")
}
