package dto

import "github.com/octobees/venue-pipeline/internal/entity"

// NormalizeRequest carries raw records to normalize.
type NormalizeRequest struct {
	Records []entity.RawRecord `json:"records"`
}

// PlacesRequest carries canonical Places.
type PlacesRequest struct {
	Places []*entity.Place `json:"places"`
}

// DedupeRequest is the payload of POST /places/dedupe.
type DedupeRequest struct {
	Places          []*entity.Place `json:"places"`
	ThresholdMeters float64         `json:"threshold_meters,omitempty"`
	AgainstStore    bool            `json:"against_store,omitempty"`
}

// SyncRequest is the payload of POST /places/sync.
type SyncRequest struct {
	Places      []*entity.Place `json:"places"`
	DryRun      bool            `json:"dry_run,omitempty"`
	Replace     bool            `json:"replace,omitempty"`
	MissingOnly bool            `json:"missing_only,omitempty"`
	Batch       bool            `json:"batch,omitempty"`
}

// RunRequest is the payload of POST /places/run.
type RunRequest struct {
	Records         []entity.RawRecord `json:"records"`
	DropInvalid     bool               `json:"drop_invalid,omitempty"`
	ThresholdMeters float64            `json:"threshold_meters,omitempty"`
	AgainstStore    bool               `json:"against_store,omitempty"`
	Enrich          bool               `json:"enrich,omitempty"`
	Sync            bool               `json:"sync,omitempty"`
	DryRun          bool               `json:"dry_run,omitempty"`
	Replace         bool               `json:"replace,omitempty"`
	MissingOnly     bool               `json:"missing_only,omitempty"`
	Batch           bool               `json:"batch,omitempty"`
}

// ScrapeRequest is the payload of POST /places/scrape. When URL is set a
// single detail page is scraped instead of a search.
type ScrapeRequest struct {
	Source       string   `json:"source"`
	Query        string   `json:"query,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lng          *float64 `json:"lng,omitempty"`
	RadiusMeters float64  `json:"radius_meters,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	URL          string   `json:"url,omitempty"`
}
