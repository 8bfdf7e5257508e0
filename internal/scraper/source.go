// Package scraper collects raw venue records from interchangeable sources.
package scraper

import (
	"context"
	"errors"

	"github.com/octobees/venue-pipeline/internal/entity"
)

// ErrDetailUnsupported is returned by sources that cannot fetch a single
// record by URL.
var ErrDetailUnsupported = errors.New("source does not support detail scraping")

// Options describe what to collect. Each source reads the fields it needs.
type Options struct {
	Query        string           `json:"query"`
	Near         *entity.GeoPoint `json:"near,omitempty"`
	RadiusMeters float64          `json:"radius_meters,omitempty"`
	Limit        int              `json:"limit,omitempty"`
	// Path is a local export file for file based sources.
	Path string `json:"path,omitempty"`
}

// Result is the output of one Scrape call.
type Result struct {
	Source  string             `json:"source"`
	Records []entity.RawRecord `json:"records"`
	Skipped int                `json:"skipped"`
}

// Source produces raw records for the normalizer.
type Source interface {
	Scrape(ctx context.Context, opts Options) (Result, error)
	ScrapeDetail(ctx context.Context, url string) (*entity.RawRecord, error)
}

func limit(records []entity.RawRecord, n int) []entity.RawRecord {
	if n > 0 && len(records) > n {
		return records[:n]
	}
	return records
}
