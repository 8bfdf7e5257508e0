package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/importer"
)

// TakeoutSource reads a saved-places GeoJSON export from disk.
type TakeoutSource struct {
	RequireCoordinates bool
}

var _ Source = TakeoutSource{}

func (s TakeoutSource) Scrape(ctx context.Context, opts Options) (Result, error) {
	res := Result{Source: "takeout"}
	if opts.Path == "" {
		return res, errors.New("takeout import needs a file path")
	}
	f, err := os.Open(opts.Path)
	if err != nil {
		return res, fmt.Errorf("open export: %w", err)
	}
	defer f.Close()

	imported, err := importer.ImportFeatureCollection(f, importer.Options{RequireCoordinates: s.RequireCoordinates})
	if err != nil {
		return res, err
	}
	res.Records = limit(imported.Records, opts.Limit)
	res.Skipped = imported.Skipped()
	return res, nil
}

func (TakeoutSource) ScrapeDetail(context.Context, string) (*entity.RawRecord, error) {
	return nil, ErrDetailUnsupported
}
