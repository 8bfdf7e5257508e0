package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/provider"
)

const defaultSearchRadius = 2000

// ProviderSource turns place provider searches into raw records.
type ProviderSource struct {
	provider provider.Provider
}

var _ Source = (*ProviderSource)(nil)

func NewProviderSource(p provider.Provider) *ProviderSource {
	return &ProviderSource{provider: p}
}

// Scrape searches around opts.Near and fetches details for each hit.
// Hits whose details fail are counted as skipped.
func (s *ProviderSource) Scrape(ctx context.Context, opts Options) (Result, error) {
	res := Result{Source: "provider-search"}
	if strings.TrimSpace(opts.Query) == "" || opts.Near == nil {
		return res, errors.New("provider search needs a query and a location")
	}
	radius := opts.RadiusMeters
	if radius <= 0 {
		radius = defaultSearchRadius
	}

	hits, err := s.provider.SearchNearby(ctx, opts.Query, *opts.Near, radius)
	if errors.Is(err, provider.ErrNotFound) {
		return res, nil
	}
	if err != nil {
		return res, fmt.Errorf("search %q: %w", opts.Query, err)
	}
	for _, hit := range hits {
		if opts.Limit > 0 && len(res.Records) >= opts.Limit {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		details, err := s.provider.Details(ctx, hit.PlaceID)
		if err != nil {
			res.Skipped++
			continue
		}
		loc := hit.Location
		res.Records = append(res.Records, entity.NewProviderRecord(toRecord(details, &loc)))
	}
	return res, nil
}

// ScrapeDetail accepts maps URLs carrying a place_id or query_place_id
// parameter.
func (s *ProviderSource) ScrapeDetail(ctx context.Context, rawURL string) (*entity.RawRecord, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	id := u.Query().Get("place_id")
	if id == "" {
		id = u.Query().Get("query_place_id")
	}
	if id == "" {
		return nil, ErrDetailUnsupported
	}
	details, err := s.provider.Details(ctx, id)
	if err != nil {
		return nil, err
	}
	record := entity.NewProviderRecord(toRecord(details, nil))
	return &record, nil
}

func toRecord(d *provider.Details, loc *entity.GeoPoint) entity.ProviderRecord {
	r := entity.ProviderRecord{
		PlaceID:          d.PlaceID,
		Name:             d.Name,
		Address:          d.Address,
		Types:            d.Types,
		PriceLevel:       d.PriceLevel,
		Rating:           d.Rating,
		UserRatingsTotal: d.UserRatingsTotal,
		Phone:            d.InternationalPhone,
		Website:          d.Website,
		MapsURL:          d.MapsURL,
	}
	if r.Phone == "" {
		r.Phone = d.Phone
	}
	if loc != nil {
		lat, lng := loc.Lat, loc.Lng
		r.Lat, r.Lng = &lat, &lng
	}
	return r
}
