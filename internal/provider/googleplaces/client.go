// Package googleplaces adapts the Places API (New) to provider.Provider.
package googleplaces

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	places "google.golang.org/api/places/v1"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/observability"
	"github.com/octobees/venue-pipeline/internal/provider"
)

const (
	fieldMaskHeader = "X-Goog-FieldMask"
	searchFields    = "places.id,places.displayName,places.location"
	detailFields    = "id,displayName,formattedAddress,nationalPhoneNumber,internationalPhoneNumber," +
		"websiteUri,googleMapsUri,priceLevel,rating,userRatingCount,types,regularOpeningHours"
	maxSearchResults = 5
)

var priceLevels = map[string]int{
	"PRICE_LEVEL_FREE":           0,
	"PRICE_LEVEL_INEXPENSIVE":    1,
	"PRICE_LEVEL_MODERATE":       2,
	"PRICE_LEVEL_EXPENSIVE":      3,
	"PRICE_LEVEL_VERY_EXPENSIVE": 4,
}

// Client talks to the Places API.
type Client struct {
	svc *places.Service
}

var _ provider.Provider = (*Client)(nil)

// New builds a client authenticated with an API key. Extra options are
// appended, which lets tests point the client at a local server.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("places api key is required")
	}
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := places.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create places service: %w", err)
	}
	return &Client{svc: svc}, nil
}

// SearchNearby runs a text search biased to a circle around near.
func (c *Client) SearchNearby(ctx context.Context, query string, near entity.GeoPoint, radiusMeters float64) ([]provider.SearchResult, error) {
	start := time.Now()
	call := c.svc.Places.SearchText(&places.GoogleMapsPlacesV1SearchTextRequest{
		TextQuery:      query,
		MaxResultCount: maxSearchResults,
		LocationBias: &places.GoogleMapsPlacesV1SearchTextRequestLocationBias{
			Circle: &places.GoogleMapsPlacesV1Circle{
				Center: &places.GoogleTypeLatLng{Latitude: near.Lat, Longitude: near.Lng},
				Radius: radiusMeters,
			},
		},
	})
	call.Header().Set(fieldMaskHeader, searchFields)
	resp, err := call.Context(ctx).Do()
	observability.ObserveProvider("search", err, time.Since(start))
	if err != nil {
		return nil, translate(err)
	}

	results := make([]provider.SearchResult, 0, len(resp.Places))
	for _, p := range resp.Places {
		if p == nil || p.Id == "" {
			continue
		}
		r := provider.SearchResult{PlaceID: p.Id, Name: displayName(p)}
		if p.Location != nil {
			r.Location = entity.GeoPoint{Lat: p.Location.Latitude, Lng: p.Location.Longitude}
		}
		results = append(results, r)
	}
	if len(results) == 0 {
		return nil, provider.ErrNotFound
	}
	return results, nil
}

// Details fetches the fields the enricher merges.
func (c *Client) Details(ctx context.Context, placeID string) (*provider.Details, error) {
	start := time.Now()
	call := c.svc.Places.Get("places/" + strings.TrimPrefix(placeID, "places/"))
	call.Header().Set(fieldMaskHeader, detailFields)
	p, err := call.Context(ctx).Do()
	observability.ObserveProvider("details", err, time.Since(start))
	if err != nil {
		return nil, translate(err)
	}
	return toDetails(p), nil
}

func toDetails(p *places.GoogleMapsPlacesV1Place) *provider.Details {
	d := &provider.Details{
		PlaceID:            p.Id,
		Name:               displayName(p),
		Address:            p.FormattedAddress,
		Phone:              p.NationalPhoneNumber,
		InternationalPhone: p.InternationalPhoneNumber,
		Website:            p.WebsiteUri,
		MapsURL:            p.GoogleMapsUri,
		Types:              p.Types,
	}
	if level, ok := priceLevels[p.PriceLevel]; ok {
		d.PriceLevel = &level
	}
	if p.Rating > 0 {
		rating := p.Rating
		d.Rating = &rating
	}
	if p.UserRatingCount > 0 {
		count := int(p.UserRatingCount)
		d.UserRatingsTotal = &count
	}
	if p.RegularOpeningHours != nil {
		for _, period := range p.RegularOpeningHours.Periods {
			if period == nil || period.Open == nil {
				continue
			}
			out := provider.Period{Day: int(period.Open.Day), Open: hhmm(period.Open)}
			if period.Close != nil {
				out.Close = hhmm(period.Close)
			}
			d.Periods = append(d.Periods, out)
		}
	}
	return d
}

func displayName(p *places.GoogleMapsPlacesV1Place) string {
	if p.DisplayName == nil {
		return ""
	}
	return p.DisplayName.Text
}

func hhmm(point *places.GoogleMapsPlacesV1PlaceOpeningHoursPeriodPoint) string {
	return fmt.Sprintf("%02d%02d", point.Hour, point.Minute)
}

// translate maps "no such place" answers to provider.ErrNotFound.
func translate(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == http.StatusNotFound || apiErr.Code == http.StatusBadRequest) {
		return fmt.Errorf("%w: %s", provider.ErrNotFound, apiErr.Message)
	}
	return fmt.Errorf("places api: %w", err)
}
