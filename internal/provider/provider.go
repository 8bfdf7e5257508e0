// Package provider describes the external place-information service used to
// enrich Places.
package provider

import (
	"context"
	"errors"

	"github.com/octobees/venue-pipeline/internal/entity"
)

// ErrNotFound is returned when the provider has no usable answer.
var ErrNotFound = errors.New("place not found")

// SearchResult is one hit of a proximity+keyword search.
type SearchResult struct {
	PlaceID  string          `json:"placeId"`
	Name     string          `json:"name"`
	Location entity.GeoPoint `json:"location"`
}

// Period is one opening period. Day follows the provider's convention where
// 0 is Sunday; Open and Close are 24-hour "HHMM" strings.
type Period struct {
	Day   int    `json:"day"`
	Open  string `json:"open"`
	Close string `json:"close,omitempty"`
}

// Details is the subset of provider place details the pipeline reads.
type Details struct {
	PlaceID            string   `json:"placeId"`
	Name               string   `json:"name"`
	Address            string   `json:"address,omitempty"`
	Phone              string   `json:"phone,omitempty"`
	InternationalPhone string   `json:"internationalPhone,omitempty"`
	Website            string   `json:"website,omitempty"`
	MapsURL            string   `json:"mapsUrl,omitempty"`
	PriceLevel         *int     `json:"priceLevel,omitempty"`
	Rating             *float64 `json:"rating,omitempty"`
	UserRatingsTotal   *int     `json:"userRatingsTotal,omitempty"`
	Types              []string `json:"types,omitempty"`
	Periods            []Period `json:"periods,omitempty"`
}

// Provider looks places up near a point and fetches their details.
// Implementations return ErrNotFound instead of empty results.
type Provider interface {
	SearchNearby(ctx context.Context, query string, near entity.GeoPoint, radiusMeters float64) ([]SearchResult, error)
	Details(ctx context.Context, placeID string) (*Details, error)
}
