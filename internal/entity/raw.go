package entity

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// RawKind tags the source format of a RawRecord.
type RawKind string

const (
	RawKindProvider RawKind = "provider-search"
	RawKindTakeout  RawKind = "takeout-feature"
	RawKindScrape   RawKind = "generic-scrape"
)

// ErrUnknownRawKind is returned for records whose tag or payload is not recognised.
var ErrUnknownRawKind = errors.New("unknown raw record kind")

// RawRecord is a tagged union over the supported source formats. Exactly one
// payload matching Kind is set; use the New*Record constructors.
type RawRecord struct {
	Kind     RawKind         `json:"kind"`
	Provider *ProviderRecord `json:"provider,omitempty"`
	Takeout  *TakeoutFeature `json:"takeout,omitempty"`
	Scrape   *ScrapedRecord  `json:"scrape,omitempty"`
}

// ProviderRecord is a place-information provider search or details hit.
type ProviderRecord struct {
	PlaceID          string   `json:"place_id"`
	Name             string   `json:"name"`
	Address          string   `json:"address,omitempty"`
	Lat              *float64 `json:"lat,omitempty"`
	Lng              *float64 `json:"lng,omitempty"`
	Types            []string `json:"types,omitempty"`
	PriceLevel       *int     `json:"price_level,omitempty"`
	Rating           *float64 `json:"rating,omitempty"`
	UserRatingsTotal *int     `json:"user_ratings_total,omitempty"`
	Phone            string   `json:"phone,omitempty"`
	Website          string   `json:"website,omitempty"`
	MapsURL          string   `json:"maps_url,omitempty"`
}

// TakeoutFeature is one saved place from a geospatial export.
type TakeoutFeature struct {
	Title   string          `json:"title"`
	Address string          `json:"address,omitempty"`
	Lat     *float64        `json:"lat,omitempty"`
	Lng     *float64        `json:"lng,omitempty"`
	MapsURL string          `json:"maps_url,omitempty"`
	Comment string          `json:"comment,omitempty"`
	SavedAt *time.Time      `json:"saved_at,omitempty"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// RawHours is an opening-hours row as scraped.
type RawHours struct {
	Day    string `json:"day"`
	Open   string `json:"open,omitempty"`
	Close  string `json:"close,omitempty"`
	Closed bool   `json:"closed,omitempty"`
}

// ScrapedRecord is the generic shape produced by page scrapers.
type ScrapedRecord struct {
	Source       string          `json:"source"`
	SourceID     string          `json:"source_id,omitempty"`
	SourceURL    string          `json:"source_url,omitempty"`
	Name         string          `json:"name"`
	Slug         string          `json:"slug,omitempty"`
	Address      string          `json:"address,omitempty"`
	Lat          *float64        `json:"lat,omitempty"`
	Lng          *float64        `json:"lng,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	Website      string          `json:"website,omitempty"`
	Categories   []string        `json:"categories,omitempty"`
	Price        string          `json:"price,omitempty"`
	Rating       *float64        `json:"rating,omitempty"`
	ReviewCount  *int            `json:"review_count,omitempty"`
	OpeningHours []RawHours      `json:"opening_hours,omitempty"`
	Images       []string        `json:"images,omitempty"`
	ScrapedAt    *time.Time      `json:"scraped_at,omitempty"`
	Raw          json.RawMessage `json:"raw,omitempty"`
}

// NewProviderRecord tags a provider hit.
func NewProviderRecord(r ProviderRecord) RawRecord {
	return RawRecord{Kind: RawKindProvider, Provider: &r}
}

// NewTakeoutRecord tags a takeout feature.
func NewTakeoutRecord(f TakeoutFeature) RawRecord {
	return RawRecord{Kind: RawKindTakeout, Takeout: &f}
}

// NewScrapedRecord tags a generic scrape.
func NewScrapedRecord(s ScrapedRecord) RawRecord {
	return RawRecord{Kind: RawKindScrape, Scrape: &s}
}

// Check verifies that the payload matching Kind is present.
func (r RawRecord) Check() error {
	var ok bool
	switch r.Kind {
	case RawKindProvider:
		ok = r.Provider != nil
	case RawKindTakeout:
		ok = r.Takeout != nil
	case RawKindScrape:
		ok = r.Scrape != nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRawKind, r.Kind)
	}
	if !ok {
		return fmt.Errorf("%w: %q record has no payload", ErrUnknownRawKind, r.Kind)
	}
	return nil
}

// UnmarshalJSON rejects records that do not carry a recognised tag and payload.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	type alias RawRecord
	var decoded alias
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	rec := RawRecord(decoded)
	if err := rec.Check(); err != nil {
		return err
	}
	*r = rec
	return nil
}

// Coordinates returns the geopoint carried by the payload, if any.
func (r RawRecord) Coordinates() *GeoPoint {
	var lat, lng *float64
	switch r.Kind {
	case RawKindProvider:
		if r.Provider != nil {
			lat, lng = r.Provider.Lat, r.Provider.Lng
		}
	case RawKindTakeout:
		if r.Takeout != nil {
			lat, lng = r.Takeout.Lat, r.Takeout.Lng
		}
	case RawKindScrape:
		if r.Scrape != nil {
			lat, lng = r.Scrape.Lat, r.Scrape.Lng
		}
	}
	if lat == nil || lng == nil {
		return nil
	}
	return &GeoPoint{Lat: *lat, Lng: *lng}
}
