package entity

import (
	"encoding/json"
	"time"
)

// DocumentType is the document-store type tag carried by every Place.
const DocumentType = "place"

// Domain identifies a site vertical a Place is displayed on.
type Domain string

const (
	DomainBeer   Domain = "beer"
	DomainCoffee Domain = "coffee"
	DomainVino   Domain = "vino"
	DomainGuide  Domain = "guide"
)

// Domains lists every supported site vertical.
var Domains = []Domain{DomainBeer, DomainCoffee, DomainVino, DomainGuide}

// Valid reports whether d is one of the supported verticals.
func (d Domain) Valid() bool {
	switch d {
	case DomainBeer, DomainCoffee, DomainVino, DomainGuide:
		return true
	}
	return false
}

// Price is the four-tier price classification.
type Price string

const (
	PriceLow      Price = "low"
	PriceAverage  Price = "average"
	PriceHigh     Price = "high"
	PriceVeryHigh Price = "very-high"
)

// Valid reports whether p is a known price tier. The empty tier is not valid.
func (p Price) Valid() bool {
	switch p {
	case PriceLow, PriceAverage, PriceHigh, PriceVeryHigh:
		return true
	}
	return false
}

// Slug wraps the URL-safe identifier the way the document store expects it.
type Slug struct {
	Current string `json:"current"`
}

// Category is a canonical category pair.
type Category struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Location holds the optional map placement and postal address.
type Location struct {
	Geopoint *GeoPoint `json:"geopoint,omitempty"`
	Address  string    `json:"address,omitempty"`
}

// OpeningHours describes a single day of the week.
type OpeningHours struct {
	Day       string `json:"day"`
	OpenTime  string `json:"openTime,omitempty"`
	CloseTime string `json:"closeTime,omitempty"`
	Closed    bool   `json:"closed,omitempty"`
}

// GalleryImage references a remote picture of the venue.
type GalleryImage struct {
	URL string `json:"url"`
	Alt string `json:"alt,omitempty"`
}

// ExternalLink points to a third-party page about the venue.
type ExternalLink struct {
	Label  string `json:"label"`
	URL    string `json:"url"`
	Source string `json:"source,omitempty"`
}

// ScrapedData records where a Place came from. It never affects validity.
type ScrapedData struct {
	Source      string    `json:"source"`
	SourceID    string    `json:"sourceId,omitempty"`
	SourceURL   string    `json:"sourceUrl,omitempty"`
	Rating      *float64  `json:"rating,omitempty"`
	ReviewCount *int      `json:"reviewCount,omitempty"`
	ScrapedAt   time.Time `json:"scrapedAt"`
}

// Place is the canonical venue record flowing through every pipeline stage.
type Place struct {
	ID            string          `json:"_id,omitempty"`
	Type          string          `json:"_type"`
	Name          string          `json:"name"`
	Slug          Slug            `json:"slug"`
	Domains       []Domain        `json:"domains"`
	Categories    []Category      `json:"categories,omitempty"`
	Location      Location        `json:"location"`
	Price         Price           `json:"price,omitempty"`
	Phone         string          `json:"phone,omitempty"`
	Website       string          `json:"website,omitempty"`
	OpeningHours  []OpeningHours  `json:"openingHours,omitempty"`
	Gallery       []GalleryImage  `json:"gallery,omitempty"`
	ExternalLinks []ExternalLink  `json:"externalLinks,omitempty"`
	ScrapedData   *ScrapedData    `json:"scrapedData,omitempty"`
	RawData       json.RawMessage `json:"rawData,omitempty"`
}

// HasGeopoint reports whether the Place can take part in geospatial matching.
func (p *Place) HasGeopoint() bool {
	return p != nil && p.Location.Geopoint != nil
}

// FirstDomain returns the primary vertical, or "" when none is set.
func (p *Place) FirstDomain() Domain {
	if p == nil || len(p.Domains) == 0 {
		return ""
	}
	return p.Domains[0]
}

// HasDomain reports whether the Place is displayed on d.
func (p *Place) HasDomain(d Domain) bool {
	for _, existing := range p.Domains {
		if existing == d {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (p *Place) Clone() *Place {
	if p == nil {
		return nil
	}
	out := *p
	out.Domains = append([]Domain(nil), p.Domains...)
	out.Categories = append([]Category(nil), p.Categories...)
	out.OpeningHours = append([]OpeningHours(nil), p.OpeningHours...)
	out.Gallery = append([]GalleryImage(nil), p.Gallery...)
	out.ExternalLinks = append([]ExternalLink(nil), p.ExternalLinks...)
	if p.Location.Geopoint != nil {
		gp := *p.Location.Geopoint
		out.Location.Geopoint = &gp
	}
	if p.ScrapedData != nil {
		sd := *p.ScrapedData
		out.ScrapedData = &sd
	}
	if p.RawData != nil {
		out.RawData = append(json.RawMessage(nil), p.RawData...)
	}
	return &out
}
