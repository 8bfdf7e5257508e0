// Package normalize maps heterogeneous raw venue records to the canonical
// Place shape. It performs no I/O.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/octobees/venue-pipeline/internal/entity"
)

const (
	SourceGooglePlaces = "google-places"
	SourceTakeout      = "takeout"
	SourceScrape       = "scrape"

	mapsLinkLabel = "Google Maps"
)

// Normalizer converts raw records using a fixed configuration.
type Normalizer struct {
	domains         []entity.Domain
	defaultCategory *entity.Category
	keepRawData     bool
	slugify         func(string) string
	now             func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithDomains forces every Place onto the given verticals instead of
// inferring them from categories. Invalid domains are ignored.
func WithDomains(domains ...entity.Domain) Option {
	return func(n *Normalizer) {
		n.domains = n.domains[:0]
		for _, d := range domains {
			if d.Valid() {
				n.domains = append(n.domains, d)
			}
		}
	}
}

// WithDefaultCategory assigns c to Places that end up with no category.
func WithDefaultCategory(c entity.Category) Option {
	return func(n *Normalizer) {
		n.defaultCategory = &c
	}
}

// WithRawData keeps the source payload on the Place as rawData.
func WithRawData(keep bool) Option {
	return func(n *Normalizer) {
		n.keepRawData = keep
	}
}

// WithSlugFunc overrides how slugs are derived from names. The result is
// passed through Slugify so it always stays URL-safe.
func WithSlugFunc(fn func(string) string) Option {
	return func(n *Normalizer) {
		if fn != nil {
			n.slugify = fn
		}
	}
}

// WithClock overrides the time source used when a record has no timestamp.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		if now != nil {
			n.now = now
		}
	}
}

// New builds a Normalizer.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{
		slugify: Slugify,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize maps a single raw record. It only fails when the record's tag
// and payload do not agree.
func (n *Normalizer) Normalize(raw entity.RawRecord) (*entity.Place, error) {
	if err := raw.Check(); err != nil {
		return nil, err
	}

	var (
		place *entity.Place
		slug  string
		tags  []string
	)
	switch raw.Kind {
	case entity.RawKindProvider:
		place, tags = n.fromProvider(raw.Provider)
	case entity.RawKindTakeout:
		place = n.fromTakeout(raw.Takeout)
	case entity.RawKindScrape:
		place, tags = n.fromScrape(raw.Scrape)
		slug = raw.Scrape.Slug
	}

	place.Type = entity.DocumentType
	place.Name = strings.TrimSpace(place.Name)
	if slug != "" {
		place.Slug.Current = Slugify(slug)
	} else {
		place.Slug.Current = Slugify(n.slugify(place.Name))
	}

	place.Categories = MapCategories(tags)
	if len(place.Categories) == 0 && n.defaultCategory != nil {
		place.Categories = []entity.Category{*n.defaultCategory}
	}
	if len(n.domains) > 0 {
		place.Domains = append([]entity.Domain(nil), n.domains...)
	} else {
		place.Domains = InferDomains(place.Categories)
	}

	if n.keepRawData {
		payload, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("encode raw data: %w", err)
		}
		place.RawData = payload
	}
	return place, nil
}

// NormalizeAll maps every record, skipping the ones that fail. The returned
// error joins the per-record failures with their input index.
func (n *Normalizer) NormalizeAll(raws []entity.RawRecord) ([]*entity.Place, error) {
	places := make([]*entity.Place, 0, len(raws))
	var errs []error
	for i, raw := range raws {
		place, err := n.Normalize(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("record %d: %w", i, err))
			continue
		}
		places = append(places, place)
	}
	return places, errors.Join(errs...)
}

func (n *Normalizer) fromProvider(r *entity.ProviderRecord) (*entity.Place, []string) {
	place := &entity.Place{
		Name:     r.Name,
		Location: entity.Location{Geopoint: point(r.Lat, r.Lng), Address: strings.TrimSpace(r.Address)},
		Phone:    strings.TrimSpace(r.Phone),
		Website:  strings.TrimSpace(r.Website),
		ScrapedData: &entity.ScrapedData{
			Source:      SourceGooglePlaces,
			SourceID:    r.PlaceID,
			SourceURL:   r.MapsURL,
			Rating:      r.Rating,
			ReviewCount: r.UserRatingsTotal,
			ScrapedAt:   n.now().UTC(),
		},
	}
	if r.PriceLevel != nil {
		if p, ok := PriceFromLevel(*r.PriceLevel); ok {
			place.Price = p
		}
	}
	if r.MapsURL != "" {
		place.ExternalLinks = []entity.ExternalLink{{Label: mapsLinkLabel, URL: r.MapsURL, Source: SourceGooglePlaces}}
	}
	return place, r.Types
}

func (n *Normalizer) fromTakeout(f *entity.TakeoutFeature) *entity.Place {
	scrapedAt := n.now().UTC()
	if f.SavedAt != nil {
		scrapedAt = f.SavedAt.UTC()
	}
	place := &entity.Place{
		Name:     f.Title,
		Location: entity.Location{Geopoint: point(f.Lat, f.Lng), Address: strings.TrimSpace(f.Address)},
		ScrapedData: &entity.ScrapedData{
			Source:    SourceTakeout,
			SourceURL: f.MapsURL,
			ScrapedAt: scrapedAt,
		},
	}
	if f.MapsURL != "" {
		place.ExternalLinks = []entity.ExternalLink{{Label: mapsLinkLabel, URL: f.MapsURL, Source: SourceTakeout}}
	}
	return place
}

func (n *Normalizer) fromScrape(s *entity.ScrapedRecord) (*entity.Place, []string) {
	scrapedAt := n.now().UTC()
	if s.ScrapedAt != nil {
		scrapedAt = s.ScrapedAt.UTC()
	}
	source := strings.TrimSpace(s.Source)
	if source == "" {
		source = SourceScrape
	}
	place := &entity.Place{
		Name:         s.Name,
		Location:     entity.Location{Geopoint: point(s.Lat, s.Lng), Address: strings.TrimSpace(s.Address)},
		Price:        ParsePrice(s.Price),
		Phone:        strings.TrimSpace(s.Phone),
		Website:      strings.TrimSpace(s.Website),
		OpeningHours: NormalizeHours(s.OpeningHours),
		ScrapedData: &entity.ScrapedData{
			Source:      source,
			SourceID:    s.SourceID,
			SourceURL:   s.SourceURL,
			Rating:      s.Rating,
			ReviewCount: s.ReviewCount,
			ScrapedAt:   scrapedAt,
		},
	}
	for _, img := range s.Images {
		if img = strings.TrimSpace(img); img != "" {
			place.Gallery = append(place.Gallery, entity.GalleryImage{URL: img, Alt: strings.TrimSpace(s.Name)})
		}
	}
	return place, s.Categories
}

// NormalizeHours maps scraped rows to one entry per day; the first row for a
// day wins.
func NormalizeHours(rows []entity.RawHours) []entity.OpeningHours {
	if len(rows) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(rows))
	out := make([]entity.OpeningHours, 0, len(rows))
	for _, row := range rows {
		day := NormalizeDay(row.Day)
		if day == "" {
			continue
		}
		if _, dup := seen[day]; dup {
			continue
		}
		seen[day] = struct{}{}
		entry := entity.OpeningHours{Day: day, Closed: row.Closed}
		if !row.Closed {
			entry.OpenTime = NormalizeTime(row.Open)
			entry.CloseTime = NormalizeTime(row.Close)
		}
		out = append(out, entry)
	}
	return out
}

// NormalizeTime turns "930", "0930" and "9:30" into "09:30". Anything else
// is returned trimmed.
func NormalizeTime(raw string) string {
	raw = strings.TrimSpace(raw)
	digits := strings.ReplaceAll(raw, ":", "")
	if len(digits) < 3 || len(digits) > 4 || strings.Trim(digits, "0123456789") != "" {
		return raw
	}
	if len(digits) == 3 {
		digits = "0" + digits
	}
	return digits[:2] + ":" + digits[2:]
}

func point(lat, lng *float64) *entity.GeoPoint {
	if lat == nil || lng == nil {
		return nil
	}
	return &entity.GeoPoint{Lat: *lat, Lng: *lng}
}
