package normalize

import (
	"errors"
	"testing"
	"time"

	"github.com/octobees/venue-pipeline/internal/entity"
)

func ptr[T any](v T) *T { return &v }

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeScrapedRecord(t *testing.T) {
	n := New(WithClock(func() time.Time { return fixedNow }))
	raw := entity.NewScrapedRecord(entity.ScrapedRecord{
		Source:     "untappd",
		SourceID:   "42",
		Name:       "  Pivovar U Fleků ",
		Address:    "Křemencova 11, Praha",
		Lat:        ptr(50.0789),
		Lng:        ptr(14.4164),
		Phone:      "+420 224 934 019",
		Categories: []string{"brewery", "pub", "unknown_token"},
		Price:      "$$",
		Rating:     ptr(4.4),
		OpeningHours: []entity.RawHours{
			{Day: "Mon", Open: "1000", Close: "2300"},
			{Day: "monday", Open: "0800", Close: "1200"},
			{Day: "sun", Closed: true},
		},
		Images: []string{"https://img.example.com/1.jpg", " "},
	})

	place, err := n.Normalize(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if place.Type != entity.DocumentType || place.Name != "Pivovar U Fleků" {
		t.Fatalf("unexpected identity: %+v", place)
	}
	if place.Slug.Current != "pivovar-u-fleku" {
		t.Fatalf("unexpected slug %q", place.Slug.Current)
	}
	if len(place.Domains) != 1 || place.Domains[0] != entity.DomainBeer {
		t.Fatalf("expected beer domain, got %v", place.Domains)
	}
	if len(place.Categories) != 2 {
		t.Fatalf("expected 2 categories, got %+v", place.Categories)
	}
	if place.Price != entity.PriceAverage {
		t.Fatalf("unexpected price %q", place.Price)
	}
	if len(place.OpeningHours) != 2 || place.OpeningHours[0].OpenTime != "10:00" || !place.OpeningHours[1].Closed {
		t.Fatalf("unexpected opening hours %+v", place.OpeningHours)
	}
	if len(place.Gallery) != 1 {
		t.Fatalf("expected blank image to be dropped, got %+v", place.Gallery)
	}
	if place.ScrapedData == nil || place.ScrapedData.Source != "untappd" || !place.ScrapedData.ScrapedAt.Equal(fixedNow) {
		t.Fatalf("unexpected provenance %+v", place.ScrapedData)
	}
	if place.RawData != nil {
		t.Fatalf("raw data must not be kept by default")
	}
}

func TestNormalizeOptions(t *testing.T) {
	n := New(
		WithDomains(entity.DomainCoffee, entity.Domain("tea")),
		WithDefaultCategory(entity.Category{Value: "cafe", Label: "Café"}),
		WithRawData(true),
		WithSlugFunc(func(name string) string { return "custom " + name }),
	)
	place, err := n.Normalize(entity.NewTakeoutRecord(entity.TakeoutFeature{Title: "Místo", MapsURL: "https://maps.google.com/?cid=1"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(place.Domains) != 1 || place.Domains[0] != entity.DomainCoffee {
		t.Fatalf("expected domain override, got %v", place.Domains)
	}
	if len(place.Categories) != 1 || place.Categories[0].Value != "cafe" {
		t.Fatalf("expected default category, got %+v", place.Categories)
	}
	if place.Slug.Current != "custom-misto" {
		t.Fatalf("unexpected slug %q", place.Slug.Current)
	}
	if len(place.RawData) == 0 {
		t.Fatalf("expected raw data to be kept")
	}
	if place.Location.Geopoint != nil {
		t.Fatalf("expected no geopoint without coordinates")
	}
	if len(place.ExternalLinks) != 1 || place.ExternalLinks[0].Source != SourceTakeout {
		t.Fatalf("unexpected links %+v", place.ExternalLinks)
	}
}

func TestNormalizeProviderRecord(t *testing.T) {
	n := New()
	place, err := n.Normalize(entity.NewProviderRecord(entity.ProviderRecord{
		PlaceID:    "abc",
		Name:       "Café Louvre",
		Lat:        ptr(50.082),
		Lng:        ptr(14.418),
		Types:      []string{"cafe", "restaurant", "establishment"},
		PriceLevel: ptr(4),
		MapsURL:    "https://maps.google.com/?cid=2",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if place.Price != entity.PriceVeryHigh {
		t.Fatalf("unexpected price %q", place.Price)
	}
	if place.FirstDomain() != entity.DomainCoffee {
		t.Fatalf("unexpected domains %v", place.Domains)
	}
	if place.ScrapedData.SourceID != "abc" || place.ScrapedData.Source != SourceGooglePlaces {
		t.Fatalf("unexpected provenance %+v", place.ScrapedData)
	}
}

func TestNormalizeRejectsMismatchedRecords(t *testing.T) {
	n := New()
	if _, err := n.Normalize(entity.RawRecord{Kind: entity.RawKindScrape}); !errors.Is(err, entity.ErrUnknownRawKind) {
		t.Fatalf("expected ErrUnknownRawKind, got %v", err)
	}
	if _, err := n.Normalize(entity.RawRecord{Kind: "rss"}); !errors.Is(err, entity.ErrUnknownRawKind) {
		t.Fatalf("expected ErrUnknownRawKind, got %v", err)
	}
}

func TestNormalizeAllCollectsFailures(t *testing.T) {
	n := New()
	places, err := n.NormalizeAll([]entity.RawRecord{
		entity.NewScrapedRecord(entity.ScrapedRecord{Name: "One"}),
		{Kind: "bogus"},
		entity.NewTakeoutRecord(entity.TakeoutFeature{Title: "Two"}),
	})
	if len(places) != 2 {
		t.Fatalf("expected 2 places, got %d", len(places))
	}
	if err == nil || !errors.Is(err, entity.ErrUnknownRawKind) {
		t.Fatalf("expected joined error, got %v", err)
	}
	for _, p := range places {
		if len(p.Domains) == 0 {
			t.Fatalf("domains must never be empty: %+v", p)
		}
	}
}
