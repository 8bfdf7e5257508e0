// Package enrich fills gaps in Places from an external place provider.
// Calls are made one record at a time and paced by a Limiter.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/observability"
	"github.com/octobees/venue-pipeline/internal/provider"
	"github.com/octobees/venue-pipeline/internal/service/dedupe"
	"github.com/octobees/venue-pipeline/internal/service/normalize"
)

const (
	DefaultSearchRadiusMeters = 100

	ReasonMissingName        = "missing name"
	ReasonMissingCoordinates = "missing coordinates"
	ReasonNullIsland         = "null island coordinates"
	ReasonInvalidCoordinates = "invalid coordinates"
	ReasonCancelled          = "cancelled"

	mapsLinkLabel = "Google Maps"
)

// Limiter paces provider calls. *rate.Limiter satisfies it.
type Limiter interface {
	Wait(ctx context.Context) error
}

// Progress is reported once per eligible record attempted.
type Progress struct {
	Current int
	Total   int
	Name    string
}

// Options tune one Enrich run.
type Options struct {
	// Delay is the pause between the end of one provider attempt and the
	// start of the next; there is no pause after the last one. Ignored when
	// Limiter is set.
	Delay              time.Duration
	Limiter            Limiter
	OnProgress         func(Progress)
	SearchRadiusMeters float64
}

// Skip records why a Place was passed through without a provider call.
type Skip struct {
	Place  *entity.Place
	Reason string
}

// RecordError is a per-record provider failure. Err wraps
// provider.ErrNotFound when no match exists.
type RecordError struct {
	Place *entity.Place
	Err   error
}

func (e RecordError) Error() string {
	return fmt.Sprintf("%s: %v", e.Place.Name, e.Err)
}

// Result holds every input Place exactly once, in input order.
type Result struct {
	Places        []*entity.Place
	EnrichedCount int
	SkippedCount  int
	Skipped       []Skip
	Errors        []RecordError
}

// Enricher merges provider details into Places.
type Enricher struct {
	provider    provider.Provider
	logger      zerolog.Logger
	now         func() time.Time
	phoneRegion string
}

type Option func(*Enricher)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Enricher) { e.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(e *Enricher) {
		if now != nil {
			e.now = now
		}
	}
}

// WithPhoneRegion sets the region used to format national phone numbers.
func WithPhoneRegion(region string) Option {
	return func(e *Enricher) {
		if region != "" {
			e.phoneRegion = region
		}
	}
}

func New(p provider.Provider, opts ...Option) *Enricher {
	e := &Enricher{provider: p, logger: zerolog.Nop(), now: time.Now, phoneRegion: "CZ"}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SkipReason returns why p cannot be enriched, or "" when it is eligible.
func SkipReason(p *entity.Place) string {
	switch {
	case strings.TrimSpace(p.Name) == "":
		return ReasonMissingName
	case !p.HasGeopoint():
		return ReasonMissingCoordinates
	case !p.Location.Geopoint.InRange():
		return ReasonInvalidCoordinates
	case p.Location.Geopoint.IsNullIsland():
		return ReasonNullIsland
	}
	return ""
}

// Enrich looks up every eligible Place sequentially. Ineligible Places are
// passed through before any provider call is made. Failures are recorded
// per record and leave the Place untouched. When ctx is cancelled the
// remaining Places are passed through as skipped and ctx.Err() is returned.
func (e *Enricher) Enrich(ctx context.Context, places []*entity.Place, opts Options) (res Result, err error) {
	defer func() { res.Places = append([]*entity.Place(nil), places...) }()
	if opts.SearchRadiusMeters <= 0 {
		opts.SearchRadiusMeters = DefaultSearchRadiusMeters
	}
	limiter := opts.Limiter
	if limiter == nil {
		limiter = newLimiter(opts.Delay)
	}

	eligible := make([]*entity.Place, 0, len(places))
	for _, p := range places {
		if reason := SkipReason(p); reason != "" {
			res.skip(p, reason)
			continue
		}
		eligible = append(eligible, p)
	}

	for i, p := range eligible {
		if err := ctx.Err(); err != nil {
			res.cancelRest(eligible[i:])
			return res, err
		}
		if err := limiter.Wait(ctx); err != nil {
			res.cancelRest(eligible[i:])
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			return res, fmt.Errorf("rate limiter: %w", err)
		}
		if opts.OnProgress != nil {
			opts.OnProgress(Progress{Current: i + 1, Total: len(eligible), Name: p.Name})
		}

		err := e.enrichOne(ctx, p, opts.SearchRadiusMeters)
		if c, ok := limiter.(attemptCompleter); ok {
			c.Done()
		}
		if err != nil {
			outcome := "failed"
			if errors.Is(err, provider.ErrNotFound) {
				outcome = "not_found"
			}
			observability.ObserveEnrich(outcome)
			e.logger.Warn().Err(err).Str("name", p.Name).Str("outcome", outcome).Msg("enrichment failed")
			res.Errors = append(res.Errors, RecordError{Place: p, Err: err})
		} else {
			observability.ObserveEnrich("enriched")
			res.EnrichedCount++
		}
	}
	return res, nil
}

func (e *Enricher) enrichOne(ctx context.Context, p *entity.Place, radius float64) error {
	matches, err := e.provider.SearchNearby(ctx, p.Name, *p.Location.Geopoint, radius)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if len(matches) == 0 {
		return fmt.Errorf("search: %w", provider.ErrNotFound)
	}
	match := matches[0]
	if !dedupe.NamesSimilar(p.Name, match.Name) {
		e.logger.Warn().Str("name", p.Name).Str("match", match.Name).Str("place_id", match.PlaceID).
			Msg("first search result name differs from record")
	}

	details, err := e.provider.Details(ctx, match.PlaceID)
	if err != nil {
		return fmt.Errorf("details: %w", err)
	}
	if details == nil {
		return fmt.Errorf("details: %w", provider.ErrNotFound)
	}
	e.merge(p, details)
	return nil
}

// merge copies only the fields the provider returned.
func (e *Enricher) merge(p *entity.Place, d *provider.Details) {
	if addr := strings.TrimSpace(d.Address); addr != "" {
		p.Location.Address = addr
	}
	if phone := e.pickPhone(d); phone != "" {
		p.Phone = phone
	}
	if website := strings.TrimSpace(d.Website); website != "" {
		p.Website = website
	}
	if d.PriceLevel != nil {
		if price, ok := normalize.PriceFromLevel(*d.PriceLevel); ok {
			p.Price = price
		}
	}
	if len(d.Types) > 0 {
		p.Categories = normalize.MergeCategories(p.Categories, d.Types)
	}
	if hours := HoursFromPeriods(d.Periods); len(hours) > 0 {
		p.OpeningHours = hours
	}
	if d.MapsURL != "" && !hasLink(p.ExternalLinks, d.MapsURL) {
		p.ExternalLinks = append(p.ExternalLinks, entity.ExternalLink{
			Label:  mapsLinkLabel,
			URL:    d.MapsURL,
			Source: normalize.SourceGooglePlaces,
		})
	}
	p.ScrapedData = &entity.ScrapedData{
		Source:      normalize.SourceGooglePlaces,
		SourceID:    d.PlaceID,
		SourceURL:   d.MapsURL,
		Rating:      d.Rating,
		ReviewCount: d.UserRatingsTotal,
		ScrapedAt:   e.now().UTC(),
	}
}

// pickPhone prefers the international number, formatted when it parses.
func (e *Enricher) pickPhone(d *provider.Details) string {
	raw := strings.TrimSpace(d.InternationalPhone)
	if raw == "" {
		raw = strings.TrimSpace(d.Phone)
	}
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, e.phoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.INTERNATIONAL)
}

// HoursFromPeriods converts provider periods to one entry per weekday.
// Days without a period are marked closed once any period is present. A
// single period opening at 00:00 with no close means open around the clock.
func HoursFromPeriods(periods []provider.Period) []entity.OpeningHours {
	if len(periods) == 0 {
		return nil
	}
	if len(periods) == 1 && periods[0].Close == "" && clock(periods[0].Open) == "00:00" {
		return alwaysOpen()
	}
	var byDay [7]*entity.OpeningHours
	for _, period := range periods {
		if period.Day < 0 || period.Day > 6 {
			continue
		}
		opens, closes := clock(period.Open), clock(period.Close)
		if existing := byDay[period.Day]; existing != nil {
			if closes != "" {
				existing.CloseTime = closes
			}
			continue
		}
		byDay[period.Day] = &entity.OpeningHours{
			Day:       normalize.Weekdays[period.Day],
			OpenTime:  opens,
			CloseTime: closes,
		}
	}

	hours := make([]entity.OpeningHours, 0, 7)
	// monday first
	for i := 1; i <= 7; i++ {
		day := i % 7
		if byDay[day] != nil {
			hours = append(hours, *byDay[day])
			continue
		}
		hours = append(hours, entity.OpeningHours{Day: normalize.Weekdays[day], Closed: true})
	}
	return hours
}

func alwaysOpen() []entity.OpeningHours {
	hours := make([]entity.OpeningHours, 0, 7)
	for i := 1; i <= 7; i++ {
		hours = append(hours, entity.OpeningHours{Day: normalize.Weekdays[i%7], OpenTime: "00:00", CloseTime: "24:00"})
	}
	return hours
}

func clock(hhmm string) string {
	if hhmm == "" {
		return ""
	}
	return normalize.NormalizeTime(hhmm)
}

func hasLink(links []entity.ExternalLink, url string) bool {
	for _, l := range links {
		if l.URL == url {
			return true
		}
	}
	return false
}

// attemptCompleter is implemented by limiters that measure the pause from
// the end of an attempt.
type attemptCompleter interface {
	Done()
}

// attemptPacer restarts its bucket when an attempt finishes, so the next
// Wait blocks for the full delay regardless of how long the call took.
type attemptPacer struct {
	delay time.Duration
	lim   *rate.Limiter
}

func (p *attemptPacer) Wait(ctx context.Context) error {
	return p.lim.Wait(ctx)
}

func (p *attemptPacer) Done() {
	p.lim = rate.NewLimiter(rate.Every(p.delay), 1)
	p.lim.Allow()
}

func newLimiter(delay time.Duration) Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return &attemptPacer{delay: delay, lim: rate.NewLimiter(rate.Every(delay), 1)}
}
