// Package validation checks canonical Places and serialized record streams,
// separating fatal errors from advisory warnings.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/net/idna"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/service/normalize"
)

const (
	// MaxNameLength is the practical name limit; longer names only warn.
	MaxNameLength      = 200
	defaultPhoneRegion = "CZ"
)

var (
	slugPattern  = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	phonePattern = regexp.MustCompile(`^[0-9+()\-./\s]+$`)
	idnaProfile  = idna.Lookup
)

// Issue is a single finding against one field.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return i.Field + ": " + i.Message
}

// Result is the outcome of validating one Place.
type Result struct {
	Valid    bool    `json:"valid"`
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (r *Result) fail(field, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) warn(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Validator applies the canonical schema rules.
type Validator struct {
	PhoneRegion string
}

// NewValidator builds a validator; region is the default phone region used
// for numbers without a country prefix.
func NewValidator(region string) *Validator {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = defaultPhoneRegion
	}
	return &Validator{PhoneRegion: region}
}

// ValidatePlace runs every check and reports the complete set of findings.
func (v *Validator) ValidatePlace(p *entity.Place) Result {
	var res Result
	if p == nil {
		res.fail("place", "record is empty")
		return res
	}

	v.checkRequired(p, &res)
	v.checkSlug(p, &res)
	v.checkDomains(p, &res)
	v.checkCategories(p, &res)
	v.checkLocation(p, &res)
	v.checkOptional(p, &res)
	v.checkOpeningHours(p, &res)

	res.Valid = len(res.Errors) == 0
	return res
}

func (v *Validator) checkRequired(p *entity.Place, res *Result) {
	switch {
	case p.Type == "":
		res.fail("_type", "is required")
	case p.Type != entity.DocumentType:
		res.fail("_type", "must be %q, got %q", entity.DocumentType, p.Type)
	}
	if strings.TrimSpace(p.Name) == "" {
		res.fail("name", "is required")
	}
	if len(p.Domains) == 0 {
		res.fail("domains", "at least one domain is required")
	}
}

func (v *Validator) checkSlug(p *entity.Place, res *Result) {
	slug := p.Slug.Current
	if slug == "" {
		res.fail("slug", "is required")
		return
	}
	if len(slug) > normalize.MaxSlugLength {
		res.fail("slug", "must be at most %d characters, got %d", normalize.MaxSlugLength, len(slug))
	}
	if !slugPattern.MatchString(slug) {
		res.fail("slug", "%q must contain only lowercase letters, digits and single hyphens", slug)
	}
}

func (v *Validator) checkDomains(p *entity.Place, res *Result) {
	for _, d := range p.Domains {
		if !d.Valid() {
			res.fail("domains", "unknown domain %q", d)
		}
	}
}

func (v *Validator) checkCategories(p *entity.Place, res *Result) {
	for _, c := range p.Categories {
		if !normalize.IsKnownCategory(c.Value) {
			res.warn("categories", "unknown category %q", c.Value)
		}
	}
}

func (v *Validator) checkLocation(p *entity.Place, res *Result) {
	gp := p.Location.Geopoint
	if gp == nil {
		res.warn("location.geopoint", "missing; place will not appear on maps")
		return
	}
	if !entity.LatitudeInRange(gp.Lat) {
		res.fail("location.geopoint.lat", "%v is outside [-90, 90]", gp.Lat)
	}
	if !entity.LongitudeInRange(gp.Lng) {
		res.fail("location.geopoint.lng", "%v is outside [-180, 180]", gp.Lng)
	}
	if gp.IsNullIsland() {
		res.warn("location.geopoint", "coordinates (0,0) look like a null island placeholder")
	}
}

func (v *Validator) checkOptional(p *entity.Place, res *Result) {
	if n := utf8.RuneCountInString(p.Name); n > MaxNameLength {
		res.warn("name", "is %d characters long, more than %d", n, MaxNameLength)
	}
	if p.Price != "" && !p.Price.Valid() {
		res.warn("price", "unrecognised price tier %q", p.Price)
	}
	if p.Website != "" {
		if err := checkWebsite(p.Website); err != nil {
			res.warn("website", "%q: %v", p.Website, err)
		}
	}
	if p.Phone != "" {
		if msg := v.checkPhone(p.Phone); msg != "" {
			res.warn("phone", "%q: %s", p.Phone, msg)
		}
	}
}

func (v *Validator) checkOpeningHours(p *entity.Place, res *Result) {
	seen := make(map[string]struct{}, len(p.OpeningHours))
	for _, h := range p.OpeningHours {
		day := strings.ToLower(strings.TrimSpace(h.Day))
		if day == "" {
			res.fail("openingHours", "entry without a day")
			continue
		}
		if _, dup := seen[day]; dup {
			res.fail("openingHours", "day %q listed more than once", day)
			continue
		}
		seen[day] = struct{}{}
	}
}

func (v *Validator) checkPhone(raw string) string {
	if !phonePattern.MatchString(raw) {
		return "contains unusual characters"
	}
	number, err := phonenumbers.Parse(raw, v.PhoneRegion)
	if err != nil || !phonenumbers.IsPossibleNumber(number) {
		return "does not look like a dialable number"
	}
	return ""
}

func checkWebsite(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return errors.New("not a URL")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	host := u.Hostname()
	if host == "" || !strings.Contains(host, ".") {
		return errors.New("missing host")
	}
	if _, err := idnaProfile.ToASCII(host); err != nil {
		return fmt.Errorf("invalid host: %w", err)
	}
	return nil
}

// RecordResult ties a Result to its position in a batch.
type RecordResult struct {
	Index  int    `json:"index"`
	Name   string `json:"name"`
	Result Result `json:"result"`
}

// BatchSummary aggregates the results of ValidatePlaces.
type BatchSummary struct {
	Total        int            `json:"total"`
	Valid        int            `json:"valid"`
	Invalid      int            `json:"invalid"`
	WithWarnings int            `json:"with_warnings"`
	Results      []RecordResult `json:"results"`
}

// ValidatePlaces validates every Place independently.
func (v *Validator) ValidatePlaces(places []*entity.Place) BatchSummary {
	summary := BatchSummary{Total: len(places), Results: make([]RecordResult, 0, len(places))}
	for i, p := range places {
		res := v.ValidatePlace(p)
		name := ""
		if p != nil {
			name = p.Name
		}
		if res.Valid {
			summary.Valid++
		} else {
			summary.Invalid++
		}
		if len(res.Warnings) > 0 {
			summary.WithWarnings++
		}
		summary.Results = append(summary.Results, RecordResult{Index: i, Name: name, Result: res})
	}
	return summary
}

// ValidOnly returns the Places that passed validation, in input order.
func (s BatchSummary) ValidOnly(places []*entity.Place) []*entity.Place {
	out := make([]*entity.Place, 0, s.Valid)
	for _, r := range s.Results {
		if r.Result.Valid && r.Index < len(places) {
			out = append(out, places[r.Index])
		}
	}
	return out
}
