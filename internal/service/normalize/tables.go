package normalize

import (
	"strconv"
	"strings"

	"github.com/octobees/venue-pipeline/internal/entity"
)

// categoryTable maps source vocabulary tokens (scraper labels and provider
// place types) to canonical categories.
var categoryTable = map[string]entity.Category{
	"brewery":            {Value: "brewery", Label: "Brewery"},
	"microbrewery":       {Value: "brewery", Label: "Brewery"},
	"brewpub":            {Value: "brewery", Label: "Brewery"},
	"pub":                {Value: "pub", Label: "Pub"},
	"bar":                {Value: "bar", Label: "Bar"},
	"beer_bar":           {Value: "beer-bar", Label: "Beer bar"},
	"beer_garden":        {Value: "beer-bar", Label: "Beer bar"},
	"taproom":            {Value: "beer-bar", Label: "Beer bar"},
	"bottle_shop":        {Value: "bottle-shop", Label: "Bottle shop"},
	"liquor_store":       {Value: "bottle-shop", Label: "Bottle shop"},
	"cafe":               {Value: "cafe", Label: "Café"},
	"coffee_shop":        {Value: "cafe", Label: "Café"},
	"coffee":             {Value: "cafe", Label: "Café"},
	"espresso_bar":       {Value: "cafe", Label: "Café"},
	"roastery":           {Value: "roastery", Label: "Roastery"},
	"coffee_roastery":    {Value: "roastery", Label: "Roastery"},
	"bakery":             {Value: "bakery", Label: "Bakery"},
	"wine_bar":           {Value: "wine-bar", Label: "Wine bar"},
	"winery":             {Value: "winery", Label: "Winery"},
	"vineyard":           {Value: "winery", Label: "Winery"},
	"wine_shop":          {Value: "wine-shop", Label: "Wine shop"},
	"restaurant":         {Value: "restaurant", Label: "Restaurant"},
	"bistro":             {Value: "restaurant", Label: "Restaurant"},
	"meal_takeaway":      {Value: "restaurant", Label: "Restaurant"},
	"tourist_attraction": {Value: "attraction", Label: "Attraction"},
	"museum":             {Value: "attraction", Label: "Attraction"},
}

// categoryDomains assigns a vertical to canonical category values.
var categoryDomains = map[string]entity.Domain{
	"brewery":     entity.DomainBeer,
	"pub":         entity.DomainBeer,
	"beer-bar":    entity.DomainBeer,
	"bottle-shop": entity.DomainBeer,
	"cafe":        entity.DomainCoffee,
	"roastery":    entity.DomainCoffee,
	"wine-bar":    entity.DomainVino,
	"winery":      entity.DomainVino,
	"wine-shop":   entity.DomainVino,
}

var priceLevels = map[int]entity.Price{
	0: entity.PriceLow,
	1: entity.PriceLow,
	2: entity.PriceAverage,
	3: entity.PriceHigh,
	4: entity.PriceVeryHigh,
}

var priceSymbols = map[string]entity.Price{
	"$":    entity.PriceLow,
	"$$":   entity.PriceAverage,
	"$$$":  entity.PriceHigh,
	"$$$$": entity.PriceVeryHigh,
}

var dayNames = map[string]string{
	"mon": "monday", "tue": "tuesday", "tues": "tuesday", "wed": "wednesday",
	"thu": "thursday", "thur": "thursday", "thurs": "thursday", "fri": "friday",
	"sat": "saturday", "sun": "sunday",
	"monday": "monday", "tuesday": "tuesday", "wednesday": "wednesday", "thursday": "thursday",
	"friday": "friday", "saturday": "saturday", "sunday": "sunday",
}

// Weekdays is indexed the way provider periods number days (0 = Sunday).
var Weekdays = [7]string{"sunday", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday"}

func categoryKey(token string) string {
	key := strings.ToLower(strings.TrimSpace(token))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(key)
}

// LookupCategory maps one source token to its canonical category.
func LookupCategory(token string) (entity.Category, bool) {
	c, ok := categoryTable[categoryKey(token)]
	return c, ok
}

// IsKnownCategory reports whether value is a canonical category value.
func IsKnownCategory(value string) bool {
	for _, c := range categoryTable {
		if c.Value == value {
			return true
		}
	}
	return false
}

// MapCategories maps tokens to canonical categories, dropping unmapped
// tokens and duplicates by value while keeping first-seen order.
func MapCategories(tokens []string) []entity.Category {
	return MergeCategories(nil, tokens)
}

// MergeCategories appends the mapped tokens to existing, deduplicated by value.
func MergeCategories(existing []entity.Category, tokens []string) []entity.Category {
	seen := make(map[string]struct{}, len(existing)+len(tokens))
	out := make([]entity.Category, 0, len(existing)+len(tokens))
	for _, c := range existing {
		if _, dup := seen[c.Value]; dup {
			continue
		}
		seen[c.Value] = struct{}{}
		out = append(out, c)
	}
	for _, token := range tokens {
		c, ok := LookupCategory(token)
		if !ok {
			continue
		}
		if _, dup := seen[c.Value]; dup {
			continue
		}
		seen[c.Value] = struct{}{}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// InferDomains derives verticals from categories, falling back to guide.
func InferDomains(categories []entity.Category) []entity.Domain {
	var domains []entity.Domain
	seen := make(map[entity.Domain]struct{})
	for _, c := range categories {
		d, ok := categoryDomains[c.Value]
		if !ok {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		domains = append(domains, d)
	}
	if len(domains) == 0 {
		return []entity.Domain{entity.DomainGuide}
	}
	return domains
}

// PriceFromLevel maps a numeric 0-4 level.
func PriceFromLevel(level int) (entity.Price, bool) {
	p, ok := priceLevels[level]
	return p, ok
}

// PriceFromSymbol maps a "$".."$$$$" tier.
func PriceFromSymbol(symbol string) (entity.Price, bool) {
	p, ok := priceSymbols[strings.TrimSpace(symbol)]
	return p, ok
}

// ParsePrice accepts a symbolic tier, a numeric level or an already
// canonical tier. Unrecognised input yields "".
func ParsePrice(raw string) entity.Price {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if p, ok := PriceFromSymbol(raw); ok {
		return p
	}
	if level, err := strconv.Atoi(raw); err == nil {
		if p, ok := PriceFromLevel(level); ok {
			return p
		}
		return ""
	}
	if p := entity.Price(strings.ToLower(raw)); p.Valid() {
		return p
	}
	return ""
}

// NormalizeDay expands abbreviations case-insensitively. Unknown input is
// returned lowercased.
func NormalizeDay(day string) string {
	key := strings.ToLower(strings.TrimSpace(day))
	if full, ok := dayNames[strings.TrimSuffix(key, ".")]; ok {
		return full
	}
	return key
}
