// Package dedupe finds near-duplicate Places by proximity and fuzzy name
// matching, either within a batch or against the document store.
package dedupe

import (
	"context"
	"fmt"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/repository"
)

const (
	// DefaultThresholdMeters is the distance under which same-named Places
	// are considered duplicates.
	DefaultThresholdMeters = 50.0

	metersPerDegree = 111000.0
)

// Duplicate pairs a rejected Place with the accepted one it matched.
type Duplicate struct {
	Place          *entity.Place `json:"place"`
	MatchedAgainst *entity.Place `json:"matched_against"`
	DistanceMeters float64       `json:"distance_meters"`
}

// Result splits a batch into unique Places and duplicates.
type Result struct {
	Unique     []*entity.Place `json:"unique"`
	Duplicates []Duplicate     `json:"duplicates"`
}

// locatable reports whether p carries coordinates worth comparing. The (0,0)
// placeholder and out-of-range points are never trusted.
func locatable(p *entity.Place) bool {
	if !p.HasGeopoint() {
		return false
	}
	gp := *p.Location.Geopoint
	return gp.InRange() && !gp.IsNullIsland()
}

// WithinBatch keeps the first of every group of near-duplicates. Places
// without a usable geopoint are always unique. A non-positive threshold falls back
// to DefaultThresholdMeters.
func WithinBatch(places []*entity.Place, thresholdMeters float64) Result {
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultThresholdMeters
	}
	res := Result{
		Unique:     make([]*entity.Place, 0, len(places)),
		Duplicates: make([]Duplicate, 0),
	}

	var seen []*entity.Place
	for _, p := range places {
		if p == nil {
			continue
		}
		if !locatable(p) {
			res.Unique = append(res.Unique, p)
			continue
		}

		var (
			match    *entity.Place
			bestDist float64
		)
		for _, s := range seen {
			d := HaversineMeters(*p.Location.Geopoint, *s.Location.Geopoint)
			if d > thresholdMeters || !NamesSimilar(p.Name, s.Name) {
				continue
			}
			if match == nil || d < bestDist {
				match, bestDist = s, d
			}
		}
		if match != nil {
			res.Duplicates = append(res.Duplicates, Duplicate{Place: p, MatchedAgainst: match, DistanceMeters: bestDist})
			continue
		}
		seen = append(seen, p)
		res.Unique = append(res.Unique, p)
	}
	return res
}

// Lookup finds stored Places inside a bounding box.
type Lookup interface {
	FindWithinBox(ctx context.Context, box entity.BoundingBox) ([]repository.GeoCandidate, error)
}

// StoreDuplicate pairs a Place with the stored document it matched.
type StoreDuplicate struct {
	Place          *entity.Place           `json:"place"`
	MatchedAgainst repository.GeoCandidate `json:"matched_against"`
	DistanceMeters float64                 `json:"distance_meters"`
}

// Unchecked is a Place whose store lookup failed.
type Unchecked struct {
	Place *entity.Place `json:"place"`
	Error string        `json:"error"`
}

// StoreResult splits a batch against what is already stored.
type StoreResult struct {
	Unique     []*entity.Place  `json:"unique"`
	Duplicates []StoreDuplicate `json:"duplicates"`
	Unchecked  []Unchecked      `json:"unchecked,omitempty"`
}

// SearchDelta is the bounding-box half-width in degrees for a threshold.
func SearchDelta(thresholdMeters float64) float64 {
	return thresholdMeters / metersPerDegree * 2
}

// AgainstStore applies the WithinBatch rule against stored documents. The
// store query is narrowed to a bounding box and refined by exact distance.
// A failed lookup leaves the Place in Unchecked; only context cancellation
// aborts the run.
func AgainstStore(ctx context.Context, lookup Lookup, places []*entity.Place, thresholdMeters float64) (StoreResult, error) {
	if thresholdMeters <= 0 {
		thresholdMeters = DefaultThresholdMeters
	}
	res := StoreResult{
		Unique:     make([]*entity.Place, 0, len(places)),
		Duplicates: make([]StoreDuplicate, 0),
	}
	delta := SearchDelta(thresholdMeters)

	for _, p := range places {
		if p == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !locatable(p) {
			res.Unique = append(res.Unique, p)
			continue
		}

		candidates, err := lookup.FindWithinBox(ctx, entity.BoxAround(*p.Location.Geopoint, delta))
		if err != nil {
			res.Unchecked = append(res.Unchecked, Unchecked{Place: p, Error: fmt.Sprintf("store lookup: %v", err)})
			continue
		}

		var (
			match    *repository.GeoCandidate
			bestDist float64
		)
		for i := range candidates {
			c := &candidates[i]
			if c.ID != "" && c.ID == p.ID {
				continue
			}
			d := HaversineMeters(*p.Location.Geopoint, c.Geopoint)
			if d > thresholdMeters || !NamesSimilar(p.Name, c.Name) {
				continue
			}
			if match == nil || d < bestDist {
				match, bestDist = c, d
			}
		}
		if match != nil {
			res.Duplicates = append(res.Duplicates, StoreDuplicate{Place: p, MatchedAgainst: *match, DistanceMeters: bestDist})
			continue
		}
		res.Unique = append(res.Unique, p)
	}
	return res, nil
}
