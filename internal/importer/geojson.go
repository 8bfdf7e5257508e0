// Package importer turns geospatial exports into raw venue records.
package importer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/octobees/venue-pipeline/internal/entity"
)

// ErrNotFeatureCollection is returned when the top-level document is not a
// GeoJSON FeatureCollection.
var ErrNotFeatureCollection = errors.New("input is not a GeoJSON FeatureCollection")

// Options controls which features are accepted.
type Options struct {
	// RequireCoordinates skips features without usable coordinates. [0,0]
	// counts as missing.
	RequireCoordinates bool
}

// Result lists the imported records and why others were skipped.
type Result struct {
	Records         []entity.RawRecord `json:"records"`
	Total           int                `json:"total"`
	SkippedNoTitle  int                `json:"skipped_no_title"`
	SkippedNoCoords int                `json:"skipped_no_coordinates"`
}

// Skipped is the number of features that did not produce a record.
func (r Result) Skipped() int {
	return r.SkippedNoTitle + r.SkippedNoCoords
}

type featureCollection struct {
	Type     string    `json:"type"`
	Features []feature `json:"features"`
}

type feature struct {
	Type       string         `json:"type"`
	Geometry   *geometry      `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type geometry struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

// ImportFeatureCollection reads a takeout-style FeatureCollection. Features
// without a title are skipped and counted; only a document that is not a
// FeatureCollection at all is an error.
func ImportFeatureCollection(r io.Reader, opts Options) (Result, error) {
	var fc featureCollection
	if err := json.NewDecoder(r).Decode(&fc); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrNotFeatureCollection, err)
	}
	if fc.Type != "FeatureCollection" {
		return Result{}, fmt.Errorf("%w: type %q", ErrNotFeatureCollection, fc.Type)
	}

	res := Result{Total: len(fc.Features), Records: make([]entity.RawRecord, 0, len(fc.Features))}
	for _, f := range fc.Features {
		props := f.Properties
		title := firstString(props, "title", "Title", "name", "Name", "location.name", "Location.Business Name")
		if title == "" {
			res.SkippedNoTitle++
			continue
		}

		lat, lng := coordinates(f.Geometry)
		if opts.RequireCoordinates && lat == nil {
			res.SkippedNoCoords++
			continue
		}

		tf := entity.TakeoutFeature{
			Title:   title,
			Address: firstString(props, "address", "Address", "location.address", "Location.Address"),
			Lat:     lat,
			Lng:     lng,
			MapsURL: firstString(props, "google_maps_url", "Google Maps URL", "url"),
			Comment: firstString(props, "Comment", "comment", "note"),
			SavedAt: savedAt(firstString(props, "date", "Published", "Updated")),
		}
		if extra, err := json.Marshal(props); err == nil {
			tf.Extra = extra
		}
		res.Records = append(res.Records, entity.NewTakeoutRecord(tf))
	}
	return res, nil
}

func coordinates(g *geometry) (*float64, *float64) {
	if g == nil || len(g.Coordinates) < 2 {
		return nil, nil
	}
	lng, lat := g.Coordinates[0], g.Coordinates[1]
	if (entity.GeoPoint{Lat: lat, Lng: lng}).IsNullIsland() {
		return nil, nil
	}
	return &lat, &lng
}

// firstString returns the first non-empty string among keys; a dotted key
// descends into nested objects.
func firstString(props map[string]any, keys ...string) string {
	for _, key := range keys {
		if v := lookup(props, strings.Split(key, ".")); v != "" {
			return v
		}
	}
	return ""
}

func lookup(props map[string]any, path []string) string {
	var cur any = props
	for _, part := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = m[part]
	}
	s, _ := cur.(string)
	return strings.TrimSpace(s)
}

func savedAt(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05Z", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t
		}
	}
	return nil
}
