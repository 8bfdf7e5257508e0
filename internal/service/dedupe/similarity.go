package dedupe

import (
	"math"
	"strings"

	"github.com/octobees/venue-pipeline/internal/entity"
	"github.com/octobees/venue-pipeline/internal/service/normalize"
)

const (
	// EarthRadiusMeters is the mean Earth radius used by HaversineMeters.
	EarthRadiusMeters = 6371000.0

	fuzzyNameLimit  = 20
	maxEditDistance = 3
)

// HaversineMeters returns the great-circle distance between a and b.
func HaversineMeters(a, b entity.GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// NamesSimilar reports whether two venue names likely refer to the same place.
// Names are folded first; equal or contained names match, and short names
// also match within a small edit distance.
func NamesSimilar(a, b string) bool {
	na, nb := normalize.FoldName(a), normalize.FoldName(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb || strings.Contains(na, nb) || strings.Contains(nb, na) {
		return true
	}

	ra, rb := []rune(na), []rune(nb)
	if len(ra) >= fuzzyNameLimit || len(rb) >= fuzzyNameLimit {
		return false
	}
	allowed := min(len(ra), len(rb)) / 3
	if allowed > maxEditDistance {
		allowed = maxEditDistance
	}
	return Levenshtein(na, nb) <= allowed
}

// Levenshtein returns the rune-level edit distance between a and b.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}
