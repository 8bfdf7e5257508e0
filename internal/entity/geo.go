package entity

import "math"

// GeoPoint is a WGS 84 latitude/longitude pair.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// InRange reports whether both axes fall inside their valid ranges.
func (g GeoPoint) InRange() bool {
	return LatitudeInRange(g.Lat) && LongitudeInRange(g.Lng)
}

// IsNullIsland reports whether the point is the (0,0) placeholder.
func (g GeoPoint) IsNullIsland() bool {
	return g.Lat == 0 && g.Lng == 0
}

// LatitudeInRange reports whether lat is within [-90, 90].
func LatitudeInRange(lat float64) bool {
	return !math.IsNaN(lat) && lat >= -90 && lat <= 90
}

// LongitudeInRange reports whether lng is within [-180, 180].
func LongitudeInRange(lng float64) bool {
	return !math.IsNaN(lng) && lng >= -180 && lng <= 180
}

// BoundingBox is an axis-aligned latitude/longitude rectangle.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`
}

// BoxAround returns the box extending delta degrees from center on both axes.
func BoxAround(center GeoPoint, delta float64) BoundingBox {
	return BoundingBox{
		MinLat: center.Lat - delta,
		MinLng: center.Lng - delta,
		MaxLat: center.Lat + delta,
		MaxLng: center.Lng + delta,
	}
}

// Contains reports whether p lies inside the box, edges included.
func (b BoundingBox) Contains(p GeoPoint) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}
