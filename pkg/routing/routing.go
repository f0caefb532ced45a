package routing

import (
	"context"
	"fmt"
)

// Source identifies where a route measurement came from.
const (
	SourceOSRM     = "osrm"
	SourceFallback = "fallback"
	SourceCache    = "cache"
)

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies inside the WGS84 envelope.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Pair is an (origin, destination) request.
type Pair struct {
	Origin      Point `json:"origin"`
	Destination Point `json:"destination"`
}

// Route is a measured or estimated connection between two points.
type Route struct {
	KM      float64 `json:"km"`
	Minutes float64 `json:"min"`
	Source  string  `json:"source"`
}

// Provider computes or retrieves routes between coordinate pairs.
type Provider interface {
	// Distance resolves a single origin/destination pair.
	Distance(ctx context.Context, origin, destination Point) (Route, error)

	// DistanceBatch resolves many pairs, preserving input order.
	DistanceBatch(ctx context.Context, pairs []Pair) ([]Route, error)
}

// cacheKey renders a pair into its canonical cache key. Coordinates are
// rounded to 6 decimal places, roughly 11 cm at the equator.
func cacheKey(origin, destination Point) string {
	return fmt.Sprintf("%.6f,%.6f|%.6f,%.6f", origin.Lat, origin.Lng, destination.Lat, destination.Lng)
}
