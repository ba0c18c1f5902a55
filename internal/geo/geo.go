// Package geo implements great-circle distance math for radius queries over
// unprojected lat/lon degrees.
package geo

import (
	"math"
	"sort"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000.0

// equalityToleranceMeters absorbs floating-point noise when radius is zero.
const equalityToleranceMeters = 0.5

// Point is an unprojected WGS84 coordinate.
type Point struct {
	Lat float64
	Lon float64
}

// Distance returns the great-circle distance between two points in meters,
// using the haversine formula. Planar math is wrong at this scale since
// inputs are degrees, not projected coordinates.
func Distance(a, b Point) float64 {
	latA := a.Lat * math.Pi / 180
	latB := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(latA)*math.Cos(latB)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Match is a located item annotated with its distance from a query center.
type Match struct {
	Index          int
	DistanceMeters float64
}

// FilterByRadius returns the indexes of points within radiusMeters of center,
// annotated with distance and ordered ascending by distance. A zero radius
// matches only points whose coordinates equal the center within
// floating-point tolerance.
func FilterByRadius(center Point, radiusMeters float64, points []Point) []Match {
	limit := radiusMeters
	if limit == 0 {
		limit = equalityToleranceMeters
	}

	var matches []Match
	for i, p := range points {
		d := Distance(center, p)
		if d <= limit {
			matches = append(matches, Match{Index: i, DistanceMeters: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].DistanceMeters < matches[j].DistanceMeters
	})
	return matches
}

// BoundingBox returns a lat/lon box guaranteed to contain the radius circle,
// used as a cheap SQL prefilter before the exact geodesic check. Longitude
// spread widens toward the poles; when the circle reaches a pole or crosses
// the antimeridian the box covers all longitudes, since a single BETWEEN
// range cannot express the wrap.
func BoundingBox(center Point, radiusMeters float64) (minLat, maxLat, minLon, maxLon float64) {
	dLat := radiusMeters / earthRadiusMeters * 180 / math.Pi
	minLat = center.Lat - dLat
	maxLat = center.Lat + dLat

	cosLat := math.Cos(center.Lat * math.Pi / 180)
	if cosLat < 1e-6 {
		return minLat, maxLat, -180, 180
	}
	dLon := dLat / cosLat
	minLon = center.Lon - dLon
	maxLon = center.Lon + dLon
	if minLon < -180 || maxLon > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLon, maxLon
}

// ValidCoordinates reports whether lat/lon are in range.
func ValidCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
