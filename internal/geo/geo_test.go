package geo

import (
	"math"
	"testing"
)

func TestDistanceKnownPoints(t *testing.T) {
	// NYC city hall to Times Square, roughly 5.2 km.
	a := Point{Lat: 40.7128, Lon: -74.0060}
	b := Point{Lat: 40.7580, Lon: -73.9855}

	d := Distance(a, b)
	if d < 4500 || d > 5800 {
		t.Fatalf("expected ~5.2km, got %.0fm", d)
	}
}

func TestDistanceZero(t *testing.T) {
	p := Point{Lat: 51.5074, Lon: -0.1278}
	if d := Distance(p, p); d != 0 {
		t.Errorf("distance to self should be 0, got %g", d)
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := Point{Lat: 6.5244, Lon: 3.3792}
	b := Point{Lat: 9.0765, Lon: 7.3986}
	if d1, d2 := Distance(a, b), Distance(b, a); math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %g vs %g", d1, d2)
	}
}

func TestFilterByRadiusOrdering(t *testing.T) {
	center := Point{Lat: 40.7128, Lon: -74.0060}
	points := []Point{
		{Lat: 40.7580, Lon: -73.9855}, // ~5km
		{Lat: 40.7130, Lon: -74.0062}, // ~30m
		{Lat: 41.8781, Lon: -87.6298}, // Chicago, far outside
		{Lat: 40.7200, Lon: -74.0000}, // ~1km
	}

	matches := FilterByRadius(center, 10000, points)
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d", len(matches))
	}
	want := []int{1, 3, 0}
	for i, m := range matches {
		if m.Index != want[i] {
			t.Errorf("match %d: expected index %d, got %d", i, want[i], m.Index)
		}
	}
	for i := 1; i < len(matches); i++ {
		if matches[i].DistanceMeters < matches[i-1].DistanceMeters {
			t.Errorf("matches not ordered by distance")
		}
	}
}

func TestFilterByRadiusZeroMatchesOnlyCenter(t *testing.T) {
	center := Point{Lat: 40.7128, Lon: -74.0060}
	points := []Point{
		{Lat: 40.7128, Lon: -74.0060},           // exact
		{Lat: 40.7128000000001, Lon: -74.0060},  // float noise
		{Lat: 40.7129, Lon: -74.0060},           // ~11m away
	}

	matches := FilterByRadius(center, 0, points)
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches (exact + tolerance), got %d", len(matches))
	}
	for _, m := range matches {
		if m.Index == 2 {
			t.Errorf("point 11m away matched a zero radius")
		}
	}
}

func TestFilterByRadiusEmpty(t *testing.T) {
	matches := FilterByRadius(Point{}, 100, nil)
	if len(matches) != 0 {
		t.Fatalf("expected no matches, got %d", len(matches))
	}
}

func TestBoundingBoxContainsCircle(t *testing.T) {
	center := Point{Lat: 40.7128, Lon: -74.0060}
	radius := 2000.0
	minLat, maxLat, minLon, maxLon := BoundingBox(center, radius)

	// Points at the cardinal edges of the circle must land inside the box.
	edges := []Point{
		{Lat: center.Lat + radius/earthRadiusMeters*180/math.Pi, Lon: center.Lon},
		{Lat: center.Lat - radius/earthRadiusMeters*180/math.Pi, Lon: center.Lon},
	}
	for _, e := range edges {
		if e.Lat < minLat || e.Lat > maxLat || e.Lon < minLon || e.Lon > maxLon {
			t.Errorf("edge point %+v outside box [%g %g %g %g]", e, minLat, maxLat, minLon, maxLon)
		}
	}
}

func TestBoundingBoxAcrossAntimeridian(t *testing.T) {
	// 100m circle around (0, 179.9999) reaches across the date line; the
	// point on the far side is ~22m away and must survive the prefilter.
	center := Point{Lat: 0, Lon: 179.9999}
	farSide := Point{Lat: 0, Lon: -179.9999}

	if d := Distance(center, farSide); d > 100 {
		t.Fatalf("expected ~22m across the date line, got %.1fm", d)
	}

	_, _, minLon, maxLon := BoundingBox(center, 100)
	if farSide.Lon < minLon || farSide.Lon > maxLon {
		t.Errorf("point inside the radius falls outside box [%g %g]", minLon, maxLon)
	}

	// Same from the western side.
	_, _, minLon, maxLon = BoundingBox(Point{Lat: 0, Lon: -179.9999}, 100)
	if 179.9999 < minLon || 179.9999 > maxLon {
		t.Errorf("eastern point outside western box [%g %g]", minLon, maxLon)
	}
}

func TestBoundingBoxNearPole(t *testing.T) {
	_, _, minLon, maxLon := BoundingBox(Point{Lat: 89.9999, Lon: 0}, 50000)
	if minLon != -180 || maxLon != 180 {
		t.Errorf("expected full longitude span near pole, got [%g %g]", minLon, maxLon)
	}
}

func TestValidCoordinates(t *testing.T) {
	cases := []struct {
		lat, lon float64
		want     bool
	}{
		{40.7, -74.0, true},
		{90, 180, true},
		{-90, -180, true},
		{91, 0, false},
		{0, 181, false},
		{-90.01, 0, false},
	}
	for _, c := range cases {
		if got := ValidCoordinates(c.lat, c.lon); got != c.want {
			t.Errorf("ValidCoordinates(%g, %g) = %v, want %v", c.lat, c.lon, got, c.want)
		}
	}
}
