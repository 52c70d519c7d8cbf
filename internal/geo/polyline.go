package geo

import (
	"fmt"
	"math"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
)

// Route builds the projected 2D path through fixes, skipping invalid fixes and
// consecutive duplicates.
func Route(fixes []core.GnssFix) (geom.LineString, error) {
	flat := make([]float64, 0, len(fixes)*2)
	for _, f := range fixes {
		x, y, err := Project(f.Longitude, f.Latitude)
		if err != nil {
			continue
		}
		if n := len(flat); n >= 2 && flat[n-2] == x && flat[n-1] == y {
			continue
		}
		flat = append(flat, x, y)
	}
	if len(flat) < 4 {
		return geom.LineString{}, fmt.Errorf("route needs at least 2 distinct points, got %d", len(flat)/2)
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY)), nil
}

// RouteLength returns the ground length of a projected route in metres.
// Mercator stretches distances by 1/cos(latitude); meanLatitude undoes it.
func RouteLength(route geom.LineString, meanLatitude float64) float64 {
	return route.Length() * math.Cos(meanLatitude*math.Pi/180)
}

// MeanLatitude averages the latitude of fixes, 0 for none.
func MeanLatitude(fixes []core.GnssFix) float64 {
	if len(fixes) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fixes {
		sum += f.Latitude
	}
	return sum / float64(len(fixes))
}

// ParseRoute parses a WKT LINESTRING as written by the memory export.
func ParseRoute(wkt string) (geom.Geometry, error) {
	g, err := geom.UnmarshalWKT(wkt)
	if err != nil {
		return geom.Geometry{}, fmt.Errorf("failed to parse route WKT: %w", err)
	}
	if g.Type() != geom.TypeLineString {
		return geom.Geometry{}, fmt.Errorf("route WKT is a %s, not a LineString", g.Type())
	}
	return g, nil
}
