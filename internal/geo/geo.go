package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/ImmersiveDrive/simclient/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// GEO POINTS
// GNSS fixes arrive as EPSG:4326 and are always stored as EPSG:3857 so SQLite,
// which has no spatial awareness, can still hold comparable WKB geometry.

// ErrInvalidCoordinates is returned when the coordinates are invalid
var ErrInvalidCoordinates = errors.New("invalid coordinates provided")

var to3857 = wgs84.EPSG().Transform(4326, 3857)

// ParseFix parses "long,lat" or "long,lat,alt" into a fix with no tick. It is
// used for the synthetic map origin.
func ParseFix(coords string) (core.GnssFix, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.GnssFix{}, ErrInvalidCoordinates
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return core.GnssFix{}, ErrInvalidCoordinates
		}
		vals[i] = v
	}
	fix := core.GnssFix{Longitude: vals[0], Latitude: vals[1], Altitude: vals[2]}
	if !Valid(fix.Longitude, fix.Latitude) {
		return core.GnssFix{}, ErrInvalidCoordinates
	}
	return fix, nil
}

// Valid reports whether a longitude and latitude can be projected.
func Valid(longitude, latitude float64) bool {
	return !math.IsNaN(longitude) && !math.IsNaN(latitude) &&
		longitude >= -180 && longitude <= 180 &&
		latitude > -85.06 && latitude < 85.06
}

// Project converts a longitude and latitude to EPSG:3857 metres.
func Project(longitude, latitude float64) (x, y float64, err error) {
	if !Valid(longitude, latitude) {
		return 0, 0, ErrInvalidCoordinates
	}
	x, y, _ = to3857(longitude, latitude, 0)
	return x, y, nil
}

// FixPoint projects a fix to a 3D point, altitude kept as Z.
func FixPoint(f core.GnssFix) (geom.Point, error) {
	x, y, err := Project(f.Longitude, f.Latitude)
	if err != nil {
		return geom.NewEmptyPoint(geom.DimXYZ), err
	}
	return geom.NewPoint(
		geom.Coordinates{
			XY:   geom.XY{X: x, Y: y},
			Z:    f.Altitude,
			Type: geom.DimXYZ,
		},
	), nil
}
