// Package geofence checks whether a coordinate lies inside the venue circle.
//
// The fence is a circle: a center from the admin config and a radius in
// meters. The browser's reported position is trusted as is. A patron who
// spoofs GPS gets past this check but still needs the staff code on the
// wall, which is the real proof of presence.
package geofence

import (
	"math"

	"github.com/sakif/fortune-club/internal/model"
)

const earthRadiusMeters = 6371000

// Distance returns the great-circle distance in meters between two points
// using the haversine formula.
//
// HAVERSINE:
// Treats the earth as a sphere of radius 6,371 km. Over a venue-sized radius
// the error against the true ellipsoid is well under a meter, far below GPS
// noise indoors.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	φ1 := lat1 * math.Pi / 180
	φ2 := lat2 * math.Pi / 180
	dφ := (lat2 - lat1) * math.Pi / 180
	dλ := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dφ/2)*math.Sin(dφ/2) +
		math.Cos(φ1)*math.Cos(φ2)*math.Sin(dλ/2)*math.Sin(dλ/2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// Within reports whether (lat, lng) is inside g. A disabled fence admits
// everything.
func Within(g model.Geofence, lat, lng float64) bool {
	if !g.Enabled {
		return true
	}
	return Distance(g.Lat, g.Lng, lat, lng) <= g.RadiusMeters
}
