// Package geo provides great-circle distance helpers.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for distance calculations.
const EarthRadiusMeters = 6371000.0

const degToRad = math.Pi / 180

// Distance returns the great-circle distance in meters between two points
// given in decimal degrees, using the Haversine formula.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	a := 0.5 - math.Cos((lat2-lat1)*degToRad)/2 +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*(1-math.Cos((lon2-lon1)*degToRad))/2

	// rounding can push a a hair outside [0, 1] for coincident or antipodal points
	a = math.Max(0, math.Min(1, a))

	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(a))
}

// Within reports whether the point lies inside or on the circle described by
// center and radius (meters).
func Within(lat, lon, centerLat, centerLon, radius float64) bool {
	return Distance(lat, lon, centerLat, centerLon) <= radius
}
