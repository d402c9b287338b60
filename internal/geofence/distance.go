package geofence

import (
	"math"

	"attendance.agent/internal/core/model"
)

const earthRadiusMeters = 6371000.0

// Distance returns the great-circle distance in meters between a and b.
func Distance(a, b model.Coordinates) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Contains reports whether c lies inside region r.
func Contains(r model.GeofenceRegion, c model.Coordinates) bool {
	return Distance(model.Coordinates{Latitude: r.Latitude, Longitude: r.Longitude}, c) <= r.Radius
}
