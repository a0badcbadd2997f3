package encounters

import "math"

const earthRadiusM = 6371000.0

// dist2d returns the great-circle surface distance in metres between
// two lon/lat points, rounded up to the nearest metre. Implemented in
// Go rather than pushed into SQL so it is unit-testable in isolation.
func dist2d(lon1, lat1, lon2, lat2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return math.Ceil(earthRadiusM * c)
}

// dist3d combines the horizontal distance with the altitude delta:
// ceil(√(dist2d² + (alt1-alt2)²)).
func dist3d(lon1, lat1, alt1, lon2, lat2, alt2 float64) float64 {
	d2 := dist2d(lon1, lat1, lon2, lat2)
	dAlt := alt1 - alt2
	return math.Ceil(math.Sqrt(d2*d2 + dAlt*dAlt))
}

// degreesForRadiusNM converts a radius in nautical miles to the
// equivalent degrees envelope used to bound the plane-point select:
// R·1.852/111.111.
func degreesForRadiusNM(radiusNM float64) float64 {
	return radiusNM * 1.852 / 111.111
}
