package geo

import "math"

// EarthRadiusMiles is Earth's mean radius in miles for Haversine calculation.
const EarthRadiusMiles = 3958.7613

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// HaversineMiles calculates the great-circle distance between two points
// on Earth in miles using the Haversine formula.
func HaversineMiles(lat1, lng1, lat2, lng2 float64) float64 {
	const degToRad = math.Pi / 180
	dLat := (lat2 - lat1) * degToRad
	dLng := (lng2 - lng1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMiles * c
}

// Distance returns the great-circle distance between p and q in miles.
func Distance(p, q Point) float64 {
	return HaversineMiles(p.Lat, p.Lng, q.Lat, q.Lng)
}

// Centroid returns the arithmetic mean of the points. At city scale the
// error against a spherical centroid is negligible. An empty input yields
// the zero Point.
func Centroid(points []Point) Point {
	if len(points) == 0 {
		return Point{}
	}
	var c Point
	for _, p := range points {
		c.Lat += p.Lat
		c.Lng += p.Lng
	}
	n := float64(len(points))
	return Point{Lat: c.Lat / n, Lng: c.Lng / n}
}

// PathMiles returns the length of the polyline through points in order.
func PathMiles(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += Distance(points[i-1], points[i])
	}
	return total
}
