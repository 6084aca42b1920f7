// Package polyline encodes, decodes and compacts route geometry in Google's
// polyline format (precision 5), the format ORS returns and calendar events store.
package polyline

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned for input that ends in the middle of a value.
var ErrMalformed = errors.New("malformed polyline")

// Coordinate is a point in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Decode parses an encoded line. Empty input yields no coordinates.
func Decode(encoded string) ([]Coordinate, error) {
	var (
		coords   []Coordinate
		lat, lon int
		pos      int
	)
	for pos < len(encoded) {
		var dLat, dLon int
		var ok bool
		if dLat, pos, ok = readValue(encoded, pos); !ok {
			return nil, fmt.Errorf("%w: latitude at offset %d", ErrMalformed, pos)
		}
		if dLon, pos, ok = readValue(encoded, pos); !ok {
			return nil, fmt.Errorf("%w: longitude at offset %d", ErrMalformed, pos)
		}
		lat += dLat
		lon += dLon
		coords = append(coords, Coordinate{Lat: float64(lat) / 1e5, Lon: float64(lon) / 1e5})
	}
	return coords, nil
}

// readValue reads one zigzag-encoded delta starting at pos. It reports false if
// the input ends before the value's final chunk.
func readValue(encoded string, pos int) (int, int, bool) {
	var result, shift int
	for pos < len(encoded) {
		chunk := int(encoded[pos]) - 63
		pos++
		if chunk < 0 {
			return 0, pos, false
		}
		result |= (chunk & 0x1f) << shift
		shift += 5
		if chunk < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), pos, true
			}
			return result >> 1, pos, true
		}
	}
	return 0, pos, false
}

// Encode encodes a slice of coordinates into a polyline-encoded string.
// The polyline format uses precision of 5 decimal places (standard Google/ORS format).
func Encode(coords []Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	encoded := make([]byte, 0, len(coords)*4)
	prevLat := 0
	prevLon := 0

	for _, coord := range coords {
		lat := int(math.Round(coord.Lat * 1e5))
		lon := int(math.Round(coord.Lon * 1e5))

		encoded = encodeValue(encoded, lat-prevLat)
		encoded = encodeValue(encoded, lon-prevLon)

		prevLat = lat
		prevLon = lon
	}

	return string(encoded)
}

// encodeValue encodes a single integer value using the polyline algorithm.
func encodeValue(buf []byte, value int) []byte {
	// Invert if negative
	if value < 0 {
		value = ^(value << 1)
	} else {
		value <<= 1
	}

	// Encode in 5-bit chunks
	for value >= 0x20 {
		buf = append(buf, byte((value&0x1f)|0x20)+63)
		value >>= 5
	}
	buf = append(buf, byte(value)+63)

	return buf
}

// Sample returns coordinates spaced roughly intervalMeters apart along the line.
// The first and last points are always kept.
func Sample(coords []Coordinate, intervalMeters float64) []Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if intervalMeters <= 0 {
		return coords
	}

	sampled := []Coordinate{coords[0]}
	accumulated := 0.0

	for i := 1; i < len(coords); i++ {
		segmentDist := haversineDistance(coords[i-1], coords[i])

		// Check if we need to add sample points within this segment
		for accumulated+segmentDist >= intervalMeters {
			// Calculate how far along this segment we need to go
			remaining := intervalMeters - accumulated
			fraction := remaining / segmentDist

			// Interpolate the point
			newLat := coords[i-1].Lat + fraction*(coords[i].Lat-coords[i-1].Lat)
			newLon := coords[i-1].Lon + fraction*(coords[i].Lon-coords[i-1].Lon)
			sampled = append(sampled, Coordinate{Lat: newLat, Lon: newLon})

			// Update for next iteration
			segmentDist -= remaining
			accumulated = 0
		}

		accumulated += segmentDist
	}

	// Always include the last point if it's not already included
	last := coords[len(coords)-1]
	if len(sampled) == 0 || sampled[len(sampled)-1] != last {
		sampled = append(sampled, last)
	}

	return sampled
}

// Compact shrinks an encoded route so it can be stored on an event. The line is
// resampled every intervalMeters and then thinned evenly to at most maxPoints.
// Endpoints survive both steps. A non-positive maxPoints disables thinning.
// Input that does not decode is returned unchanged.
func Compact(encoded string, intervalMeters float64, maxPoints int) string {
	coords, err := Decode(encoded)
	if err != nil || len(coords) < 3 {
		return encoded
	}

	coords = Thin(Sample(coords, intervalMeters), maxPoints)
	return Encode(coords)
}

// Thin keeps at most maxPoints coordinates, picked at even index steps.
func Thin(coords []Coordinate, maxPoints int) []Coordinate {
	if maxPoints <= 0 || len(coords) <= maxPoints {
		return coords
	}
	if maxPoints < 2 {
		maxPoints = 2
	}

	out := make([]Coordinate, 0, maxPoints)
	step := float64(len(coords)-1) / float64(maxPoints-1)
	for i := 0; i < maxPoints; i++ {
		out = append(out, coords[int(math.Round(float64(i)*step))])
	}
	return out
}

const earthRadiusMeters = 6371000

// haversineDistance returns the great-circle distance between two coordinates in meters.
func haversineDistance(a, b Coordinate) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	sinDLat := math.Sin(dLat / 2)
	sinDLon := math.Sin(dLon / 2)

	h := sinDLat*sinDLat + math.Cos(lat1)*math.Cos(lat2)*sinDLon*sinDLon
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
