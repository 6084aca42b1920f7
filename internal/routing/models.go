// Package routing computes route geometry between an event's location and destination.
package routing

import (
	"context"
	"errors"
	"strconv"
	"time"
)

var (
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	ErrNoRouteFound        = errors.New("no route found between the given points")
	ErrRateLimitExceeded   = errors.New("routing rate limit exceeded")
	ErrInvalidCoordinates  = errors.New("invalid coordinates")
	ErrUnsupportedProfile  = errors.New("unsupported route profile")
)

// Provider fetches directions from one upstream.
type Provider interface {
	GetDirections(ctx context.Context, req DirectionsRequest) (*DirectionsResponse, error)
	Name() string
	SupportedProfiles() []RouteProfile
}

// RouteProfile is an OpenRouteService profile name.
type RouteProfile string

const (
	ProfileWalk  RouteProfile = "foot-walking"
	ProfileBike  RouteProfile = "cycling-regular"
	ProfileDrive RouteProfile = "driving-car"
)

// ProfileForMode maps an event's route mode hint to a profile.
// Empty and unknown modes route on foot.
func ProfileForMode(mode string) RouteProfile {
	switch mode {
	case "bike":
		return ProfileBike
	case "drive":
		return ProfileDrive
	}
	return ProfileWalk
}

// Coordinate is a WGS84 point in degrees.
type Coordinate struct {
	Lat float64
	Lon float64
}

// Valid reports whether c lies within latitude and longitude bounds.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// String formats c as "lat,lon" rounded to five decimals, about a metre.
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', 5, 64) + "," + strconv.FormatFloat(c.Lon, 'f', 5, 64)
}

type DirectionsRequest struct {
	Origin      Coordinate
	Destination Coordinate
	Profile     RouteProfile
}

type DirectionsResponse struct {
	Route     Route
	Provider  string
	FetchedAt time.Time
}

// Route is the geometry and totals of one route. The geometry is an encoded
// polyline at precision 5.
type Route struct {
	GeometryPolyline string
	DistanceMeters   int
	DurationSeconds  int
}

// Error is a provider failure. Code is stable and safe to log; Err is one of
// the sentinel errors above.
type Error struct {
	Provider string
	Code     string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Provider + ": " + e.Message
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsRetryable reports whether a later attempt may succeed.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}

// CacheStats counts cached routes. Stale entries are past their TTL but may
// still be served while the provider fails.
type CacheStats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
	Provider     string
}
