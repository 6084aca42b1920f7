// Package calendar provides the shared calendar document model and the three-way
// merge used to reconcile concurrent saves.
package calendar

import (
	"errors"
	"time"
)

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// Minute bounds of a single day.
const (
	MinutesPerDay = 1440
)

// ViewMode is the display layout of a calendar.
type ViewMode string

const (
	ViewModeDay   ViewMode = "day"
	ViewModeWeek  ViewMode = "week"
	ViewModeMulti ViewMode = "multi"
)

// Route mode display hints.
const (
	RouteModeWalk  = "walk"
	RouteModeBike  = "bike"
	RouteModeDrive = "drive"
)

// ErrInvalidDate indicates a date that is not a real YYYY-MM-DD calendar date.
var ErrInvalidDate = errors.New("invalid calendar date")

// Document is the persisted unit of a calendar: scalar scheduling settings plus
// events keyed by day index.
type Document struct {
	NumDays   int             `json:"numDays"`
	StartDate string          `json:"startDate"`
	StartHour int             `json:"startHour"`
	EndHour   int             `json:"endHour"`
	ViewMode  ViewMode        `json:"viewMode"`
	Events    map[int][]Event `json:"events"`
}

// Event is a single calendar entry.
type Event struct {
	ID           string `json:"id"`
	DayIndex     int    `json:"dayIndex"`
	StartMinutes int    `json:"startMinutes"`
	EndMinutes   int    `json:"endMinutes"`
	Title        string `json:"title"`
	Description  string `json:"description,omitempty"`
	Color        string `json:"color,omitempty"`
	Location     *Place `json:"location,omitempty"`
	Destination  *Place `json:"destination,omitempty"`
	RouteMode    string `json:"routeMode,omitempty"`
	Route        *Route `json:"route,omitempty"`
}

// Place is a resolved location.
type Place struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

// Route is cached route geometry between an event's location and destination.
// The calendar core never interprets it.
type Route struct {
	Polyline        string `json:"polyline"`
	DistanceMeters  int    `json:"distanceMeters"`
	DurationSeconds int    `json:"durationSeconds"`
	Profile         string `json:"profile,omitempty"`
	// Signature identifies the endpoints and profile the route was computed for.
	Signature string `json:"signature,omitempty"`
}

// New returns an empty document anchored at startDate.
func New(startDate string, numDays int) Document {
	if numDays < 1 {
		numDays = 1
	}
	return Document{
		NumDays:   numDays,
		StartDate: startDate,
		StartHour: 8,
		EndHour:   20,
		ViewMode:  ViewModeMulti,
		Events:    make(map[int][]Event),
	}
}

// ParseDate parses a strict YYYY-MM-DD date in UTC.
func ParseDate(s string) (time.Time, error) {
	if len(s) != len(DateLayout) {
		return time.Time{}, ErrInvalidDate
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, ErrInvalidDate
	}
	return t, nil
}

// FormatDate formats t as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// DaysBetween returns the number of whole days from a to b. Both are expected to be
// midnight UTC values as returned by ParseDate.
func DaysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

// AddDays shifts a YYYY-MM-DD date by n days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return FormatDate(t.AddDate(0, 0, n)), nil
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
func Overlaps(aStart, aEnd, bStart, bEnd int) bool {
	return aStart < bEnd && aEnd > bStart
}

// SaveRequest is the store write payload: the client's working document plus the
// document and revision it last synchronized from.
type SaveRequest struct {
	Document     Document  `json:"document"`
	Base         *Document `json:"base,omitempty"`
	BaseRevision *int64    `json:"baseRevision,omitempty"`
}
