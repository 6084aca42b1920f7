// Package export renders calendar documents in external formats.
package export

import (
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/mapcal/mapcal/internal/calendar"
)

// ProductID is the PRODID of generated feeds.
const ProductID = "-//mapcal//calendar export//EN"

// ICSOptions controls feed rendering.
type ICSOptions struct {
	// Name is the feed display name (X-WR-CALNAME).
	Name string

	// Location interprets event minutes as wall-clock time (default: UTC).
	Location *time.Location

	// Stamp is the DTSTAMP of every event (default: now).
	Stamp time.Time
}

// ICS renders doc as an iCalendar feed with one VEVENT per event.
func ICS(doc calendar.Document, opts ICSOptions) (string, error) {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	stamp := opts.Stamp
	if stamp.IsZero() {
		stamp = time.Now()
	}

	anchor, err := calendar.ParseDate(doc.StartDate)
	if err != nil {
		return "", fmt.Errorf("start date %q: %w", doc.StartDate, err)
	}

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(ProductID)
	cal.SetXWRTimezone(loc.String())
	if opts.Name != "" {
		cal.SetXWRCalName(opts.Name)
	}

	for _, ev := range doc.Listing() {
		vevent := cal.AddEvent(ev.ID + "@mapcal")
		vevent.SetDtStampTime(stamp)
		vevent.SetStartAt(wallClock(anchor, ev.DayIndex, ev.StartMinutes, loc))
		vevent.SetEndAt(wallClock(anchor, ev.DayIndex, ev.EndMinutes, loc))
		vevent.SetSummary(ev.Title)

		if desc := describe(ev); desc != "" {
			vevent.SetDescription(desc)
		}
		if ev.Location != nil {
			vevent.SetLocation(ev.Location.Name)
			vevent.SetProperty(ical.ComponentPropertyGeo, fmt.Sprintf("%.6f;%.6f", ev.Location.Lat, ev.Location.Lng))
		}
		if ev.RouteMode != "" {
			vevent.SetProperty(ical.ComponentProperty("X-MAPCAL-ROUTE-MODE"), ev.RouteMode)
		}
	}

	return cal.Serialize(), nil
}

// wallClock returns the instant of minutes past midnight on the given day in loc.
// 1440 minutes is midnight of the following day.
func wallClock(anchor time.Time, dayIndex, minutes int, loc *time.Location) time.Time {
	return time.Date(anchor.Year(), anchor.Month(), anchor.Day()+dayIndex, minutes/60, minutes%60, 0, 0, loc)
}

func describe(ev calendar.Event) string {
	var parts []string
	if ev.Description != "" {
		parts = append(parts, ev.Description)
	}
	if ev.Destination != nil {
		parts = append(parts, "Destination: "+ev.Destination.Name)
	}
	if ev.Route != nil {
		parts = append(parts, fmt.Sprintf("Route: %.1f km, %d min",
			float64(ev.Route.DistanceMeters)/1000, (ev.Route.DurationSeconds+59)/60))
	}
	return strings.Join(parts, "\n")
}
