package calendar

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"

	"github.com/mapcal/mapcal/internal/api/models"
)

var colorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := d
	out.Events = make(map[int][]Event, len(d.Events))
	for day, bucket := range d.Events {
		cp := make([]Event, len(bucket))
		for i := range bucket {
			cp[i] = bucket[i].Clone()
		}
		out.Events[day] = cp
	}
	return out
}

// Clone returns a deep copy of the event.
func (e Event) Clone() Event {
	out := e
	if e.Location != nil {
		loc := *e.Location
		out.Location = &loc
	}
	if e.Destination != nil {
		dst := *e.Destination
		out.Destination = &dst
	}
	if e.Route != nil {
		rt := *e.Route
		out.Route = &rt
	}
	return out
}

// Equal reports whether two events carry identical content.
func (e Event) Equal(o Event) bool {
	return reflect.DeepEqual(e, o)
}

// SameSettings reports whether the scalar settings of two documents match.
func (d Document) SameSettings(o Document) bool {
	return d.NumDays == o.NumDays &&
		d.StartDate == o.StartDate &&
		d.StartHour == o.StartHour &&
		d.EndHour == o.EndHour &&
		d.ViewMode == o.ViewMode
}

// Equal reports whether two documents hold the same settings and the same events.
// Bucket order and empty buckets are ignored.
func (d Document) Equal(o Document) bool {
	if !d.SameSettings(o) {
		return false
	}
	a, b := d.Flatten(), o.Flatten()
	if len(a) != len(b) {
		return false
	}
	for id, ev := range a {
		other, ok := b[id]
		if !ok || !ev.Equal(other) {
			return false
		}
	}
	return true
}

// Flatten indexes every event by id, ignoring the bucket it is stored under.
func (d Document) Flatten() map[string]Event {
	out := make(map[string]Event)
	for _, bucket := range d.Events {
		for _, ev := range bucket {
			out[ev.ID] = ev
		}
	}
	return out
}

// Regroup buckets events by their own DayIndex, each bucket sorted by start time.
func Regroup(events map[string]Event) map[int][]Event {
	out := make(map[int][]Event)
	for _, ev := range events {
		out[ev.DayIndex] = append(out[ev.DayIndex], ev)
	}
	for day := range out {
		SortBucket(out[day])
	}
	return out
}

// SortBucket orders events by start minute, falling back to end minute and id so the
// order is deterministic.
func SortBucket(bucket []Event) {
	sort.SliceStable(bucket, func(i, j int) bool {
		a, b := bucket[i], bucket[j]
		if a.StartMinutes != b.StartMinutes {
			return a.StartMinutes < b.StartMinutes
		}
		if a.EndMinutes != b.EndMinutes {
			return a.EndMinutes < b.EndMinutes
		}
		return a.ID < b.ID
	})
}

// EventCount returns the number of events in the document.
func (d Document) EventCount() int {
	n := 0
	for _, bucket := range d.Events {
		n += len(bucket)
	}
	return n
}

// EndDate returns the last visible date of the window.
func (d Document) EndDate() (string, error) {
	return AddDays(d.StartDate, d.NumDays-1)
}

// DateOf returns the absolute date of a day index.
func (d Document) DateOf(dayIndex int) (string, error) {
	return AddDays(d.StartDate, dayIndex)
}

// ShiftDays moves every event n days later in index space, keeping the bucket keys in
// sync with the events' DayIndex.
func (d *Document) ShiftDays(n int) {
	if n == 0 {
		return
	}
	shifted := make(map[int][]Event, len(d.Events))
	for day, bucket := range d.Events {
		for i := range bucket {
			bucket[i].DayIndex += n
		}
		shifted[day+n] = bucket
	}
	d.Events = shifted
}

// Listing returns all events ordered by day index, then start time.
func (d Document) Listing() []Event {
	days := make([]int, 0, len(d.Events))
	for day := range d.Events {
		days = append(days, day)
	}
	sort.Ints(days)

	out := make([]Event, 0, d.EventCount())
	for _, day := range days {
		bucket := make([]Event, len(d.Events[day]))
		copy(bucket, d.Events[day])
		SortBucket(bucket)
		out = append(out, bucket...)
	}
	return out
}

// Validate checks a document received from a client.
func (d Document) Validate() error {
	var errs []models.FieldError

	if d.NumDays < 1 {
		errs = append(errs, models.FieldError{Field: "numDays", Message: "must be at least 1"})
	}
	if _, err := ParseDate(d.StartDate); err != nil {
		errs = append(errs, models.FieldError{Field: "startDate", Message: "must be a YYYY-MM-DD date"})
	}
	if d.StartHour < 0 || d.StartHour > 24 {
		errs = append(errs, models.FieldError{Field: "startHour", Message: "must be between 0 and 24"})
	}
	if d.EndHour < 0 || d.EndHour > 24 {
		errs = append(errs, models.FieldError{Field: "endHour", Message: "must be between 0 and 24"})
	}
	switch d.ViewMode {
	case "", ViewModeDay, ViewModeWeek, ViewModeMulti:
	default:
		errs = append(errs, models.FieldError{Field: "viewMode", Message: "must be one of day, week, multi"})
	}

	days := make([]int, 0, len(d.Events))
	for day := range d.Events {
		days = append(days, day)
	}
	sort.Ints(days)

	seen := make(map[string]struct{})
	for _, day := range days {
		for i, ev := range d.Events[day] {
			prefix := fmt.Sprintf("events[%d][%d]", day, i)
			errs = append(errs, validateEvent(prefix, day, ev)...)
			if _, dup := seen[ev.ID]; dup {
				errs = append(errs, models.FieldError{Field: prefix + ".id", Message: "must be unique", Code: "DUPLICATE"})
			}
			seen[ev.ID] = struct{}{}
		}
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

func validateEvent(prefix string, day int, ev Event) []models.FieldError {
	var errs []models.FieldError
	if ev.ID == "" {
		errs = append(errs, models.FieldError{Field: prefix + ".id", Message: "is required"})
	}
	if day < 0 {
		errs = append(errs, models.FieldError{Field: prefix + ".dayIndex", Message: "must not be negative"})
	}
	if ev.DayIndex != day {
		errs = append(errs, models.FieldError{Field: prefix + ".dayIndex", Message: "must match its day bucket"})
	}
	if ev.StartMinutes < 0 || ev.StartMinutes > MinutesPerDay {
		errs = append(errs, models.FieldError{Field: prefix + ".startMinutes", Message: "must be between 0 and 1440"})
	}
	if ev.EndMinutes < 0 || ev.EndMinutes > MinutesPerDay {
		errs = append(errs, models.FieldError{Field: prefix + ".endMinutes", Message: "must be between 0 and 1440"})
	}
	if ev.EndMinutes <= ev.StartMinutes {
		errs = append(errs, models.FieldError{Field: prefix + ".endMinutes", Message: "must be after startMinutes"})
	}
	if ev.Color != "" && !colorRegex.MatchString(ev.Color) {
		errs = append(errs, models.FieldError{Field: prefix + ".color", Message: "must be a #RRGGBB hex color"})
	}
	return errs
}

// ValidationError represents validation errors.
type ValidationError struct {
	Errors []models.FieldError
}

func (e *ValidationError) Error() string {
	return "validation failed"
}
