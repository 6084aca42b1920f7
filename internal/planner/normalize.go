package planner

import (
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mapcal/mapcal/internal/calendar"
)

// Text bounds applied to model output, in runes.
const (
	MaxTitleRunes       = 120
	MaxDescriptionRunes = 1000
	MaxPlaceRunes       = 200

	// UntitledEvent replaces an empty title.
	UntitledEvent = "Untitled"

	// DefaultDurationMinutes is used when the end time does not follow the start.
	DefaultDurationMinutes = 60

	// LatestStartMinutes is the last start time that still leaves a 30-minute slot.
	LatestStartMinutes = calendar.MinutesPerDay - 30
)

var hexColorRegex = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// RawEvent is an event as proposed by the planning model. Every field is free text.
type RawEvent struct {
	Date        string `json:"date"`
	StartTime   string `json:"startTime"`
	EndTime     string `json:"endTime"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Color       string `json:"color,omitempty"`
	Origin      string `json:"origin,omitempty"`
	Destination string `json:"destination,omitempty"`
	RouteMode   string `json:"routeMode,omitempty"`
}

// Candidate is a validated, time-bounded event ready for scheduling.
type Candidate struct {
	Date         time.Time
	StartMinutes int
	EndMinutes   int
	Title        string
	Description  string
	Color        string
	Origin       string
	Destination  string
	RouteMode    string
}

// Normalize validates raw model events in order.
// It returns the accepted candidates and the number of dropped items.
func Normalize(raw []RawEvent) ([]Candidate, int) {
	candidates := make([]Candidate, 0, len(raw))
	invalid := 0

	for _, item := range raw {
		c, ok := normalizeOne(item)
		if !ok {
			invalid++
			continue
		}
		candidates = append(candidates, c)
	}

	return candidates, invalid
}

func normalizeOne(item RawEvent) (Candidate, bool) {
	date, err := calendar.ParseDate(strings.TrimSpace(item.Date))
	if err != nil {
		return Candidate{}, false
	}
	start, ok := parseClock(item.StartTime)
	if !ok {
		return Candidate{}, false
	}
	end, ok := parseClock(item.EndTime)
	if !ok {
		return Candidate{}, false
	}

	start = clamp(start, 0, LatestStartMinutes)
	if end <= start {
		end = min(start+DefaultDurationMinutes, calendar.MinutesPerDay)
	}

	title := boundText(item.Title, MaxTitleRunes)
	if title == "" {
		title = UntitledEvent
	}

	return Candidate{
		Date:         date,
		StartMinutes: start,
		EndMinutes:   end,
		Title:        title,
		Description:  boundText(item.Description, MaxDescriptionRunes),
		Color:        normalizeColor(item.Color),
		Origin:       boundText(item.Origin, MaxPlaceRunes),
		Destination:  boundText(item.Destination, MaxPlaceRunes),
		RouteMode:    normalizeRouteMode(item.RouteMode),
	}, true
}

// parseClock parses a strict 24-hour HH:MM time into minutes after midnight.
func parseClock(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	hours, ok := twoDigits(s[0:2])
	if !ok || hours > 23 {
		return 0, false
	}
	minutes, ok := twoDigits(s[3:5])
	if !ok || minutes > 59 {
		return 0, false
	}
	return hours*60 + minutes, true
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// boundText trims s and truncates it to limit runes.
func boundText(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:limit]))
}

// normalizeColor returns a #RRGGBB colour or "" when s is not one.
func normalizeColor(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !hexColorRegex.MatchString(s) {
		return ""
	}
	return strings.ToUpper(s)
}

func normalizeRouteMode(s string) string {
	switch mode := strings.ToLower(strings.TrimSpace(s)); mode {
	case calendar.RouteModeWalk, calendar.RouteModeBike, calendar.RouteModeDrive:
		return mode
	default:
		return ""
	}
}
