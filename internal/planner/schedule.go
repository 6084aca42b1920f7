package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/mapcal/mapcal/internal/calendar"
)

// DefaultPalette is cycled for accepted events that carry no colour of their own.
var DefaultPalette = []string{
	"#4F86F7",
	"#F76C5E",
	"#34A853",
	"#F4B400",
	"#A142F4",
	"#00ACC1",
	"#FF7043",
	"#7CB342",
}

// DefaultGeocodeConcurrency bounds parallel geocoding calls within one batch.
const DefaultGeocodeConcurrency = 4

// Geocoder resolves a free-text place name.
// Resolve returns nil and no error when nothing matches.
type Geocoder interface {
	Resolve(ctx context.Context, name string) (*calendar.Place, error)
}

// Summary reports what a batch did.
type Summary struct {
	Created        int      `json:"created"`
	SkippedInvalid int      `json:"skippedInvalid"`
	SkippedOverlap int      `json:"skippedOverlap"`
	Unresolved     []string `json:"unresolved"`
}

// SchedulerConfig holds configuration for the scheduler.
type SchedulerConfig struct {
	// Geocoder resolves origin and destination names (optional).
	Geocoder Geocoder

	// GeocodeConcurrency bounds parallel geocoding calls (optional, defaults to 4).
	GeocodeConcurrency int

	// Palette overrides DefaultPalette (optional).
	Palette []string

	// NewID generates event ids (optional, defaults to uuid.NewString).
	NewID func() string

	// Logger for scheduler operations.
	Logger zerolog.Logger
}

// Scheduler places normalized candidates into a calendar document.
type Scheduler struct {
	geocoder    Geocoder
	concurrency int
	palette     []string
	newID       func() string
	logger      zerolog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	concurrency := cfg.GeocodeConcurrency
	if concurrency <= 0 {
		concurrency = DefaultGeocodeConcurrency
	}
	palette := cfg.Palette
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Scheduler{
		geocoder:    cfg.Geocoder,
		concurrency: concurrency,
		palette:     palette,
		newID:       newID,
		logger:      cfg.Logger,
	}
}

type placement struct {
	Candidate
	dayOffset int
}

// Schedule inserts candidates into a copy of doc and returns it with a summary.
//
// Candidates dated before the window start move the window back so that no event
// needs a negative day index; existing events keep their absolute dates. A candidate
// overlapping anything already on its day, including earlier candidates of the same
// batch, is skipped. The input document is never modified.
func (s *Scheduler) Schedule(ctx context.Context, doc calendar.Document, candidates []Candidate) (calendar.Document, Summary, error) {
	summary := Summary{Unresolved: []string{}}

	windowStart, err := calendar.ParseDate(doc.StartDate)
	if err != nil {
		return calendar.Document{}, summary, fmt.Errorf("window start %q: %w", doc.StartDate, err)
	}

	batch := make([]placement, len(candidates))
	minOffset := 0
	for i, c := range candidates {
		batch[i] = placement{Candidate: c, dayOffset: calendar.DaysBetween(windowStart, c.Date)}
		if i == 0 || batch[i].dayOffset < minOffset {
			minOffset = batch[i].dayOffset
		}
	}
	sort.SliceStable(batch, func(i, j int) bool {
		if batch[i].dayOffset != batch[j].dayOffset {
			return batch[i].dayOffset < batch[j].dayOffset
		}
		return batch[i].StartMinutes < batch[j].StartMinutes
	})

	places, unresolved, err := s.resolvePlaces(ctx, batch)
	if err != nil {
		return calendar.Document{}, summary, err
	}
	summary.Unresolved = unresolved

	next := doc.Clone()
	shift := max(0, -minOffset)
	if shift > 0 {
		next.StartDate = calendar.FormatDate(windowStart.AddDate(0, 0, -shift))
		next.ShiftDays(shift)
		next.NumDays += shift

		s.logger.Debug().
			Int("shift_days", shift).
			Str("start_date", next.StartDate).
			Msg("moved window back for earlier events")
	}

	colorIdx := 0
	for _, p := range batch {
		day := p.dayOffset + shift
		if overlapsDay(next.Events[day], p.StartMinutes, p.EndMinutes) {
			summary.SkippedOverlap++
			continue
		}

		color := p.Color
		if color == "" {
			color = s.palette[colorIdx%len(s.palette)]
			colorIdx++
		}

		ev := calendar.Event{
			ID:           s.newID(),
			DayIndex:     day,
			StartMinutes: p.StartMinutes,
			EndMinutes:   p.EndMinutes,
			Title:        p.Title,
			Description:  p.Description,
			Color:        color,
			Location:     placeFor(places, p.Origin),
			Destination:  placeFor(places, p.Destination),
			RouteMode:    p.RouteMode,
		}

		bucket := append(next.Events[day], ev)
		calendar.SortBucket(bucket)
		next.Events[day] = bucket

		if day+1 > next.NumDays {
			next.NumDays = day + 1
		}
		summary.Created++
	}

	return next, summary, nil
}

func overlapsDay(bucket []calendar.Event, start, end int) bool {
	for _, ev := range bucket {
		if calendar.Overlaps(start, end, ev.StartMinutes, ev.EndMinutes) {
			return true
		}
	}
	return false
}

// placeKey normalizes a place name for per-batch deduplication.
func placeKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

func placeFor(places map[string]*calendar.Place, name string) *calendar.Place {
	if name == "" {
		return nil
	}
	resolved, ok := places[placeKey(name)]
	if !ok || resolved == nil {
		return nil
	}
	label := resolved.Name
	if label == "" {
		label = name
	}
	return &calendar.Place{Name: label, Lat: resolved.Lat, Lng: resolved.Lng}
}

// resolvePlaces geocodes each distinct place name of the batch once, in parallel.
// Lookup failures are logged and reported as unresolved.
func (s *Scheduler) resolvePlaces(ctx context.Context, batch []placement) (map[string]*calendar.Place, []string, error) {
	var (
		keys  []string
		names []string
	)
	seen := make(map[string]struct{})
	for _, p := range batch {
		for _, name := range []string{p.Origin, p.Destination} {
			key := placeKey(name)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			keys = append(keys, key)
			names = append(names, name)
		}
	}

	places := make(map[string]*calendar.Place, len(keys))
	if len(keys) == 0 {
		return places, []string{}, nil
	}
	if s.geocoder == nil {
		return places, names, nil
	}

	results := make([]*calendar.Place, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i := range keys {
		g.Go(func() error {
			place, err := s.geocoder.Resolve(gctx, names[i])
			if err != nil {
				s.logger.Warn().Err(err).Str("place", names[i]).Msg("geocoding failed")
				return nil
			}
			results[i] = place
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	unresolved := []string{}
	for i, key := range keys {
		if results[i] == nil {
			unresolved = append(unresolved, names[i])
			continue
		}
		places[key] = results[i]
	}
	return places, unresolved, nil
}
