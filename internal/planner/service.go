package planner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/store"
)

// DefaultHistoryLimit is the number of most recent messages sent to the model.
const DefaultHistoryLimit = 12

// DefaultTimezone is used when a request names no timezone.
const DefaultTimezone = "UTC"

// clarificationFallback is shown when the model fails or replies with nonsense.
const clarificationFallback = "I couldn't turn that into a plan. Could you rephrase it with dates and times?"

// DocumentSource reads the current calendar document.
type DocumentSource interface {
	Get(ctx context.Context, id string) (*store.Entry, error)
}

// Request is a planning request from a client.
type Request struct {
	Messages   []Message `json:"messages"`
	Timezone   string    `json:"timezone,omitempty"`
	FocusIndex int       `json:"focusIndex"`
}

// Proposal is a plan computed against one calendar revision. It is never applied by the
// server; the client decides whether to apply it. Base is the document at
// BaseRevision, kept so a client that has moved on can merge the plan in.
type Proposal struct {
	CalendarID   string             `json:"calendarId"`
	BaseRevision int64              `json:"baseRevision"`
	Status       Status             `json:"status"`
	Message      string             `json:"message"`
	Document     *calendar.Document `json:"document,omitempty"`
	Base         *calendar.Document `json:"base,omitempty"`
	Summary      *Summary           `json:"summary,omitempty"`
	CreatedAt    time.Time          `json:"createdAt"`
}

// ServiceConfig holds configuration for the planning service.
type ServiceConfig struct {
	// Model is the planning model (required).
	Model Model

	// Documents reads the calendar being planned (required).
	Documents DocumentSource

	// Scheduler places candidates (optional, defaults to a scheduler without geocoding).
	Scheduler *Scheduler

	// HistoryLimit caps the messages sent to the model (default: 12).
	HistoryLimit int

	// Logger for service operations.
	Logger zerolog.Logger
}

// Service runs planning rounds.
type Service struct {
	model        Model
	documents    DocumentSource
	scheduler    *Scheduler
	historyLimit int
	logger       zerolog.Logger
}

// NewService creates a new planning service.
func NewService(cfg ServiceConfig) *Service {
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}

	scheduler := cfg.Scheduler
	if scheduler == nil {
		scheduler = NewScheduler(SchedulerConfig{Logger: cfg.Logger})
	}

	return &Service{
		model:        cfg.Model,
		documents:    cfg.Documents,
		scheduler:    scheduler,
		historyLimit: historyLimit,
		logger:       cfg.Logger,
	}
}

// Plan computes a proposal for calendarID.
//
// The only error returned is a failure to read the calendar. Model failures and
// unusable model output become a needs_clarification proposal without a document.
func (s *Service) Plan(ctx context.Context, calendarID string, req Request) (*Proposal, error) {
	entry, err := s.documents.Get(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	proposal := &Proposal{
		CalendarID:   calendarID,
		BaseRevision: entry.Revision,
		CreatedAt:    time.Now().UTC(),
	}

	pc, err := BuildContext(entry.Document, req.Timezone, req.FocusIndex)
	if err != nil {
		return nil, fmt.Errorf("building model context: %w", err)
	}

	history := TrimHistory(req.Messages, s.historyLimit)
	result, err := s.model.Propose(ctx, pc, history)
	if err != nil {
		s.logger.Warn().Err(err).
			Str("calendar_id", calendarID).
			Str("model", s.model.Name()).
			Msg("planning model failed")
		return clarify(proposal, ""), nil
	}
	if result == nil || result.Status != StatusReady {
		msg := ""
		if result != nil {
			msg = result.Message
		}
		return clarify(proposal, msg), nil
	}

	candidates, invalid := Normalize(result.Events)
	doc, summary, err := s.scheduler.Schedule(ctx, entry.Document, candidates)
	if err != nil {
		return nil, fmt.Errorf("scheduling plan: %w", err)
	}
	summary.SkippedInvalid = invalid

	proposal.Status = StatusReady
	proposal.Message = strings.TrimSpace(result.Message)
	proposal.Document = &doc
	base := entry.Document.Clone()
	proposal.Base = &base
	proposal.Summary = &summary

	s.logger.Info().
		Str("calendar_id", calendarID).
		Int64("base_revision", entry.Revision).
		Int("created", summary.Created).
		Int("skipped_invalid", summary.SkippedInvalid).
		Int("skipped_overlap", summary.SkippedOverlap).
		Int("unresolved", len(summary.Unresolved)).
		Msg("plan proposed")

	return proposal, nil
}

func clarify(p *Proposal, msg string) *Proposal {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = clarificationFallback
	}
	p.Status = StatusNeedsClarification
	p.Message = msg
	p.Document = nil
	p.Base = nil
	p.Summary = nil
	return p
}

// TrimHistory keeps the last limit messages, dropping blank ones.
func TrimHistory(messages []Message, limit int) []Message {
	kept := make([]Message, 0, len(messages))
	for _, m := range messages {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		kept = append(kept, m)
	}
	if len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}

// BuildContext describes doc to the model.
func BuildContext(doc calendar.Document, timezone string, focusIndex int) (Context, error) {
	if timezone == "" {
		timezone = DefaultTimezone
	}

	end, err := doc.EndDate()
	if err != nil {
		return Context{}, err
	}

	pc := Context{
		WindowStart: doc.StartDate,
		WindowEnd:   end,
		NumDays:     doc.NumDays,
		StartHour:   doc.StartHour,
		EndHour:     doc.EndHour,
		Timezone:    timezone,
		Events:      make([]ContextEvent, 0, doc.EventCount()),
	}

	if focusIndex >= 0 && focusIndex < doc.NumDays {
		if focus, err := doc.DateOf(focusIndex); err == nil {
			pc.FocusDate = focus
		}
	}

	for _, ev := range doc.Listing() {
		date, err := doc.DateOf(ev.DayIndex)
		if err != nil {
			return Context{}, err
		}
		ce := ContextEvent{
			Date:  date,
			Start: FormatClock(ev.StartMinutes),
			End:   FormatClock(ev.EndMinutes),
			Title: ev.Title,
		}
		if ev.Location != nil {
			ce.Location = ev.Location.Name
		}
		if ev.Destination != nil {
			ce.Destination = ev.Destination.Name
		}
		pc.Events = append(pc.Events, ce)
	}

	return pc, nil
}

// FormatClock renders minutes after midnight as HH:MM. 1440 renders as 24:00.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
