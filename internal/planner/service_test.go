package planner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/store"
)

type fakeModel struct {
	result  *Result
	err     error
	context Context
	history []Message
}

func (m *fakeModel) Propose(_ context.Context, pc Context, history []Message) (*Result, error) {
	m.context = pc
	m.history = history
	return m.result, m.err
}

func (m *fakeModel) Name() string { return "fake" }

type fakeDocuments struct {
	entries map[string]*store.Entry
}

func (f *fakeDocuments) Get(_ context.Context, id string) (*store.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return e, nil
}

func newTestService(model Model, doc calendar.Document, revision int64) *Service {
	docs := &fakeDocuments{entries: map[string]*store.Entry{
		"trip": {ID: "trip", Document: doc, Revision: revision},
	}}
	return NewService(ServiceConfig{
		Model:     model,
		Documents: docs,
		Scheduler: NewScheduler(SchedulerConfig{NewID: sequentialIDs(), Logger: zerolog.Nop()}),
		Logger:    zerolog.Nop(),
	})
}

func TestService_PlanReady(t *testing.T) {
	model := &fakeModel{result: &Result{
		Status:  StatusReady,
		Message: " Added your museum day. ",
		Events: []RawEvent{
			{Date: "2027-01-02", StartTime: "09:00", EndTime: "10:00", Title: "A"},
			{Date: "2027-01-02", StartTime: "09:30", EndTime: "10:30", Title: "B"},
			{Date: "someday", StartTime: "09:30", EndTime: "10:30", Title: "C"},
		},
	}}
	svc := newTestService(model, calendar.New("2027-01-02", 3), 4)

	proposal, err := svc.Plan(context.Background(), "trip", Request{
		Messages: []Message{{Role: RoleUser, Content: "museum tomorrow"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "trip", proposal.CalendarID)
	assert.Equal(t, int64(4), proposal.BaseRevision)
	assert.Equal(t, StatusReady, proposal.Status)
	assert.Equal(t, "Added your museum day.", proposal.Message)
	require.NotNil(t, proposal.Summary)
	assert.Equal(t, 1, proposal.Summary.Created)
	assert.Equal(t, 1, proposal.Summary.SkippedOverlap)
	assert.Equal(t, 1, proposal.Summary.SkippedInvalid)
	require.NotNil(t, proposal.Document)
	assert.Equal(t, 1, proposal.Document.EventCount())
	require.NotNil(t, proposal.Base)
	assert.True(t, calendar.New("2027-01-02", 3).Equal(*proposal.Base), "base is the planned-against document")

	assert.Equal(t, "UTC", model.context.Timezone)
	assert.Equal(t, "2027-01-04", model.context.WindowEnd)
}

func TestService_ModelFailuresBecomeClarification(t *testing.T) {
	tests := []struct {
		name    string
		model   *fakeModel
		message string
	}{
		{
			name:    "transport error",
			model:   &fakeModel{err: ErrModelUnavailable},
			message: clarificationFallback,
		},
		{
			name:    "malformed output",
			model:   &fakeModel{err: fmt.Errorf("decode: %w", ErrMalformedOutput)},
			message: clarificationFallback,
		},
		{
			name:    "model asks a question",
			model:   &fakeModel{result: &Result{Status: StatusNeedsClarification, Message: "Which day?"}},
			message: "Which day?",
		},
		{
			name:    "unknown status",
			model:   &fakeModel{result: &Result{Status: "thinking", Events: []RawEvent{{Date: "2027-01-01"}}}},
			message: clarificationFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newTestService(tt.model, calendar.New("2027-01-01", 3), 0)

			proposal, err := svc.Plan(context.Background(), "trip", Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
			require.NoError(t, err)
			assert.Equal(t, StatusNeedsClarification, proposal.Status)
			assert.Equal(t, tt.message, proposal.Message)
			assert.Nil(t, proposal.Document)
			assert.Nil(t, proposal.Base)
			assert.Nil(t, proposal.Summary)
		})
	}
}

func TestService_UnknownCalendar(t *testing.T) {
	svc := newTestService(&fakeModel{}, calendar.New("2027-01-01", 3), 0)

	_, err := svc.Plan(context.Background(), "missing", Request{})
	assert.True(t, errors.Is(err, store.ErrNotFound))
}

func TestService_TruncatesHistory(t *testing.T) {
	model := &fakeModel{result: &Result{Status: StatusNeedsClarification}}
	svc := newTestService(model, calendar.New("2027-01-01", 3), 0)

	var messages []Message
	for i := 0; i < 20; i++ {
		messages = append(messages, Message{Role: RoleUser, Content: fmt.Sprintf("m%d", i)})
	}

	_, err := svc.Plan(context.Background(), "trip", Request{Messages: messages})
	require.NoError(t, err)

	require.Len(t, model.history, DefaultHistoryLimit)
	assert.Equal(t, "m8", model.history[0].Content)
	assert.Equal(t, "m19", model.history[DefaultHistoryLimit-1].Content)
}

func TestBuildContext(t *testing.T) {
	doc := calendar.New("2027-01-01", 3)
	doc.Events[1] = []calendar.Event{
		{ID: "b", DayIndex: 1, StartMinutes: 780, EndMinutes: 840, Title: "Lunch", Location: &calendar.Place{Name: "Bistro"}},
		{ID: "a", DayIndex: 1, StartMinutes: 540, EndMinutes: 600, Title: "Coffee"},
	}
	doc.Events[0] = []calendar.Event{{ID: "c", DayIndex: 0, StartMinutes: 1380, EndMinutes: 1440, Title: "Late"}}

	pc, err := BuildContext(doc, "Europe/Paris", 1)
	require.NoError(t, err)

	assert.Equal(t, "2027-01-01", pc.WindowStart)
	assert.Equal(t, "2027-01-03", pc.WindowEnd)
	assert.Equal(t, "Europe/Paris", pc.Timezone)
	assert.Equal(t, "2027-01-02", pc.FocusDate)
	assert.Equal(t, []ContextEvent{
		{Date: "2027-01-01", Start: "23:00", End: "24:00", Title: "Late"},
		{Date: "2027-01-02", Start: "09:00", End: "10:00", Title: "Coffee"},
		{Date: "2027-01-02", Start: "13:00", End: "14:00", Title: "Lunch", Location: "Bistro"},
	}, pc.Events)
}

func TestTrimHistory_DropsBlank(t *testing.T) {
	got := TrimHistory([]Message{
		{Role: RoleUser, Content: "a"},
		{Role: RoleAssistant, Content: "  "},
		{Role: RoleUser, Content: "b"},
	}, 5)
	assert.Equal(t, []Message{{Role: RoleUser, Content: "a"}, {Role: RoleUser, Content: "b"}}, got)
}
