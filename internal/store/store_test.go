package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/store"
)

type recordingNotifier struct {
	mu      sync.Mutex
	changes []int64
	err     error
}

func (n *recordingNotifier) CalendarChanged(_ context.Context, _ string, revision int64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, revision)
	return n.err
}

func newTestStore(t *testing.T) (*store.Store, *store.InMemoryMirror) {
	t.Helper()
	mirror := store.NewInMemoryMirror()
	s := store.New(store.Config{Mirror: mirror, Logger: zerolog.Nop()})
	return s, mirror
}

func rev(n int64) *int64 { return &n }

func withEvent(doc calendar.Document, ev calendar.Event) calendar.Document {
	out := doc.Clone()
	out.Events[ev.DayIndex] = append(out.Events[ev.DayIndex], ev)
	calendar.SortBucket(out.Events[ev.DayIndex])
	return out
}

func TestStore_GetUnknown(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.Put(context.Background(), "missing", calendar.New("2027-01-01", 1), calendar.New("2027-01-01", 1), nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_CreateRejectsDuplicatesAndBadIDs(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "trip", calendar.New("2027-01-01", 5))
	require.NoError(t, err)

	_, err = s.Create(ctx, "trip", calendar.New("2027-01-01", 5))
	assert.ErrorIs(t, err, store.ErrExists)

	_, err = s.Create(ctx, "../etc", calendar.New("2027-01-01", 5))
	assert.ErrorIs(t, err, store.ErrInvalidID)
}

func TestStore_ConcurrentClientsBothSurvive(t *testing.T) {
	s, mirror := newTestStore(t)
	ctx := context.Background()

	original := calendar.New("2027-01-01", 5)
	created, err := s.Create(ctx, "trip", original)
	require.NoError(t, err)
	assert.Equal(t, int64(0), created.Revision)

	e1 := calendar.Event{ID: "E1", DayIndex: 0, StartMinutes: 540, EndMinutes: 600, Title: "E1"}
	afterA, err := s.Put(ctx, "trip", withEvent(original, e1), original, rev(0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), afterA.Revision)
	assert.Contains(t, afterA.Document.Flatten(), "E1")

	e2 := calendar.Event{ID: "E2", DayIndex: 1, StartMinutes: 540, EndMinutes: 600, Title: "E2"}
	afterB, err := s.Put(ctx, "trip", withEvent(original, e2), original, rev(0))
	require.NoError(t, err)
	assert.Equal(t, int64(2), afterB.Revision)

	flat := afterB.Document.Flatten()
	assert.Contains(t, flat, "E1")
	assert.Contains(t, flat, "E2")

	rec, ok := mirror.Record("trip")
	require.True(t, ok)
	assert.Equal(t, int64(2), rec.Revision)
	assert.True(t, rec.Document.Equal(afterB.Document))
}

func TestStore_NoopSaveKeepsRevision(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	original := calendar.New("2027-01-01", 5)
	_, err := s.Create(ctx, "trip", original)
	require.NoError(t, err)

	e1 := calendar.Event{ID: "E1", DayIndex: 0, StartMinutes: 540, EndMinutes: 600, Title: "E1"}
	saved, err := s.Put(ctx, "trip", withEvent(original, e1), original, rev(0))
	require.NoError(t, err)
	require.Equal(t, int64(1), saved.Revision)

	again, err := s.Put(ctx, "trip", saved.Document, saved.Document, rev(1))
	require.NoError(t, err)
	assert.Equal(t, int64(1), again.Revision, "verbatim identical save")

	stale, err := s.Put(ctx, "trip", original, original, rev(0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), stale.Revision, "stale no-op collapses to current")
	assert.Contains(t, stale.Document.Flatten(), "E1")
}

func TestStore_NilBaseRevisionAcceptsVerbatim(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	original := calendar.New("2027-01-01", 5)
	_, err := s.Create(ctx, "trip", original)
	require.NoError(t, err)

	e1 := calendar.Event{ID: "E1", DayIndex: 0, StartMinutes: 540, EndMinutes: 600, Title: "E1"}
	_, err = s.Put(ctx, "trip", withEvent(original, e1), original, rev(0))
	require.NoError(t, err)

	overwrite := calendar.New("2027-02-01", 3)
	got, err := s.Put(ctx, "trip", overwrite, calendar.Document{}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Revision)
	assert.Equal(t, 0, got.Document.EventCount())
	assert.Equal(t, "2027-02-01", got.Document.StartDate)
}

func TestStore_RejectsInvalidDocument(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "trip", calendar.New("2027-01-01", 5))
	require.NoError(t, err)

	bad := calendar.New("2027-01-01", 5)
	bad.NumDays = 0

	_, err = s.Put(ctx, "trip", bad, bad, nil)
	var verr *calendar.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestStore_MirrorFailureLeavesStateUntouched(t *testing.T) {
	s, mirror := newTestStore(t)
	ctx := context.Background()

	original := calendar.New("2027-01-01", 5)
	_, err := s.Create(ctx, "trip", original)
	require.NoError(t, err)

	mirror.FailWith(errors.New("disk full"))
	e1 := calendar.Event{ID: "E1", DayIndex: 0, StartMinutes: 540, EndMinutes: 600, Title: "E1"}
	_, err = s.Put(ctx, "trip", withEvent(original, e1), original, rev(0))
	require.Error(t, err)

	got, err := s.Get(ctx, "trip")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Revision)
	assert.Equal(t, 0, got.Document.EventCount())
}

func TestStore_NotifiesOnlyOnRevisionChange(t *testing.T) {
	mirror := store.NewInMemoryMirror()
	notifier := &recordingNotifier{err: errors.New("topic unavailable")}
	s := store.New(store.Config{Mirror: mirror, Notifier: notifier, Logger: zerolog.Nop()})
	ctx := context.Background()

	original := calendar.New("2027-01-01", 5)
	_, err := s.Create(ctx, "trip", original)
	require.NoError(t, err)

	e1 := calendar.Event{ID: "E1", DayIndex: 0, StartMinutes: 540, EndMinutes: 600, Title: "E1"}
	saved, err := s.Put(ctx, "trip", withEvent(original, e1), original, rev(0))
	require.NoError(t, err, "notifier errors never fail a save")

	_, err = s.Put(ctx, "trip", saved.Document, saved.Document, rev(1))
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, notifier.changes)
}

func TestStore_DeleteDiscardsState(t *testing.T) {
	s, mirror := newTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "trip", calendar.New("2027-01-01", 5))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "trip"))
	assert.ErrorIs(t, s.Delete(ctx, "trip"), store.ErrNotFound)

	_, err = s.Get(ctx, "trip")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, ok := mirror.Record("trip")
	assert.False(t, ok)

	recreated, err := s.Create(ctx, "trip", calendar.New("2027-01-01", 5))
	require.NoError(t, err)
	assert.Equal(t, int64(0), recreated.Revision)
}

func TestStore_ConcurrentPutsAreSerialized(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	original := calendar.New("2027-01-01", 5)
	_, err := s.Create(ctx, "trip", original)
	require.NoError(t, err)

	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ev := calendar.Event{
				ID:           fmt.Sprintf("ev-%02d", i),
				DayIndex:     i % 5,
				StartMinutes: i * 30,
				EndMinutes:   i*30 + 15,
				Title:        "concurrent",
			}
			_, putErr := s.Put(ctx, "trip", withEvent(original, ev), original, rev(0))
			assert.NoError(t, putErr)
		}(i)
	}
	wg.Wait()

	got, err := s.Get(ctx, "trip")
	require.NoError(t, err)
	assert.Equal(t, writers, got.Document.EventCount())
	assert.Equal(t, int64(writers), got.Revision)
}

func TestStore_LoadFromMirror(t *testing.T) {
	mirror := store.NewInMemoryMirror()
	doc := calendar.New("2027-01-01", 3)
	require.NoError(t, mirror.Save(context.Background(), store.Record{ID: "a", Document: doc, Revision: 7}))

	s := store.New(store.Config{Mirror: mirror, Logger: zerolog.Nop()})
	require.NoError(t, s.Load(context.Background()))

	got, err := s.Get(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Revision)
	assert.Equal(t, []string{"a"}, s.List(context.Background()))
}
