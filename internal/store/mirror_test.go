package store_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapcal/mapcal/internal/calendar"
	"github.com/mapcal/mapcal/internal/store"
)

func TestFileMirror_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	mirror, err := store.NewFileMirror(dir)
	require.NoError(t, err)
	ctx := context.Background()

	doc := calendar.New("2027-01-01", 3)
	doc.Events[1] = []calendar.Event{{
		ID: "E1", DayIndex: 1, StartMinutes: 600, EndMinutes: 660, Title: "Museum",
		Location: &calendar.Place{Name: "Louvre", Lat: 48.8606, Lng: 2.3376},
	}}
	updated := time.Date(2027, 1, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, mirror.Save(ctx, store.Record{ID: "paris", Document: doc, Revision: 4, UpdatedAt: updated}))

	records, err := mirror.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "paris", records[0].ID)
	assert.Equal(t, int64(4), records[0].Revision)
	assert.True(t, records[0].UpdatedAt.Equal(updated))
	assert.True(t, records[0].Document.Equal(doc))

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files are renamed away")

	require.NoError(t, mirror.Delete(ctx, "paris"))
	require.NoError(t, mirror.Delete(ctx, "paris"))
	records, err = mirror.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileMirror_IgnoresForeignFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	mirror, err := store.NewFileMirror(dir)
	require.NoError(t, err)

	records, err := mirror.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestFileMirror_SurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	mirror, err := store.NewFileMirror(dir)
	require.NoError(t, err)
	first := store.New(store.Config{Mirror: mirror, Logger: zerolog.Nop()})

	original := calendar.New("2027-01-01", 5)
	_, err = first.Create(ctx, "trip", original)
	require.NoError(t, err)

	e1 := calendar.Event{ID: "E1", DayIndex: 2, StartMinutes: 540, EndMinutes: 600, Title: "E1"}
	_, err = first.Put(ctx, "trip", withEvent(original, e1), original, rev(0))
	require.NoError(t, err)

	reopened, err := store.NewFileMirror(dir)
	require.NoError(t, err)
	second := store.New(store.Config{Mirror: reopened, Logger: zerolog.Nop()})
	require.NoError(t, second.Load(ctx))

	got, err := second.Get(ctx, "trip")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Revision)
	assert.Contains(t, got.Document.Flatten(), "E1")
}
