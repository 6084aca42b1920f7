package rollback

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapcal/mapcal/internal/calendar"
)

func sampleDoc() calendar.Document {
	doc := calendar.New("2027-01-01", 5)
	doc.Events[0] = []calendar.Event{{ID: "E1", DayIndex: 0, StartMinutes: 540, EndMinutes: 600, Title: "Coffee"}}
	return doc
}

func TestLedger_ConsumeRestoresExactState(t *testing.T) {
	l := NewLedger()
	doc := sampleDoc()

	l.Capture("trip", doc, 3)

	// Mutating the caller's copy after capture must not leak into the snapshot.
	doc.Events[0][0].Title = "Changed"
	doc.Events[1] = []calendar.Event{{ID: "E2", DayIndex: 1, StartMinutes: 60, EndMinutes: 120, Title: "x"}}

	snap, ok := l.Consume("trip")
	require.True(t, ok)
	assert.Equal(t, 3, snap.FocusIndex)
	assert.True(t, snap.Document.Equal(sampleDoc()))

	_, ok = l.Consume("trip")
	assert.False(t, ok, "slot is cleared after consume")
}

func TestLedger_CaptureOverwrites(t *testing.T) {
	l := NewLedger()
	first := sampleDoc()
	second := calendar.New("2027-03-01", 2)

	l.Capture("trip", first, 0)
	l.Capture("trip", second, 1)

	snap, ok := l.Consume("trip")
	require.True(t, ok)
	assert.Equal(t, 1, snap.FocusIndex)
	assert.Equal(t, "2027-03-01", snap.Document.StartDate)
}

func TestLedger_SlotsAreIndependent(t *testing.T) {
	l := NewLedger()
	l.Capture("a", sampleDoc(), 0)
	l.Capture("b", sampleDoc(), 2)

	l.Forget("a")
	assert.False(t, l.Has("a"))
	assert.True(t, l.Has("b"))

	_, ok := l.Consume("a")
	assert.False(t, ok)
	snap, ok := l.Consume("b")
	require.True(t, ok)
	assert.Equal(t, 2, snap.FocusIndex)
}
