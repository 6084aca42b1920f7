package export

import (
	"strings"
	"testing"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapcal/mapcal/internal/calendar"
)

func testDocument() calendar.Document {
	doc := calendar.New("2027-03-27", 3)
	doc.Events[0] = []calendar.Event{{
		ID: "louvre", DayIndex: 0, StartMinutes: 540, EndMinutes: 660, Title: "Louvre",
		Location:    &calendar.Place{Name: "Louvre Museum", Lat: 48.8611, Lng: 2.3364},
		Destination: &calendar.Place{Name: "Musée d'Orsay", Lat: 48.86, Lng: 2.3266},
		RouteMode:   calendar.RouteModeWalk,
		Route:       &calendar.Route{Polyline: "abc", DistanceMeters: 1187, DurationSeconds: 854},
	}}
	doc.Events[2] = []calendar.Event{{
		ID: "dinner", DayIndex: 2, StartMinutes: 1320, EndMinutes: 1440, Title: "Late dinner",
		Description: "Book ahead",
	}}
	return doc
}

func parse(t *testing.T, feed string) map[string]*ical.VEvent {
	t.Helper()
	cal, err := ical.ParseCalendar(strings.NewReader(feed))
	require.NoError(t, err)

	out := make(map[string]*ical.VEvent)
	for _, ev := range cal.Events() {
		out[ev.GetProperty(ical.ComponentPropertyUniqueId).Value] = ev
	}
	return out
}

func TestICS_RendersEvents(t *testing.T) {
	stamp := time.Date(2027, 3, 1, 12, 0, 0, 0, time.UTC)
	feed, err := ICS(testDocument(), ICSOptions{Name: "Paris", Stamp: stamp})
	require.NoError(t, err)

	assert.Contains(t, feed, "PRODID:"+ProductID)
	assert.Contains(t, feed, "X-WR-CALNAME:Paris")

	events := parse(t, feed)
	require.Len(t, events, 2)

	louvre := events["louvre@mapcal"]
	require.NotNil(t, louvre)
	start, err := louvre.GetStartAt()
	require.NoError(t, err)
	end, err := louvre.GetEndAt()
	require.NoError(t, err)
	assert.True(t, start.Equal(time.Date(2027, 3, 27, 9, 0, 0, 0, time.UTC)))
	assert.True(t, end.Equal(time.Date(2027, 3, 27, 11, 0, 0, 0, time.UTC)))
	assert.Equal(t, "Louvre Museum", louvre.GetProperty(ical.ComponentPropertyLocation).Value)
	geo := louvre.GetProperty(ical.ComponentPropertyGeo)
	require.NotNil(t, geo)
	assert.Contains(t, geo.Value, "48.861100")
	assert.Contains(t, feed, "Route: 1.2 km")

	dinner := events["dinner@mapcal"]
	require.NotNil(t, dinner)
	end, err = dinner.GetEndAt()
	require.NoError(t, err)
	assert.True(t, end.Equal(time.Date(2027, 3, 30, 0, 0, 0, 0, time.UTC)), "end of day rolls to next midnight")
	assert.Equal(t, "Late dinner", dinner.GetProperty(ical.ComponentPropertySummary).Value)
}

func TestICS_UsesWallClockInLocation(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Skipf("timezone data unavailable: %v", err)
	}

	feed, err := ICS(testDocument(), ICSOptions{Location: paris})
	require.NoError(t, err)

	events := parse(t, feed)
	start, err := events["louvre@mapcal"].GetStartAt()
	require.NoError(t, err)
	// 09:00 in Paris on 2027-03-27 is UTC+1, the day before the DST switch.
	assert.True(t, start.Equal(time.Date(2027, 3, 27, 8, 0, 0, 0, time.UTC)), "got %s", start)

	dinner, err := events["dinner@mapcal"].GetStartAt()
	require.NoError(t, err)
	// 22:00 on 2027-03-29 is UTC+2.
	assert.True(t, dinner.Equal(time.Date(2027, 3, 29, 20, 0, 0, 0, time.UTC)), "got %s", dinner)
}

func TestICS_EmptyCalendar(t *testing.T) {
	feed, err := ICS(calendar.New("2027-01-01", 1), ICSOptions{})
	require.NoError(t, err)
	assert.Contains(t, feed, "BEGIN:VCALENDAR")
	assert.NotContains(t, feed, "BEGIN:VEVENT")
}

func TestICS_InvalidStartDate(t *testing.T) {
	doc := calendar.New("2027-13-01", 1)
	_, err := ICS(doc, ICSOptions{})
	assert.ErrorIs(t, err, calendar.ErrInvalidDate)
}
