package icalendar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUTCOffset(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "+0200", want: 2 * 3600},
		{in: "-0500", want: -5 * 3600},
		{in: "+053000", want: 5*3600 + 30*60},
		{in: "-053030", want: -(5*3600 + 30*60 + 30)},
		{in: "0200", wantErr: true},
		{in: "+02", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := parseUTCOffset(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolve_SystemRegistry(t *testing.T) {
	r := &timezoneResolver{embedded: map[string]*time.Location{}}

	loc, err := r.Resolve("Europe/Vienna", "DTSTART")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Vienna", loc.String())

	_, err = r.Resolve("Nowhere/Nonexistent", "DTSTART")
	var tzErr *UnresolvedTimezoneError
	require.ErrorAs(t, err, &tzErr)
	assert.Equal(t, "Nowhere/Nonexistent", tzErr.TZID)
	assert.Equal(t, "DTSTART", tzErr.Property)
}

func TestParse_EmbeddedTimezonePrecedence(t *testing.T) {
	// The embedded definition deliberately disagrees with the system
	// registry (+05:00 instead of Vienna's +01:00); the embedded one
	// must win.
	doc := icsDoc(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VTIMEZONE",
		"TZID:Europe/Vienna",
		"BEGIN:STANDARD",
		"DTSTART:19700101T000000",
		"TZOFFSETFROM:+0500",
		"TZOFFSETTO:+0500",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:embedded-tz",
		"DTSTART;TZID=Europe/Vienna:20240101T120000",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	result := parseDoc(t, doc)
	require.Len(t, result.Entities, 1)
	e := result.Entities[0]

	require.NotNil(t, e.DTStart)
	assert.Equal(t, "Europe/Vienna", e.DTStart.TZID)
	assert.Equal(t, time.Date(2024, 1, 1, 7, 0, 0, 0, time.UTC), e.DTStart.Time.UTC())
	assert.Empty(t, result.Diagnostics)
}

func TestParse_ZonedStartEnd(t *testing.T) {
	doc := icsDoc(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VEVENT",
		"UID:vienna",
		"DTSTART;TZID=Europe/Vienna:20131009T170000",
		"DTEND;TZID=Europe/Vienna:20131009T180000",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	result := parseDoc(t, doc)
	e := result.Entities[0]

	require.NotNil(t, e.DTStart)
	assert.Equal(t, "Europe/Vienna", e.DTStart.TZID)
	// 17:00 CEST is 15:00 UTC.
	assert.Equal(t, time.Date(2013, 10, 9, 15, 0, 0, 0, time.UTC), e.DTStart.Time.UTC())
	require.NotNil(t, e.Event.DTEnd)
	assert.Equal(t, "Europe/Vienna", e.Event.DTEnd.TZID)
	assert.Equal(t, time.Hour, e.Event.DTEnd.Time.Sub(e.DTStart.Time))
	assert.False(t, e.IsAllDay())
}

func TestLocationFromVTimezone_LastStandardWins(t *testing.T) {
	doc := icsDoc(
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"BEGIN:VTIMEZONE",
		"TZID:Custom/Zone",
		"BEGIN:DAYLIGHT",
		"TZOFFSETTO:+0300",
		"END:DAYLIGHT",
		"BEGIN:STANDARD",
		"TZOFFSETTO:+0200",
		"END:STANDARD",
		"END:VTIMEZONE",
		"BEGIN:VEVENT",
		"UID:custom-zone",
		"DTSTART;TZID=Custom/Zone:20240101T120000",
		"END:VEVENT",
		"END:VCALENDAR",
	)

	result, err := Parse(strings.NewReader(doc), "")
	require.NoError(t, err)
	e := result.Entities[0]

	require.NotNil(t, e.DTStart)
	assert.Equal(t, "Custom/Zone", e.DTStart.TZID)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), e.DTStart.Time.UTC())
}
