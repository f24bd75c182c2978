package icalendar

import (
	"fmt"
	"time"

	"github.com/emersion/go-ical"
)

// UnresolvedTimezoneError reports a TZID that matches neither an embedded
// VTIMEZONE nor the system registry. It is scoped to one property: the
// value degrades to a floating instant and entity normalization continues.
type UnresolvedTimezoneError struct {
	TZID     string
	Property string
}

func (e *UnresolvedTimezoneError) Error() string {
	return fmt.Sprintf("unresolved timezone %q on %s", e.TZID, e.Property)
}

// timezoneResolver maps TZIDs to locations. Definitions embedded in the
// input stream win over the system registry, so corrected or
// non-standard zone data shipped inline overrides stale system data.
type timezoneResolver struct {
	embedded map[string]*time.Location
}

// newTimezoneResolver collects every VTIMEZONE in the calendar.
func newTimezoneResolver(cal *ical.Calendar) *timezoneResolver {
	r := &timezoneResolver{embedded: make(map[string]*time.Location)}
	for _, child := range cal.Children {
		if child.Name != ical.CompTimezone {
			continue
		}
		tzid := child.Props.Get(ical.PropTimezoneID)
		if tzid == nil || tzid.Value == "" {
			continue
		}
		if loc := locationFromVTimezone(tzid.Value, child); loc != nil {
			r.embedded[tzid.Value] = loc
		}
	}
	return r
}

// locationFromVTimezone derives a fixed-offset location from a VTIMEZONE
// definition, using the TZOFFSETTO of the last STANDARD observance and
// falling back to the first observance of any kind.
func locationFromVTimezone(tzid string, comp *ical.Component) *time.Location {
	var offset int
	var found bool
	for _, obs := range comp.Children {
		if obs.Name != ical.CompTimezoneStandard && obs.Name != ical.CompTimezoneDaylight {
			continue
		}
		prop := obs.Props.Get(ical.PropTimezoneOffsetTo)
		if prop == nil {
			continue
		}
		secs, err := parseUTCOffset(prop.Value)
		if err != nil {
			continue
		}
		if !found || obs.Name == ical.CompTimezoneStandard {
			offset = secs
			found = true
		}
	}
	if !found {
		return nil
	}
	return time.FixedZone(tzid, offset)
}

// parseUTCOffset parses an RFC 5545 UTC offset ("+0200", "-053000") into
// seconds east of UTC.
func parseUTCOffset(v string) (int, error) {
	if len(v) != 5 && len(v) != 7 {
		return 0, fmt.Errorf("invalid UTC offset %q", v)
	}
	sign := 1
	switch v[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, fmt.Errorf("invalid UTC offset %q", v)
	}
	var h, m, s int
	if _, err := fmt.Sscanf(v[1:5], "%02d%02d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid UTC offset %q", v)
	}
	if len(v) == 7 {
		if _, err := fmt.Sscanf(v[5:7], "%02d", &s); err != nil {
			return 0, fmt.Errorf("invalid UTC offset %q", v)
		}
	}
	return sign * (h*3600 + m*60 + s), nil
}

// formatUTCOffset renders seconds east of UTC as an RFC 5545 UTC offset,
// the inverse of parseUTCOffset.
func formatUTCOffset(secs int) string {
	sign := "+"
	if secs < 0 {
		sign = "-"
		secs = -secs
	}
	h, m, s := secs/3600, secs/60%60, secs%60
	if s != 0 {
		return fmt.Sprintf("%s%02d%02d%02d", sign, h, m, s)
	}
	return fmt.Sprintf("%s%02d%02d", sign, h, m)
}

// Resolve maps a TZID to a location. property names the property being
// normalized, for error attribution.
func (r *timezoneResolver) Resolve(tzid, property string) (*time.Location, error) {
	if loc, ok := r.embedded[tzid]; ok {
		return loc, nil
	}
	loc, err := time.LoadLocation(tzid)
	if err != nil {
		return nil, &UnresolvedTimezoneError{TZID: tzid, Property: property}
	}
	return loc, nil
}
