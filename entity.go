// Package icalendar parses RFC 5545 calendar streams (VEVENT/VTODO) into
// structured entities and renders them back into valid iCalendar text.
//
// The component-level grammar (property lines, escaping, folding) is
// delegated to github.com/emersion/go-ical; this package operates on the
// tokenized component tree: charset/BOM decoding, grouping of recurring
// masters with their RECURRENCE-ID overrides, value normalization, and
// round-trip serialization.
package icalendar

import (
	"time"

	"github.com/emersion/go-ical"
)

// Kind distinguishes the two supported component kinds.
type Kind int

const (
	KindEvent Kind = iota // VEVENT
	KindTask              // VTODO
)

func (k Kind) String() string {
	if k == KindTask {
		return ical.CompToDo
	}
	return ical.CompEvent
}

// DateTime is a single temporal value: an instant plus the information
// needed to write it back the way it was read.
//
// A date-only value has IsDate set, carries no timezone, and its instant
// is midnight UTC of that day. A zoned value carries the TZID it was
// written with. A UTC or floating value has an empty TZID; floating
// times are interpreted as UTC (documented round-trip deviation).
type DateTime struct {
	Time   time.Time
	TZID   string
	IsDate bool
}

// Equal reports whether two temporal values denote the same instant with
// the same date-only/timezone rendering.
func (d *DateTime) Equal(other *DateTime) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Time.Equal(other.Time) && d.TZID == other.TZID && d.IsDate == other.IsDate
}

// EventDetails holds the fields that only exist on a VEVENT.
type EventDetails struct {
	DTEnd *DateTime
}

// TaskDetails holds the fields that only exist on a VTODO.
type TaskDetails struct {
	Due             *DateTime
	Duration        string // raw RFC 5545 duration, e.g. "PT1H"
	Priority        int
	PercentComplete int
}

// Entity is one finished calendar entity: a master VEVENT/VTODO together
// with its per-occurrence overrides, or (when RecurrenceID is non-nil) a
// single override itself.
//
// Entities are constructed only by Parse; after that the caller owns them
// and may edit fields in place before re-serializing with Write.
type Entity struct {
	Kind Kind

	UID          string
	Sequence     int
	RecurrenceID *DateTime // non-nil on overrides, nil on masters

	DTStart *DateTime

	Summary     string
	Description string
	Location    string
	URL         string
	Class       string
	Status      string
	Color       string
	Opacity     string // TRANSP
	Categories  []string

	RRule   string // validated RRULE value, empty if absent or invalid
	ExDates []DateTime
	RDates  []DateTime

	// Exactly one of these is non-nil, matching Kind.
	Event *EventDetails
	Task  *TaskDetails

	// Exceptions holds the overrides attached to this master, each with a
	// distinct non-nil RecurrenceID. Always empty on an override.
	Exceptions []*Entity

	// Unknown preserves unrecognized properties in input order for
	// lossless round-trips.
	Unknown []ical.Prop

	// Components preserves unrecognized sub-components (e.g. VALARM)
	// verbatim.
	Components []*ical.Component
}

// NewEvent returns an empty event entity.
func NewEvent() *Entity {
	return &Entity{Kind: KindEvent, Event: &EventDetails{}}
}

// NewTask returns an empty task entity.
func NewTask() *Entity {
	return &Entity{Kind: KindTask, Task: &TaskDetails{}}
}

// IsAllDay reports whether the entity is a whole-day entry: every
// populated temporal field is date-only, with no time-of-day or timezone.
func (e *Entity) IsAllDay() bool {
	if e.DTStart == nil || !e.DTStart.IsDate {
		return false
	}
	if e.Event != nil && e.Event.DTEnd != nil && !e.Event.DTEnd.IsDate {
		return false
	}
	if e.Task != nil && e.Task.Due != nil && !e.Task.Due.IsDate {
		return false
	}
	return true
}

// CalendarName is the key under which the calendar display name
// (X-WR-CALNAME) is reported in the top-level property map.
const CalendarName = "CALENDAR_NAME"

// Diagnostic describes a component-level defect that was absorbed during
// parsing: the defective component or field is skipped, the rest of the
// document is still processed.
type Diagnostic struct {
	UID     string // uid of the affected component, if known
	Message string
}

// ParseResult is the outcome of parsing one calendar document.
type ParseResult struct {
	// Entities holds the finished masters (with exceptions attached)
	// followed by promoted orphan overrides, in input order.
	Entities []*Entity

	// Properties maps recognized top-level calendar properties, keyed by
	// CalendarName. At most one entry is populated per parse.
	Properties map[string]string

	// Diagnostics lists absorbed component-level defects.
	Diagnostics []Diagnostic
}
