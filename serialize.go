package icalendar

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-ical"
	"golang.org/x/text/transform"
)

// prodID identifies this implementation in generated calendars.
const prodID = "-//beekhof//icalendar//EN"

// Write renders the entities (each master followed by one block per
// exception) into a single VCALENDAR document and encodes it with the
// given charset, defaulting to UTF-8. Properties absent on an entity are
// omitted rather than written empty; unknown properties and retained
// sub-components are re-emitted verbatim. Content lines exceeding the
// RFC 5545 length limit are re-folded on output.
//
// Referenced timezone definitions the system registry cannot reproduce
// are re-emitted as VTIMEZONE blocks, and a DTSTAMP is stamped onto any
// component that lacks one.
//
// Re-parsing the output yields an entity set field-for-field equal to
// the input, except for the documented stable deviations (floating times
// become UTC, invalid RRULEs are dropped, EXDATE/RDATE grouping is not
// preserved, and a synthesized DTSTAMP surfaces as an unknown property).
func Write(w io.Writer, charset string, entities ...*Entity) error {
	return WriteNamed(w, charset, "", entities...)
}

// WriteNamed is Write with a calendar display name (X-WR-CALNAME) on the
// envelope.
func WriteNamed(w io.Writer, charset, name string, entities ...*Entity) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	if name != "" {
		cal.Props.SetText(propCalendarDisplayName, name)
	}

	cal.Children = append(cal.Children, timezoneComponents(entities)...)
	for _, entity := range entities {
		cal.Children = append(cal.Children, buildComponent(entity))
		for _, exception := range entity.Exceptions {
			cal.Children = append(cal.Children, buildComponent(exception))
		}
	}

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return fmt.Errorf("failed to encode calendar: %w", err)
	}
	data := refold(buf.Bytes())

	if charset == "" || strings.EqualFold(charset, "UTF-8") {
		_, err := w.Write(data)
		return err
	}
	enc, err := lookupCharset(charset)
	if err != nil {
		return err
	}
	tw := transform.NewWriter(w, enc.NewEncoder())
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("failed to encode output as %s: %w", charset, err)
	}
	return tw.Close()
}

// timezoneComponents returns a VTIMEZONE definition for every TZID
// referenced by the entities that the system registry cannot reproduce,
// so values zoned by inline definitions survive a round trip. TZIDs the
// registry resolves to the same offset are omitted.
func timezoneComponents(entities []*Entity) []*ical.Component {
	seen := make(map[string]bool)
	var zones []*ical.Component
	record := func(dt *DateTime) {
		if dt == nil || dt.IsDate || dt.TZID == "" || seen[dt.TZID] {
			return
		}
		seen[dt.TZID] = true
		_, offset := dt.Time.Zone()
		if loc, err := time.LoadLocation(dt.TZID); err == nil {
			if _, sysOffset := dt.Time.In(loc).Zone(); sysOffset == offset {
				return
			}
		}
		zones = append(zones, fixedVTimezone(dt.TZID, offset))
	}
	var visit func(e *Entity)
	visit = func(e *Entity) {
		record(e.RecurrenceID)
		record(e.DTStart)
		if e.Event != nil {
			record(e.Event.DTEnd)
		}
		if e.Task != nil {
			record(e.Task.Due)
		}
		for i := range e.ExDates {
			record(&e.ExDates[i])
		}
		for i := range e.RDates {
			record(&e.RDates[i])
		}
		for _, exception := range e.Exceptions {
			visit(exception)
		}
	}
	for _, entity := range entities {
		visit(entity)
	}
	return zones
}

// fixedVTimezone builds a single-observance VTIMEZONE for a constant
// UTC offset.
func fixedVTimezone(tzid string, offsetSeconds int) *ical.Component {
	obs := ical.NewComponent(ical.CompTimezoneStandard)
	setRaw(obs, ical.PropDateTimeStart, "19700101T000000")
	offset := formatUTCOffset(offsetSeconds)
	setRaw(obs, ical.PropTimezoneOffsetFrom, offset)
	setRaw(obs, ical.PropTimezoneOffsetTo, offset)

	tz := ical.NewComponent(ical.CompTimezone)
	setRaw(tz, ical.PropTimezoneID, tzid)
	tz.Children = append(tz.Children, obs)
	return tz
}

// maxLineOctets is the RFC 5545 content line length limit, excluding the
// terminator.
const maxLineOctets = 75

// refold folds any content line exceeding the length limit, breaking on
// rune boundaries so multi-byte characters stay intact.
func refold(data []byte) []byte {
	lines := strings.Split(string(data), "\r\n")
	var b strings.Builder
	b.Grow(len(data))
	for i, line := range lines {
		if i == len(lines)-1 && line == "" {
			break
		}
		for first := true; ; first = false {
			limit := maxLineOctets
			if !first {
				b.WriteByte(' ')
				limit--
			}
			if len(line) <= limit {
				b.WriteString(line)
				b.WriteString("\r\n")
				break
			}
			cut := limit
			for cut > 0 && !utf8.RuneStart(line[cut]) {
				cut--
			}
			b.WriteString(line[:cut])
			b.WriteString("\r\n")
			line = line[cut:]
		}
	}
	return []byte(b.String())
}

// Write renders this entity and its exceptions as one document.
func (e *Entity) Write(w io.Writer, charset string) error {
	return Write(w, charset, e)
}

func buildComponent(e *Entity) *ical.Component {
	comp := ical.NewComponent(e.Kind.String())

	comp.Props.SetText(ical.PropUID, e.UID)
	if e.Sequence > 0 {
		setRaw(comp, ical.PropSequence, strconv.Itoa(e.Sequence))
	}
	setDateTime(comp, ical.PropRecurrenceID, e.RecurrenceID)
	setDateTime(comp, ical.PropDateTimeStart, e.DTStart)

	setText(comp, ical.PropSummary, e.Summary)
	setText(comp, ical.PropDescription, e.Description)
	setText(comp, ical.PropLocation, e.Location)
	setRaw(comp, ical.PropURL, e.URL)
	setRaw(comp, ical.PropClass, e.Class)
	setRaw(comp, ical.PropStatus, e.Status)
	setRaw(comp, ical.PropColor, e.Color)
	setRaw(comp, ical.PropTransparency, e.Opacity)
	if len(e.Categories) > 0 {
		setRaw(comp, ical.PropCategories, strings.Join(e.Categories, ","))
	}

	setRaw(comp, ical.PropRecurrenceRule, e.RRule)
	for _, dt := range e.ExDates {
		addDateTime(comp, ical.PropExceptionDates, dt)
	}
	for _, dt := range e.RDates {
		addDateTime(comp, ical.PropRecurrenceDates, dt)
	}

	switch e.Kind {
	case KindEvent:
		if e.Event != nil {
			setDateTime(comp, ical.PropDateTimeEnd, e.Event.DTEnd)
		}
	case KindTask:
		if e.Task != nil {
			setDateTime(comp, ical.PropDue, e.Task.Due)
			setRaw(comp, ical.PropDuration, e.Task.Duration)
			if e.Task.Priority > 0 {
				setRaw(comp, ical.PropPriority, strconv.Itoa(e.Task.Priority))
			}
			if e.Task.PercentComplete > 0 {
				setRaw(comp, ical.PropPercentComplete, strconv.Itoa(e.Task.PercentComplete))
			}
		}
	}

	for i := range e.Unknown {
		prop := e.Unknown[i]
		comp.Props.Add(&prop)
	}
	// The grammar requires exactly one DTSTAMP per component. A stamp
	// carried over from parsing is preserved above; stamp the component
	// now if it has none.
	if comp.Props.Get(ical.PropDateTimeStamp) == nil {
		comp.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	}
	comp.Children = append(comp.Children, e.Components...)

	return comp
}

func setText(comp *ical.Component, name, value string) {
	if value != "" {
		comp.Props.SetText(name, value)
	}
}

// setRaw writes a property value verbatim, without text escaping, for
// values read verbatim during parsing.
func setRaw(comp *ical.Component, name, value string) {
	if value == "" {
		return
	}
	prop := ical.NewProp(name)
	prop.Value = value
	comp.Props.Set(prop)
}

func setDateTime(comp *ical.Component, name string, dt *DateTime) {
	if dt == nil {
		return
	}
	comp.Props.Set(dateTimeProp(name, *dt))
}

func addDateTime(comp *ical.Component, name string, dt DateTime) {
	comp.Props.Add(dateTimeProp(name, dt))
}

func dateTimeProp(name string, dt DateTime) *ical.Prop {
	prop := ical.NewProp(name)
	switch {
	case dt.IsDate:
		prop.Params.Set("VALUE", "DATE")
		prop.Value = dt.Time.UTC().Format(layoutDate)
	case dt.TZID != "":
		prop.Params.Set("TZID", dt.TZID)
		prop.Value = dt.Time.Format(layoutDateTime)
	default:
		prop.Value = dt.Time.UTC().Format(layoutDateTimeUTC)
	}
	return prop
}
