package icalendar

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
	"go.uber.org/zap"
)

const (
	layoutDate        = "20060102"
	layoutDateTime    = "20060102T150405"
	layoutDateTimeUTC = "20060102T150405Z"
)

// commonProps are the properties mapped onto entity fields for both
// kinds; everything unconsumed lands in the unknown-property bag for
// lossless round-trips.
var commonProps = map[string]bool{
	ical.PropUID:             true,
	ical.PropSequence:        true,
	ical.PropRecurrenceID:    true,
	ical.PropDateTimeStart:   true,
	ical.PropSummary:         true,
	ical.PropDescription:     true,
	ical.PropLocation:        true,
	ical.PropURL:             true,
	ical.PropClass:           true,
	ical.PropStatus:          true,
	ical.PropColor:           true,
	ical.PropTransparency:    true,
	ical.PropCategories:      true,
	ical.PropRecurrenceRule:  true,
	ical.PropExceptionDates:  true,
	ical.PropRecurrenceDates: true,
}

// consumed reports whether a property maps onto an entity field for the
// given kind. A task's DUE is consumed, but a DUE on an event passes
// through the unknown bag untouched, and vice versa for DTEND.
func consumed(kind Kind, name string) bool {
	if commonProps[name] {
		return true
	}
	switch kind {
	case KindEvent:
		return name == ical.PropDateTimeEnd
	case KindTask:
		switch name {
		case ical.PropDue, ical.PropDuration, ical.PropPriority, ical.PropPercentComplete:
			return true
		}
	}
	return false
}

// grouper turns raw components into finished entities: it partitions
// masters from overrides, links overrides to their master by uid,
// resolves duplicate-override conflicts by sequence number, and applies
// temporal normalization.
type grouper struct {
	logger *zap.Logger
	tz     *timezoneResolver
	result *ParseResult
}

func newGrouper(logger *zap.Logger, tz *timezoneResolver, result *ParseResult) *grouper {
	return &grouper{logger: logger, tz: tz, result: result}
}

func (g *grouper) warn(uid, msg string, fields ...zap.Field) {
	g.result.Diagnostics = append(g.result.Diagnostics, Diagnostic{UID: uid, Message: msg})
	fields = append(fields, zap.String("uid", uid))
	g.logger.Warn(msg, fields...)
}

func (g *grouper) run(components []*ical.Component) {
	var masterComps, exceptionComps []*ical.Component
	for _, comp := range components {
		if comp.Props.Get(ical.PropRecurrenceID) != nil {
			exceptionComps = append(exceptionComps, comp)
		} else {
			masterComps = append(masterComps, comp)
		}
	}

	masters := make(map[string]*Entity, len(masterComps))
	var order []*Entity
	for _, comp := range masterComps {
		entity, ok := g.normalize(comp)
		if !ok {
			continue
		}
		if _, dup := masters[entity.UID]; dup {
			// Well-formed input never repeats a uid without a
			// RECURRENCE-ID; tolerate it, first occurrence wins.
			g.warn(entity.UID, "duplicate master component ignored")
			continue
		}
		masters[entity.UID] = entity
		order = append(order, entity)
	}

	var promoted []*Entity
	for _, comp := range exceptionComps {
		entity, ok := g.normalize(comp)
		if !ok {
			continue
		}
		if entity.RecurrenceID == nil {
			g.warn(entity.UID, "override with unparseable RECURRENCE-ID dropped")
			continue
		}
		master, found := masters[entity.UID]
		if !found {
			// Overrides shipped without their parent (partial sync
			// windows) become top-level entities in their own right.
			promoted = append(promoted, entity)
			continue
		}
		g.attach(master, entity)
	}

	g.result.Entities = append(g.result.Entities, order...)
	g.result.Entities = append(g.result.Entities, promoted...)
}

// attach adds an override to its master, keyed by RecurrenceID. When the
// occurrence already has an override, the strictly higher sequence
// number wins; on a tie the attached one is kept.
func (g *grouper) attach(master, exception *Entity) {
	for i, existing := range master.Exceptions {
		if !existing.RecurrenceID.Equal(exception.RecurrenceID) {
			continue
		}
		if exception.Sequence > existing.Sequence {
			master.Exceptions[i] = exception
		}
		return
	}
	master.Exceptions = append(master.Exceptions, exception)
}

// normalize turns one raw component into a finished entity. Components
// missing mandatory fields are dropped with a diagnostic; one corrupt
// component never fails the rest of the stream.
func (g *grouper) normalize(comp *ical.Component) (*Entity, bool) {
	var entity *Entity
	switch comp.Name {
	case ical.CompEvent:
		entity = NewEvent()
	case ical.CompToDo:
		entity = NewTask()
	default:
		return nil, false
	}

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil || uid.Value == "" {
		g.warn("", "component without UID dropped", zap.String("component", comp.Name))
		return nil, false
	}
	entity.UID = uid.Value

	if prop := comp.Props.Get(ical.PropSequence); prop != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(prop.Value)); err == nil && n >= 0 {
			entity.Sequence = n
		}
	}
	if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil {
		entity.RecurrenceID = g.parseDateTime(prop, entity.UID)
	}
	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil {
		entity.DTStart = g.parseDateTime(prop, entity.UID)
	}

	entity.Summary = textValue(comp, ical.PropSummary)
	entity.Description = textValue(comp, ical.PropDescription)
	entity.Location = textValue(comp, ical.PropLocation)
	entity.URL = rawValue(comp, ical.PropURL)
	entity.Class = rawValue(comp, ical.PropClass)
	entity.Status = rawValue(comp, ical.PropStatus)
	entity.Color = rawValue(comp, ical.PropColor)
	entity.Opacity = rawValue(comp, ical.PropTransparency)
	for _, prop := range comp.Props.Values(ical.PropCategories) {
		for _, cat := range strings.Split(prop.Value, ",") {
			if cat = strings.TrimSpace(cat); cat != "" {
				entity.Categories = append(entity.Categories, cat)
			}
		}
	}

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		if _, err := rrule.StrToROption(prop.Value); err != nil {
			g.warn(entity.UID, "invalid RRULE dropped", zap.String("rrule", prop.Value), zap.Error(err))
		} else {
			entity.RRule = prop.Value
		}
	}
	entity.ExDates = g.parseDateList(comp, ical.PropExceptionDates, entity.UID)
	entity.RDates = g.parseDateList(comp, ical.PropRecurrenceDates, entity.UID)

	switch entity.Kind {
	case KindEvent:
		if prop := comp.Props.Get(ical.PropDateTimeEnd); prop != nil {
			entity.Event.DTEnd = g.parseDateTime(prop, entity.UID)
		}
	case KindTask:
		if prop := comp.Props.Get(ical.PropDue); prop != nil {
			entity.Task.Due = g.parseDateTime(prop, entity.UID)
		}
		entity.Task.Duration = rawValue(comp, ical.PropDuration)
		if prop := comp.Props.Get(ical.PropPriority); prop != nil {
			if n, err := strconv.Atoi(strings.TrimSpace(prop.Value)); err == nil {
				entity.Task.Priority = n
			}
		}
		if prop := comp.Props.Get(ical.PropPercentComplete); prop != nil {
			if n, err := strconv.Atoi(strings.TrimSpace(prop.Value)); err == nil {
				entity.Task.PercentComplete = n
			}
		}
	}

	g.collectUnknown(comp, entity)
	for _, child := range comp.Children {
		entity.Components = append(entity.Components, child)
	}

	g.normalizeTemporal(entity)
	return entity, true
}

// normalizeTemporal enforces the cross-field temporal invariants: no
// mixed date-only/date-time pairs, and a task due date never before its
// start. A zero-length all-day span is preserved untouched; acceptance
// policy belongs to the storage collaborator.
func (g *grouper) normalizeTemporal(entity *Entity) {
	if entity.DTStart != nil {
		if entity.Event != nil && entity.Event.DTEnd != nil {
			entity.Event.DTEnd = coerceDateKind(entity.Event.DTEnd, entity.DTStart.IsDate)
		}
		if entity.Task != nil && entity.Task.Due != nil {
			entity.Task.Due = coerceDateKind(entity.Task.Due, entity.DTStart.IsDate)
		}
	}
	if entity.Task != nil && entity.Task.Due != nil && entity.DTStart != nil &&
		entity.Task.Due.Time.Before(entity.DTStart.Time) {
		g.warn(entity.UID, "task due before start, start cleared")
		entity.DTStart = nil
	}
}

// coerceDateKind aligns a value's date-only flag with its paired start.
func coerceDateKind(v *DateTime, isDate bool) *DateTime {
	if v.IsDate == isDate {
		return v
	}
	if isDate {
		t := v.Time
		if v.TZID != "" {
			t = t.UTC()
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		return &DateTime{Time: day, IsDate: true}
	}
	return &DateTime{Time: v.Time, TZID: v.TZID}
}

// collectUnknown preserves unconsumed properties. The grammar library
// hands properties back keyed by name, so the bag is ordered by name for
// determinism rather than by original position.
func (g *grouper) collectUnknown(comp *ical.Component, entity *Entity) {
	names := make([]string, 0, len(comp.Props))
	for name := range comp.Props {
		if !consumed(entity.Kind, name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		entity.Unknown = append(entity.Unknown, comp.Props.Values(name)...)
	}
}

// parseDateList parses EXDATE/RDATE properties, each of which may repeat
// and may hold several comma-separated values sharing the property's
// parameters.
func (g *grouper) parseDateList(comp *ical.Component, name, uid string) []DateTime {
	var out []DateTime
	for _, prop := range comp.Props.Values(name) {
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			single := ical.Prop{Name: prop.Name, Params: prop.Params, Value: part}
			if dt := g.parseDateTime(&single, uid); dt != nil {
				out = append(out, *dt)
			}
		}
	}
	return out
}

// parseDateTime interprets one DATE or DATE-TIME property value. A
// TZID that resolves neither to an embedded VTIMEZONE nor to the system
// registry degrades the value to a floating instant with a diagnostic;
// an unparseable value is skipped entirely.
func (g *grouper) parseDateTime(prop *ical.Prop, uid string) *DateTime {
	v := strings.TrimSpace(prop.Value)
	if v == "" {
		return nil
	}

	isDate := strings.EqualFold(prop.Params.Get("VALUE"), "DATE") || !strings.Contains(v, "T")
	if isDate {
		t, err := time.ParseInLocation(layoutDate, v, time.UTC)
		if err != nil {
			g.warn(uid, "unparseable date value skipped", zap.String("property", prop.Name), zap.String("value", v))
			return nil
		}
		return &DateTime{Time: t, IsDate: true}
	}

	if strings.HasSuffix(v, "Z") {
		t, err := time.Parse(layoutDateTimeUTC, v)
		if err != nil {
			g.warn(uid, "unparseable date-time value skipped", zap.String("property", prop.Name), zap.String("value", v))
			return nil
		}
		return &DateTime{Time: t}
	}

	tzid := prop.Params.Get("TZID")
	loc := time.UTC
	if tzid != "" {
		resolved, err := g.tz.Resolve(tzid, prop.Name)
		if err != nil {
			g.warn(uid, "unresolved timezone, value degraded to floating", zap.Error(err))
			tzid = ""
		} else {
			loc = resolved
		}
	}
	t, err := time.ParseInLocation(layoutDateTime, v, loc)
	if err != nil {
		g.warn(uid, "unparseable date-time value skipped", zap.String("property", prop.Name), zap.String("value", v))
		return nil
	}
	return &DateTime{Time: t, TZID: tzid}
}

func textValue(comp *ical.Component, name string) string {
	prop := comp.Props.Get(name)
	if prop == nil {
		return ""
	}
	text, err := prop.Text()
	if err != nil {
		return prop.Value
	}
	return text
}

func rawValue(comp *ical.Component, name string) string {
	if prop := comp.Props.Get(name); prop != nil {
		return prop.Value
	}
	return ""
}
