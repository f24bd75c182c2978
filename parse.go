package icalendar

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"go.uber.org/zap"
)

// InvalidCalendarError reports structurally broken component grammar
// (e.g. unterminated BEGIN/END blocks). It aborts the whole parse;
// partial results are never returned.
type InvalidCalendarError struct {
	Err error
}

func (e *InvalidCalendarError) Error() string {
	return fmt.Sprintf("invalid calendar stream: %v", e.Err)
}

func (e *InvalidCalendarError) Unwrap() error { return e.Err }

// Parser parses calendar streams into finished entities. The zero value
// is usable; a nil logger degrades to a no-op logger.
type Parser struct {
	logger *zap.Logger
}

// NewParser constructs a parser.
func NewParser(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// Parse decodes, parses, groups and normalizes one calendar document
// using a throwaway parser with no logger.
func Parse(r io.Reader, charset string) (*ParseResult, error) {
	return NewParser(nil).Parse(r, charset)
}

// Parse decodes the byte stream (optionally with an explicit charset),
// hands the text to the grammar library, and runs grouping and
// normalization. Each call is independent: no state is retained and no
// shared mutable state is touched, so independent streams may be parsed
// concurrently.
func (p *Parser) Parse(r io.Reader, charset string) (*ParseResult, error) {
	text, err := DecodeStream(r, charset)
	if err != nil {
		return nil, err
	}
	return p.ParseText(text)
}

// ParseText parses already-decoded, already-unfolded calendar text.
func (p *Parser) ParseText(text string) (*ParseResult, error) {
	components, props, resolver, err := p.readComponents(text)
	if err != nil {
		return nil, err
	}

	result := &ParseResult{Properties: props}
	grouper := newGrouper(p.logger, resolver, result)
	grouper.run(components)

	p.logger.Info("calendar parsed",
		zap.Int("entities", len(result.Entities)),
		zap.Int("diagnostics", len(result.Diagnostics)))
	return result, nil
}

// readComponents is the boundary to the grammar library: it returns the
// ordered raw VEVENT/VTODO components, the recognized top-level
// properties, and a timezone resolver primed with the stream's embedded
// VTIMEZONE definitions.
func (p *Parser) readComponents(text string) ([]*ical.Component, map[string]string, *timezoneResolver, error) {
	var components []*ical.Component
	props := make(map[string]string)
	resolver := &timezoneResolver{embedded: make(map[string]*time.Location)}

	if strings.TrimSpace(text) == "" {
		return nil, props, resolver, nil
	}

	// The VCALENDAR envelope is optional on input; the grammar library
	// requires it.
	if !strings.HasPrefix(strings.TrimLeft(text, "\r\n \t"), "BEGIN:VCALENDAR") {
		text = "BEGIN:VCALENDAR\r\n" + strings.TrimRight(text, "\r\n") + "\r\nEND:VCALENDAR\r\n"
	}

	dec := ical.NewDecoder(strings.NewReader(text))
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, nil, &InvalidCalendarError{Err: err}
		}

		// Top-level property recognition is a fixed allow-list; at most
		// one entry is populated per parse.
		if name := cal.Props.Get(propCalendarDisplayName); name != nil {
			if _, ok := props[CalendarName]; !ok && name.Value != "" {
				props[CalendarName] = name.Value
			}
		}

		for tzid, loc := range newTimezoneResolver(cal).embedded {
			resolver.embedded[tzid] = loc
		}
		for _, child := range cal.Children {
			if child.Name == ical.CompEvent || child.Name == ical.CompToDo {
				components = append(components, child)
			}
		}
	}
	return components, props, resolver, nil
}

// propCalendarDisplayName is the non-standard but ubiquitous calendar
// display name property.
const propCalendarDisplayName = "X-WR-CALNAME"
