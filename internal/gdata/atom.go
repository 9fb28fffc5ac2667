package gdata

import (
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/samber/mo"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// Namespaces of the calendar Atom dialect.
const (
	nsAtom = "http://www.w3.org/2005/Atom"
	nsGD   = "http://schemas.google.com/g/2005"
	nsGCal = "http://schemas.google.com/gCal/2005"
)

const (
	relEventFeed = nsGCal + "#eventFeed"
	relEdit      = "edit"
	relNext      = "next"

	kindScheme   = nsGD + "#kind"
	kindEvent    = nsGD + "#event"
	statusPrefix = nsGD + "#event."

	uidSuffix = "@google.com"
)

// page is one decoded feed document.
type page struct {
	updated time.Time
	entries []*etree.Element
	next    string
}

// parsePage decodes an Atom feed. Element lookups match on local names, so
// the document may bind the namespaces to any prefix.
func parsePage(data []byte) (*page, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFeed, err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "feed" {
		return nil, fmt.Errorf("%w: root element is not a feed", ErrMalformedFeed)
	}

	return &page{
		updated: parseStamp(childText(root, "updated")),
		entries: root.SelectElements("entry"),
		next:    linkHref(root, relNext),
	}, nil
}

// parseEntryDocument decodes a document holding a single entry.
func parseEntryDocument(data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFeed, err)
	}

	root := doc.Root()
	if root == nil || root.Tag != "entry" {
		return nil, fmt.Errorf("%w: root element is not an entry", ErrMalformedFeed)
	}

	return root, nil
}

// parseCalendarEntry decodes a calendar-list entry. Missing required data
// is left zero and reported by ParsedCalendar.Validate.
func parseCalendarEntry(e *etree.Element) calendar.ParsedCalendar {
	return calendar.ParsedCalendar{
		UID: calendar.NormalizeRequired(childText(e, "id")),
		CalendarFields: calendar.CalendarFields{
			ETag:         e.SelectAttrValue("etag", ""),
			Title:        calendar.NormalizeRequired(childText(e, "title")),
			Summary:      calendar.NormalizeText(childText(e, "summary")),
			Color:        calendar.NormalizeText(childValue(e, "color")),
			TimeZone:     calendar.NormalizeText(childValue(e, "timezone")),
			Hidden:       strings.EqualFold(childValue(e, "hidden"), "true"),
			EventFeedURL: linkHref(e, relEventFeed),
			EditURL:      calendar.NormalizeText(linkHref(e, relEdit)),
			Updated:      parseStamp(childText(e, "updated")),
		},
	}
}

// parseEventEntry decodes an event entry. The uid comes from gCal:uid with
// the service suffix removed.
func parseEventEntry(e *etree.Element) calendar.ParsedEvent {
	p := calendar.ParsedEvent{
		UID: strings.TrimSuffix(calendar.NormalizeRequired(childValue(e, "uid")), uidSuffix),
		EventFields: calendar.EventFields{
			ETag:        e.SelectAttrValue("etag", ""),
			Title:       calendar.NormalizeText(childText(e, "title")),
			Description: calendar.NormalizeText(childText(e, "content")),
			Author:      parseAuthor(e),
			Status:      calendar.ParseStatus(childValue(e, "eventStatus")),
			Recurrence:  calendar.NormalizeText(childText(e, "recurrence")),
			EditURL:     calendar.NormalizeText(linkHref(e, relEdit)),
			Updated:     parseStamp(childText(e, "updated")),
		},
	}

	if where := e.SelectElement("where"); where != nil {
		p.Location = calendar.NormalizeText(where.SelectAttrValue("valueString", ""))
	}

	if when := e.SelectElement("when"); when != nil {
		p.Start = parseWhen(when, "startTime")
		p.End = parseWhen(when, "endTime")
	}

	if orig := e.SelectElement("originalEvent"); orig != nil {
		ref := calendar.OriginalRef{
			UID:  strings.TrimSuffix(calendar.NormalizeRequired(orig.SelectAttrValue("id", "")), uidSuffix),
			Href: calendar.NormalizeText(orig.SelectAttrValue("href", "")),
		}

		if when := orig.SelectElement("when"); when != nil {
			if t := parseWhen(when, "startTime"); !t.IsZero() {
				ref.OriginalStart = mo.Some(t)
			}
		}

		p.Original = mo.Some(ref)
	}

	return p
}

// parseAuthor renders the first author as "<name> email".
func parseAuthor(e *etree.Element) mo.Option[string] {
	author := e.SelectElement("author")
	if author == nil {
		return mo.None[string]()
	}

	name := strings.TrimSpace(childText(author, "name"))
	email := strings.TrimSpace(childText(author, "email"))

	if name == "" {
		return calendar.NormalizeText(email)
	}

	return calendar.NormalizeText(fmt.Sprintf("<%s> %s", name, email))
}

// parseWhen reads a gd:when attribute. Values without a time part are
// date-only; unparsable values are left zero.
func parseWhen(when *etree.Element, attr string) calendar.Time {
	t, err := calendar.ParseTime(when.SelectAttrValue(attr, ""))
	if err != nil {
		return calendar.Time{}
	}

	return t
}

func parseStamp(s string) time.Time {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}

func childText(e *etree.Element, tag string) string {
	if c := e.SelectElement(tag); c != nil {
		return c.Text()
	}

	return ""
}

// childValue reads the value attribute of a child, the gd/gCal convention
// for scalar properties.
func childValue(e *etree.Element, tag string) string {
	if c := e.SelectElement(tag); c != nil {
		return c.SelectAttrValue("value", "")
	}

	return ""
}

func linkHref(e *etree.Element, rel string) string {
	for _, l := range e.SelectElements("link") {
		if l.SelectAttrValue("rel", "") == rel {
			return l.SelectAttrValue("href", "")
		}
	}

	return ""
}
