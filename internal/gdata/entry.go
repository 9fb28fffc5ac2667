package gdata

import (
	"fmt"
	"strconv"

	"github.com/beevik/etree"

	"github.com/tonimelisma/calsync/internal/calendar"
)

// newEntry starts an entry document with the namespaces bound to their
// conventional prefixes.
func newEntry(etag string) (*etree.Document, *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	entry := doc.CreateElement("entry")
	entry.CreateAttr("xmlns", nsAtom)
	entry.CreateAttr("xmlns:gd", nsGD)
	entry.CreateAttr("xmlns:gCal", nsGCal)

	if etag != "" {
		entry.CreateAttr("gd:etag", etag)
	}

	return doc, entry
}

// calendarEntry renders the writable fields of a calendar.
func calendarEntry(c *calendar.Calendar) ([]byte, error) {
	doc, entry := newEntry(c.ETag)

	entry.CreateElement("id").SetText(c.UID)
	textElement(entry, "title", c.Title)

	if s, ok := c.Summary.Get(); ok {
		textElement(entry, "summary", s)
	}

	if color, ok := c.Color.Get(); ok {
		entry.CreateElement("gCal:color").CreateAttr("value", color)
	}

	if tz, ok := c.TimeZone.Get(); ok {
		entry.CreateElement("gCal:timezone").CreateAttr("value", tz)
	}

	entry.CreateElement("gCal:hidden").CreateAttr("value", strconv.FormatBool(c.Hidden))

	return writeEntry(doc)
}

// eventEntry renders the writable fields of an event. Author and links are
// server-owned and omitted.
func eventEntry(ev *calendar.Event) ([]byte, error) {
	doc, entry := newEntry(ev.ETag)

	cat := entry.CreateElement("category")
	cat.CreateAttr("scheme", kindScheme)
	cat.CreateAttr("term", kindEvent)

	textElement(entry, "title", ev.Title.OrEmpty())
	textElement(entry, "content", ev.Description.OrEmpty())

	entry.CreateElement("gCal:uid").CreateAttr("value", ev.UID)
	entry.CreateElement("gd:eventStatus").CreateAttr("value", statusPrefix+string(ev.Status))

	if loc, ok := ev.Location.Get(); ok {
		entry.CreateElement("gd:where").CreateAttr("valueString", loc)
	}

	if rule, ok := ev.Recurrence.Get(); ok {
		entry.CreateElement("gd:recurrence").SetText(rule)
	} else if !ev.Start.IsZero() {
		when := entry.CreateElement("gd:when")
		when.CreateAttr("startTime", ev.Start.String())

		if !ev.End.IsZero() {
			when.CreateAttr("endTime", ev.End.String())
		}
	}

	if ref, ok := ev.Original.Get(); ok {
		orig := entry.CreateElement("gd:originalEvent")
		orig.CreateAttr("id", ref.UID)

		if href, ok := ref.Href.Get(); ok {
			orig.CreateAttr("href", href)
		}

		if start, ok := ref.OriginalStart.Get(); ok {
			orig.CreateElement("gd:when").CreateAttr("startTime", start.String())
		}
	}

	return writeEntry(doc)
}

func textElement(parent *etree.Element, tag, text string) {
	el := parent.CreateElement(tag)
	el.CreateAttr("type", "text")
	el.SetText(text)
}

func writeEntry(doc *etree.Document) ([]byte, error) {
	data, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("gdata: encoding entry: %w", err)
	}

	return data, nil
}
