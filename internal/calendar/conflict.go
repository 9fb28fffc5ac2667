package calendar

import (
	"time"

	"github.com/samber/mo"
)

// EntityKind names the record type a conflict refers to.
type EntityKind string

// Entity kinds as stored in the conflicts.kind column.
const (
	EntityCalendar EntityKind = "calendar"
	EntityEvent    EntityKind = "event"
)

// Resolution is the state of a conflict ledger entry.
type Resolution string

// Resolutions as stored in the conflicts.resolution column.
const (
	ResolutionUnresolved Resolution = "unresolved"
	ResolutionPushed     Resolution = "pushed"
	ResolutionFailed     Resolution = "failed"
)

// Conflict is one ledger entry: a local record found newer than the remote
// snapshot, pending a push back to the remote.
type Conflict struct {
	ID            string
	FeedID        string
	Kind          EntityKind
	UID           string
	CalendarUID   string // owning calendar; same as UID for calendar conflicts
	LocalUpdated  time.Time
	RemoteUpdated time.Time
	DetectedAt    time.Time
	Resolution    Resolution
	ResolvedAt    mo.Option[time.Time]
}
