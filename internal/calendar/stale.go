package calendar

import "time"

// StaleRecord identifies a local record absent from every remote snapshot
// since a threshold. It is a signal for retention policies; nothing is
// deleted.
type StaleRecord struct {
	Kind        EntityKind
	UID         string
	CalendarUID string
	Title       string
	SyncedAt    time.Time // last write from the remote; zero if never synced
	SeenAt      time.Time // last snapshot containing the record; zero if never
}
