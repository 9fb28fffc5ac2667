package calendar

import "errors"

// Sentinel errors for the calendar data model. Callers test with errors.Is.
var (
	// ErrUnresolvedRecurrence means a template or exception has no rule that
	// can be discovered or parsed. Retrying will not produce new data.
	ErrUnresolvedRecurrence = errors.New("calendar: unresolved recurrence")

	// ErrIdentityConflict means two records claim the same uid within one
	// collection.
	ErrIdentityConflict = errors.New("calendar: identity conflict")

	// ErrMalformedInput means a parsed record lacks a required field.
	ErrMalformedInput = errors.New("calendar: malformed input")

	// ErrInvalidRange is returned for a range whose end precedes its start.
	ErrInvalidRange = errors.New("calendar: invalid range")
)
