package model

import (
	"errors"
	"time"
)

// Kind identifies the backend that owns a calendar's events.
type Kind string

const (
	KindLocal  Kind = "local"
	KindGoogle Kind = "google"
	KindCalDAV Kind = "caldav"
)

// IsRemote reports whether events of this kind live in an external service.
func (k Kind) IsRemote() bool {
	return k == KindGoogle || k == KindCalDAV
}

// Valid reports whether k is a known calendar kind.
func (k Kind) Valid() bool {
	return k == KindLocal || k.IsRemote()
}

// Calendar is a named container of events.
type Calendar struct {
	ID    string
	Name  string
	Color string
	Kind  Kind

	// EnableBlocking makes writes to this calendar produce mirrors elsewhere.
	EnableBlocking bool
	// ReceiveBlocks makes this calendar a target for mirrors produced elsewhere.
	ReceiveBlocks bool

	// RemoteID is the calendar id (Google) or collection URL (CalDAV).
	RemoteID string
	// ProviderConfig stores the Google account name or the CalDAV server name.
	ProviderConfig string
}

// Validate checks the fields a calendar needs before it is stored.
func (c *Calendar) Validate() error {
	if c.Name == "" {
		return errors.New("calendar name cannot be empty")
	}
	if !c.Kind.Valid() {
		return errors.New("calendar kind must be local, google or caldav")
	}
	if c.Kind.IsRemote() && c.RemoteID == "" {
		return errors.New("remote calendar requires a remote id")
	}
	if c.Kind.IsRemote() && c.ProviderConfig == "" {
		return errors.New("remote calendar requires an account or server name")
	}
	return nil
}

// CalendarEvent is a scheduled interval on one calendar.
// INVARIANT: End is after Start.
// INVARIANT: SourceEventID is set iff IsBlockingEvent.
type CalendarEvent struct {
	ID          string
	CalendarID  string
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string

	// IsBlockingEvent marks mirrors written by the blocking engine.
	IsBlockingEvent bool
	SourceEventID   string

	// ExternalID is the event id in a remote service; empty for local calendars.
	ExternalID string
}

// Validate checks the event's invariants.
func (e *CalendarEvent) Validate() error {
	if e.CalendarID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("calendar id is required"))
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return errors.Join(ErrInvalidEvent, errors.New("start and end times are required"))
	}
	if !e.End.After(e.Start) {
		return errors.Join(ErrInvalidEvent, errors.New("end time must be after start time"))
	}
	if e.IsBlockingEvent && e.SourceEventID == "" {
		return errors.Join(ErrInvalidEvent, errors.New("blocking event requires a source event id"))
	}
	if !e.IsBlockingEvent && e.SourceEventID != "" {
		return errors.Join(ErrInvalidEvent, errors.New("source event id is only valid on blocking events"))
	}
	return nil
}

// Overlaps reports whether the event intersects [start, end).
// Touching boundaries do not count as overlap.
func (e *CalendarEvent) Overlaps(start, end time.Time) bool {
	return e.Start.Before(end) && e.End.After(start)
}

// BlockingRelationship links one source event to the mirrors it produced.
type BlockingRelationship struct {
	ID               string
	SourceCalendarID string
	SourceEventID    string
	BlockedEvents    []BlockedEvent
}

// TargetCalendarIDs returns the calendars holding mirrors of the source event.
func (r *BlockingRelationship) TargetCalendarIDs() []string {
	ids := make([]string, 0, len(r.BlockedEvents))
	for _, b := range r.BlockedEvents {
		ids = append(ids, b.TargetCalendarID)
	}
	return ids
}

// BlockedEvent is one mirror produced by a relationship.
type BlockedEvent struct {
	ID               string
	TargetCalendarID string
	TargetEventID    string
}
