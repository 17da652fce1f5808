package provider

import (
	"context"
	"time"

	"github.com/bobuk/calblock/internal/model"
)

// Provider mutates the events of a single calendar, whatever backs it.
//
// CreateEvent must return an event with its id populated and DeleteEvent on
// an unknown id is a no-op, matching the local store.
type Provider interface {
	CreateEvent(ctx context.Context, calendarID string, evt model.CalendarEvent) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, calendarID string, evt model.CalendarEvent) (model.CalendarEvent, error)
	DeleteEvent(ctx context.Context, calendarID, eventID string) error
	GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error)
}

// RemoteCalendar is an external calendar service addressed by its own
// calendar ids (Google calendar id, CalDAV collection URL).
type RemoteCalendar interface {
	GetCalendar(ctx context.Context, remoteCalendarID string) error
	AddEvent(ctx context.Context, remoteCalendarID string, event *RemoteEvent) (string, error)
	UpdateEvent(ctx context.Context, remoteCalendarID, eventID string, event *RemoteEvent) error
	DeleteEvent(ctx context.Context, remoteCalendarID, eventID string) error
	ListEvents(ctx context.Context, remoteCalendarID string, timeMin, timeMax time.Time) ([]*RemoteEvent, error)
}

// RemoteEvent is the service-neutral shape exchanged with a RemoteCalendar.
type RemoteEvent struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       time.Time
	End         time.Time
	Status      string

	// SourceEventID tags mirrors so they can be recognised in the remote service.
	SourceEventID string
}

// EventStore is the part of the event store providers write through.
type EventStore interface {
	CreateEvent(ctx context.Context, e model.CalendarEvent) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, e model.CalendarEvent) error
	DeleteEvent(ctx context.Context, id string) error
	GetEventByID(ctx context.Context, id string) (*model.CalendarEvent, error)
	GetEventByExternalID(ctx context.Context, calendarID, externalID string) (*model.CalendarEvent, error)
	GetEventsInRange(ctx context.Context, start, end time.Time, calendarID string) ([]model.CalendarEvent, error)
}

func toRemoteEvent(e model.CalendarEvent) *RemoteEvent {
	return &RemoteEvent{
		ID:            e.ExternalID,
		Summary:       e.Title,
		Description:   e.Description,
		Location:      e.Location,
		Start:         e.Start,
		End:           e.End,
		Status:        "confirmed",
		SourceEventID: e.SourceEventID,
	}
}
