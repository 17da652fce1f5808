// Package events persists calendars and their events in SQLite.
package events

import (
	"context"
	"time"

	"github.com/bobuk/calblock/internal/model"
)

// Store persists Calendar and CalendarEvent records.
type Store interface {
	CreateCalendar(ctx context.Context, c model.Calendar) (model.Calendar, error)
	UpdateCalendar(ctx context.Context, c model.Calendar) error
	GetCalendar(ctx context.Context, id string) (*model.Calendar, error)
	ListCalendars(ctx context.Context) ([]model.Calendar, error)
	GetCalendarLookup(ctx context.Context) (map[string]model.Calendar, error)
	DeleteCalendar(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, e model.CalendarEvent) (model.CalendarEvent, error)
	UpdateEvent(ctx context.Context, e model.CalendarEvent) error
	DeleteEvent(ctx context.Context, id string) error
	GetEventByID(ctx context.Context, id string) (*model.CalendarEvent, error)
	GetEventByExternalID(ctx context.Context, calendarID, externalID string) (*model.CalendarEvent, error)
	GetEventsInRange(ctx context.Context, start, end time.Time, calendarID string) ([]model.CalendarEvent, error)
	ListEventIDsByCalendar(ctx context.Context, calendarID string) ([]string, error)
	ListBlockingEvents(ctx context.Context) ([]model.CalendarEvent, error)
}
