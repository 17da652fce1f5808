package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/bobuk/calblock/internal/model"
)

// LocalProvider stores events directly in the local event store.
type LocalProvider struct {
	store EventStore
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider creates a provider backed by store.
func NewLocalProvider(store EventStore) *LocalProvider {
	return &LocalProvider{store: store}
}

func (p *LocalProvider) CreateEvent(ctx context.Context, calendarID string, evt model.CalendarEvent) (model.CalendarEvent, error) {
	evt.CalendarID = calendarID
	return p.store.CreateEvent(ctx, evt)
}

func (p *LocalProvider) UpdateEvent(ctx context.Context, calendarID string, evt model.CalendarEvent) (model.CalendarEvent, error) {
	existing, err := p.store.GetEventByID(ctx, evt.ID)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if existing == nil || existing.CalendarID != calendarID {
		return model.CalendarEvent{}, model.NewNotFound("event", evt.ID)
	}
	evt.CalendarID = calendarID
	if err := p.store.UpdateEvent(ctx, evt); err != nil {
		return model.CalendarEvent{}, err
	}
	evt.Start, evt.End = evt.Start.UTC(), evt.End.UTC()
	return evt, nil
}

func (p *LocalProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	existing, err := p.store.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}
	if existing.CalendarID != calendarID {
		return fmt.Errorf("event %s belongs to calendar %s, not %s", eventID, existing.CalendarID, calendarID)
	}
	return p.store.DeleteEvent(ctx, eventID)
}

func (p *LocalProvider) GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	return p.store.GetEventsInRange(ctx, start, end, calendarID)
}
