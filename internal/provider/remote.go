package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bobuk/calblock/internal/logging"
	"github.com/bobuk/calblock/internal/model"
)

// DefaultTimeout bounds a single call to a remote calendar service.
const DefaultTimeout = 30 * time.Second

// RemoteProvider writes events to a RemoteCalendar and records them in the
// local store, keyed by the remote id, so range queries and mirror lookups
// work without a round trip.
type RemoteProvider struct {
	cal     model.Calendar
	backend RemoteCalendar
	store   EventStore
	timeout time.Duration
	logger  *slog.Logger
}

var _ Provider = (*RemoteProvider)(nil)

// NewRemoteProvider binds a backend to one registered calendar.
func NewRemoteProvider(cal model.Calendar, backend RemoteCalendar, store EventStore, timeout time.Duration, logger *slog.Logger) *RemoteProvider {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteProvider{
		cal:     cal,
		backend: backend,
		store:   store,
		timeout: timeout,
		logger:  logging.WithCalendar(logger, cal.ID),
	}
}

func (p *RemoteProvider) checkCalendar(calendarID string) error {
	if calendarID != p.cal.ID {
		return fmt.Errorf("provider for calendar %s cannot serve calendar %s", p.cal.ID, calendarID)
	}
	return nil
}

func (p *RemoteProvider) CreateEvent(ctx context.Context, calendarID string, evt model.CalendarEvent) (model.CalendarEvent, error) {
	if err := p.checkCalendar(calendarID); err != nil {
		return model.CalendarEvent{}, err
	}
	evt.CalendarID = calendarID
	if err := evt.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	externalID, err := p.backend.AddEvent(callCtx, p.cal.RemoteID, toRemoteEvent(evt))
	cancel()
	if err != nil {
		return model.CalendarEvent{}, p.classify(err)
	}

	evt.ExternalID = externalID
	stored, err := p.store.CreateEvent(ctx, evt)
	if err != nil {
		// The remote write landed but cannot be tracked; take it back out.
		undoCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
		defer cancel()
		if undoErr := p.backend.DeleteEvent(undoCtx, p.cal.RemoteID, externalID); undoErr != nil {
			p.logger.Warn("remote event left untracked",
				logging.Operation("create"), slog.String("external_id", externalID), logging.Err(undoErr))
		}
		return model.CalendarEvent{}, err
	}
	return stored, nil
}

func (p *RemoteProvider) UpdateEvent(ctx context.Context, calendarID string, evt model.CalendarEvent) (model.CalendarEvent, error) {
	if err := p.checkCalendar(calendarID); err != nil {
		return model.CalendarEvent{}, err
	}
	existing, err := p.store.GetEventByID(ctx, evt.ID)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if existing == nil || existing.CalendarID != calendarID {
		return model.CalendarEvent{}, model.NewNotFound("event", evt.ID)
	}
	evt.CalendarID = calendarID
	evt.ExternalID = existing.ExternalID
	if err := evt.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	err = p.backend.UpdateEvent(callCtx, p.cal.RemoteID, evt.ExternalID, toRemoteEvent(evt))
	cancel()
	if err != nil {
		return model.CalendarEvent{}, p.classify(err)
	}

	if err := p.store.UpdateEvent(ctx, evt); err != nil {
		return model.CalendarEvent{}, err
	}
	evt.Start, evt.End = evt.Start.UTC(), evt.End.UTC()
	return evt, nil
}

func (p *RemoteProvider) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := p.checkCalendar(calendarID); err != nil {
		return err
	}
	existing, err := p.store.GetEventByID(ctx, eventID)
	if err != nil {
		return err
	}
	if existing == nil {
		return nil
	}

	if existing.ExternalID != "" {
		callCtx, cancel := context.WithTimeout(ctx, p.timeout)
		err := p.backend.DeleteEvent(callCtx, p.cal.RemoteID, existing.ExternalID)
		cancel()
		if err := p.classify(err); err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}
	}
	return p.store.DeleteEvent(ctx, eventID)
}

// GetEvents lists events from the remote service. Events this tool created
// carry their local id; foreign events only carry ExternalID.
func (p *RemoteProvider) GetEvents(ctx context.Context, calendarID string, start, end time.Time) ([]model.CalendarEvent, error) {
	if err := p.checkCalendar(calendarID); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	remote, err := p.backend.ListEvents(callCtx, p.cal.RemoteID, start, end)
	cancel()
	if err != nil {
		return nil, p.classify(err)
	}

	out := make([]model.CalendarEvent, 0, len(remote))
	for _, r := range remote {
		if r.Status == "cancelled" {
			continue
		}
		evt := model.CalendarEvent{
			CalendarID:  calendarID,
			Title:       r.Summary,
			Description: r.Description,
			Location:    r.Location,
			Start:       r.Start.UTC(),
			End:         r.End.UTC(),
			ExternalID:  r.ID,
		}
		// services may include events that only touch the range
		if !evt.Overlaps(start, end) {
			continue
		}
		known, err := p.store.GetEventByExternalID(ctx, calendarID, r.ID)
		if err != nil {
			return nil, err
		}
		if known != nil {
			evt.ID = known.ID
			evt.IsBlockingEvent = known.IsBlockingEvent
			evt.SourceEventID = known.SourceEventID
		}
		out = append(out, evt)
	}
	return out, nil
}

func (p *RemoteProvider) classify(err error) error {
	return Classify(string(p.cal.Kind), p.cal.ID, err)
}
