package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"
)

const sourceEventProperty = "calblock_source_event_id"

// GoogleCalendar talks to the Google Calendar API for one account.
type GoogleCalendar struct {
	service *calendar.Service
}

var _ RemoteCalendar = (*GoogleCalendar)(nil)

// NewGoogleCalendar creates a backend using an authorized HTTP client.
func NewGoogleCalendar(ctx context.Context, client *http.Client, opts ...option.ClientOption) (*GoogleCalendar, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &GoogleCalendar{service: service}, nil
}

func (g *GoogleCalendar) GetCalendar(ctx context.Context, calendarID string) error {
	if _, err := g.service.CalendarList.Get(calendarID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to get calendar: %w", err)
	}
	return nil
}

func (g *GoogleCalendar) AddEvent(ctx context.Context, calendarID string, event *RemoteEvent) (string, error) {
	created, err := g.service.Events.Insert(calendarID, toGoogleEvent(event)).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return created.Id, nil
}

func (g *GoogleCalendar) UpdateEvent(ctx context.Context, calendarID, eventID string, event *RemoteEvent) error {
	if _, err := g.service.Events.Update(calendarID, eventID, toGoogleEvent(event)).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

func (g *GoogleCalendar) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	if err := g.service.Events.Delete(calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (g *GoogleCalendar) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*RemoteEvent, error) {
	var result []*RemoteEvent
	pageToken := ""
	for {
		call := g.service.Events.List(calendarID).
			TimeMin(timeMin.Format(time.RFC3339)).
			TimeMax(timeMax.Format(time.RFC3339)).
			SingleEvents(true).
			OrderBy("startTime").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		events, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		for _, item := range events.Items {
			result = append(result, fromGoogleEvent(item))
		}
		pageToken = events.NextPageToken
		if pageToken == "" {
			return result, nil
		}
	}
}

func toGoogleEvent(event *RemoteEvent) *calendar.Event {
	ge := &calendar.Event{
		Summary:     event.Summary,
		Description: event.Description,
		Location:    event.Location,
		Start:       &calendar.EventDateTime{DateTime: event.Start.Format(time.RFC3339)},
		End:         &calendar.EventDateTime{DateTime: event.End.Format(time.RFC3339)},
		Status:      event.Status,
	}
	if event.SourceEventID != "" {
		ge.Transparency = "opaque"
		ge.ExtendedProperties = &calendar.EventExtendedProperties{
			Private: map[string]string{sourceEventProperty: event.SourceEventID},
		}
	}
	return ge
}

func fromGoogleEvent(item *calendar.Event) *RemoteEvent {
	if item == nil {
		return &RemoteEvent{}
	}
	ev := &RemoteEvent{
		ID:          item.Id,
		Summary:     item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Start:       parseGoogleTime(item.Start),
		End:         parseGoogleTime(item.End),
		Status:      item.Status,
	}
	if item.ExtendedProperties != nil {
		ev.SourceEventID = item.ExtendedProperties.Private[sourceEventProperty]
	}
	return ev
}

// parseGoogleTime reads a timed or all-day boundary.
func parseGoogleTime(dt *calendar.EventDateTime) time.Time {
	if dt == nil {
		return time.Time{}
	}
	if dt.DateTime != "" {
		t, _ := time.Parse(time.RFC3339, dt.DateTime)
		return t
	}
	t, _ := time.Parse("2006-01-02", dt.Date)
	return t
}
