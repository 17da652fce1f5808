package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
)

const (
	prodID           = "-//calblock//calblock//EN"
	sourceEventXProp = "X-CALBLOCK-SOURCE"
)

// CalDAVCalendar talks to one CalDAV server. Calendar ids are collection URLs.
type CalDAVCalendar struct {
	client    *caldav.Client
	serverURL string
}

var _ RemoteCalendar = (*CalDAVCalendar)(nil)

// NewCalDAVCalendar connects to serverURL and checks that it answers.
func NewCalDAVCalendar(ctx context.Context, serverURL, username, password string) (*CalDAVCalendar, error) {
	baseURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, fmt.Errorf("invalid CalDAV server URL: %w", err)
	}

	var httpClient webdav.HTTPClient = http.DefaultClient
	if username != "" && password != "" {
		httpClient = webdav.HTTPClientWithBasicAuth(httpClient, username, password)
	}

	c, err := caldav.NewClient(httpClient, baseURL.String())
	if err != nil {
		return nil, fmt.Errorf("failed to create CalDAV client: %w", err)
	}

	// empty path is the server root
	if _, err := c.FindCalendars(ctx, ""); err != nil {
		return nil, fmt.Errorf("failed to connect to CalDAV server: %w", err)
	}

	return &CalDAVCalendar{client: c, serverURL: serverURL}, nil
}

func (c *CalDAVCalendar) GetCalendar(ctx context.Context, calendarID string) error {
	calPath, err := collectionPath(calendarID)
	if err != nil {
		return err
	}

	homeSetPath := "/"
	parts := strings.Split(strings.TrimRight(calPath, "/"), "/")
	if len(parts) > 1 {
		homeSetPath = strings.Join(parts[:len(parts)-1], "/") + "/"
	}

	calendars, err := c.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return fmt.Errorf("failed to find calendars: %w", err)
	}
	for _, cal := range calendars {
		if strings.TrimRight(cal.Path, "/") == strings.TrimRight(calPath, "/") {
			return nil
		}
	}
	return fmt.Errorf("calendar at path %s: %s", calPath, http.StatusText(http.StatusNotFound))
}

func (c *CalDAVCalendar) AddEvent(ctx context.Context, calendarID string, event *RemoteEvent) (string, error) {
	calPath, err := collectionPath(calendarID)
	if err != nil {
		return "", err
	}

	uid := "calblock-" + uuid.NewString()
	if _, err := c.client.PutCalendarObject(ctx, objectPath(calPath, uid), newICalCalendar(uid, event)); err != nil {
		return "", fmt.Errorf("failed to create event: %w", err)
	}
	return uid, nil
}

func (c *CalDAVCalendar) UpdateEvent(ctx context.Context, calendarID, eventID string, event *RemoteEvent) error {
	calPath, err := collectionPath(calendarID)
	if err != nil {
		return err
	}
	if _, err := c.client.PutCalendarObject(ctx, objectPath(calPath, eventID), newICalCalendar(eventID, event)); err != nil {
		return fmt.Errorf("failed to update event: %w", err)
	}
	return nil
}

func (c *CalDAVCalendar) DeleteEvent(ctx context.Context, calendarID, eventID string) error {
	calPath, err := collectionPath(calendarID)
	if err != nil {
		return err
	}
	if err := c.client.Client.RemoveAll(ctx, objectPath(calPath, eventID)); err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	return nil
}

func (c *CalDAVCalendar) ListEvents(ctx context.Context, calendarID string, timeMin, timeMax time.Time) ([]*RemoteEvent, error) {
	calPath, err := collectionPath(calendarID)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			Comps: []caldav.CalendarCompRequest{{
				Name:     "VEVENT",
				AllProps: true,
			}},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: timeMin,
				End:   timeMax,
			}},
		},
	}

	objects, err := c.client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	var result []*RemoteEvent
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, comp := range obj.Data.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			result = append(result, fromICalEvent(comp))
		}
	}
	return result, nil
}

func collectionPath(calendarID string) (string, error) {
	calURL, err := url.Parse(calendarID)
	if err != nil {
		return "", fmt.Errorf("invalid calendar URL: %w", err)
	}
	return calURL.Path, nil
}

func objectPath(calPath, uid string) string {
	return strings.TrimRight(calPath, "/") + "/" + uid + ".ics"
}

func newICalCalendar(uid string, event *RemoteEvent) *ical.Calendar {
	ev := ical.NewEvent()
	ev.Props.SetText(ical.PropUID, uid)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	ev.Props.SetText(ical.PropSummary, event.Summary)
	if event.Description != "" {
		ev.Props.SetText(ical.PropDescription, event.Description)
	}
	if event.Location != "" {
		ev.Props.SetText(ical.PropLocation, event.Location)
	}
	ev.Props.SetDateTime(ical.PropDateTimeStart, event.Start.UTC())
	ev.Props.SetDateTime(ical.PropDateTimeEnd, event.End.UTC())
	status := "CONFIRMED"
	if event.Status != "" {
		status = strings.ToUpper(event.Status)
	}
	ev.Props.SetText(ical.PropStatus, status)
	if event.SourceEventID != "" {
		ev.Props.SetText(sourceEventXProp, event.SourceEventID)
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Children = append(cal.Children, ev.Component)
	return cal
}

func fromICalEvent(comp *ical.Component) *RemoteEvent {
	status := strings.ToLower(textProp(comp.Props, ical.PropStatus))
	if status == "" {
		status = "confirmed"
	}
	start, _ := comp.Props.DateTime(ical.PropDateTimeStart, time.UTC)
	end, _ := comp.Props.DateTime(ical.PropDateTimeEnd, time.UTC)
	return &RemoteEvent{
		ID:            textProp(comp.Props, ical.PropUID),
		Summary:       textProp(comp.Props, ical.PropSummary),
		Description:   textProp(comp.Props, ical.PropDescription),
		Location:      textProp(comp.Props, ical.PropLocation),
		Start:         start,
		End:           end,
		Status:        status,
		SourceEventID: textProp(comp.Props, sourceEventXProp),
	}
}

func textProp(props ical.Props, name string) string {
	prop := props.Get(name)
	if prop == nil {
		return ""
	}
	return prop.Value
}
