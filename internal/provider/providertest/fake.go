// Package providertest provides an in-memory RemoteCalendar for tests.
package providertest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/bobuk/calblock/internal/provider"
)

// Remote is an in-memory RemoteCalendar. Calendars spring into existence on
// first write; GetCalendar only succeeds for calendars named in Calendars.
type Remote struct {
	mu        sync.Mutex
	nextID    int
	events    map[string]map[string]provider.RemoteEvent
	calendars map[string]bool
	failures  map[string]error
	delay     time.Duration
	calls     map[string]int
}

var _ provider.RemoteCalendar = (*Remote)(nil)

// NewRemote creates a fake that knows the given remote calendar ids.
func NewRemote(calendars ...string) *Remote {
	r := &Remote{
		events:    make(map[string]map[string]provider.RemoteEvent),
		calendars: make(map[string]bool),
		failures:  make(map[string]error),
		calls:     make(map[string]int),
	}
	for _, c := range calendars {
		r.calendars[c] = true
	}
	return r
}

// Fail makes every call of op ("add", "update", "delete", "list", "get")
// against remoteCalendarID return err. A nil err clears the failure.
func (r *Remote) Fail(op, remoteCalendarID string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := op + "/" + remoteCalendarID
	if err == nil {
		delete(r.failures, key)
		return
	}
	r.failures[key] = err
}

// Delay makes every call wait d or until its context is done.
func (r *Remote) Delay(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delay = d
}

// Calls returns how many times op was invoked.
func (r *Remote) Calls(op string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[op]
}

// Events returns the events stored in a remote calendar ordered by id.
func (r *Remote) Events(remoteCalendarID string) []provider.RemoteEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]provider.RemoteEvent, 0, len(r.events[remoteCalendarID]))
	for _, e := range r.events[remoteCalendarID] {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Put stores an event as if it had been created outside this tool.
func (r *Remote) Put(remoteCalendarID string, e provider.RemoteEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bucket(remoteCalendarID)[e.ID] = e
}

// NotFound is the error the Google API returns for a missing resource.
func NotFound() error {
	return &googleapi.Error{Code: http.StatusNotFound, Message: "Not Found"}
}

// Unavailable is the error the Google API returns when the service is down.
func Unavailable() error {
	return &googleapi.Error{Code: http.StatusServiceUnavailable, Message: "Backend Error"}
}

func (r *Remote) bucket(cal string) map[string]provider.RemoteEvent {
	b, ok := r.events[cal]
	if !ok {
		b = make(map[string]provider.RemoteEvent)
		r.events[cal] = b
	}
	return b
}

func (r *Remote) enter(ctx context.Context, op, cal string) error {
	r.mu.Lock()
	r.calls[op]++
	delay := r.delay
	err := r.failures[op+"/"+cal]
	r.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func (r *Remote) GetCalendar(ctx context.Context, cal string) error {
	if err := r.enter(ctx, "get", cal); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.calendars[cal] {
		return NotFound()
	}
	return nil
}

func (r *Remote) AddEvent(ctx context.Context, cal string, event *provider.RemoteEvent) (string, error) {
	if err := r.enter(ctx, "add", cal); err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e := *event
	e.ID = fmt.Sprintf("remote-%03d", r.nextID)
	r.bucket(cal)[e.ID] = e
	return e.ID, nil
}

func (r *Remote) UpdateEvent(ctx context.Context, cal, eventID string, event *provider.RemoteEvent) error {
	if err := r.enter(ctx, "update", cal); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucket(cal)
	if _, ok := b[eventID]; !ok {
		return NotFound()
	}
	e := *event
	e.ID = eventID
	b[eventID] = e
	return nil
}

func (r *Remote) DeleteEvent(ctx context.Context, cal, eventID string) error {
	if err := r.enter(ctx, "delete", cal); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.bucket(cal)
	if _, ok := b[eventID]; !ok {
		return &googleapi.Error{Code: http.StatusGone, Message: "Resource has been deleted"}
	}
	delete(b, eventID)
	return nil
}

func (r *Remote) ListEvents(ctx context.Context, cal string, timeMin, timeMax time.Time) ([]*provider.RemoteEvent, error) {
	if err := r.enter(ctx, "list", cal); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*provider.RemoteEvent
	for _, e := range r.bucket(cal) {
		if e.Start.Before(timeMax) && e.End.After(timeMin) {
			e := e
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}
