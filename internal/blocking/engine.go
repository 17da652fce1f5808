// Package blocking mirrors events from blocking-enabled calendars onto every
// calendar that receives blocks, and keeps the source-to-mirror bookkeeping
// consistent through updates, deletes and calendar removal.
//
// Writes to a source event are never degraded: if the source calendar's
// provider fails, the operation fails. Mirror writes are best-effort; their
// failures come back in a Report next to the stored source event.
package blocking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bobuk/calblock/internal/config"
	"github.com/bobuk/calblock/internal/logging"
	"github.com/bobuk/calblock/internal/model"
	"github.com/bobuk/calblock/internal/provider"
	relstore "github.com/bobuk/calblock/internal/storage/blocking"
	"github.com/bobuk/calblock/internal/storage/events"
	"github.com/bobuk/calblock/internal/storage/uow"
)

const (
	opCreate         = "create"
	opUpdate         = "update"
	opDelete         = "delete"
	opDeleteCalendar = "delete_calendar"
	opDesync         = "desync"
	opRepair         = "repair"
)

// ProviderSource resolves the provider serving a calendar.
type ProviderSource interface {
	For(ctx context.Context, cal model.Calendar) (provider.Provider, error)
}

// accessValidator is implemented by provider sources that can check a remote
// calendar before it is registered.
type accessValidator interface {
	ValidateCalendarAccess(ctx context.Context, cal model.Calendar) error
}

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	// TitlePrefix marks mirror titles, e.g. "O_o Standup".
	TitlePrefix string
	// FanOut bounds concurrent mirror writes per operation.
	FanOut  int
	Logger  *slog.Logger
	Metrics *Metrics
}

// Engine is the only writer of blocking relationships and mirror events.
type Engine struct {
	events    events.Store
	relations relstore.Store
	tx        uow.Transactor
	providers ProviderSource

	locks   *keyedMutex
	prefix  string
	fanOut  int
	logger  *slog.Logger
	metrics *Metrics
}

// New creates an Engine. All dependencies are required; opts may be zero.
func New(evs events.Store, relations relstore.Store, tx uow.Transactor, providers ProviderSource, opts Options) *Engine {
	if opts.TitlePrefix == "" {
		opts.TitlePrefix = config.DefaultTitlePrefix
	}
	if opts.FanOut <= 0 {
		opts.FanOut = config.DefaultFanOut
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		events:    evs,
		relations: relations,
		tx:        tx,
		providers: providers,
		locks:     newKeyedMutex(),
		prefix:    opts.TitlePrefix,
		fanOut:    opts.FanOut,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// CreateEventWithBlocking writes evt to calendarID and, when that calendar
// has blocking enabled, a mirror onto every other calendar that receives
// blocks. User input cannot create mirrors: IsBlockingEvent and
// SourceEventID are cleared.
func (e *Engine) CreateEventWithBlocking(ctx context.Context, calendarID string, evt model.CalendarEvent) (res Result, err error) {
	defer e.finish(opCreate, time.Now(), &res.Report, &err)

	src, err := e.calendar(ctx, calendarID)
	if err != nil {
		return res, err
	}

	evt.CalendarID = calendarID
	evt.IsBlockingEvent = false
	evt.SourceEventID = ""
	evt.ExternalID = ""
	if evt.ID == "" {
		evt.ID = uuid.NewString()
	}
	if err := evt.Validate(); err != nil {
		return res, err
	}

	unlock, err := e.locks.lock(ctx, evt.ID)
	if err != nil {
		return res, err
	}
	defer unlock()

	p, err := e.providerFor(ctx, src)
	if err != nil {
		return res, err
	}
	stored, err := p.CreateEvent(ctx, calendarID, evt)
	if err != nil {
		return res, fmt.Errorf("create event on calendar %s: %w", calendarID, err)
	}
	res.Event = stored

	logger := e.logger.With(logging.Operation(opCreate), logging.Calendar(calendarID), logging.Event(stored.ID))
	if !src.EnableBlocking {
		logger.Debug("blocking disabled for calendar")
		return res, nil
	}

	// The source event is committed from here on.
	persist := context.WithoutCancel(ctx)
	targets, err := e.targets(persist, calendarID)
	if err != nil {
		res.Report.fail("", "", fmt.Errorf("list blocking targets: %w", err))
		return res, nil
	}
	if len(targets) == 0 {
		logger.Debug("no calendars receive blocks")
		return res, nil
	}

	blocked := make([]model.BlockedEvent, len(targets))
	errs := e.fanOutEach(ctx, len(targets), func(ctx context.Context, i int) error {
		target := targets[i]
		tp, err := e.providerFor(ctx, target)
		if err != nil {
			return err
		}
		mirror, err := tp.CreateEvent(ctx, target.ID, e.mirrorOf(stored, target.ID))
		if err != nil {
			return err
		}
		blocked[i] = model.BlockedEvent{TargetCalendarID: target.ID, TargetEventID: mirror.ID}
		return nil
	})

	rel := model.BlockingRelationship{SourceCalendarID: calendarID, SourceEventID: stored.ID}
	for i, err := range errs {
		e.metrics.mirror(opCreate, err)
		if err != nil {
			res.Report.fail(targets[i].ID, "", err)
			logger.Warn("mirror not created", logging.Target(targets[i].ID), logging.Err(err))
			continue
		}
		rel.BlockedEvents = append(rel.BlockedEvents, blocked[i])
	}
	if len(rel.BlockedEvents) == 0 {
		return res, nil
	}

	if _, err := e.relations.Save(persist, rel); err != nil {
		// Untracked mirrors could never be updated or removed; take them back.
		logger.Error("blocking relationship not saved, removing mirrors", logging.Err(err))
		lookup := make(map[string]model.Calendar, len(targets))
		for _, t := range targets {
			lookup[t.ID] = t
		}
		for _, b := range rel.BlockedEvents {
			res.Report.fail(b.TargetCalendarID, b.TargetEventID, err)
			if delErr := e.deleteMirror(persist, b, lookup); delErr != nil {
				logger.Warn("mirror left orphaned", logging.Target(b.TargetCalendarID), logging.Event(b.TargetEventID), logging.Err(delErr))
			}
		}
		return res, nil
	}

	logger.Info("mirrors created", slog.Int("mirrors", len(rel.BlockedEvents)), slog.Int("failed", len(res.Report.Failures)))
	return res, nil
}

// UpdateEventWithBlocking replaces an event and copies its title and times
// onto the mirrors recorded when it was created. The set of target
// calendars is not recomputed.
func (e *Engine) UpdateEventWithBlocking(ctx context.Context, calendarID string, evt model.CalendarEvent) (res Result, err error) {
	defer e.finish(opUpdate, time.Now(), &res.Report, &err)

	if evt.ID == "" {
		return res, errors.Join(model.ErrInvalidEvent, errors.New("event id is required"))
	}
	unlock, err := e.locks.lock(ctx, evt.ID)
	if err != nil {
		return res, err
	}
	defer unlock()

	src, err := e.calendar(ctx, calendarID)
	if err != nil {
		return res, err
	}
	existing, err := e.events.GetEventByID(ctx, evt.ID)
	if err != nil {
		return res, err
	}
	if existing == nil || existing.CalendarID != calendarID {
		return res, model.NewNotFound("event", evt.ID)
	}
	if existing.IsBlockingEvent {
		return res, fmt.Errorf("update event %s: %w", evt.ID, model.ErrEngineOwned)
	}

	evt.CalendarID = calendarID
	evt.IsBlockingEvent = false
	evt.SourceEventID = ""
	evt.ExternalID = existing.ExternalID

	p, err := e.providerFor(ctx, src)
	if err != nil {
		return res, err
	}
	stored, err := p.UpdateEvent(ctx, calendarID, evt)
	if err != nil {
		return res, fmt.Errorf("update event %s: %w", evt.ID, err)
	}
	res.Event = stored

	logger := e.logger.With(logging.Operation(opUpdate), logging.Calendar(calendarID), logging.Event(stored.ID))
	persist := context.WithoutCancel(ctx)
	rel, err := e.relations.GetBySourceEventID(persist, stored.ID)
	if err != nil {
		res.Report.fail("", "", fmt.Errorf("load blocking relationship: %w", err))
		return res, nil
	}
	if rel == nil {
		return res, nil
	}
	lookup, err := e.events.GetCalendarLookup(persist)
	if err != nil {
		res.Report.fail("", "", fmt.Errorf("load calendars: %w", err))
		return res, nil
	}

	skipped := make([]string, len(rel.BlockedEvents))
	errs := e.fanOutEach(ctx, len(rel.BlockedEvents), func(ctx context.Context, i int) error {
		b := rel.BlockedEvents[i]
		target, ok := lookup[b.TargetCalendarID]
		if !ok {
			skipped[i] = "target calendar no longer exists"
			return nil
		}
		mirror, err := e.events.GetEventByID(ctx, b.TargetEventID)
		if err != nil {
			return err
		}
		if mirror == nil {
			skipped[i] = "mirror no longer exists"
			return nil
		}
		mirror.Title = e.mirrorTitle(stored.Title)
		mirror.Start = stored.Start
		mirror.End = stored.End

		tp, err := e.providerFor(ctx, target)
		if err != nil {
			return err
		}
		_, err = tp.UpdateEvent(ctx, target.ID, *mirror)
		if errors.Is(err, model.ErrNotFound) {
			skipped[i] = "mirror missing from target calendar"
			return nil
		}
		return err
	})

	for i, err := range errs {
		b := rel.BlockedEvents[i]
		switch {
		case err != nil:
			e.metrics.mirror(opUpdate, err)
			res.Report.fail(b.TargetCalendarID, b.TargetEventID, err)
			logger.Warn("mirror not updated", logging.Target(b.TargetCalendarID), logging.Event(b.TargetEventID), logging.Err(err))
		case skipped[i] != "":
			res.Report.skip(rel.ID, b.TargetEventID, skipped[i])
			logger.Warn("mirror skipped", logging.Target(b.TargetCalendarID), slog.String("reason", skipped[i]))
		default:
			e.metrics.mirror(opUpdate, nil)
		}
	}
	return res, nil
}

// DeleteEventWithBlocking removes the event's mirrors, its relationship and
// then the event. Deleting an event that is already gone is not an error.
// Mirrors that could not be removed stay recorded for a later Repair.
func (e *Engine) DeleteEventWithBlocking(ctx context.Context, calendarID, eventID string) (rep *Report, err error) {
	rep = &Report{}
	defer e.finish(opDelete, time.Now(), rep, &err)

	unlock, err := e.locks.lock(ctx, eventID)
	if err != nil {
		return rep, err
	}
	defer unlock()

	src, err := e.calendar(ctx, calendarID)
	if err != nil {
		return rep, err
	}
	existing, err := e.events.GetEventByID(ctx, eventID)
	if err != nil {
		return rep, err
	}
	if existing != nil {
		if existing.CalendarID != calendarID {
			return rep, model.NewNotFound("event", eventID)
		}
		if existing.IsBlockingEvent {
			return rep, fmt.Errorf("delete event %s: %w", eventID, model.ErrEngineOwned)
		}
	}

	rel, err := e.relations.GetBySourceEventID(ctx, eventID)
	if err != nil {
		return rep, err
	}
	if rel != nil && existing == nil && rel.SourceCalendarID != calendarID {
		return rep, model.NewNotFound("event", eventID)
	}
	if rel != nil {
		lookup, err := e.events.GetCalendarLookup(ctx)
		if err != nil {
			return rep, err
		}
		if err := e.dropMirrors(ctx, *rel, lookup, opDelete, rep); err != nil {
			return rep, fmt.Errorf("remove blocking relationship: %w", err)
		}
	}

	if existing == nil {
		return rep, nil
	}
	p, err := e.providerFor(ctx, src)
	if err != nil {
		return rep, err
	}
	if err := p.DeleteEvent(ctx, calendarID, eventID); err != nil {
		return rep, fmt.Errorf("delete event %s: %w", eventID, err)
	}
	return rep, nil
}

// DeleteCalendar removes a calendar with everything the engine tracks for
// it: mirrors its events produced on other calendars, mirrors living on it,
// and the relationship rows for both. The bookkeeping and the calendar's
// events go in one transaction.
//
// Mirrors held by a remote calendar exist in the external service, and
// nothing would record them once the calendar is gone. If any of them cannot
// be removed the calendar is kept, the failures are reported and the call
// fails; the mirrors that were removed are forgotten.
func (e *Engine) DeleteCalendar(ctx context.Context, calendarID string) (rep *Report, err error) {
	rep = &Report{}
	defer e.finish(opDeleteCalendar, time.Now(), rep, &err)

	cal, err := e.calendar(ctx, calendarID)
	if err != nil {
		return rep, err
	}
	lookup, err := e.events.GetCalendarLookup(ctx)
	if err != nil {
		return rep, err
	}
	logger := e.logger.With(logging.Operation(opDeleteCalendar), logging.Calendar(calendarID))

	if cal.Kind.IsRemote() {
		if err := e.dropInboundMirrors(ctx, calendarID, lookup, rep, logger); err != nil {
			return rep, err
		}
		if len(rep.Failures) > 0 {
			return rep, fmt.Errorf("delete calendar %s: %d mirrors on it could not be removed: %w",
				calendarID, len(rep.Failures), rep.Err())
		}
	}

	eventIDs, err := e.events.ListEventIDsByCalendar(ctx, calendarID)
	if err != nil {
		return rep, err
	}
	rels, err := e.relations.FindByCalendarOrEventIDs(ctx, calendarID, eventIDs)
	if err != nil {
		return rep, err
	}

	// Mirrors on other calendars that cannot be removed stay stored as
	// blocking events there, so Repair finds them as orphans later.
	var mirrors []model.BlockedEvent
	for _, rel := range rels {
		for _, b := range rel.BlockedEvents {
			if b.TargetCalendarID != calendarID {
				mirrors = append(mirrors, b)
			}
		}
	}
	errs := e.fanOutEach(ctx, len(mirrors), func(ctx context.Context, i int) error {
		return e.deleteMirror(ctx, mirrors[i], lookup)
	})
	for i, err := range errs {
		e.metrics.mirror(opDeleteCalendar, err)
		if err != nil {
			rep.fail(mirrors[i].TargetCalendarID, mirrors[i].TargetEventID, err)
			logger.Warn("mirror not removed", logging.Target(mirrors[i].TargetCalendarID), logging.Event(mirrors[i].TargetEventID), logging.Err(err))
			continue
		}
		rep.Removed++
	}

	persist := context.WithoutCancel(ctx)
	err = e.tx.WithinTx(persist, func(s uow.Stores) error {
		for _, rel := range rels {
			if err := s.Blocking.Delete(persist, rel); err != nil {
				return err
			}
		}
		if _, err := s.Blocking.DeleteBlockedEventsByTargetCalendar(persist, calendarID); err != nil {
			return err
		}
		if _, err := s.Blocking.DeleteEmpty(persist); err != nil {
			return err
		}
		return s.Events.DeleteCalendar(persist, calendarID)
	})
	if err != nil {
		return rep, fmt.Errorf("delete calendar %s: %w", calendarID, err)
	}
	logger.Info("calendar deleted", slog.Int("relationships", len(rels)), slog.Int("mirrors_removed", rep.Removed))
	return rep, nil
}

// dropInboundMirrors removes the mirrors living on a remote calendar from the
// service. Rows of removed mirrors are deleted; failed ones stay recorded.
func (e *Engine) dropInboundMirrors(ctx context.Context, calendarID string, lookup map[string]model.Calendar, rep *Report, logger *slog.Logger) error {
	inbound, err := e.relations.ListBlockedEventsByTargetCalendar(ctx, calendarID)
	if err != nil {
		return err
	}
	errs := e.fanOutEach(ctx, len(inbound), func(ctx context.Context, i int) error {
		return e.deleteMirror(ctx, inbound[i], lookup)
	})

	persist := context.WithoutCancel(ctx)
	return e.tx.WithinTx(persist, func(s uow.Stores) error {
		for i, err := range errs {
			b := inbound[i]
			e.metrics.mirror(opDeleteCalendar, err)
			if err != nil {
				rep.fail(b.TargetCalendarID, b.TargetEventID, err)
				logger.Warn("mirror not removed", logging.Target(b.TargetCalendarID), logging.Event(b.TargetEventID), logging.Err(err))
				continue
			}
			rep.Removed++
			if err := s.Blocking.RemoveBlockedEvent(persist, b.ID); err != nil {
				return err
			}
		}
		_, err := s.Blocking.DeleteEmpty(persist)
		return err
	})
}

// AddCalendar registers a calendar, checking remote access first.
func (e *Engine) AddCalendar(ctx context.Context, cal model.Calendar) (model.Calendar, error) {
	if err := cal.Validate(); err != nil {
		return model.Calendar{}, err
	}
	if v, ok := e.providers.(accessValidator); ok {
		if err := v.ValidateCalendarAccess(ctx, cal); err != nil {
			return model.Calendar{}, fmt.Errorf("calendar %s is not accessible: %w", cal.Name, err)
		}
	}
	return e.events.CreateCalendar(ctx, cal)
}

// UpdateCalendar changes a calendar's settings. Existing mirrors are left
// as they are.
func (e *Engine) UpdateCalendar(ctx context.Context, cal model.Calendar) error {
	if err := cal.Validate(); err != nil {
		return err
	}
	return e.events.UpdateCalendar(ctx, cal)
}

// Calendar returns one registered calendar.
func (e *Engine) Calendar(ctx context.Context, id string) (model.Calendar, error) {
	return e.calendar(ctx, id)
}

// Event returns an event stored on calendarID.
func (e *Engine) Event(ctx context.Context, calendarID, eventID string) (model.CalendarEvent, error) {
	evt, err := e.events.GetEventByID(ctx, eventID)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if evt == nil || evt.CalendarID != calendarID {
		return model.CalendarEvent{}, model.NewNotFound("event", eventID)
	}
	return *evt, nil
}

// Calendars lists every registered calendar.
func (e *Engine) Calendars(ctx context.Context) ([]model.Calendar, error) {
	return e.events.ListCalendars(ctx)
}

// EventsInRange returns events overlapping [start, end), optionally limited
// to one calendar.
func (e *Engine) EventsInRange(ctx context.Context, start, end time.Time, calendarID string) ([]model.CalendarEvent, error) {
	return e.events.GetEventsInRange(ctx, start, end, calendarID)
}

// dropMirrors removes the relationship's mirrors and then the relationship.
// Mirrors whose removal failed stay recorded in it.
func (e *Engine) dropMirrors(ctx context.Context, rel model.BlockingRelationship, lookup map[string]model.Calendar, op string, rep *Report) error {
	errs := e.fanOutEach(ctx, len(rel.BlockedEvents), func(ctx context.Context, i int) error {
		return e.deleteMirror(ctx, rel.BlockedEvents[i], lookup)
	})

	var kept []model.BlockedEvent
	for i, err := range errs {
		b := rel.BlockedEvents[i]
		e.metrics.mirror(op, err)
		if err != nil {
			rep.fail(b.TargetCalendarID, b.TargetEventID, err)
			e.logger.Warn("mirror not removed", logging.Operation(op), logging.Target(b.TargetCalendarID), logging.Event(b.TargetEventID), logging.Err(err))
			kept = append(kept, b)
			continue
		}
		rep.Removed++
	}

	persist := context.WithoutCancel(ctx)
	if len(kept) == 0 {
		return e.relations.Delete(persist, rel)
	}
	rel.BlockedEvents = kept
	_, err := e.relations.Save(persist, rel)
	return err
}

func (e *Engine) deleteMirror(ctx context.Context, b model.BlockedEvent, lookup map[string]model.Calendar) error {
	target, ok := lookup[b.TargetCalendarID]
	if !ok {
		// the calendar and its events are already gone
		return nil
	}
	p, err := e.providerFor(ctx, target)
	if err != nil {
		return err
	}
	return p.DeleteEvent(ctx, target.ID, b.TargetEventID)
}

// fanOutEach runs fn for indexes [0, n) with at most e.fanOut calls in
// flight. Once ctx is done no new call starts and the remaining indexes get
// ctx's error; calls already started finish with cancellation detached.
func (e *Engine) fanOutEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	detached := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(e.fanOut)
	for i := range n {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			errs[i] = fn(detached, i)
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (e *Engine) calendar(ctx context.Context, id string) (model.Calendar, error) {
	cal, err := e.events.GetCalendar(ctx, id)
	if err != nil {
		return model.Calendar{}, err
	}
	if cal == nil {
		return model.Calendar{}, model.NewNotFound("calendar", id)
	}
	return *cal, nil
}

func (e *Engine) providerFor(ctx context.Context, cal model.Calendar) (provider.Provider, error) {
	p, err := e.providers.For(ctx, cal)
	if err != nil {
		return nil, fmt.Errorf("provider for calendar %s: %w", cal.ID, err)
	}
	return p, nil
}

// targets lists calendars other than sourceID that receive blocks.
func (e *Engine) targets(ctx context.Context, sourceID string) ([]model.Calendar, error) {
	all, err := e.events.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	var out []model.Calendar
	for _, c := range all {
		if c.ID != sourceID && c.ReceiveBlocks {
			out = append(out, c)
		}
	}
	return out, nil
}

// mirrorOf copies only the title and interval of src; descriptions and
// locations stay private to the source calendar.
func (e *Engine) mirrorOf(src model.CalendarEvent, targetCalendarID string) model.CalendarEvent {
	return model.CalendarEvent{
		CalendarID:      targetCalendarID,
		Title:           e.mirrorTitle(src.Title),
		Start:           src.Start,
		End:             src.End,
		IsBlockingEvent: true,
		SourceEventID:   src.ID,
	}
}

func (e *Engine) mirrorTitle(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return e.prefix
	}
	return e.prefix + " " + title
}

func (e *Engine) finish(op string, start time.Time, rep *Report, errp *error) {
	elapsed := time.Since(start)
	result := rep.status()
	if *errp != nil {
		result = logging.StatusError
	}
	e.metrics.operation(op, result, elapsed)

	attrs := []any{logging.Operation(op), logging.Status(result), slog.Duration(logging.KeyDuration, elapsed)}
	switch result {
	case logging.StatusError:
		e.logger.Debug("blocking operation failed", append(attrs, logging.Err(*errp))...)
	case logging.StatusPartial:
		e.logger.Warn("blocking operation finished with mirror failures", append(attrs, slog.Int("failures", len(rep.Failures)))...)
	default:
		e.logger.Debug("blocking operation finished", attrs...)
	}
}
