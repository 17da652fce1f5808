package blocking

import (
	"context"
	"log/slog"
	"time"

	"github.com/bobuk/calblock/internal/logging"
	"github.com/bobuk/calblock/internal/model"
)

// CalendarStats summarises the mirrors held by one calendar.
type CalendarStats struct {
	Calendar model.Calendar
	Mirrors  int
}

// Desync removes every mirror and relationship, leaving source events
// untouched. Mirrors that cannot be removed stay recorded.
func (e *Engine) Desync(ctx context.Context) (rep *Report, err error) {
	rep = &Report{}
	defer e.finish(opDesync, time.Now(), rep, &err)

	rels, err := e.relations.List(ctx)
	if err != nil {
		return rep, err
	}
	lookup, err := e.events.GetCalendarLookup(ctx)
	if err != nil {
		return rep, err
	}

	for _, r := range rels {
		if err := e.withSource(ctx, r.SourceEventID, func(rel model.BlockingRelationship) error {
			return e.dropMirrors(ctx, rel, lookup, opDesync, rep)
		}); err != nil {
			return rep, err
		}
	}
	e.logger.Info("calendars desynced", logging.Operation(opDesync), slog.Int("mirrors_removed", rep.Removed))
	return rep, nil
}

// Repair brings the bookkeeping back in line with the stored events:
// relationships whose source event is gone lose their mirrors, blocked rows
// whose mirror no longer resolves are dropped, and mirror events no
// relationship points at are deleted.
func (e *Engine) Repair(ctx context.Context) (rep *Report, err error) {
	rep = &Report{}
	defer e.finish(opRepair, time.Now(), rep, &err)

	rels, err := e.relations.List(ctx)
	if err != nil {
		return rep, err
	}
	lookup, err := e.events.GetCalendarLookup(ctx)
	if err != nil {
		return rep, err
	}

	for _, r := range rels {
		if err := e.withSource(ctx, r.SourceEventID, func(rel model.BlockingRelationship) error {
			return e.repairRelationship(ctx, rel, lookup, rep)
		}); err != nil {
			return rep, err
		}
	}

	if err := e.removeOrphans(ctx, lookup, rep); err != nil {
		return rep, err
	}
	e.logger.Info("blocking state repaired", logging.Operation(opRepair),
		slog.Int("mirrors_removed", rep.Removed), slog.Int("rows_dropped", len(rep.Skipped)))
	return rep, nil
}

// Stats returns the number of recorded mirrors per calendar.
func (e *Engine) Stats(ctx context.Context) ([]CalendarStats, error) {
	cals, err := e.events.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	counts, err := e.relations.CountByTargetCalendar(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]CalendarStats, 0, len(cals))
	for _, c := range cals {
		out = append(out, CalendarStats{Calendar: c, Mirrors: counts[c.ID]})
	}
	return out, nil
}

// withSource runs fn on the current relationship for sourceEventID while
// holding that event's lock. A relationship removed meanwhile is skipped.
func (e *Engine) withSource(ctx context.Context, sourceEventID string, fn func(model.BlockingRelationship) error) error {
	unlock, err := e.locks.lock(ctx, sourceEventID)
	if err != nil {
		return err
	}
	defer unlock()

	rel, err := e.relations.GetBySourceEventID(ctx, sourceEventID)
	if err != nil || rel == nil {
		return err
	}
	return fn(*rel)
}

func (e *Engine) repairRelationship(ctx context.Context, rel model.BlockingRelationship, lookup map[string]model.Calendar, rep *Report) error {
	src, err := e.events.GetEventByID(ctx, rel.SourceEventID)
	if err != nil {
		return err
	}
	if src == nil {
		rep.skip(rel.ID, "", "source event no longer exists")
		return e.dropMirrors(ctx, rel, lookup, opRepair, rep)
	}

	remaining := len(rel.BlockedEvents)
	for _, b := range rel.BlockedEvents {
		mirror, err := e.events.GetEventByID(ctx, b.TargetEventID)
		if err != nil {
			return err
		}
		if mirror != nil && mirror.IsBlockingEvent && mirror.SourceEventID == rel.SourceEventID && mirror.CalendarID == b.TargetCalendarID {
			continue
		}
		rep.skip(rel.ID, b.TargetEventID, "mirror no longer resolves")
		if err := e.relations.RemoveBlockedEvent(ctx, b.ID); err != nil {
			return err
		}
		remaining--
	}
	if remaining == 0 {
		return e.relations.Delete(ctx, rel)
	}
	return nil
}

// removeOrphans deletes mirror events that no relationship references.
func (e *Engine) removeOrphans(ctx context.Context, lookup map[string]model.Calendar, rep *Report) error {
	rels, err := e.relations.List(ctx)
	if err != nil {
		return err
	}
	referenced := make(map[string]bool)
	for _, rel := range rels {
		for _, b := range rel.BlockedEvents {
			referenced[b.TargetEventID] = true
		}
	}

	mirrors, err := e.events.ListBlockingEvents(ctx)
	if err != nil {
		return err
	}
	var orphans []model.BlockedEvent
	for _, m := range mirrors {
		if !referenced[m.ID] {
			orphans = append(orphans, model.BlockedEvent{TargetCalendarID: m.CalendarID, TargetEventID: m.ID})
		}
	}

	errs := e.fanOutEach(ctx, len(orphans), func(ctx context.Context, i int) error {
		return e.deleteMirror(ctx, orphans[i], lookup)
	})
	for i, err := range errs {
		e.metrics.mirror(opRepair, err)
		if err != nil {
			rep.fail(orphans[i].TargetCalendarID, orphans[i].TargetEventID, err)
			continue
		}
		rep.Removed++
	}
	return nil
}
