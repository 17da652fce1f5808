package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobuk/calblock/internal/model"
	"github.com/bobuk/calblock/internal/storage"
)

// SQLiteStore implements Store on top of a storage.Querier, so it works
// against the database handle or inside a transaction.
type SQLiteStore struct {
	q storage.Querier
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore.
// PRE: q is an open database or transaction with migrations applied
func NewSQLiteStore(q storage.Querier) *SQLiteStore {
	return &SQLiteStore{q: q}
}

const calendarColumns = `id, name, color, kind, enable_blocking, receive_blocks, remote_id, provider_config`

// CreateCalendar inserts a calendar, assigning an id when absent.
func (s *SQLiteStore) CreateCalendar(ctx context.Context, c model.Calendar) (model.Calendar, error) {
	if err := c.Validate(); err != nil {
		return model.Calendar{}, err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO calendars (`+calendarColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Color, string(c.Kind), c.EnableBlocking, c.ReceiveBlocks, c.RemoteID, c.ProviderConfig,
	)
	if err != nil {
		return model.Calendar{}, fmt.Errorf("insert calendar: %w", err)
	}
	return c, nil
}

// UpdateCalendar replaces a calendar row.
// POST: returns a NotFoundError when the id does not exist
func (s *SQLiteStore) UpdateCalendar(ctx context.Context, c model.Calendar) error {
	if err := c.Validate(); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE calendars SET name = ?, color = ?, kind = ?, enable_blocking = ?, receive_blocks = ?, remote_id = ?, provider_config = ?
		 WHERE id = ?`,
		c.Name, c.Color, string(c.Kind), c.EnableBlocking, c.ReceiveBlocks, c.RemoteID, c.ProviderConfig, c.ID,
	)
	if err != nil {
		return fmt.Errorf("update calendar: %w", err)
	}
	return requireAffected(res, "calendar", c.ID)
}

// GetCalendar returns the calendar or nil when it does not exist.
func (s *SQLiteStore) GetCalendar(ctx context.Context, id string) (*model.Calendar, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+calendarColumns+` FROM calendars WHERE id = ?`, id)
	c, err := scanCalendar(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get calendar: %w", err)
	}
	return &c, nil
}

// ListCalendars returns every calendar ordered by name.
func (s *SQLiteStore) ListCalendars(ctx context.Context) ([]model.Calendar, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+calendarColumns+` FROM calendars ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	defer rows.Close()

	var out []model.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan calendar: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCalendarLookup returns all calendars keyed by id.
func (s *SQLiteStore) GetCalendarLookup(ctx context.Context) (map[string]model.Calendar, error) {
	cals, err := s.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}
	lookup := make(map[string]model.Calendar, len(cals))
	for _, c := range cals {
		lookup[c.ID] = c
	}
	return lookup, nil
}

// DeleteCalendar removes a calendar and every event it owns.
// Blocking relationships are not touched here.
func (s *SQLiteStore) DeleteCalendar(ctx context.Context, id string) error {
	return storage.WithTx(ctx, s.q, func(q storage.Querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM events WHERE calendar_id = ?`, id); err != nil {
			return fmt.Errorf("delete calendar events: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM calendars WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete calendar: %w", err)
		}
		return nil
	})
}

const eventColumns = `id, calendar_id, title, description, location, start_at, end_at, is_blocking, source_event_id, external_id`

// CreateEvent assigns an id if absent and persists the event.
// POST: returns a NotFoundError when the owning calendar does not exist
func (s *SQLiteStore) CreateEvent(ctx context.Context, e model.CalendarEvent) (model.CalendarEvent, error) {
	if err := e.Validate(); err != nil {
		return model.CalendarEvent{}, err
	}
	cal, err := s.GetCalendar(ctx, e.CalendarID)
	if err != nil {
		return model.CalendarEvent{}, err
	}
	if cal == nil {
		return model.CalendarEvent{}, model.NewNotFound("calendar", e.CalendarID)
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Start, e.End = e.Start.UTC(), e.End.UTC()

	_, err = s.q.ExecContext(ctx,
		`INSERT INTO events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CalendarID, e.Title, e.Description, e.Location,
		e.Start.UnixNano(), e.End.UnixNano(), e.IsBlockingEvent, e.SourceEventID, e.ExternalID,
	)
	if err != nil {
		return model.CalendarEvent{}, fmt.Errorf("insert event: %w", err)
	}
	return e, nil
}

// UpdateEvent replaces the event row keyed by id.
// POST: returns a NotFoundError when the id does not exist
func (s *SQLiteStore) UpdateEvent(ctx context.Context, e model.CalendarEvent) error {
	if err := e.Validate(); err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		`UPDATE events SET calendar_id = ?, title = ?, description = ?, location = ?, start_at = ?, end_at = ?,
		   is_blocking = ?, source_event_id = ?, external_id = ?
		 WHERE id = ?`,
		e.CalendarID, e.Title, e.Description, e.Location, e.Start.UnixNano(), e.End.UnixNano(),
		e.IsBlockingEvent, e.SourceEventID, e.ExternalID, e.ID,
	)
	if err != nil {
		return fmt.Errorf("update event: %w", err)
	}
	return requireAffected(res, "event", e.ID)
}

// DeleteEvent removes an event. Unknown ids are not an error.
func (s *SQLiteStore) DeleteEvent(ctx context.Context, id string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	return nil
}

// GetEventByID returns the event or nil when it does not exist.
func (s *SQLiteStore) GetEventByID(ctx context.Context, id string) (*model.CalendarEvent, error) {
	return s.getEvent(ctx, `SELECT `+eventColumns+` FROM events WHERE id = ?`, id)
}

// GetEventByExternalID resolves a remote event id to its local row.
func (s *SQLiteStore) GetEventByExternalID(ctx context.Context, calendarID, externalID string) (*model.CalendarEvent, error) {
	if externalID == "" {
		return nil, nil
	}
	return s.getEvent(ctx,
		`SELECT `+eventColumns+` FROM events WHERE calendar_id = ? AND external_id = ?`, calendarID, externalID)
}

func (s *SQLiteStore) getEvent(ctx context.Context, query string, args ...any) (*model.CalendarEvent, error) {
	e, err := scanEvent(s.q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return &e, nil
}

// GetEventsInRange returns events strictly overlapping [start, end).
// An empty calendarID searches every calendar.
// POST: events are ordered by start time
func (s *SQLiteStore) GetEventsInRange(ctx context.Context, start, end time.Time, calendarID string) ([]model.CalendarEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE start_at < ? AND end_at > ?`
	args := []any{end.UnixNano(), start.UnixNano()}
	if calendarID != "" {
		query += ` AND calendar_id = ?`
		args = append(args, calendarID)
	}
	query += ` ORDER BY start_at, id`
	return s.listEvents(ctx, query, args...)
}

// ListEventIDsByCalendar returns the ids of every event on a calendar.
func (s *SQLiteStore) ListEventIDsByCalendar(ctx context.Context, calendarID string) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT id FROM events WHERE calendar_id = ?`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("list event ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan event id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListBlockingEvents returns every mirror event across all calendars.
func (s *SQLiteStore) ListBlockingEvents(ctx context.Context) ([]model.CalendarEvent, error) {
	return s.listEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE is_blocking = 1 ORDER BY calendar_id, start_at`)
}

func (s *SQLiteStore) listEvents(ctx context.Context, query string, args ...any) ([]model.CalendarEvent, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []model.CalendarEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCalendar(r scanner) (model.Calendar, error) {
	var c model.Calendar
	var kind string
	err := r.Scan(&c.ID, &c.Name, &c.Color, &kind, &c.EnableBlocking, &c.ReceiveBlocks, &c.RemoteID, &c.ProviderConfig)
	c.Kind = model.Kind(kind)
	return c, err
}

func scanEvent(r scanner) (model.CalendarEvent, error) {
	var e model.CalendarEvent
	var start, end int64
	err := r.Scan(&e.ID, &e.CalendarID, &e.Title, &e.Description, &e.Location,
		&start, &end, &e.IsBlockingEvent, &e.SourceEventID, &e.ExternalID)
	e.Start = time.Unix(0, start).UTC()
	e.End = time.Unix(0, end).UTC()
	return e, err
}

func requireAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return model.NewNotFound(resource, id)
	}
	return nil
}
