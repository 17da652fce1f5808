package blocking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/google/uuid"

	"github.com/bobuk/calblock/internal/model"
	"github.com/bobuk/calblock/internal/storage"
)

// maxIDsPerQuery bounds caller-supplied id lists per statement; SQLite
// rejects more than 32766 bound parameters.
const maxIDsPerQuery = 500

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	q storage.Querier
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLiteStore.
// PRE: q is an open database or transaction with migrations applied
func NewSQLiteStore(q storage.Querier) *SQLiteStore {
	return &SQLiteStore{q: q}
}

// GetBySourceEventID returns the relationship with its blocked events, or
// nil when the source event has none.
func (s *SQLiteStore) GetBySourceEventID(ctx context.Context, sourceEventID string) (*model.BlockingRelationship, error) {
	rels, err := s.listRelationships(ctx, `source_event_id = ?`, sourceEventID)
	if err != nil {
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	if len(rels) == 0 {
		return nil, nil
	}
	return &rels[0], nil
}

// Save writes the relationship and replaces its blocked events in one
// transaction. A relationship already stored for the same source event is
// overwritten and keeps its id.
// POST: returned relationship and blocked events carry ids
func (s *SQLiteStore) Save(ctx context.Context, rel model.BlockingRelationship) (model.BlockingRelationship, error) {
	if rel.SourceEventID == "" || rel.SourceCalendarID == "" {
		return model.BlockingRelationship{}, errors.New("relationship requires source calendar and event ids")
	}

	err := storage.WithTx(ctx, s.q, func(q storage.Querier) error {
		var existingID string
		err := q.QueryRowContext(ctx,
			`SELECT id FROM blocking_relationships WHERE source_event_id = ?`, rel.SourceEventID,
		).Scan(&existingID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if rel.ID == "" {
				rel.ID = uuid.NewString()
			}
			if _, err := q.ExecContext(ctx,
				`INSERT INTO blocking_relationships (id, source_calendar_id, source_event_id) VALUES (?, ?, ?)`,
				rel.ID, rel.SourceCalendarID, rel.SourceEventID,
			); err != nil {
				return fmt.Errorf("insert relationship: %w", err)
			}
		case err != nil:
			return fmt.Errorf("lookup relationship: %w", err)
		default:
			rel.ID = existingID
			if _, err := q.ExecContext(ctx,
				`UPDATE blocking_relationships SET source_calendar_id = ? WHERE id = ?`,
				rel.SourceCalendarID, rel.ID,
			); err != nil {
				return fmt.Errorf("update relationship: %w", err)
			}
		}

		if _, err := q.ExecContext(ctx, `DELETE FROM blocked_events WHERE relationship_id = ?`, rel.ID); err != nil {
			return fmt.Errorf("clear blocked events: %w", err)
		}
		for i := range rel.BlockedEvents {
			b := &rel.BlockedEvents[i]
			if b.ID == "" {
				b.ID = uuid.NewString()
			}
			if _, err := q.ExecContext(ctx,
				`INSERT INTO blocked_events (id, relationship_id, target_calendar_id, target_event_id) VALUES (?, ?, ?, ?)`,
				b.ID, rel.ID, b.TargetCalendarID, b.TargetEventID,
			); err != nil {
				return fmt.Errorf("insert blocked event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return model.BlockingRelationship{}, err
	}
	return rel, nil
}

// Delete removes the relationship and its blocked events.
func (s *SQLiteStore) Delete(ctx context.Context, rel model.BlockingRelationship) error {
	return storage.WithTx(ctx, s.q, func(q storage.Querier) error {
		if _, err := q.ExecContext(ctx, `DELETE FROM blocked_events WHERE relationship_id = ?`, rel.ID); err != nil {
			return fmt.Errorf("delete blocked events: %w", err)
		}
		if _, err := q.ExecContext(ctx, `DELETE FROM blocking_relationships WHERE id = ?`, rel.ID); err != nil {
			return fmt.Errorf("delete relationship: %w", err)
		}
		return nil
	})
}

// FindByCalendarOrEventIDs returns relationships whose source calendar is
// calendarID or whose source event is one of eventIDs. Long id lists are
// queried in batches to stay under SQLite's bound parameter limit.
func (s *SQLiteStore) FindByCalendarOrEventIDs(ctx context.Context, calendarID string, eventIDs []string) ([]model.BlockingRelationship, error) {
	out, err := s.listRelationships(ctx, `source_calendar_id = ?`, calendarID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(out))
	for _, r := range out {
		seen[r.ID] = true
	}

	for batch := range slices.Chunk(eventIDs, maxIDsPerQuery) {
		marks, args := storage.Placeholders(batch)
		rels, err := s.listRelationships(ctx, `source_event_id IN (`+marks+`)`, args...)
		if err != nil {
			return nil, err
		}
		for _, r := range rels {
			if !seen[r.ID] {
				seen[r.ID] = true
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceEventID < out[j].SourceEventID })
	return out, nil
}

// List returns every relationship.
func (s *SQLiteStore) List(ctx context.Context) ([]model.BlockingRelationship, error) {
	return s.listRelationships(ctx, `1 = 1`)
}

// ListBlockedEventsByTargetCalendar returns mirrors that live on calendarID.
func (s *SQLiteStore) ListBlockedEventsByTargetCalendar(ctx context.Context, calendarID string) ([]model.BlockedEvent, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, target_calendar_id, target_event_id FROM blocked_events WHERE target_calendar_id = ?`, calendarID)
	if err != nil {
		return nil, fmt.Errorf("list blocked events: %w", err)
	}
	defer rows.Close()

	var out []model.BlockedEvent
	for rows.Next() {
		var b model.BlockedEvent
		if err := rows.Scan(&b.ID, &b.TargetCalendarID, &b.TargetEventID); err != nil {
			return nil, fmt.Errorf("scan blocked event: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// DeleteBlockedEventsByTargetCalendar removes every blocked event row
// pointing at calendarID and reports how many were removed.
func (s *SQLiteStore) DeleteBlockedEventsByTargetCalendar(ctx context.Context, calendarID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM blocked_events WHERE target_calendar_id = ?`, calendarID)
	if err != nil {
		return 0, fmt.Errorf("delete blocked events for target: %w", err)
	}
	return res.RowsAffected()
}

// RemoveBlockedEvent removes a single blocked event row.
func (s *SQLiteStore) RemoveBlockedEvent(ctx context.Context, blockedEventID string) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM blocked_events WHERE id = ?`, blockedEventID); err != nil {
		return fmt.Errorf("remove blocked event: %w", err)
	}
	return nil
}

// DeleteEmpty removes relationships that no longer have any blocked event
// and reports how many were removed.
func (s *SQLiteStore) DeleteEmpty(ctx context.Context) (int64, error) {
	res, err := s.q.ExecContext(ctx, `DELETE FROM blocking_relationships
		WHERE NOT EXISTS (SELECT 1 FROM blocked_events WHERE blocked_events.relationship_id = blocking_relationships.id)`)
	if err != nil {
		return 0, fmt.Errorf("delete empty relationships: %w", err)
	}
	return res.RowsAffected()
}

// CountByTargetCalendar returns the number of mirrors per target calendar.
func (s *SQLiteStore) CountByTargetCalendar(ctx context.Context) (map[string]int, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT target_calendar_id, COUNT(1) FROM blocked_events GROUP BY target_calendar_id`)
	if err != nil {
		return nil, fmt.Errorf("count blocked events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var calendarID string
		var n int
		if err := rows.Scan(&calendarID, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[calendarID] = n
	}
	return counts, rows.Err()
}

// listRelationships loads the relationships matching where, then their
// blocked events with a subquery on the same filter, so the number of bound
// parameters never grows with the number of rows.
func (s *SQLiteStore) listRelationships(ctx context.Context, where string, args ...any) ([]model.BlockingRelationship, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, source_calendar_id, source_event_id FROM blocking_relationships WHERE `+where+` ORDER BY source_event_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}

	var rels []model.BlockingRelationship
	for rows.Next() {
		var rel model.BlockingRelationship
		if err := rows.Scan(&rel.ID, &rel.SourceCalendarID, &rel.SourceEventID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan relationship: %w", err)
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if err := s.loadBlocked(ctx, rels, where, args...); err != nil {
		return nil, err
	}
	return rels, nil
}

// loadBlocked fills BlockedEvents for rels, which must be exactly the
// relationships matching where.
func (s *SQLiteStore) loadBlocked(ctx context.Context, rels []model.BlockingRelationship, where string, args ...any) error {
	if len(rels) == 0 {
		return nil
	}
	index := make(map[string]int, len(rels))
	for i, r := range rels {
		index[r.ID] = i
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT id, relationship_id, target_calendar_id, target_event_id
		 FROM blocked_events
		 WHERE relationship_id IN (SELECT id FROM blocking_relationships WHERE `+where+`)
		 ORDER BY target_calendar_id, id`, args...)
	if err != nil {
		return fmt.Errorf("load blocked events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var b model.BlockedEvent
		var relID string
		if err := rows.Scan(&b.ID, &relID, &b.TargetCalendarID, &b.TargetEventID); err != nil {
			return fmt.Errorf("scan blocked event: %w", err)
		}
		if i, ok := index[relID]; ok {
			rels[i].BlockedEvents = append(rels[i].BlockedEvents, b)
		}
	}
	return rows.Err()
}
