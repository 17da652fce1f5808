// Package blocking persists source-event to mirror mappings.
package blocking

import (
	"context"

	"github.com/bobuk/calblock/internal/model"
)

// Store persists BlockingRelationship and BlockedEvent rows.
// INVARIANT: at most one relationship per source event id.
type Store interface {
	GetBySourceEventID(ctx context.Context, sourceEventID string) (*model.BlockingRelationship, error)
	Save(ctx context.Context, rel model.BlockingRelationship) (model.BlockingRelationship, error)
	Delete(ctx context.Context, rel model.BlockingRelationship) error
	FindByCalendarOrEventIDs(ctx context.Context, calendarID string, eventIDs []string) ([]model.BlockingRelationship, error)
	ListBlockedEventsByTargetCalendar(ctx context.Context, calendarID string) ([]model.BlockedEvent, error)
	DeleteBlockedEventsByTargetCalendar(ctx context.Context, calendarID string) (int64, error)
	RemoveBlockedEvent(ctx context.Context, blockedEventID string) error
	DeleteEmpty(ctx context.Context) (int64, error)
	List(ctx context.Context) ([]model.BlockingRelationship, error)
	CountByTargetCalendar(ctx context.Context) (map[string]int, error)
}
