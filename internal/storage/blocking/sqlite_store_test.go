package blocking

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobuk/calblock/internal/model"
	"github.com/bobuk/calblock/internal/storage/storagetest"
)

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return NewSQLiteStore(storagetest.Open(t))
}

func sampleRelationship(source string) model.BlockingRelationship {
	return model.BlockingRelationship{
		SourceCalendarID: "cal-a",
		SourceEventID:    source,
		BlockedEvents: []model.BlockedEvent{
			{TargetCalendarID: "cal-b", TargetEventID: source + "-mirror-b"},
			{TargetCalendarID: "cal-c", TargetEventID: source + "-mirror-c"},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, sampleRelationship("evt-1"))
	require.NoError(t, err)
	require.NotEmpty(t, saved.ID)
	for _, b := range saved.BlockedEvents {
		assert.NotEmpty(t, b.ID)
	}

	got, err := s.GetBySourceEventID(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, saved.ID, got.ID)
	assert.ElementsMatch(t, []string{"cal-b", "cal-c"}, got.TargetCalendarIDs())

	none, err := s.GetBySourceEventID(ctx, "evt-unknown")
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestSave_OneRelationshipPerSourceEvent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, sampleRelationship("evt-1"))
	require.NoError(t, err)

	replacement := model.BlockingRelationship{
		SourceCalendarID: "cal-a",
		SourceEventID:    "evt-1",
		BlockedEvents:    []model.BlockedEvent{{TargetCalendarID: "cal-b", TargetEventID: "m-b"}},
	}
	second, err := s.Save(ctx, replacement)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Len(t, all[0].BlockedEvents, 1)
	assert.Equal(t, "m-b", all[0].BlockedEvents[0].TargetEventID)
}

func TestSave_RequiresSource(t *testing.T) {
	s := newStore(t)
	_, err := s.Save(context.Background(), model.BlockingRelationship{SourceCalendarID: "cal-a"})
	assert.Error(t, err)
}

func TestDelete(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, sampleRelationship("evt-1"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, saved))

	got, err := s.GetBySourceEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	counts, err := s.CountByTargetCalendar(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestFindByCalendarOrEventIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	bySourceCal, err := s.Save(ctx, sampleRelationship("evt-1"))
	require.NoError(t, err)

	otherCal := sampleRelationship("evt-2")
	otherCal.SourceCalendarID = "cal-z"
	byEventID, err := s.Save(ctx, otherCal)
	require.NoError(t, err)

	unrelated := sampleRelationship("evt-3")
	unrelated.SourceCalendarID = "cal-z"
	_, err = s.Save(ctx, unrelated)
	require.NoError(t, err)

	found, err := s.FindByCalendarOrEventIDs(ctx, "cal-a", []string{"evt-2"})
	require.NoError(t, err)
	ids := []string{}
	for _, r := range found {
		ids = append(ids, r.ID)
		assert.Len(t, r.BlockedEvents, 2)
	}
	assert.ElementsMatch(t, []string{bySourceCal.ID, byEventID.ID}, ids)

	onlyCal, err := s.FindByCalendarOrEventIDs(ctx, "cal-a", nil)
	require.NoError(t, err)
	assert.Len(t, onlyCal, 1)
}

func TestBlockedEventsByTargetCalendar(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, sampleRelationship("evt-1"))
	require.NoError(t, err)
	_, err = s.Save(ctx, sampleRelationship("evt-2"))
	require.NoError(t, err)

	counts, err := s.CountByTargetCalendar(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"cal-b": 2, "cal-c": 2}, counts)

	onB, err := s.ListBlockedEventsByTargetCalendar(ctx, "cal-b")
	require.NoError(t, err)
	assert.Len(t, onB, 2)

	n, err := s.DeleteBlockedEventsByTargetCalendar(ctx, "cal-b")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	rel, err := s.GetBySourceEventID(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, rel)
	assert.Equal(t, []string{"cal-c"}, rel.TargetCalendarIDs())

	require.NoError(t, s.RemoveBlockedEvent(ctx, rel.BlockedEvents[0].ID))
	rel, err = s.GetBySourceEventID(ctx, "evt-1")
	require.NoError(t, err)
	assert.Empty(t, rel.BlockedEvents)
}

func TestDeleteEmpty(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, sampleRelationship("evt-1"))
	require.NoError(t, err)
	onlyB := sampleRelationship("evt-2")
	onlyB.BlockedEvents = onlyB.BlockedEvents[:1]
	_, err = s.Save(ctx, onlyB)
	require.NoError(t, err)

	_, err = s.DeleteBlockedEventsByTargetCalendar(ctx, "cal-b")
	require.NoError(t, err)

	n, err := s.DeleteEmpty(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	gone, err := s.GetBySourceEventID(ctx, "evt-2")
	require.NoError(t, err)
	assert.Nil(t, gone)
	kept, err := s.GetBySourceEventID(ctx, "evt-1")
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, []string{"cal-c"}, kept.TargetCalendarIDs())
}

// More rows than SQLite accepts bound parameters in one statement.
const manyRelationships = 33000

func TestList_MoreRelationshipsThanBoundParameters(t *testing.T) {
	db := storagetest.Open(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	tx, err := db.BeginTx(ctx, nil)
	require.NoError(t, err)
	relStmt, err := tx.PrepareContext(ctx, `INSERT INTO blocking_relationships (id, source_calendar_id, source_event_id) VALUES (?, ?, ?)`)
	require.NoError(t, err)
	blockedStmt, err := tx.PrepareContext(ctx, `INSERT INTO blocked_events (id, relationship_id, target_calendar_id, target_event_id) VALUES (?, ?, ?, ?)`)
	require.NoError(t, err)

	eventIDs := make([]string, manyRelationships)
	for i := range manyRelationships {
		relID := fmt.Sprintf("rel-%05d", i)
		eventIDs[i] = fmt.Sprintf("evt-%05d", i)
		_, err := relStmt.ExecContext(ctx, relID, "cal-a", eventIDs[i])
		require.NoError(t, err)
		_, err = blockedStmt.ExecContext(ctx, fmt.Sprintf("blk-%05d", i), relID, "cal-b", eventIDs[i]+"-mirror")
		require.NoError(t, err)
	}
	require.NoError(t, relStmt.Close())
	require.NoError(t, blockedStmt.Close())
	require.NoError(t, tx.Commit())

	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, manyRelationships)
	for _, r := range all {
		require.Len(t, r.BlockedEvents, 1, r.SourceEventID)
	}

	found, err := s.FindByCalendarOrEventIDs(ctx, "cal-other", eventIDs)
	require.NoError(t, err)
	require.Len(t, found, manyRelationships)
	assert.Equal(t, "evt-00000", found[0].SourceEventID)
	assert.Equal(t, fmt.Sprintf("evt-%05d", manyRelationships-1), found[len(found)-1].SourceEventID)
	assert.Len(t, found[0].BlockedEvents, 1)
}

func TestSave_RollsBackWhenBlockedInsertFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM blocking_relationships").
		WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO blocking_relationships").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM blocked_events").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO blocked_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO blocked_events").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	s := NewSQLiteStore(db)
	_, err = s.Save(context.Background(), sampleRelationship("evt-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.NoError(t, mock.ExpectationsWereMet())
}
