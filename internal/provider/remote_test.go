package provider_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobuk/calblock/internal/logging"
	"github.com/bobuk/calblock/internal/model"
	"github.com/bobuk/calblock/internal/provider"
	"github.com/bobuk/calblock/internal/provider/providertest"
	"github.com/bobuk/calblock/internal/storage/events"
	"github.com/bobuk/calblock/internal/storage/storagetest"
)

var nine = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type remoteFixture struct {
	store  *events.SQLiteStore
	remote *providertest.Remote
	cal    model.Calendar
	p      *provider.RemoteProvider
}

func newRemoteFixture(t *testing.T) remoteFixture {
	t.Helper()
	store := events.NewSQLiteStore(storagetest.Open(t))
	cal, err := store.CreateCalendar(context.Background(), model.Calendar{
		Name: "Personal", Kind: model.KindGoogle, RemoteID: "primary", ProviderConfig: "me",
	})
	require.NoError(t, err)

	remote := providertest.NewRemote("primary")
	return remoteFixture{
		store:  store,
		remote: remote,
		cal:    cal,
		p:      provider.NewRemoteProvider(cal, remote, store, time.Second, logging.Discard()),
	}
}

func TestRemoteProvider_CreateRecordsExternalID(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()

	created, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotEmpty(t, created.ExternalID)

	remote := f.remote.Events("primary")
	require.Len(t, remote, 1)
	assert.Equal(t, created.ExternalID, remote[0].ID)
	assert.Equal(t, "Dentist", remote[0].Summary)

	stored, err := f.store.GetEventByExternalID(ctx, f.cal.ID, created.ExternalID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, created.ID, stored.ID)
}

func TestRemoteProvider_CreateFailureLeavesNothing(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()
	f.remote.Fail("add", "primary", providertest.Unavailable())

	_, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)

	stored, err := f.store.GetEventsInRange(ctx, nine.Add(-time.Hour), nine.Add(2*time.Hour), f.cal.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestRemoteProvider_CreateUndoesRemoteWriteWhenStoreFails(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()

	// the calendar row vanishes between the remote write and the local insert
	require.NoError(t, f.store.DeleteCalendar(ctx, f.cal.ID))

	_, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Equal(t, 1, f.remote.Calls("delete"))
	assert.Empty(t, f.remote.Events("primary"))
}

func TestRemoteProvider_CreateRejectsInvalidEvent(t *testing.T) {
	f := newRemoteFixture(t)

	_, err := f.p.CreateEvent(context.Background(), f.cal.ID, model.CalendarEvent{Title: "Backwards", Start: nine, End: nine.Add(-time.Hour)})
	assert.ErrorIs(t, err, model.ErrInvalidEvent)
	assert.Zero(t, f.remote.Calls("add"))
}

func TestRemoteProvider_Update(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()

	created, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.NoError(t, err)

	created.Title = "Dentist (moved)"
	created.Start = nine.Add(time.Hour)
	created.End = nine.Add(2 * time.Hour)
	created.ExternalID = ""
	updated, err := f.p.UpdateEvent(ctx, f.cal.ID, created)
	require.NoError(t, err)
	assert.NotEmpty(t, updated.ExternalID, "external id is kept from the stored row")

	remote := f.remote.Events("primary")
	require.Len(t, remote, 1)
	assert.Equal(t, "Dentist (moved)", remote[0].Summary)
	assert.True(t, remote[0].Start.Equal(nine.Add(time.Hour)))

	_, err = f.p.UpdateEvent(ctx, f.cal.ID, model.CalendarEvent{ID: "missing", Start: nine, End: nine.Add(time.Hour)})
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestRemoteProvider_Delete(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()

	created, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, f.p.DeleteEvent(ctx, f.cal.ID, created.ID))
	assert.Empty(t, f.remote.Events("primary"))

	got, err := f.store.GetEventByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, f.p.DeleteEvent(ctx, f.cal.ID, created.ID), "deleting twice is a no-op")
}

func TestRemoteProvider_DeleteAlreadyGoneRemotely(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()

	created, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.NoError(t, err)
	f.remote.Fail("delete", "primary", providertest.NotFound())

	require.NoError(t, f.p.DeleteEvent(ctx, f.cal.ID, created.ID))
	got, err := f.store.GetEventByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRemoteProvider_DeleteUnavailableKeepsLocalRow(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()

	created, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.NoError(t, err)
	f.remote.Fail("delete", "primary", providertest.Unavailable())

	err = f.p.DeleteEvent(ctx, f.cal.ID, created.ID)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)

	got, err := f.store.GetEventByID(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestRemoteProvider_GetEvents(t *testing.T) {
	f := newRemoteFixture(t)
	ctx := context.Background()

	created, err := f.p.CreateEvent(ctx, f.cal.ID, model.CalendarEvent{Title: "Dentist", Start: nine, End: nine.Add(time.Hour)})
	require.NoError(t, err)
	f.remote.Put("primary", provider.RemoteEvent{ID: "foreign", Summary: "Lunch", Start: nine.Add(3 * time.Hour), End: nine.Add(4 * time.Hour)})
	f.remote.Put("primary", provider.RemoteEvent{ID: "gone", Summary: "Cancelled", Start: nine, End: nine.Add(time.Hour), Status: "cancelled"})

	got, err := f.p.GetEvents(ctx, f.cal.ID, nine.Add(-time.Hour), nine.Add(5*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, created.ID, got[0].ID)
	assert.Equal(t, "foreign", got[1].ExternalID)
	assert.Empty(t, got[1].ID, "events created elsewhere have no local id")
}

// unfilteredRemote returns every stored event from ListEvents, like a
// service whose range filter includes events touching the bounds.
type unfilteredRemote struct {
	*providertest.Remote
	events []*provider.RemoteEvent
}

func (u unfilteredRemote) ListEvents(ctx context.Context, cal string, timeMin, timeMax time.Time) ([]*provider.RemoteEvent, error) {
	return u.events, nil
}

func TestRemoteProvider_GetEventsKeepsOnlyOverlapping(t *testing.T) {
	f := newRemoteFixture(t)
	backend := unfilteredRemote{Remote: f.remote, events: []*provider.RemoteEvent{
		{ID: "before", Summary: "Ends at start", Start: nine.Add(-time.Hour), End: nine},
		{ID: "inside", Summary: "Inside", Start: nine.Add(30 * time.Minute), End: nine.Add(90 * time.Minute)},
		{ID: "after", Summary: "Starts at end", Start: nine.Add(2 * time.Hour), End: nine.Add(3 * time.Hour)},
	}}
	p := provider.NewRemoteProvider(f.cal, backend, f.store, time.Second, logging.Discard())

	got, err := p.GetEvents(context.Background(), f.cal.ID, nine, nine.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "inside", got[0].ExternalID)
}

func TestRemoteProvider_TimeoutIsUnavailable(t *testing.T) {
	store := events.NewSQLiteStore(storagetest.Open(t))
	cal, err := store.CreateCalendar(context.Background(), model.Calendar{
		Name: "Slow", Kind: model.KindCalDAV, RemoteID: "https://dav.example.com/cal/", ProviderConfig: "dav",
	})
	require.NoError(t, err)

	remote := providertest.NewRemote()
	remote.Delay(time.Second)
	p := provider.NewRemoteProvider(cal, remote, store, 20*time.Millisecond, logging.Discard())

	_, err = p.CreateEvent(context.Background(), cal.ID, model.CalendarEvent{Title: "x", Start: nine, End: nine.Add(time.Hour)})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrProviderUnavailable)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRemoteProvider_RejectsOtherCalendar(t *testing.T) {
	f := newRemoteFixture(t)

	_, err := f.p.CreateEvent(context.Background(), "other", model.CalendarEvent{Title: "x", Start: nine, End: nine.Add(time.Hour)})
	assert.Error(t, err)
	assert.Zero(t, f.remote.Calls("add"))
}
