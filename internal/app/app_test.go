package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobuk/calblock/internal/config"
	"github.com/bobuk/calblock/internal/logging"
	"github.com/bobuk/calblock/internal/model"
	"github.com/bobuk/calblock/internal/provider"
	"github.com/bobuk/calblock/internal/provider/providertest"
)

func newTestApp(t *testing.T, opts ...provider.FactoryOption) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Dir = t.TempDir()

	a, err := New(context.Background(), cfg, logging.Discard(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_WiresEngine(t *testing.T) {
	remote := providertest.NewRemote("team")
	a := newTestApp(t, provider.WithRemoteBackend(model.KindCalDAV, remote))
	ctx := context.Background()

	work, err := a.Engine.AddCalendar(ctx, model.Calendar{Name: "Work", Kind: model.KindLocal, EnableBlocking: true})
	require.NoError(t, err)
	_, err = a.Engine.AddCalendar(ctx, model.Calendar{
		Name: "Team", Kind: model.KindCalDAV, RemoteID: "team", ProviderConfig: "dav", ReceiveBlocks: true,
	})
	require.NoError(t, err)

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	res, err := a.Engine.CreateEventWithBlocking(ctx, work.ID, model.CalendarEvent{Title: "Standup", Start: start, End: start.Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, res.Report.OK())

	mirrors := remote.Events("team")
	require.Len(t, mirrors, 1)
	assert.Equal(t, config.DefaultTitlePrefix+" Standup", mirrors[0].Summary)
}

func TestWriteMetrics(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	cal, err := a.Engine.AddCalendar(ctx, model.Calendar{Name: "Work", Kind: model.KindLocal})
	require.NoError(t, err)
	_, err = a.Engine.DeleteCalendar(ctx, cal.ID)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "calblock.prom")
	require.NoError(t, a.WriteMetrics(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `calblock_operations_total{operation="delete_calendar",result="success"} 1`)
}

func TestNew_BadDatabasePath(t *testing.T) {
	cfg := config.Default()
	cfg.General.Database = filepath.Join(t.TempDir(), "missing-dir", "calblock.db")

	_, err := New(context.Background(), cfg, logging.Discard())
	assert.Error(t, err)
}
