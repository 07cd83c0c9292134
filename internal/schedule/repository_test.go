package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nerrad567/relay-core/internal/infrastructure/database"
	"github.com/nerrad567/relay-core/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	db, err := database.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background(), migrations.FS))
	return NewSQLiteRepository(db.DB)
}

func TestSQLiteRepository_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	s := validRecurring()
	s.ID = "sch-1"
	s.InverseOnExit = true
	s.CreatedAt = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	s.UpdatedAt = s.CreatedAt
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.Get(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, s.Name, got.Name)
	assert.Equal(t, s.Targets, got.Targets)
	assert.Equal(t, s.Days, got.Days)
	assert.Equal(t, "18:00", got.Start)
	assert.True(t, got.Enabled)
	assert.True(t, got.InverseOnExit)
	assert.True(t, got.At.IsZero())
	assert.Equal(t, FiredUnknown, got.LastFiredState)
	assert.True(t, s.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrScheduleNotFound)
}

func TestSQLiteRepository_OnceRoundTripsAt(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	runAt := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	s := &Schedule{
		ID: "sch-once", Name: "Test", Action: ActionOff, Type: TypeOnce, At: runAt,
		Targets: []Target{{DeviceID: "relay-a", SwitchID: "relay2"}},
	}
	require.NoError(t, repo.Create(ctx, s))

	got, err := repo.Get(ctx, "sch-once")
	require.NoError(t, err)
	assert.True(t, runAt.Equal(got.At))
	assert.Empty(t, got.Days)
	assert.False(t, got.Enabled)
}

func TestSQLiteRepository_UpdateFiredStateAndDelete(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	s := validRecurring()
	s.ID = "sch-1"
	require.NoError(t, repo.Create(ctx, s))

	require.NoError(t, repo.SetFiredState(ctx, "sch-1", FiredActive, true))
	got, err := repo.Get(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, FiredActive, got.LastFiredState)

	s.Name = "Porch lights (late)"
	s.End = "23:59"
	require.NoError(t, repo.Update(ctx, s))
	got, err = repo.Get(ctx, "sch-1")
	require.NoError(t, err)
	assert.Equal(t, "Porch lights (late)", got.Name)
	assert.Equal(t, FiredUnknown, got.LastFiredState)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, repo.Delete(ctx, "sch-1"))
	assert.ErrorIs(t, repo.Delete(ctx, "sch-1"), ErrScheduleNotFound)
	assert.ErrorIs(t, repo.SetFiredState(ctx, "sch-1", FiredInactive, true), ErrScheduleNotFound)
	assert.ErrorIs(t, repo.Update(ctx, s), ErrScheduleNotFound)
}
