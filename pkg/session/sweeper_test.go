package session

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSweeper(t *testing.T) {
	logger := zerolog.New(os.Stdout).Level(zerolog.Disabled)
	store := setupTestStore(t)

	t.Run("invalid schedule", func(t *testing.T) {
		_, err := NewSweeper(store, "whenever", time.Hour, logger)
		assert.Error(t, err)
	})

	t.Run("defaults max idle", func(t *testing.T) {
		s, err := NewSweeper(store, "@every 10m", 0, logger)
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxIdle, s.MaxIdle())
	})
}

func TestSweeper_SweepNow(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	store := setupTestStore(t, WithClock(clock.Now))

	_, err := store.ResolveOrCreate(ctx, "")
	require.NoError(t, err)

	s, err := NewSweeper(store, "@every 10m", time.Hour, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	s.now = clock.Now

	removed, err := s.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	clock.Advance(61 * time.Minute)
	removed, err = s.SweepNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}

func TestSweeper_StartStop(t *testing.T) {
	store := setupTestStore(t)
	s, err := NewSweeper(store, "@every 1h", time.Hour, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)

	assert.False(t, s.IsRunning())
	assert.True(t, s.NextRun().IsZero())
	assert.Error(t, s.Stop())

	require.NoError(t, s.Start())
	assert.True(t, s.IsRunning())
	assert.Error(t, s.Start())
	assert.True(t, s.NextRun().After(time.Now()))

	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}

func TestSweeper_RunsOnSchedule(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	_, err := store.ResolveOrCreate(ctx, "")
	require.NoError(t, err)

	s, err := NewSweeper(store, "@every 1s", time.Hour, zerolog.New(os.Stdout).Level(zerolog.Disabled))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	require.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, 5*time.Second, 50*time.Millisecond)
}
