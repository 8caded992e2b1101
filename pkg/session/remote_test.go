package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRemote(t *testing.T) (*RemoteStore, *MemoryStore, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	backing := setupTestStore(t, WithClock(clock.Now))
	srv := httptest.NewServer(NewHandler(backing, zerolog.New(os.Stdout).Level(zerolog.Disabled)))
	t.Cleanup(srv.Close)

	remote := NewRemoteStore(srv.URL+"/", WithHTTPClient(srv.Client()))
	t.Cleanup(func() { _ = remote.Close() })
	return remote, backing, clock
}

func TestRemoteStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	remote, backing, _ := setupTestRemote(t)

	id, err := remote.ResolveOrCreate(ctx, "")
	require.NoError(t, err)
	assert.True(t, ValidID(id))

	again, err := remote.ResolveOrCreate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	require.NoError(t, remote.AppendTurn(ctx, id, RoleUser, "What is this?"))
	require.NoError(t, remote.AppendTurn(ctx, id, RoleAssistant, "A red mug."))

	turns, err := remote.Turns(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []Turn{
		{Role: RoleUser, Content: "What is this?"},
		{Role: RoleAssistant, Content: "A red mug."},
	}, turns)

	local, err := backing.Turns(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, turns, local)

	stats, err := remote.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, ComputeStats(turns), stats)

	require.NoError(t, remote.Clear(ctx, id))
	stats, err = remote.Stats(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestRemoteStore_Errors(t *testing.T) {
	ctx := context.Background()
	remote, _, _ := setupTestRemote(t)

	t.Run("clear unknown", func(t *testing.T) {
		assert.ErrorIs(t, remote.Clear(ctx, "missing"), ErrNotFound)
		assert.ErrorIs(t, remote.Clear(ctx, ""), ErrNotFound)
	})

	t.Run("invalid role", func(t *testing.T) {
		assert.ErrorIs(t, remote.AppendTurn(ctx, "abc", Role("system"), "x"), ErrInvalidRole)
	})

	t.Run("unknown id reads", func(t *testing.T) {
		turns, err := remote.Turns(ctx, "missing")
		require.NoError(t, err)
		assert.Empty(t, turns)

		stats, err := remote.Stats(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, Stats{}, stats)
	})

	t.Run("transport failure", func(t *testing.T) {
		dead := NewRemoteStore("http://127.0.0.1:1", WithHTTPClient(&http.Client{Timeout: time.Second}))
		_, err := dead.ResolveOrCreate(ctx, "")
		assert.Error(t, err)
	})
}

func TestRemoteStore_Sweep(t *testing.T) {
	ctx := context.Background()
	remote, backing, clock := setupTestRemote(t)

	_, err := remote.ResolveOrCreate(ctx, "")
	require.NoError(t, err)
	clock.Advance(2 * time.Hour)

	removed, err := remote.SweepExpired(ctx, clock.Now(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, backing.Len())
}

func TestHandler_BadRequests(t *testing.T) {
	store := setupTestStore(t)
	h := NewHandler(store, zerolog.New(os.Stdout).Level(zerolog.Disabled))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
	}{
		{"resolve with invalid json", http.MethodPost, "/sessions/resolve", "{", http.StatusBadRequest},
		{"append with invalid role", http.MethodPost, "/sessions/abc/turns", `{"role":"ai","content":"x"}`, http.StatusBadRequest},
		{"sweep without max idle", http.MethodPost, "/sweep", `{}`, http.StatusBadRequest},
		{"clear unknown", http.MethodPost, "/sessions/abc/clear", "", http.StatusNotFound},
		{"wrong method", http.MethodDelete, "/sessions/abc/turns", "", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}
