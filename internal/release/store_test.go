package release

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(8)

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, store.Append(ctx, &Run{ID: id, State: StateProvisioning, StartedAt: time.Now()}))
	}

	runs, err := store.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r3", runs[0].ID)
	assert.Equal(t, "r2", runs[1].ID)
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(8)

	run := &Run{ID: "r1", State: StateProvisioning}
	require.NoError(t, store.Append(ctx, run))

	run.State = StateValidating
	require.NoError(t, store.Update(ctx, run))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, StateValidating, runs[0].State)
}

func TestMemoryStoreTerminalRunsAreImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(8)

	run := &Run{ID: "r1", State: StateCompleted, Outcome: OutcomeSuccess}
	require.NoError(t, store.Append(ctx, run))

	run.State = StateFailed
	run.Outcome = OutcomeFailed
	require.NoError(t, store.Update(ctx, run))

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, runs[0].State)
	assert.Equal(t, OutcomeSuccess, runs[0].Outcome)
}

func TestMemoryStoreBounded(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(3)

	for _, id := range []string{"r1", "r2", "r3", "r4", "r5"} {
		require.NoError(t, store.Append(ctx, &Run{ID: id}))
	}

	runs, err := store.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "r5", runs[0].ID)
	assert.Equal(t, "r3", runs[2].ID)
}
