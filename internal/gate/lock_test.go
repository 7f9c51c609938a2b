package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryLock(t *testing.T) {
	ctx := context.Background()
	lock := NewMemoryLock()

	ok, err := lock.TryAcquire(ctx, "run-a")
	require.NoError(t, err)
	assert.True(t, ok)

	// held: a second acquire is refused, not an error
	ok, err = lock.TryAcquire(ctx, "run-b")
	require.NoError(t, err)
	assert.False(t, ok)

	// release with the wrong token is ignored
	require.NoError(t, lock.Release(ctx, "run-b"))
	ok, err = lock.TryAcquire(ctx, "run-b")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, lock.Release(ctx, "run-a"))
	ok, err = lock.TryAcquire(ctx, "run-b")
	require.NoError(t, err)
	assert.True(t, ok)
}
