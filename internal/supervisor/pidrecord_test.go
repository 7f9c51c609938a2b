package supervisor

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordStoreRoundTrip(t *testing.T) {
	store := NewRecordStore(filepath.Join(t.TempDir(), "service.pid"))

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, rec, "absent record reads as nil")

	want := &PidRecord{
		InstanceID: "inst-1",
		PID:        4242,
		Port:       8001,
		Version:    "abc123",
		State:      StateHealthy,
		UpdatedAt:  time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.Write(want))

	got, err := store.Read()
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.InstanceID, got.InstanceID)
	assert.Equal(t, want.PID, got.PID)
	assert.Equal(t, want.Port, got.Port)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.State, got.State)
}

func TestRecordStoreOverwrite(t *testing.T) {
	store := NewRecordStore(filepath.Join(t.TempDir(), "service.pid"))

	require.NoError(t, store.Write(&PidRecord{InstanceID: "old", PID: 1, Port: 8001}))
	require.NoError(t, store.Write(&PidRecord{InstanceID: "new", PID: 2, Port: 8002}))

	got, err := store.Read()
	require.NoError(t, err)
	assert.Equal(t, "new", got.InstanceID)
	assert.Equal(t, 8002, got.Port)

	// rename-based replace leaves no temp debris behind
	entries, err := os.ReadDir(filepath.Dir(store.Path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestRecordStoreRemoveIdempotent(t *testing.T) {
	store := NewRecordStore(filepath.Join(t.TempDir(), "service.pid"))

	require.NoError(t, store.Write(&PidRecord{InstanceID: "x", PID: 1}))
	require.NoError(t, store.Remove())
	require.NoError(t, store.Remove(), "removing an absent record is a no-op")

	rec, err := store.Read()
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestRecordStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.pid")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))

	store := NewRecordStore(path)
	_, err := store.Read()
	assert.Error(t, err)
}
