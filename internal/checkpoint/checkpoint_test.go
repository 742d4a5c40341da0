package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewStore(path, zap.NewNop())

	state := NewState(7)
	state.ItemCount = 42
	state.MatchedCount = 10
	state.PageCount = 3
	state.BatchCount = 1
	state.MarkProcessed("https://example.com/items/a")
	state.MarkProcessed("https://example.com/items/b")
	require.NoError(t, store.Save(state))

	loaded := store.Load()
	require.NotNil(t, loaded)
	assert.Equal(t, 7, loaded.LastOffset)
	assert.Equal(t, 42, loaded.ItemCount)
	assert.Equal(t, 10, loaded.MatchedCount)
	assert.Equal(t, 3, loaded.PageCount)
	assert.Equal(t, 1, loaded.BatchCount)
	assert.True(t, loaded.Processed("https://example.com/items/a"))
	assert.True(t, loaded.Processed("https://example.com/items/b"))
	assert.False(t, loaded.Processed("https://example.com/items/c"))
	assert.False(t, loaded.Timestamp.IsZero())
}

func TestLoadAbsentFile(t *testing.T) {
	t.Parallel()

	store := NewStore(filepath.Join(t.TempDir(), "missing.json"), zap.NewNop())
	assert.Nil(t, store.Load())
}

func TestLoadCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	require.NoError(t, os.WriteFile(path, []byte("@@@"), 0o600))

	store := NewStore(path, zap.NewNop())
	assert.Nil(t, store.Load(), "corrupt checkpoint reads as absent")
}

func TestLoadUnknownSchemaVersion(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	payload, err := json.Marshal(map[string]any{"schema_version": 99, "last_offset": 4})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	store := NewStore(path, zap.NewNop())
	assert.Nil(t, store.Load(), "unknown versions are rejected, not defaulted")
}

func TestSaveKeepsBackup(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewStore(path, zap.NewNop())

	first := NewState(1)
	require.NoError(t, store.Save(first))
	second := NewState(2)
	require.NoError(t, store.Save(second))

	backup, err := os.ReadFile(path + ".bak")
	require.NoError(t, err)
	var restored State
	require.NoError(t, json.Unmarshal(backup, &restored))
	assert.Equal(t, 1, restored.LastOffset, ".bak holds the previous version")
}

func TestResumeOffset(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, ResumeOffset(&State{LastOffset: 4}, 0))
	assert.Equal(t, 20, ResumeOffset(nil, 20))
}
