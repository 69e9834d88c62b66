package history

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zombar/matchscheduler/models"
)

func entry(id string, success bool) models.ExtractionHistory {
	end := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	return models.ExtractionHistory{
		OperationID: id,
		PlayerName:  "Ada",
		Config: models.ExtractionConfig{
			PlayerName: "Ada",
			QueueTypes: []string{"ranked_solo"},
			MaxMatches: 50,
		},
		Progress: models.ExtractionProgress{
			OperationID:      id,
			PlayerName:       "Ada",
			Status:           models.StatusCompleted,
			Percent:          100,
			MatchesExtracted: 37,
			StartTime:        end.Add(-30 * time.Second),
			EndTime:          &end,
			Logs:             []string{"started", "done"},
		},
		Timestamp:       end,
		DurationSeconds: 30,
		Success:         success,
	}
}

func TestAppendPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")

	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(entry("op-1", true)))
	require.NoError(t, store.Append(entry("op-2", false)))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	entries := reopened.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "op-1", entries[0].OperationID)
	assert.Equal(t, 37, entries[0].Progress.MatchesExtracted)
	assert.False(t, entries[1].Success)
}

func TestFileLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, store.Append(entry("op-1", true)))
	require.NoError(t, store.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"operation_id"`, `"player_name"`, `"config"`, `"progress"`, `"timestamp"`, `"duration_seconds"`, `"success"`} {
		assert.Contains(t, string(data), key)
	}
	assert.Contains(t, string(data), `"2026-03-01T12:00:30Z"`)
}

func TestCorruptFileDegradesToEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store, err := Open(path)
	require.Error(t, err)
	require.NotNil(t, store)
	defer store.Close()

	assert.Equal(t, 0, store.Len())
	require.NoError(t, store.Append(entry("op-1", true)))
	assert.Equal(t, 1, store.Len())
}

func TestFailedWriteIsRetried(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "state")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	path := filepath.Join(blocker, "history.json")

	store, err := Open(path)
	require.NoError(t, err)

	err = store.Append(entry("op-1", true))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPersist))
	assert.Equal(t, 1, store.Len(), "entry stays in memory after a failed write")

	require.NoError(t, os.Remove(blocker))
	require.NoError(t, store.Flush())
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 1, reopened.Len())
}

func TestConcurrentAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.json")
	store, err := Open(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Append(entry("op", i%2 == 0)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 20, reopened.Len())
}

func TestAppendAfterClose(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	assert.ErrorIs(t, store.Append(entry("op-1", true)), ErrClosed)
}
