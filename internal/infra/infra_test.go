package infra

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir, err := EnsureDir(root, "data", "nested")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "data", "nested"), dir)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	_, err = EnsureDir(root, "data", "nested")
	require.NoError(t, err)
}

func TestDataFile(t *testing.T) {
	t.Parallel()

	assert.Equal(t, filepath.Join("/var/lib/modbot", "moderation.db"), DataFile("/var/lib/modbot", "moderation.db"))
	assert.Equal(t, "/tmp/other.db", DataFile("/var/lib/modbot", "/tmp/other.db"))
}

func TestGoRecoverableRestartsUntilBudget(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	gaveUp := make(chan struct{})
	go GoRecoverable(2, "panicky", func() {
		runs.Add(1)
		panic("boom")
	}, func() { close(gaveUp) })

	select {
	case <-gaveUp:
	case <-time.After(2 * time.Second):
		t.Fatal("job was not given up")
	}
	assert.Equal(t, int32(3), runs.Load())
}

func TestGoRecoverableCleanExit(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	GoRecoverable(0, "calm", func() { runs.Add(1) }, func() { t.Error("must not give up") })
	assert.Equal(t, int32(1), runs.Load())
}
