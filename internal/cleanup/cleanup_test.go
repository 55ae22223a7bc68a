package cleanup_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qayeq/transferd/internal/cleanup"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoveStaleParts(t *testing.T) {
	dir := t.TempDir()

	stale := filepath.Join(dir, "old.bin.part")
	fresh := filepath.Join(dir, "recent.bin.part")
	regular := filepath.Join(dir, "keepme.bin")

	for _, path := range []string{stale, fresh, regular} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(regular, old, old))

	require.NoError(t, cleanup.RemoveStaleParts(context.Background(), dir, 24*time.Hour))

	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale backup should be removed")

	_, err = os.Stat(fresh)
	assert.NoError(t, err, "recent backup should survive")

	_, err = os.Stat(regular)
	assert.NoError(t, err, "non-backup files are never touched")
}

func TestRemoveStalePartsMissingDir(t *testing.T) {
	err := cleanup.RemoveStaleParts(context.Background(), filepath.Join(t.TempDir(), "nope"), time.Hour)
	assert.NoError(t, err)
}
