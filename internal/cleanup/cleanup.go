// Package cleanup removes on-disk leftovers of the pause protocol. A
// .part backup normally disappears when its transfer resumes or
// completes; backups orphaned by a crash or a never-resumed pause are
// swept here.
package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/qayeq/transferd/internal/fsutil"
	"github.com/qayeq/transferd/internal/logctx"
)

// RemoveStaleParts deletes .part backups in dir that have not been
// touched for longer than keepFor.
func RemoveStaleParts(ctx context.Context, dir string, keepFor time.Duration) error {
	logger := logctx.LoggerFromContext(ctx)
	cutoff := time.Now().Add(-keepFor)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fsutil.PartSuffix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("failed to remove stale backup", "file", path, "err", err)

			return err
		}

		logger.Info("removed stale backup", "file", path)
	}

	return nil
}
