package fsutil

import (
	"fmt"
	"io"
	"os"
)

// PartSuffix is appended to a destination path to name the backup of its
// partially downloaded bytes across a pause.
const PartSuffix = ".part"

// PartPath returns the backup path for a destination file.
func PartPath(destination string) string {
	return destination + PartSuffix
}

// BackupPart copies the partially written destination file to its .part
// backup. The engine's native backend deletes the partial file when its
// cancel primitive runs, so the copy must happen before that.
func BackupPart(destination string) error {
	src, err := os.Open(destination)
	if err != nil {
		return fmt.Errorf("failed to open partial file: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(PartPath(destination))
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()

		return fmt.Errorf("failed to copy partial file: %w", err)
	}

	return dst.Close()
}

// RestorePart moves the .part backup back over a missing destination,
// undoing the native backend's deletion. It is a no-op when there is no
// backup or the destination still exists.
func RestorePart(destination string) error {
	backup := PartPath(destination)
	if !exists(backup) || exists(destination) {
		return nil
	}

	if err := os.Rename(backup, destination); err != nil {
		return fmt.Errorf("failed to restore backup file: %w", err)
	}

	return nil
}

// RemovePart deletes a leftover .part backup, ignoring a missing file.
func RemovePart(destination string) error {
	if err := os.Remove(PartPath(destination)); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}
