package pipeline

import (
	"fmt"
	"io"
	"os"
)

// copyFile copies src to dst, truncating dst when it exists.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}

// replaceFile swaps the optimized rendition over the original via a backup:
// the original is never left deleted without a valid replacement in place.
// A failure mid-swap restores the original from the backup copy.
func replaceFile(original, optimized string) error {
	backup := original + ".backup"

	if err := copyFile(original, backup); err != nil {
		return fmt.Errorf("failed to back up %s: %w", original, err)
	}

	if err := copyFile(optimized, original); err != nil {
		// Restore from backup; best effort, the backup stays behind if
		// even the restore fails.
		if restoreErr := copyFile(backup, original); restoreErr == nil {
			os.Remove(backup)
		}
		return fmt.Errorf("failed to replace %s, original restored: %w", original, err)
	}

	os.Remove(backup)
	return nil
}
