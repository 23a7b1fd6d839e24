package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// moveLegacyFiles moves the backing files from an older data directory into
// dir. A missing legacy directory is a no-op, and nothing is moved if dir
// already has a container of its own.
func moveLegacyFiles(legacyDir, dir string, log *slog.Logger) error {
	if filepath.Clean(legacyDir) == filepath.Clean(dir) {
		return nil
	}
	info, err := os.Stat(legacyDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("legacy location %s is not a directory", legacyDir)
	}
	if _, err := os.Stat(filepath.Join(legacyDir, dbFileName)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := os.Stat(filepath.Join(dir, dbFileName)); err == nil {
		log.Warn("legacy store left in place, current location already has one", "legacy", legacyDir, "dir", dir)
		return nil
	}

	moved := 0
	for _, name := range backingFiles() {
		src := filepath.Join(legacyDir, name)
		if _, err := os.Stat(src); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := moveFile(src, filepath.Join(dir, name)); err != nil {
			return fmt.Errorf("move %s: %w", name, err)
		}
		moved++
	}
	// Only succeeds if the legacy directory is now empty.
	_ = os.Remove(legacyDir)

	log.Info("moved store from legacy location", "legacy", legacyDir, "dir", dir, "files", moved)
	return nil
}

// moveFile renames src to dst, copying when they are on different devices.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}
