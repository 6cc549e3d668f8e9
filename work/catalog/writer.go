package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"m3u-catalog/work/logger"
	"m3u-catalog/work/types"
)

// BackupSuffix is appended to the catalog path for the copy of the prior
// version.
const BackupSuffix = ".backup"

// Writer persists a catalog as an indented JSON array.
type Writer struct {
	path   string
	backup bool
}

// NewWriter returns a writer for path. When backup is set the current file,
// if any, is copied to path + ".backup" before every overwrite.
func NewWriter(path string, backup bool) *Writer {
	return &Writer{path: path, backup: backup}
}

// Path is the catalog file location.
func (w *Writer) Path() string {
	return w.path
}

// Write replaces the catalog file with channels. The new file appears
// atomically; a failed write leaves the previous catalog in place.
func (w *Writer) Write(channels []*types.Channel) error {
	if channels == nil {
		channels = []*types.Channel{}
	}

	data, err := json.MarshalIndent(channels, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal catalog: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(w.path), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}

	if w.backup {
		if err := w.writeBackup(); err != nil {
			return err
		}
	}

	if err := WriteFileAtomic(w.path, data, 0644); err != nil {
		return err
	}

	logger.Info("{catalog/writer - Write} Wrote %d channels to %s", len(channels), w.path)
	return nil
}

func (w *Writer) writeBackup() error {
	current, err := os.ReadFile(w.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read catalog for backup: %w", err)
	}

	backupPath := w.path + BackupSuffix
	if err := WriteFileAtomic(backupPath, current, 0644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	logger.Debug("{catalog/writer - writeBackup} Backed up previous catalog to %s", backupPath)
	return nil
}

// WriteFileAtomic writes data to a temporary file in the target directory,
// syncs it and renames it over path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}

	tmp, err := os.CreateTemp(dir, "."+base+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	// removes the temp file on every failure path; after the rename it is gone
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
