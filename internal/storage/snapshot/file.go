// Package snapshot keeps a local JSON copy of the model list.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/JakeFAU/bios-notifier/internal/tracker"
)

// File implements tracker.Snapshot as a JSON array on disk.
type File struct {
	path string
}

// NewFile creates a File snapshot at path.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the snapshot location.
func (f *File) Path() string {
	return f.path
}

// Load reads the snapshot. A missing file yields an empty list.
func (f *File) Load(_ context.Context) ([]tracker.Model, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var models []tracker.Model
	if err := json.Unmarshal(data, &models); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", f.path, err)
	}
	return models, nil
}

// Save rewrites the snapshot atomically through a temp file in the same directory.
func (f *File) Save(_ context.Context, models []tracker.Model) error {
	if models == nil {
		models = []tracker.Model{}
	}
	data, err := json.MarshalIndent(models, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace snapshot: %w", err)
	}
	return nil
}
