package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// ProgressFile is the name of the progress record inside the working directory.
const ProgressFile = "current-progress.json"

// Progress is the ordered, append-only list of completed step names.
type Progress struct {
	CompletedSteps []string `json:"completedSteps"`
}

// LoadProgress reads the progress record from dir. A missing file yields an
// empty record.
func LoadProgress(dir string) (*Progress, error) {
	path := filepath.Join(dir, ProgressFile)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Progress{CompletedSteps: []string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read progress: %w", err)
	}

	var p Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if p.CompletedSteps == nil {
		p.CompletedSteps = []string{}
	}
	return &p, nil
}

// Completed returns a copy of the completed step names in completion order.
func (p *Progress) Completed() []string {
	return slices.Clone(p.CompletedSteps)
}

// Contains reports whether name has completed.
func (p *Progress) Contains(name string) bool {
	return slices.Contains(p.CompletedSteps, name)
}

// Add appends name unless it is already recorded. It reports whether the
// record changed.
func (p *Progress) Add(name string) bool {
	if p.Contains(name) {
		return false
	}
	p.CompletedSteps = append(p.CompletedSteps, name)
	return true
}

// Save writes the record to dir atomically.
func (p *Progress) Save(dir string) error {
	b, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if err := writeFileAtomic(filepath.Join(dir, ProgressFile), b, 0o644); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}

// Reset removes the progress record from dir.
func Reset(dir string) error {
	err := os.Remove(filepath.Join(dir, ProgressFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// writeFileAtomic replaces path with data so readers observe either the old
// or the new content, never a partial write.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true

	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}
