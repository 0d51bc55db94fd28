package session

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// Store persists an opaque engine state blob across runs. The blob's format
// belongs to the engine; the store only guarantees that a read never observes
// a partial write.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load returns the persisted blob. ok is false when no state has been saved
// yet, which is not an error.
func (s *Store) Load() ([]byte, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load session state: %w", err)
	}
	return data, true, nil
}

// Save atomically replaces the persisted blob. The blob is written to a
// temporary file in the same directory and renamed over the target so a crash
// mid-write leaves the previous state intact.
func (s *Store) Save(blob []byte) error {
	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp*")
	if err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return fmt.Errorf("save session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save session state: %w", err)
	}
	return nil
}
