// Package docstore implements domain.DocStore on the local filesystem. Each
// durable resource owns one JSON file that is read fully at startup and
// rewritten wholesale on every mutation via an atomic rename, so a partially
// written file can never replace a good one.
package docstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dmarkhas/solsentry/internal/domain"
)

// FileStore persists a single JSON document at a fixed path.
type FileStore struct {
	path string
}

// New creates a FileStore for the given file under dir, creating dir if
// needed.
func New(dir, file string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("docstore: create dir %s: %w", dir, err)
	}
	return &FileStore{path: filepath.Join(dir, file)}, nil
}

// Load reads the document into v. A missing file is not an error: v is left
// untouched so the caller starts from its zero state.
func (s *FileStore) Load(v any) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("docstore: read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("docstore: decode %s: %w", s.path, err)
	}
	return nil
}

// Save rewrites the document in full. The payload is written to a temp file
// in the same directory and renamed over the target.
func (s *FileStore) Save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("docstore: encode %s: %w", s.path, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("docstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("docstore: replace %s: %w", s.path, err)
	}
	return nil
}

var _ domain.DocStore = (*FileStore)(nil)
