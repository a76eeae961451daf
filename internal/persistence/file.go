package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/micro-ha/minirack-dashboard/internal/fsutil"
	"github.com/micro-ha/minirack-dashboard/internal/model"
)

// FileStore keeps history in a single JSON file.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) WriteHistory(_ context.Context, h model.History) error {
	data, err := json.MarshalIndent(h, "", "  ")
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, fsutil.OwnerOnly); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return nil
}

func (s *FileStore) ReadHistory(_ context.Context) (model.History, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.History{}, ErrNoHistory
	}
	if err != nil {
		return model.History{}, fmt.Errorf("read history: %w", err)
	}
	var h model.History
	if err := json.Unmarshal(data, &h); err != nil {
		return model.History{}, fmt.Errorf("decode history %s: %w", s.path, err)
	}
	return h, nil
}
