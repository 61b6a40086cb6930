package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/specialistvlad/burstflow/internal/ctxlog"
	"github.com/specialistvlad/burstflow/internal/nodestore"
)

// FileStore keeps the latest snapshot in a single JSON file. Writes go to a
// temporary file first and are renamed into place, so a crash never leaves
// a half-written checkpoint behind.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

var _ Store = (*FileStore)(nil)

// Path returns the snapshot file location.
func (s *FileStore) Path() string { return s.path }

// Save implements Store.
func (s *FileStore) Save(ctx context.Context, snap nodestore.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("Checkpoint written.", "path", s.path, "aggregate", snap.AggregateStatus, "bytes", len(data))
	return nil
}

// Load implements Store. A file holds one run; asking for another run id
// returns ErrNotFound.
func (s *FileStore) Load(ctx context.Context, runID string) (nodestore.Snapshot, error) {
	s.mu.Lock()
	data, err := os.ReadFile(s.path)
	s.mu.Unlock()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nodestore.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return nodestore.Snapshot{}, fmt.Errorf("read checkpoint: %w", err)
	}

	snap, err := decode(data)
	if err != nil {
		return nodestore.Snapshot{}, fmt.Errorf("checkpoint %s: %w", s.path, err)
	}
	if runID != "" && snap.RunID != runID {
		return nodestore.Snapshot{}, fmt.Errorf("%w: run %q is not in %s (found %q)", ErrNotFound, runID, s.path, snap.RunID)
	}
	return snap, nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
