package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/compozy/pagerag/engine/rag/persist"
	"github.com/compozy/pagerag/pkg/logger"
)

const (
	fileLockName   = ".pagerag.lock"
	fileExtension  = ".json"
	fileLockRetry  = 10 * time.Millisecond
	fileDirPerm    = 0o750
	fileRecordPerm = 0o600
)

// fileStore keeps one JSON document per file. Writers hold an exclusive flock on the
// directory lock file so other processes never observe a half-committed rename.
type fileStore struct {
	mu   sync.RWMutex
	dir  string
	lock *flock.Flock
}

func newFileStore(cfg *Config) (Store, error) {
	dir := filepath.Clean(cfg.Path)
	if err := os.MkdirAll(dir, fileDirPerm); err != nil {
		return nil, fmt.Errorf("filesystem: ensure directory %q: %w", dir, err)
	}
	return &fileStore{
		dir:  dir,
		lock: flock.New(filepath.Join(dir, fileLockName)),
	}, nil
}

func (s *fileStore) Save(ctx context.Context, documentID string, records []persist.Record) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}
	data, err := persist.Marshal(records)
	if err != nil {
		return fmt.Errorf("filesystem: save %q: %w", documentID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(ctx, false); err != nil {
		return err
	}
	defer s.unlock(ctx)
	path := s.pathFor(documentID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, fileRecordPerm); err != nil {
		return fmt.Errorf("filesystem: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("filesystem: commit %q: %w", path, err)
	}
	logger.FromContext(ctx).Debug("Saved document records", "document_id", documentID, "records", len(records))
	return nil
}

func (s *fileStore) Load(ctx context.Context, documentID string) ([]persist.Record, error) {
	if err := validateDocumentID(documentID); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.acquire(ctx, true); err != nil {
		return nil, err
	}
	defer s.unlock(ctx)
	path := s.pathFor(documentID)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("filesystem: load %q: %w", documentID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("filesystem: read %q: %w", path, err)
	}
	records, err := persist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("filesystem: load %q: %w", documentID, err)
	}
	return records, nil
}

func (s *fileStore) Delete(ctx context.Context, documentID string) error {
	if err := validateDocumentID(documentID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.acquire(ctx, false); err != nil {
		return err
	}
	defer s.unlock(ctx)
	if err := os.Remove(s.pathFor(documentID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filesystem: delete %q: %w", documentID, err)
	}
	return nil
}

func (s *fileStore) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lock.Close()
}

func (s *fileStore) pathFor(documentID string) string {
	return filepath.Join(s.dir, documentID+fileExtension)
}

// acquire takes the directory lock, shared for readers. It polls until ctx ends.
func (s *fileStore) acquire(ctx context.Context, shared bool) error {
	var (
		locked bool
		err    error
	)
	if shared {
		locked, err = s.lock.TryRLockContext(ctx, fileLockRetry)
	} else {
		locked, err = s.lock.TryLockContext(ctx, fileLockRetry)
	}
	if err != nil {
		return fmt.Errorf("filesystem: lock %q: %w", s.dir, err)
	}
	if !locked {
		return fmt.Errorf("filesystem: lock %q: not acquired", s.dir)
	}
	return nil
}

func (s *fileStore) unlock(ctx context.Context) {
	if err := s.lock.Unlock(); err != nil {
		logger.FromContext(ctx).Warn("Failed to release store lock", "path", s.lock.Path(), "error", err)
	}
}
