package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 10 * time.Millisecond

// FileStore keeps all entries in one JSON document guarded by an OS file
// lock. Independent processes on the same host can share it: every operation
// takes the lock, reads the document, and rewrites it through a rename.
type FileStore struct {
	path     string
	lockPath string
}

// NewFileStore creates a store persisted at dataDir/attendance.json.
func NewFileStore(dataDir string) (*FileStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	path := filepath.Join(dataDir, "attendance.json")
	return &FileStore{
		path:     path,
		lockPath: path + ".lock",
	}, nil
}

func (s *FileStore) Close() error {
	return nil
}

// acquire takes the file lock through a fresh descriptor. flock(2) locks
// belong to the open file description, so goroutines of this process exclude
// each other the same way separate processes do.
func (s *FileStore) acquire(ctx context.Context, shared bool) (*flock.Flock, error) {
	fl := flock.New(s.lockPath)
	var locked bool
	var err error
	if shared {
		locked, err = fl.TryRLockContext(ctx, lockRetryDelay)
	} else {
		locked, err = fl.TryLockContext(ctx, lockRetryDelay)
	}
	if err != nil {
		fl.Close()
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	if !locked {
		fl.Close()
		return nil, fmt.Errorf("failed to lock store: %w", ctx.Err())
	}
	return fl, nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	fl, err := s.acquire(ctx, true)
	if err != nil {
		return nil, false, err
	}
	defer fl.Close()

	entries, err := s.read()
	if err != nil {
		return nil, false, err
	}
	v, ok := entries[key]
	return v, ok, nil
}

func (s *FileStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.Update(ctx, key, func([]byte, bool) ([]byte, Mutation, error) {
		return value, Write, nil
	})
	return err
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	_, err := s.Update(ctx, key, func([]byte, bool) ([]byte, Mutation, error) {
		return nil, Remove, nil
	})
	return err
}

func (s *FileStore) Update(ctx context.Context, key string, fn Mutator) (bool, error) {
	fl, err := s.acquire(ctx, false)
	if err != nil {
		return false, err
	}
	defer fl.Close()

	entries, err := s.read()
	if err != nil {
		return false, err
	}
	current, exists := entries[key]

	next, m, err := fn(current, exists)
	if err != nil {
		return false, err
	}
	switch m {
	case Write:
		entries[key] = next
	case Remove:
		if !exists {
			return false, nil
		}
		delete(entries, key)
	default:
		return false, nil
	}
	return true, s.write(entries)
}

// read loads the document. Values are base64 in JSON, which keeps arbitrary
// bytes intact.
func (s *FileStore) read() (map[string][]byte, error) {
	entries := make(map[string][]byte)
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return entries, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read store file: %w", err)
	}
	if len(data) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode store file: %w", err)
	}
	return entries, nil
}

func (s *FileStore) write(entries map[string][]byte) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to encode store file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}
