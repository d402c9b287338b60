package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAgent = []byte("agent")

// BoltStore implements Store on top of a bbolt database file. bbolt holds an
// exclusive file lock while open, so one process owns the file at a time and
// every Update is a single serialized write transaction.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "attendance.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketAgent); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketAgent, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketAgent).Get([]byte(key))
		if data != nil {
			// bbolt memory is only valid inside the transaction
			value = append([]byte(nil), data...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgent).Put([]byte(key), value)
	})
}

func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAgent).Delete([]byte(key))
	})
}

func (s *BoltStore) Update(ctx context.Context, key string, fn Mutator) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	changed := false
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAgent)
		data := b.Get([]byte(key))
		var current []byte
		if data != nil {
			current = append([]byte(nil), data...)
		}

		next, m, err := fn(current, data != nil)
		if err != nil {
			return err
		}
		switch m {
		case Write:
			changed = true
			return b.Put([]byte(key), next)
		case Remove:
			changed = data != nil
			return b.Delete([]byte(key))
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}
