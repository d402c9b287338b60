package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attendance.agent/pkg/database"
)

type backend struct {
	name string
	open func(t *testing.T) Store
}

func backends(t *testing.T) []backend {
	t.Helper()
	list := []backend{
		{name: "bolt", open: func(t *testing.T) Store {
			s, err := NewBoltStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{name: "file", open: func(t *testing.T) Store {
			s, err := NewFileStore(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
	}
	if dsn := postgresDSN(); dsn != "" {
		list = append(list, backend{name: "postgres", open: func(t *testing.T) Store {
			s := openPostgres(t, dsn)
			_, err := s.DB.Exec(`DELETE FROM agent_kv`)
			require.NoError(t, err)
			return s
		}})
	}
	return list
}

// postgresDSN returns the database used by the postgres tests, if any.
func postgresDSN() string {
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}
	return os.Getenv("ATTENDANCE_TEST_POSTGRES_DSN")
}

func openPostgres(t *testing.T, dsn string) *PostgresStore {
	t.Helper()
	db, err := database.OpenDSN(dsn)
	require.NoError(t, err)
	s, err := NewPostgresStore(context.Background(), db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_GetPutDelete(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			_, ok, err := s.Get(ctx, KeyAuthToken)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put(ctx, KeyAuthToken, []byte("abc")))
			v, ok, err := s.Get(ctx, KeyAuthToken)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, []byte("abc"), v)

			require.NoError(t, s.Delete(ctx, KeyAuthToken))
			_, ok, err = s.Get(ctx, KeyAuthToken)
			require.NoError(t, err)
			assert.False(t, ok)

			// deleting a missing key is not an error
			require.NoError(t, s.Delete(ctx, KeyAuthToken))
		})
	}
}

func TestStore_Update(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			changed, err := s.Update(ctx, KeyAttendanceLock, func(cur []byte, exists bool) ([]byte, Mutation, error) {
				assert.False(t, exists)
				assert.Nil(t, cur)
				return []byte("first"), Write, nil
			})
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = s.Update(ctx, KeyAttendanceLock, func(cur []byte, exists bool) ([]byte, Mutation, error) {
				assert.True(t, exists)
				assert.Equal(t, []byte("first"), cur)
				return nil, Keep, nil
			})
			require.NoError(t, err)
			assert.False(t, changed)

			boom := errors.New("boom")
			_, err = s.Update(ctx, KeyAttendanceLock, func([]byte, bool) ([]byte, Mutation, error) {
				return []byte("never"), Write, boom
			})
			assert.ErrorIs(t, err, boom)

			v, _, err := s.Get(ctx, KeyAttendanceLock)
			require.NoError(t, err)
			assert.Equal(t, []byte("first"), v)

			changed, err = s.Update(ctx, KeyAttendanceLock, func([]byte, bool) ([]byte, Mutation, error) {
				return nil, Remove, nil
			})
			require.NoError(t, err)
			assert.True(t, changed)

			changed, err = s.Update(ctx, KeyAttendanceLock, func([]byte, bool) ([]byte, Mutation, error) {
				return nil, Remove, nil
			})
			require.NoError(t, err)
			assert.False(t, changed)
		})
	}
}

// Only one of many concurrent "write if absent" mutators may win.
func TestStore_UpdateIsAtomic(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			s := b.open(t)

			const workers = 16
			var wg sync.WaitGroup
			results := make(chan bool, workers)
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					changed, err := s.Update(ctx, KeyAttendanceLock, func(_ []byte, exists bool) ([]byte, Mutation, error) {
						if exists {
							return nil, Keep, nil
						}
						return []byte(fmt.Sprintf("holder-%d", i)), Write, nil
					})
					assert.NoError(t, err)
					results <- changed
				}(i)
			}
			wg.Wait()
			close(results)

			winners := 0
			for changed := range results {
				if changed {
					winners++
				}
			}
			assert.Equal(t, 1, winners)
		})
	}
}

func TestFileStore_SharedBetweenInstances(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := NewFileStore(dir)
	require.NoError(t, err)
	b, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, a.Put(ctx, KeyLastMarkedDate, []byte("2024-05-06")))
	v, ok, err := b.Get(ctx, KeyLastMarkedDate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-05-06", string(v))
}

func TestBoltStore_CancelledContext(t *testing.T) {
	s, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Update(ctx, KeyAttendanceLock, func([]byte, bool) ([]byte, Mutation, error) {
		return []byte("x"), Write, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
