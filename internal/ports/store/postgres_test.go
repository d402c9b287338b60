package store

import (
	"context"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Two pools stand in for two agents on different hosts sharing the database.
func TestPostgresStore_UpdateAcrossPools(t *testing.T) {
	dsn := postgresDSN()
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	a := openPostgres(t, dsn)
	b := openPostgres(t, dsn)
	const key = "test_update_across_pools"
	require.NoError(t, a.Delete(ctx, key))

	increment := func(cur []byte, exists bool) ([]byte, Mutation, error) {
		n := 0
		if exists {
			var err error
			if n, err = strconv.Atoi(string(cur)); err != nil {
				return nil, Keep, err
			}
		}
		return []byte(strconv.Itoa(n + 1)), Write, nil
	}

	const perPool = 20
	var wg sync.WaitGroup
	for _, s := range []*PostgresStore{a, b} {
		for i := 0; i < perPool; i++ {
			wg.Add(1)
			go func(s *PostgresStore) {
				defer wg.Done()
				changed, err := s.Update(ctx, key, increment)
				assert.NoError(t, err)
				assert.True(t, changed)
			}(s)
		}
	}
	wg.Wait()

	v, ok, err := b.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strconv.Itoa(2*perPool), string(v), "no increment lost between pools")

	// a failing mutator rolls back and leaves the value alone
	_, err = a.Update(ctx, key, func([]byte, bool) ([]byte, Mutation, error) {
		return nil, Keep, assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	v, _, err = a.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(2*perPool), string(v))

	changed, err := a.Update(ctx, key, func([]byte, bool) ([]byte, Mutation, error) {
		return nil, Remove, nil
	})
	require.NoError(t, err)
	assert.True(t, changed)
	_, ok, err = b.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}
