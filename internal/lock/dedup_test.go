package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"attendance.agent/internal/ports/store"
)

func newTestLock(t *testing.T, now time.Time) (*DedupLock, *clocktesting.FakePassiveClock, store.Store) {
	t.Helper()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	clk := clocktesting.NewFakePassiveClock(now)
	return New(s, WithClock(clk), WithLocation(time.UTC)), clk, s
}

func TestTryAcquire_BlocksWhileFresh(t *testing.T) {
	ctx := context.Background()
	l, clk, _ := newTestLock(t, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))

	ok, err := l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.SetTime(clk.Now().Add(2 * time.Second))
	ok, err = l.TryAcquire(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "lock taken 2s ago must block")

	clk.SetTime(clk.Now().Add(57 * time.Second))
	ok, err = l.TryAcquire(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "lock taken 59s ago must still block")
}

func TestTryAcquire_OverridesStaleLock(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	l, clk, _ := newTestLock(t, start)

	ok, err := l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	clk.SetTime(start.Add(DefaultTTL))
	ok, err = l.TryAcquire(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok, "lock exactly TTL old is stale")

	held, at, err := l.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held)
	assert.True(t, at.Equal(start.Add(DefaultTTL)))
}

func TestRelease_OnlyOwnLock(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	l, clk, _ := newTestLock(t, start)

	ok, err := l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	// a stalls past the TTL and b takes over
	clk.SetTime(start.Add(90 * time.Second))
	ok, err = l.TryAcquire(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Release(ctx, "a"))
	held, _, err := l.Held(ctx)
	require.NoError(t, err)
	assert.True(t, held, "late release by a must not free b's lock")

	require.NoError(t, l.Release(ctx, "b"))
	held, _, err = l.Held(ctx)
	require.NoError(t, err)
	assert.False(t, held)

	ok, err = l.TryAcquire(ctx, "c")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenew(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	l, clk, _ := newTestLock(t, start)

	ok, err := l.Renew(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "nothing to renew")

	ok, err = l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	// renewing restarts the TTL
	clk.SetTime(start.Add(50 * time.Second))
	ok, err = l.Renew(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)

	clk.SetTime(start.Add(100 * time.Second))
	ok, err = l.TryAcquire(ctx, "b")
	require.NoError(t, err)
	assert.False(t, ok, "renewed lock is still fresh")

	// a stalls past the renewed TTL and b takes over
	clk.SetTime(start.Add(111 * time.Second))
	ok, err = l.TryAcquire(ctx, "b")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = l.Renew(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok, "a lost the lock")

	ok, err = l.Renew(ctx, "b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTryAcquire_CorruptRecordIsStale(t *testing.T) {
	ctx := context.Background()
	l, _, s := newTestLock(t, time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC))

	require.NoError(t, s.Put(ctx, store.KeyAttendanceLock, []byte("not json")))
	ok, err := l.TryAcquire(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDailyMarker(t *testing.T) {
	ctx := context.Background()
	l, clk, s := newTestLock(t, time.Date(2024, 5, 6, 23, 59, 0, 0, time.UTC))

	marked, err := l.IsMarkedToday(ctx)
	require.NoError(t, err)
	assert.False(t, marked)

	require.NoError(t, l.MarkToday(ctx))
	marked, err = l.IsMarkedToday(ctx)
	require.NoError(t, err)
	assert.True(t, marked)

	v, _, err := s.Get(ctx, store.KeyLastMarkedDate)
	require.NoError(t, err)
	assert.Equal(t, "2024-05-06", string(v))

	// resets at midnight, not after 24h
	clk.SetTime(time.Date(2024, 5, 7, 0, 1, 0, 0, time.UTC))
	marked, err = l.IsMarkedToday(ctx)
	require.NoError(t, err)
	assert.False(t, marked)
}

func TestDailyMarker_UsesConfiguredZone(t *testing.T) {
	ctx := context.Background()
	s, err := store.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	kolkata := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 5th is already the 6th in IST
	clk := clocktesting.NewFakePassiveClock(time.Date(2024, 5, 5, 20, 0, 0, 0, time.UTC))
	l := New(s, WithClock(clk), WithLocation(kolkata))

	require.NoError(t, l.MarkToday(ctx))
	last, ok, err := l.LastMarked(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2024-05-06", last)
}
