package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"attendance.agent/internal/ports/store"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

const (
	// DefaultTTL outlives a normal attempt (location fix plus two backend
	// calls) and lets a crashed attempt self-heal within a minute.
	DefaultTTL = 60 * time.Second

	dateLayout = "2006-01-02"
)

// record is the persisted lock entry.
type record struct {
	AcquiredAt time.Time `json:"acquiredAt"`
	Holder     string    `json:"holder"`
}

// DedupLock is the store-backed mutual exclusion between triggers plus the
// "already completed today" guard. It never keeps state in memory, so every
// process sharing the store sees the same lock.
type DedupLock struct {
	store store.Store
	clock clock.PassiveClock
	ttl   time.Duration
	loc   *time.Location
}

// Option configures a DedupLock.
type Option func(*DedupLock)

// WithTTL overrides the lock lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(l *DedupLock) {
		l.ttl = ttl
	}
}

// WithClock injects the time source.
func WithClock(c clock.PassiveClock) Option {
	return func(l *DedupLock) {
		l.clock = c
	}
}

// WithLocation sets the zone in which calendar days are evaluated.
func WithLocation(loc *time.Location) Option {
	return func(l *DedupLock) {
		l.loc = loc
	}
}

// New creates a DedupLock over s.
func New(s store.Store, opts ...Option) *DedupLock {
	l := &DedupLock{
		store: s,
		clock: clock.RealClock{},
		ttl:   DefaultTTL,
		loc:   time.Local,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TTL returns the configured lock lifetime.
func (l *DedupLock) TTL() time.Duration {
	return l.ttl
}

// TryAcquire takes the lock for holder. A lock younger than the TTL blocks
// acquisition; an older one is stale and gets overwritten.
func (l *DedupLock) TryAcquire(ctx context.Context, holder string) (bool, error) {
	now := l.clock.Now()
	next, err := json.Marshal(record{AcquiredAt: now, Holder: holder})
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock record: %w", err)
	}

	acquired, err := l.store.Update(ctx, store.KeyAttendanceLock, func(cur []byte, exists bool) ([]byte, store.Mutation, error) {
		if exists {
			var held record
			if err := json.Unmarshal(cur, &held); err != nil {
				log.Warn().Err(err).Msg("Unreadable lock record, treating it as stale")
				return next, store.Write, nil
			}
			if l.fresh(held, now) {
				return nil, store.Keep, nil
			}
			log.Info().
				Str("stale_holder", held.Holder).
				Time("acquired_at", held.AcquiredAt).
				Msg("Overriding stale attendance lock")
		}
		return next, store.Write, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to acquire attendance lock: %w", err)
	}
	return acquired, nil
}

// Release removes the lock if holder still owns it. A holder whose lock went
// stale and was taken over must not delete its successor's lock.
func (l *DedupLock) Release(ctx context.Context, holder string) error {
	_, err := l.store.Update(ctx, store.KeyAttendanceLock, func(cur []byte, exists bool) ([]byte, store.Mutation, error) {
		if !exists {
			return nil, store.Keep, nil
		}
		var held record
		if err := json.Unmarshal(cur, &held); err != nil {
			return nil, store.Remove, nil
		}
		if held.Holder != holder {
			log.Warn().Str("holder", holder).Str("current_holder", held.Holder).Msg("Lock was taken over, not releasing")
			return nil, store.Keep, nil
		}
		return nil, store.Remove, nil
	})
	if err != nil {
		return fmt.Errorf("failed to release attendance lock: %w", err)
	}
	return nil
}

// Renew confirms holder still owns the lock and restarts its TTL. It reports
// false when the lock was taken over or is gone; the caller must then stop
// before any remote side effect.
func (l *DedupLock) Renew(ctx context.Context, holder string) (bool, error) {
	now := l.clock.Now()
	next, err := json.Marshal(record{AcquiredAt: now, Holder: holder})
	if err != nil {
		return false, fmt.Errorf("failed to marshal lock record: %w", err)
	}

	owned, err := l.store.Update(ctx, store.KeyAttendanceLock, func(cur []byte, exists bool) ([]byte, store.Mutation, error) {
		if !exists {
			return nil, store.Keep, nil
		}
		var held record
		if err := json.Unmarshal(cur, &held); err != nil || held.Holder != holder {
			return nil, store.Keep, nil
		}
		return next, store.Write, nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to renew attendance lock: %w", err)
	}
	return owned, nil
}

// Held reports whether a fresh lock exists and when it was taken.
func (l *DedupLock) Held(ctx context.Context) (bool, time.Time, error) {
	data, exists, err := l.store.Get(ctx, store.KeyAttendanceLock)
	if err != nil || !exists {
		return false, time.Time{}, err
	}
	var held record
	if err := json.Unmarshal(data, &held); err != nil {
		return false, time.Time{}, nil
	}
	return l.fresh(held, l.clock.Now()), held.AcquiredAt, nil
}

// IsMarkedToday compares the persisted marker with today's calendar date.
func (l *DedupLock) IsMarkedToday(ctx context.Context) (bool, error) {
	last, ok, err := l.LastMarked(ctx)
	if err != nil || !ok {
		return false, err
	}
	return last == l.today(), nil
}

// MarkToday records today as the last successfully marked date.
func (l *DedupLock) MarkToday(ctx context.Context) error {
	if err := l.store.Put(ctx, store.KeyLastMarkedDate, []byte(l.today())); err != nil {
		return fmt.Errorf("failed to persist daily marker: %w", err)
	}
	return nil
}

// LastMarked returns the persisted marker date (YYYY-MM-DD).
func (l *DedupLock) LastMarked(ctx context.Context) (string, bool, error) {
	data, exists, err := l.store.Get(ctx, store.KeyLastMarkedDate)
	if err != nil {
		return "", false, fmt.Errorf("failed to read daily marker: %w", err)
	}
	if !exists {
		return "", false, nil
	}
	return string(data), true, nil
}

func (l *DedupLock) today() string {
	return l.clock.Now().In(l.loc).Format(dateLayout)
}

// fresh is true while the record is inside its TTL. Timestamps from the
// future (clock moved backwards) count as fresh within the same window.
func (l *DedupLock) fresh(r record, now time.Time) bool {
	age := now.Sub(r.AcquiredAt)
	return age < l.ttl && age > -l.ttl
}
