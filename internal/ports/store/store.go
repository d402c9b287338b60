package store

import (
	"context"
	"errors"
)

// Keys of the values the agent persists. Every process that shares a store
// sees the same entries, which is what makes the dedup lock work across
// execution contexts.
const (
	KeyAuthToken            = "auth_token"
	KeyLastMarkedDate       = "last_marked_date"
	KeyAttendanceLock       = "attendance_lock"
	KeyGeofenceRegions      = "geofence_regions"
	KeyNotificationsEnabled = "notifications_enabled"
)

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store is closed")

// Mutation tells Update what to do with the key after the Mutator ran.
type Mutation int

const (
	// Keep leaves the key untouched.
	Keep Mutation = iota
	// Write stores the returned value.
	Write
	// Remove deletes the key.
	Remove
)

// Mutator inspects the current value of a key and decides its next state.
// It runs while the backend holds exclusive access to the key, so the
// decision and the write are one atomic step.
type Mutator func(current []byte, exists bool) (next []byte, m Mutation, err error)

// Store is the persistent key-value store contract.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, exists bool, err error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Update applies fn atomically and reports whether the key changed.
	Update(ctx context.Context, key string, fn Mutator) (changed bool, err error)
	Close() error
}
