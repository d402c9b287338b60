package core

import (
	"context"
	"fmt"
	"strings"

	"attendance.agent/internal/ports/store"
)

// TokenSource yields the bearer token used against the backend.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StoreTokens keeps the auth token in the persistent store, next to the lock
// and the daily marker.
type StoreTokens struct {
	store store.Store
}

func NewStoreTokens(s store.Store) *StoreTokens {
	return &StoreTokens{store: s}
}

// Token returns the stored token, or "" when the user is logged out.
func (t *StoreTokens) Token(ctx context.Context) (string, error) {
	v, ok, err := t.store.Get(ctx, store.KeyAuthToken)
	if err != nil {
		return "", fmt.Errorf("failed to read auth token: %w", err)
	}
	if !ok {
		return "", nil
	}
	return strings.TrimSpace(string(v)), nil
}

// SetToken stores token; an empty token logs the user out.
func (t *StoreTokens) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return t.store.Delete(ctx, store.KeyAuthToken)
	}
	return t.store.Put(ctx, store.KeyAuthToken, []byte(token))
}
