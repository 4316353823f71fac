package session

import (
	"context"
	"time"

	"cadence/api/internal/store"
)

// PostgresFallback stores refresh sessions in the refresh_sessions table.
// It is used when no Redis URL is configured; lookups cost one extra join
// compared to the Redis store.
type PostgresFallback struct {
	store *store.PostgresStore
}

func NewPostgresFallback(pg *store.PostgresStore) *PostgresFallback {
	return &PostgresFallback{store: pg}
}

func (f *PostgresFallback) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return f.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (f *PostgresFallback) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return f.store.LookupRefreshSession(ctx, tokenHash)
}

func (f *PostgresFallback) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return f.store.RevokeRefreshSession(ctx, tokenHash)
}
