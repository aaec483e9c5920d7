// Package cache stores catalog lookups keyed by the raw (genre, filter) pair.
//
// A cache is best-effort: two requests racing on the same cold key both fetch
// upstream and the later Set wins. Values are derivable again at any time, so
// stores never return errors to callers; backend failures read as misses.
package cache

import (
	"context"
	"time"

	"movie-agent/internal/domain"
)

// DefaultTTL is applied to every entry when no TTL is configured.
const DefaultTTL = time.Hour

const (
	keyPrefix    = "movies:"
	keySeparator = "\x1f"
)

// Store is the contract shared by all cache backends.
type Store interface {
	Get(ctx context.Context, key string) ([]domain.Movie, bool)
	Set(ctx context.Context, key string, movies []domain.Movie)
}

// Key derives the cache key for a query. It uses the raw filter text, not any
// resolved identifier, and preserves case.
func Key(genre, filter string) string {
	return keyPrefix + genre + keySeparator + filter
}

// Entry is one cached value with its absolute expiry.
type Entry struct {
	Key       string
	Value     []domain.Movie
	ExpiresAt time.Time
}

// Expired reports whether the entry must no longer be served at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
