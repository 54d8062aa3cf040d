// Package cache provides the short lived cache used to debounce auth delegate calls. Values are
// small strings with a TTL; a miss and an error are the same thing to callers, the delegate is
// just asked again.
package cache

import (
	"context"
	"time"
)

// Cache stores string values under string keys with a per-entry TTL.
type Cache interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) (string, bool)

	// Set stores value under key for ttl.
	Set(ctx context.Context, key, value string, ttl time.Duration)
}
