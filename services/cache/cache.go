package cache

import (
	"time"
)

// CacheService represents a generic cache with expiring keys. The monitor
// uses it to hold rate-limit cooldowns: while the cooldown key exists,
// polling of the target is paused.
type CacheService interface {
	// Get retrieves a value from the cache
	Get(key string) ([]byte, error)

	// Set stores a value in the cache with an expiration time
	Set(key string, value []byte, expiration time.Duration) error

	// Delete removes a value from the cache
	Delete(key string) error
}
