package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StaleRetention is how long an expired entry is kept for revalidation.
const StaleRetention = 7 * 24 * time.Hour

var (
	// ErrCacheMiss indicates the page is not cached.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates a corrupted cache entry.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores pages in Redis.
type Manager struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewManager creates a page cache. ttl is the freshness window for pages
// served without an Expires header.
func NewManager(redisClient redis.Cmdable, prefix string, ttl time.Duration) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
	}
}

// DefaultTTL returns the freshness window applied to new entries.
func (m *Manager) DefaultTTL() time.Duration {
	return m.ttl
}

func (m *Manager) key(pageURL string) string {
	return Key{Prefix: m.prefix, URL: pageURL}.String()
}

// Get returns the cached entry for pageURL, fresh or stale.
// Returns ErrCacheMiss if nothing is stored.
func (m *Manager) Get(ctx context.Context, pageURL string) (*Entry, error) {
	data, err := m.redis.Get(ctx, m.key(pageURL)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			CacheMisses.Inc()
			return nil, ErrCacheMiss
		}
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	CacheHits.Inc()
	return &entry, nil
}

// Set stores entry. The Redis key outlives freshness by StaleRetention so
// the entry can still drive a conditional request.
func (m *Manager) Set(ctx context.Context, pageURL string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}

	data, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, m.key(pageURL), data, entry.TTL()+StaleRetention).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes a cached page.
func (m *Manager) Delete(ctx context.Context, pageURL string) error {
	if err := m.redis.Del(ctx, m.key(pageURL)).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Refresh marks entry fresh again after a 304 and stores it.
func (m *Manager) Refresh(ctx context.Context, pageURL string, entry *Entry, expires time.Time) error {
	entry.Expires = expires
	return m.Set(ctx, pageURL, entry)
}
