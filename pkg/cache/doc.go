// Package cache keeps raw listing pages in Redis so repeated dataset builds
// avoid downloading pages that have not changed.
//
// Entries stay fresh until their Expires time (from the response's Expires
// header, or the configured TTL). Fresh entries are served without touching
// the network. Stale entries are kept for StaleRetention and used to send a
// conditional request (If-None-Match / If-Modified-Since); a 304 answer
// re-serves the cached body and refreshes its expiry.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, "names", 24*time.Hour)
//
//	entry, err := manager.Get(ctx, pageURL)
//	switch {
//	case errors.Is(err, cache.ErrCacheMiss):
//		// fetch normally
//	case entry.IsExpired():
//		cache.AddConditionalHeaders(req, entry)
//	default:
//		// serve entry.Data
//	}
//
// # Metrics
//
//   - names_cache_hits_total
//   - names_cache_misses_total
//   - names_304_responses_total
//   - names_cache_errors_total{operation}
package cache
