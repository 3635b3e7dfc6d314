package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Key identifies a cached page.
type Key struct {
	// Prefix namespaces keys of one deployment.
	Prefix string

	// URL is the page URL.
	URL string
}

// String generates a deterministic Redis key.
// Format: prefix:page:host/path:query1=val1:query2=val2
//
// Example:
//
//	names:page:muslimnames.com/boy-names:page=3
func (k Key) String() string {
	prefix := k.Prefix
	if prefix == "" {
		prefix = "names"
	}
	parts := []string{prefix, "page"}

	u, err := url.Parse(k.URL)
	if err != nil || u.Host == "" {
		return strings.Join(append(parts, k.URL), ":")
	}

	parts = append(parts, strings.ToLower(u.Host)+"/"+strings.Trim(u.Path, "/"))

	query := u.Query()
	if len(query) > 0 {
		keys := make([]string, 0, len(query))
		for key := range query {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, query.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}
