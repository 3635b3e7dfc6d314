package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/names-scraper/internal/testutil"
	"github.com/Sternrassler/names-scraper/pkg/cache"
	"github.com/Sternrassler/names-scraper/pkg/ratelimit"
	"github.com/rs/zerolog"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = fastRetry(3)
	cfg.Timeout = time.Second
	cfg.MaxConnections = 4
	cfg.UserAgent = "names-scraper-test/1.0"
	cfg.Headers = map[string]string{"Accept": "text/html"}
	return cfg
}

func newTestFetcher(t *testing.T, cfg Config, opts ...Option) *Fetcher {
	t.Helper()
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	f, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return f
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }},
		{name: "zero connections", mutate: func(c *Config) { c.MaxConnections = 0 }},
		{name: "missing user agent", mutate: func(c *Config) { c.UserAgent = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			if _, err := New(cfg); err == nil {
				t.Error("New() should fail")
			}
		})
	}
}

func TestFetch_Success(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/boy-names", testutil.MockResponse{StatusCode: 200, Body: "<html>ok</html>"})

	f := newTestFetcher(t, testConfig())
	body, err := f.Fetch(context.Background(), site.URL()+"/boy-names")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != "<html>ok</html>" {
		t.Errorf("body = %q", body)
	}

	header := site.LastHeader()
	if header.Get("User-Agent") != "names-scraper-test/1.0" {
		t.Errorf("User-Agent = %q", header.Get("User-Agent"))
	}
	if header.Get("Accept") != "text/html" {
		t.Errorf("Accept = %q", header.Get("Accept"))
	}
}

func TestFetch_ExhaustsExactlyMaxAttempts(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/boy-names", testutil.MockResponse{StatusCode: http.StatusServiceUnavailable})

	f := newTestFetcher(t, testConfig())
	_, err := f.Fetch(context.Background(), site.URL()+"/boy-names")

	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Fetch() error = %v, want ErrRetryExhausted", err)
	}
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Fetch() error is not *FetchError: %T", err)
	}
	if fetchErr.Kind != KindRetryExhausted || fetchErr.Attempts != 3 || fetchErr.StatusCode != 503 {
		t.Errorf("FetchError = %+v", fetchErr)
	}
	if got := site.RequestCount(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
}

func TestFetch_NonRetryableStatus(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	f := newTestFetcher(t, testConfig())
	_, err := f.Fetch(context.Background(), site.URL()+"/missing")

	if !errors.Is(err, ErrNonRetryableStatus) {
		t.Fatalf("Fetch() error = %v, want ErrNonRetryableStatus", err)
	}
	if errors.Is(err, ErrRetryExhausted) {
		t.Error("a 404 must not report retry exhaustion")
	}
	if got := site.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestFetch_StatusOutsideRetryableSetIsNotRetried(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/boy-names", testutil.MockResponse{StatusCode: http.StatusNotImplemented})

	f := newTestFetcher(t, testConfig())
	_, err := f.Fetch(context.Background(), site.URL()+"/boy-names")
	if !errors.Is(err, ErrNonRetryableStatus) {
		t.Fatalf("Fetch() error = %v, want ErrNonRetryableStatus", err)
	}
	if got := site.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

func TestFetch_RecoversAfterTransientFailure(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	var calls int32
	site.SetHandler("/girl-names", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "second time lucky")
	})

	f := newTestFetcher(t, testConfig())
	body, err := f.Fetch(context.Background(), site.URL()+"/girl-names")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != "second time lucky" {
		t.Errorf("body = %q", body)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestFetch_Timeout(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/slow", testutil.MockResponse{StatusCode: 200, Body: "late", Delay: 300 * time.Millisecond})

	cfg := testConfig()
	cfg.Retry = fastRetry(2)
	cfg.Timeout = 50 * time.Millisecond
	f := newTestFetcher(t, cfg)

	_, err := f.Fetch(context.Background(), site.URL()+"/slow")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Fetch() error = %v, want ErrTimeout", err)
	}
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", fetchErr.Attempts)
	}
}

func TestFetch_RateLimitedReportsCooloff(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	var calls int32
	site.SetHandler("/boy-names", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	})

	limiter := ratelimit.New(ratelimit.Config{}, zerolog.Nop())
	f := newTestFetcher(t, testConfig(), WithLimiter(limiter))

	if _, err := f.Fetch(context.Background(), site.URL()+"/boy-names"); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := limiter.State().Cooloffs; got != 1 {
		t.Errorf("Cooloffs = %d, want 1", got)
	}
}

func TestFetch_ConnectionPoolBound(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()

	var current, peak int32
	site.SetHandler("/boy-names", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		fmt.Fprint(w, "ok")
	})

	cfg := testConfig()
	cfg.MaxConnections = 2
	f := newTestFetcher(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			if _, err := f.Fetch(context.Background(), PageURL(site.URL()+"/boy-names", page)); err != nil {
				t.Errorf("Fetch() error = %v", err)
			}
		}(i + 1)
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak concurrent requests = %d, want <= 2", peak)
	}
}

func TestFetch_Cancelled(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetResponse("/boy-names", testutil.MockResponse{StatusCode: 503})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := newTestFetcher(t, testConfig())
	_, err := f.Fetch(ctx, site.URL()+"/boy-names")
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("Fetch() error = %v, want ErrContextCancelled", err)
	}
}

// memoryCache is an in-process PageCache for tests.
type memoryCache struct {
	mu      sync.Mutex
	entries map[string]*cache.Entry
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[string]*cache.Entry)}
}

func (m *memoryCache) Get(_ context.Context, url string) (*cache.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[url]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	cp := *e
	return &cp, nil
}

func (m *memoryCache) Set(_ context.Context, url string, e *cache.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.entries[url] = &cp
	return nil
}

func (m *memoryCache) Refresh(ctx context.Context, url string, e *cache.Entry, expires time.Time) error {
	e.Expires = expires
	return m.Set(ctx, url, e)
}

func (m *memoryCache) DefaultTTL() time.Duration { return time.Hour }

func TestFetch_CacheFreshAndRevalidate(t *testing.T) {
	site := testutil.NewMockSite()
	defer site.Close()
	site.SetHandler("/boy-names", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, "page body")
	})

	pages := newMemoryCache()
	f := newTestFetcher(t, testConfig(), WithCache(pages))
	url := site.URL() + "/boy-names"

	// Miss: network fetch stores the page.
	if body, err := f.Fetch(context.Background(), url); err != nil || string(body) != "page body" {
		t.Fatalf("Fetch() = %q, %v", body, err)
	}

	// Fresh hit: no request.
	if body, err := f.Fetch(context.Background(), url); err != nil || string(body) != "page body" {
		t.Fatalf("Fetch() = %q, %v", body, err)
	}
	if got := site.RequestCount(); got != 1 {
		t.Errorf("requests after fresh hit = %d, want 1", got)
	}

	// Stale: conditional request answered with 304.
	pages.entries[url].Expires = time.Now().Add(-time.Minute)
	body, err := f.Fetch(context.Background(), url)
	if err != nil || string(body) != "page body" {
		t.Fatalf("Fetch() = %q, %v", body, err)
	}
	if got := site.ConditionalCount(); got != 1 {
		t.Errorf("conditional requests = %d, want 1", got)
	}
	if pages.entries[url].IsExpired() {
		t.Error("304 should refresh the cached entry")
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		page int
		want string
	}{
		{1, "https://muslimnames.com/boy-names"},
		{0, "https://muslimnames.com/boy-names"},
		{2, "https://muslimnames.com/boy-names?page=2"},
		{57, "https://muslimnames.com/boy-names?page=57"},
	}
	for _, tt := range tests {
		if got := PageURL("https://muslimnames.com/boy-names", tt.page); got != tt.want {
			t.Errorf("PageURL(%d) = %q, want %q", tt.page, got, tt.want)
		}
	}
}
