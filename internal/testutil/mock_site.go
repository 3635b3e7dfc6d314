// Package testutil provides a mock names listing site for tests.
package testutil

import (
	"fmt"
	"html"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/names-scraper/pkg/model"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// Entry is one name row rendered by ListingPage.
type Entry struct {
	Name    string
	Native  string
	Meaning string
	Href    string
}

// MockSite is a configurable listing site backed by httptest.
// Handlers are registered per path; the page number is read from ?page=N.
type MockSite struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requestCount     int
	conditionalCount int
	pageRequests     map[string]int
	lastHeader       http.Header
}

// NewMockSite starts a mock site.
func NewMockSite() *MockSite {
	mock := &MockSite{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		pageRequests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.pageRequests[pageKey(r.URL.Path, PageParam(r))]++
		mock.lastHeader = r.Header.Clone()
		if r.Header.Get("If-None-Match") != "" || r.Header.Get("If-Modified-Since") != "" {
			mock.conditionalCount++
		}
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		http.NotFound(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockSite) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockSite) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a path.
func (m *MockSite) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse serves resp for every request to path.
func (m *MockSite) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		write(w, resp)
	})
}

// SetPages serves pages[N-1] for ?page=N (page 1 when absent) and 404 past the end.
func (m *MockSite) SetPages(path string, pages []string) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		page := PageParam(r)
		if page < 1 || page > len(pages) {
			http.NotFound(w, r)
			return
		}
		write(w, MockResponse{StatusCode: http.StatusOK, Body: pages[page-1]})
	})
}

// SetListing renders total pages of perPage entries each for cat and serves
// them with SetPages. Entry names are "<Prefix><page>-<i>".
func (m *MockSite) SetListing(path string, cat model.Category, total, perPage int) {
	pages := make([]string, total)
	for p := 1; p <= total; p++ {
		pages[p-1] = ListingPage(cat, GenerateEntries(cat, p, perPage), p, total)
	}
	m.SetPages(path, pages)
}

// RequestCount returns the number of requests received.
func (m *MockSite) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// ConditionalCount returns the number of conditional requests received.
func (m *MockSite) ConditionalCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conditionalCount
}

// PageRequests returns how often page of path was requested.
func (m *MockSite) PageRequests(path string, page int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pageRequests[pageKey(path, page)]
}

// LastHeader returns the headers of the most recent request.
func (m *MockSite) LastHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

// PageParam returns the ?page= value, defaulting to 1.
func PageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func pageKey(path string, page int) string {
	return fmt.Sprintf("%s#%d", path, page)
}

func write(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// GenerateEntries builds n distinct entries for a page.
func GenerateEntries(cat model.Category, page, n int) []Entry {
	prefix := "Boy"
	if cat == model.Female {
		prefix = "Girl"
	}
	entries := make([]Entry, n)
	for i := range entries {
		name := fmt.Sprintf("%s%d-%d", prefix, page, i+1)
		entries[i] = Entry{
			Name:    name,
			Native:  "اسم",
			Meaning: "Meaning of " + name,
			Href:    "/" + strings.ToLower(name),
		}
	}
	return entries
}

// ListingPage renders a listing page in the site's markup. total <= 0 omits
// the pagination region.
func ListingPage(cat model.Category, entries []Entry, current, total int) string {
	class := "name_boys"
	if cat == model.Female {
		class = "name_girls"
	}

	var b strings.Builder
	b.WriteString("<html><body>\n<div class=\"names\">\n")
	for _, e := range entries {
		b.WriteString("<div class=\"name_row\">\n")
		if e.Name != "" {
			fmt.Fprintf(&b, "  <a class=\"%s\" href=\"%s\">%s</a>\n", class, html.EscapeString(e.Href), html.EscapeString(e.Name))
		}
		if e.Native != "" {
			fmt.Fprintf(&b, "  <b class=\"name_arabic\">%s</b>\n", html.EscapeString(e.Native))
		}
		if e.Meaning != "" {
			fmt.Fprintf(&b, "  <p>%s</p>\n", html.EscapeString(e.Meaning))
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n")
	if total > 0 {
		fmt.Fprintf(&b, "<div style=\"text-align:center; margin: 10px\">Page %d of %d</div>\n", current, total)
	}
	b.WriteString("</body></html>\n")
	return b.String()
}
