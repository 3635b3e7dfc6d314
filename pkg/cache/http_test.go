package cache

import (
	"bytes"
	"io"
	"net/http"
	"testing"
	"time"
)

func TestResponseToEntry(t *testing.T) {
	lastMod := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	resp := &http.Response{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"Etag":          []string{`"v1"`},
			"Last-Modified": []string{lastMod.Format(http.TimeFormat)},
		},
		Body: io.NopCloser(bytes.NewReader([]byte("<html>names</html>"))),
	}

	entry, err := ResponseToEntry(resp, time.Hour)
	if err != nil {
		t.Fatalf("ResponseToEntry() error = %v", err)
	}

	if string(entry.Data) != "<html>names</html>" {
		t.Errorf("Data = %q", entry.Data)
	}
	if entry.ETag != `"v1"` {
		t.Errorf("ETag = %q", entry.ETag)
	}
	if !entry.LastModified.Equal(lastMod) {
		t.Errorf("LastModified = %v, want %v", entry.LastModified, lastMod)
	}
	if ttl := entry.TTL(); ttl < 59*time.Minute || ttl > time.Hour {
		t.Errorf("TTL() = %v, want about 1h from the default", ttl)
	}

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "<html>names</html>" {
		t.Error("response body was not restored")
	}
}

func TestResponseToEntry_Nil(t *testing.T) {
	if _, err := ResponseToEntry(nil, time.Hour); err == nil {
		t.Error("expected error for nil response")
	}
}

func TestExpiresAt(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		headers http.Header
		want    time.Time
	}{
		{name: "expires header", headers: http.Header{"Expires": []string{now.Add(2 * time.Hour).Format(http.TimeFormat)}}, want: now.Add(2 * time.Hour)},
		{name: "missing header uses default", headers: http.Header{}, want: now.Add(time.Hour)},
		{name: "invalid header uses default", headers: http.Header{"Expires": []string{"0"}}, want: now.Add(time.Hour)},
		{name: "past header is stale now", headers: http.Header{"Expires": []string{now.Add(-time.Hour).Format(http.TimeFormat)}}, want: now},
		{name: "max-age", headers: http.Header{"Cache-Control": []string{"public, max-age=600"}}, want: now.Add(10 * time.Minute)},
		{name: "max-age wins over expires", headers: http.Header{
			"Cache-Control": []string{"max-age=60"},
			"Expires":       []string{now.Add(2 * time.Hour).Format(http.TimeFormat)},
		}, want: now.Add(time.Minute)},
		{name: "no-store", headers: http.Header{"Cache-Control": []string{"No-Store"}}, want: now},
		{name: "no-cache", headers: http.Header{"Cache-Control": []string{"private, no-cache"}}, want: now},
		{name: "bad max-age falls through", headers: http.Header{"Cache-Control": []string{"max-age=soon"}}, want: now.Add(time.Hour)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := expiresAt(tt.headers, time.Hour)
			if diff := got.Sub(tt.want); diff < -2*time.Second || diff > 2*time.Second {
				t.Errorf("expiresAt() = %v, want about %v", got, tt.want)
			}
		})
	}
}

func TestConditionalHeaders(t *testing.T) {
	lastMod := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		entry      *Entry
		wantCond   bool
		wantHeader string
		wantValue  string
	}{
		{name: "nil entry", entry: nil, wantCond: false},
		{name: "no validators", entry: &Entry{Data: []byte("x")}, wantCond: false},
		{name: "etag", entry: &Entry{ETag: `"abc"`}, wantCond: true, wantHeader: "If-None-Match", wantValue: `"abc"`},
		{name: "last modified", entry: &Entry{LastModified: lastMod}, wantCond: true, wantHeader: "If-Modified-Since", wantValue: "Sun, 01 Jan 2023 12:00:00 GMT"},
		{name: "etag preferred", entry: &Entry{ETag: `"abc"`, LastModified: lastMod}, wantCond: true, wantHeader: "If-None-Match", wantValue: `"abc"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ShouldMakeConditionalRequest(tt.entry); got != tt.wantCond {
				t.Errorf("ShouldMakeConditionalRequest() = %v, want %v", got, tt.wantCond)
			}

			req, _ := http.NewRequest(http.MethodGet, "https://muslimnames.com/boy-names", nil)
			AddConditionalHeaders(req, tt.entry)
			if tt.wantHeader != "" && req.Header.Get(tt.wantHeader) != tt.wantValue {
				t.Errorf("%s = %q, want %q", tt.wantHeader, req.Header.Get(tt.wantHeader), tt.wantValue)
			}
		})
	}
}
