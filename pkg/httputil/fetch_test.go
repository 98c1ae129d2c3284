package httputil

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stacklens/stacklens/pkg/frames"
)

func TestFetchBasic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("SourceMap", "app.js.map")
		_, _ = w.Write([]byte("console.log(1);"))
	}))
	defer srv.Close()

	c := NewClient()
	result, err := c.Fetch(context.Background(), srv.URL+"/app.js", FetchOptions{AllowPrivateIP: true})
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if result.Status != 200 {
		t.Errorf("Status = %d, want 200", result.Status)
	}
	if string(result.Body) != "console.log(1);" {
		t.Errorf("Body = %q", result.Body)
	}
	// headers are lowercased
	if result.Headers["sourcemap"] != "app.js.map" {
		t.Errorf("Headers[sourcemap] = %q, want app.js.map", result.Headers["sourcemap"])
	}
	if result.Encoding != "utf-8" {
		t.Errorf("Encoding = %q, want utf-8", result.Encoding)
	}
}

func TestFetchTooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Fetch(context.Background(), srv.URL+"/big.js", FetchOptions{MaxSize: 1024, AllowPrivateIP: true})
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Kind != frames.KindFetchTooLarge {
		t.Errorf("Kind = %s, want %s", fe.Kind, frames.KindFetchTooLarge)
	}
}

func TestFetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient()
	_, err := c.Fetch(context.Background(), srv.URL, FetchOptions{Timeout: 20 * time.Millisecond, AllowPrivateIP: true})
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Kind != frames.KindFetchTimeout {
		t.Errorf("Kind = %s, want %s", fe.Kind, frames.KindFetchTimeout)
	}
}

func TestFetchRestrictedIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// Default policy rejects loopback addresses at dial time.
	c := NewClient()
	_, err := c.Fetch(context.Background(), srv.URL, FetchOptions{})
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Kind != frames.KindRestrictedIP {
		t.Errorf("Kind = %s, want %s", fe.Kind, frames.KindRestrictedIP)
	}
}

func TestFetchInvalidURL(t *testing.T) {
	c := NewClient()
	_, err := c.Fetch(context.Background(), "not a url", FetchOptions{})
	fe, ok := err.(*FetchError)
	if !ok {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fe.Kind != frames.KindInvalidURL {
		t.Errorf("Kind = %s, want %s", fe.Kind, frames.KindInvalidURL)
	}
}

func TestCheckJSContent(t *testing.T) {
	tests := []struct {
		name string
		url  string
		body string
		bad  bool
	}{
		{"html body for js path", "http://example.com/app.js", "<!doctype html><html>", true},
		{"leading whitespace html", "http://example.com/app.js", "\n\t  <html>", true},
		{"real javascript", "http://example.com/app.js", "var x = 1;", false},
		{"html for non-js path", "http://example.com/page", "<html>", false},
		{"empty body", "http://example.com/app.js", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckJSContent(tt.url, []byte(tt.body))
			if tt.bad && err == nil {
				t.Error("expected InvalidContent error")
			}
			if !tt.bad && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if err != nil && err.Kind != frames.KindInvalidContent {
				t.Errorf("Kind = %s, want %s", err.Kind, frames.KindInvalidContent)
			}
		})
	}
}

func TestMaxAge(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		want    time.Duration
	}{
		{"no header", nil, CacheControlMin},
		{"within range", map[string]string{"cache-control": "max-age=300"}, 300 * time.Second},
		{"below min clamps up", map[string]string{"cache-control": "max-age=5"}, CacheControlMin},
		{"above max clamps down", map[string]string{"cache-control": "max-age=86400"}, CacheControlMax},
		{"with other directives", map[string]string{"cache-control": "public, max-age=600"}, 600 * time.Second},
		{"garbage value", map[string]string{"cache-control": "max-age=banana"}, CacheControlMin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MaxAge(tt.headers); got != tt.want {
				t.Errorf("MaxAge = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEncodingFromHeaders(t *testing.T) {
	h := map[string]string{"content-type": "text/javascript; charset=ISO-8859-1"}
	if got := EncodingFromHeaders(h); got != "ISO-8859-1" {
		t.Errorf("EncodingFromHeaders = %q, want ISO-8859-1", got)
	}
	if got := EncodingFromHeaders(map[string]string{}); got != "" {
		t.Errorf("EncodingFromHeaders = %q, want empty", got)
	}
}

func TestRetryOnlyRetriesWrappedErrors(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := Retry(ctx, 3, time.Millisecond, func() error {
		calls++
		return &RetryableError{Err: context.DeadlineExceeded}
	})
	if err == nil {
		t.Fatal("expected error after exhausting attempts")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}

	calls = 0
	permanent := http.ErrBodyNotAllowed
	err = Retry(ctx, 3, time.Millisecond, func() error {
		calls++
		return permanent
	})
	if err != permanent {
		t.Errorf("err = %v, want %v", err, permanent)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry for unwrapped errors)", calls)
	}
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := RetryStoreRead(context.Background(), func() error {
		calls++
		if calls < 2 {
			return &RetryableError{Err: context.DeadlineExceeded}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry error: %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}
