package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stacklens/stacklens/pkg/artifacts"
	"github.com/stacklens/stacklens/pkg/frames"
	"github.com/stacklens/stacklens/pkg/httputil"
)

type fakeFetcher struct {
	files map[string]string
}

func (f *fakeFetcher) FetchFile(ctx context.Context, url string, policy artifacts.FetchPolicy) (*httputil.UrlResult, error) {
	body, ok := f.files[url]
	if !ok {
		return nil, &httputil.FetchError{Kind: frames.KindInvalidHTTPCode, URL: url, Value: "404"}
	}
	return httputil.NewUrlResult(url, nil, []byte(body), http.StatusOK), nil
}

func inlineSourcemapFile() string {
	sm := `{
		"version": 3,
		"sources": ["original.js"],
		"sourcesContent": ["function makeError() {\n  throw new Error('boom');\n}\n"],
		"names": ["makeError"],
		"mappings": "AAAAA"
	}`
	uri := "data:application/json;base64," + base64.StdEncoding.EncodeToString([]byte(sm))
	return fmt.Sprintf("function a(){throw new Error('boom')}\n//# sourceMappingURL=%s", uri)
}

func eventBody() []byte {
	return []byte(`{
		"event_id": "deadbeef",
		"platform": "javascript",
		"exception": {"values": [{"stacktrace": {"frames": [
			{"abs_path": "http://example.com/app.min.js", "function": "a", "lineno": 1, "colno": 1}
		]}}]}
	}`)
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	fetcher := &fakeFetcher{files: map[string]string{
		"http://example.com/app.min.js": inlineSourcemapFile(),
	}}
	srv := New(fetcher, artifacts.FetchPolicy{AllowScraping: true}, 0, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestSymbolicate(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/symbolicate", "application/json", bytes.NewReader(eventBody()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var out symbolicateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.RunID == "" {
		t.Error("run_id is empty")
	}
	if out.SourcemapsApplied != 1 {
		t.Errorf("sourcemaps_applied = %d, want 1", out.SourcemapsApplied)
	}
	if len(out.Errors) != 0 {
		t.Errorf("unexpected errors: %v", out.Errors)
	}

	traces := out.Event.AllStacktraces()
	if len(traces) != 1 || len(traces[0].Frames) != 1 {
		t.Fatalf("unexpected stacktrace shape")
	}
	frame := traces[0].Frames[0]
	if frame.Function != "makeError" {
		t.Errorf("function = %q, want makeError", frame.Function)
	}
	if !strings.HasSuffix(frame.AbsPath, "original.js") {
		t.Errorf("abs_path = %q, want original.js suffix", frame.AbsPath)
	}
}

func TestSymbolicateBadJSON(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/symbolicate", "application/json", strings.NewReader("not json"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSymbolicateNoStacktraces(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/v1/symbolicate", "application/json", strings.NewReader(`{"event_id": "x"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestSymbolicateFetchErrorsReported(t *testing.T) {
	fetcher := &fakeFetcher{files: map[string]string{}}
	srv := New(fetcher, artifacts.FetchPolicy{AllowScraping: true}, 0, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/v1/symbolicate", "application/json", bytes.NewReader(eventBody()))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var out symbolicateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Errors) == 0 {
		t.Fatal("expected fetch errors in response")
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
