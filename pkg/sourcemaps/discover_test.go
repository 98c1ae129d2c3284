package sourcemaps

import (
	"strings"
	"testing"

	"github.com/stacklens/stacklens/pkg/httputil"
)

func result(url string, headers map[string]string, body string) *httputil.UrlResult {
	return httputil.NewUrlResult(url, headers, []byte(body), 200)
}

func TestDiscoverSourcemapHeader(t *testing.T) {
	r := result("http://example.com/app.js",
		map[string]string{"SourceMap": "/maps/app.js.map"},
		"//# sourceMappingURL=ignored.map")
	if got := DiscoverSourcemapURL(r); got != "http://example.com/maps/app.js.map" {
		t.Errorf("got %q", got)
	}
}

func TestDiscoverSourcemapLegacyHeader(t *testing.T) {
	r := result("http://example.com/app.js",
		map[string]string{"X-SourceMap": "app.js.map"}, "")
	if got := DiscoverSourcemapURL(r); got != "http://example.com/app.js.map" {
		t.Errorf("got %q", got)
	}
}

func TestDiscoverSourcemapComment(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "modern syntax",
			body: "console.log(1)\n//# sourceMappingURL=app.js.map",
			want: "http://example.com/app.js.map",
		},
		{
			name: "legacy @ syntax",
			body: "console.log(1)\n//@ sourceMappingURL=app.js.map",
			want: "http://example.com/app.js.map",
		},
		{
			name: "last comment wins",
			body: "//# sourceMappingURL=first.map\nconsole.log(1)\n//# sourceMappingURL=last.map",
			want: "http://example.com/last.map",
		},
		{
			name: "comment at top of file",
			body: "//# sourceMappingURL=top.map\nconsole.log(1)",
			want: "http://example.com/top.map",
		},
		{
			name: "absolute url preserved",
			body: "//# sourceMappingURL=https://cdn.example.com/app.js.map",
			want: "https://cdn.example.com/app.js.map",
		},
		{
			name: "no map",
			body: "console.log(1)",
			want: "",
		},
		{
			name: "comment buried mid-file is ignored",
			body: strings.Repeat("x\n", 20) + "//# sourceMappingURL=mid.map\n" + strings.Repeat("y\n", 20),
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := result("http://example.com/app.js", nil, tt.body)
			if got := DiscoverSourcemapURL(r); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDiscoverSourcemapAppendedToLastLine(t *testing.T) {
	// Minified bundles often carry the comment at the end of the single
	// code line rather than on its own line.
	body := "!function(){...}();//# sourceMappingURL=bundle.js.map"
	r := result("http://example.com/bundle.js", nil, body)
	if got := DiscoverSourcemapURL(r); got != "http://example.com/bundle.js.map" {
		t.Errorf("got %q", got)
	}
}

func TestDiscoverSourcemapReactNativeComment(t *testing.T) {
	body := "//# sourceMappingURL=app.js.map/*ascii:...*/"
	r := result("http://example.com/app.js", nil, body)
	if got := DiscoverSourcemapURL(r); got != "http://example.com/app.js.map" {
		t.Errorf("got %q", got)
	}
}

func TestDiscoverSourcemapDataURI(t *testing.T) {
	body := "//# sourceMappingURL=data:application/json;base64,eyJ2ZXJzaW9uIjozfQ=="
	r := result("http://example.com/app.js", nil, body)
	got := DiscoverSourcemapURL(r)
	if !IsDataURI(got) {
		t.Errorf("data uri should survive discovery untouched, got %q", got)
	}
}

func TestJoinURL(t *testing.T) {
	tests := []struct {
		base string
		ref  string
		want string
	}{
		{"http://example.com/foo/app.js", "app.js.map", "http://example.com/foo/app.js.map"},
		{"http://example.com/foo/app.js", "/maps/app.js.map", "http://example.com/maps/app.js.map"},
		{"http://example.com/foo/app.js", "https://cdn.example.com/m.map", "https://cdn.example.com/m.map"},
		{"webpack:///bundle.js", "src/index.js", "webpack:///src/index.js"},
		{"http://example.com/a/b/app.js", "../app.js.map", "http://example.com/a/app.js.map"},
	}
	for _, tt := range tests {
		if got := JoinURL(tt.base, tt.ref); got != tt.want {
			t.Errorf("JoinURL(%q, %q) = %q, want %q", tt.base, tt.ref, got, tt.want)
		}
	}
}
