package sourcemaps

import "testing"

func TestGenerateModule(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"http://example.com/foo.js", "foo"},
		{"http://example.com/foo/bar.js", "foo/bar"},
		{"http://example.com/js/foo/bar.js", "foo/bar"},
		{"http://example.com/javascript/foo/bar.js", "foo/bar"},
		{"http://example.com/1.0/foo/bar.js", "foo/bar"},
		{"http://example.com/v1/foo/bar.js", "foo/bar"},
		{"http://example.com/v1.0.0/foo/bar.js", "foo/bar"},
		{"http://example.com/_baz/foo/bar.js", "foo/bar"},
		{"http://example.com/1/2/3/foo/bar.js", "foo/bar"},
		{"http://example.com/abcdef0/foo/bar.js", "foo/bar"},
		{"http://example.com/92cd589eca8235e7b373bf5ae94ebf898e3b949c/foo/bar.js", "foo/bar"},
		{"http://example.com/7d6d00eae0ceccdc7ee689659585d95f/foo/bar.js", "foo/bar"},
		{"http://example.com/foo/bar.coffee", "foo/bar"},
		{"http://example.com/foo/bar.js?v=1234", "foo/bar"},
		{"/foo/bar.js", "foo/bar"},
		{"/foo/bar.ts", "foo/bar"},
		{"../../foo/bar.js", "foo/bar"},
		{"/foo/bar.min.js", "foo/bar"},
		{"~/foo/bar.js", "foo/bar"},
		{"app:///foo/bar.js", "foo/bar"},
		{"webpack:///foo/bar.js", "foo/bar"},
		{"", UnknownModule},
		{"http://example.com/", UnknownModule},
	}
	for _, tt := range tests {
		if got := GenerateModule(tt.src); got != tt.want {
			t.Errorf("GenerateModule(%q) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestGenerateModuleVersionSegmentCut(t *testing.T) {
	// Everything up to and including a digest segment is dropped, even
	// otherwise meaningful folders before it.
	got := GenerateModule("http://example.com/assets/7d6d00eae0ceccdc7ee689659585d95f/foo/bar.js")
	if got != "foo/bar" {
		t.Errorf("got %q, want foo/bar", got)
	}
}
