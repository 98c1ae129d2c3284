package sourcemaps

import (
	"testing"

	"github.com/stacklens/stacklens/pkg/frames"
)

func TestSourceCacheAddAndGet(t *testing.T) {
	c := NewSourceCache()
	c.Add("http://example.com/app.js", []byte("line one\nline two"), "")

	view := c.Get("http://example.com/app.js")
	if view == nil {
		t.Fatal("expected cached view")
	}
	lines, err := view.Lines()
	if err != nil {
		t.Fatalf("Lines failed: %v", err)
	}
	if len(lines) != 2 || lines[0] != "line one" {
		t.Errorf("lines = %v", lines)
	}

	if c.Get("http://example.com/other.js") != nil {
		t.Error("unknown url should have no view")
	}
}

func TestSourceCacheAlias(t *testing.T) {
	c := NewSourceCache()
	c.Add("~/app.js", []byte("content"), "")
	c.Alias("http://example.com/app.js", "~/app.js")

	if c.Get("http://example.com/app.js") == nil {
		t.Error("aliased url should resolve to the stored view")
	}
	if !c.Contains("http://example.com/app.js") {
		t.Error("aliased url should be contained")
	}

	// Errors recorded under the alias land on the shared entry too.
	c.AddError("http://example.com/app.js", frames.Record{Kind: frames.KindInvalidSourcemap})
	if len(c.Errors("~/app.js")) != 1 {
		t.Error("error via alias should be visible under the target name")
	}
}

func TestSourceCacheContainsCountsErrors(t *testing.T) {
	c := NewSourceCache()
	if c.Contains("http://example.com/app.js") {
		t.Error("empty cache should contain nothing")
	}

	c.AddError("http://example.com/app.js", frames.Record{Kind: frames.KindGenericFetchError})
	if !c.Contains("http://example.com/app.js") {
		t.Error("a recorded error marks the url as attempted")
	}
	if c.Get("http://example.com/app.js") != nil {
		t.Error("an errored url has no view")
	}
}

func TestSourceCacheErrorsAccumulate(t *testing.T) {
	c := NewSourceCache()
	c.AddError("u", frames.Record{Kind: frames.KindFetchTimeout})
	c.AddError("u", frames.Record{Kind: frames.KindInvalidSourcemap})
	if len(c.Errors("u")) != 2 {
		t.Errorf("errors = %v", c.Errors("u"))
	}
}

func TestSourceMapCacheLinking(t *testing.T) {
	c := NewSourceMapCache()

	if url, view := c.GetLink("http://example.com/app.js"); url != "" || view != nil {
		t.Error("unlinked url should yield nothing")
	}

	// A link can exist before its map has been parsed.
	c.Link("http://example.com/app.js", "http://example.com/app.js.map")
	url, view := c.GetLink("http://example.com/app.js")
	if url != "http://example.com/app.js.map" {
		t.Errorf("url = %q", url)
	}
	if view != nil {
		t.Error("map not yet parsed, view should be nil")
	}
	if c.Contains("http://example.com/app.js.map") {
		t.Error("Contains should track parsed maps, not links")
	}

	parsed, err := ParseSourcemap("http://example.com/app.js.map",
		[]byte(`{"version":3,"sources":["app.js"],"names":[],"mappings":"AAAA"}`))
	if err != nil {
		t.Fatalf("ParseSourcemap failed: %v", err)
	}
	c.Add("http://example.com/app.js.map", parsed)

	if _, view := c.GetLink("http://example.com/app.js"); view == nil {
		t.Error("after Add, GetLink should return the parsed view")
	}
	if !c.Contains("http://example.com/app.js.map") {
		t.Error("parsed map should be contained")
	}
}
