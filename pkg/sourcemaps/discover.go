package sourcemaps

import (
	"bytes"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/stacklens/stacklens/pkg/httputil"
)

var sourceMappingURLRe = regexp.MustCompile(`//# sourceMappingURL=(.*)$`)

// DiscoverSourcemapURL locates the source-map URL for a fetched minified
// file. Precedence: the SourceMap/X-SourceMap response header, then a
// sourceMappingURL comment within the first or last five lines of the body
// (last match wins, matching browser devtools), then a final regex pass over
// the trailing 300 bytes of the last candidate line for maps appended after
// code on one line.
//
// Relative URLs are resolved against the fetched document's own URL. The
// empty string means no map was advertised.
func DiscoverSourcemapURL(result *httputil.UrlResult) string {
	found := result.Headers["sourcemap"]
	if found == "" {
		found = result.Headers["x-sourcemap"]
	}

	if found == "" {
		lines := bytes.Split(result.Body, []byte("\n"))
		// Maps only realistically live at the top or bottom of the document;
		// being generous, take five lines from each end.
		candidates := lines
		if len(lines) > 10 {
			candidates = append(append([][]byte{}, lines[:5]...), lines[len(lines)-5:]...)
		}

		// Scan sequentially; the last one found wins. Undocumented, but it is
		// what Chrome and Firefox do.
		for _, line := range candidates {
			if len(line) >= 21 {
				prefix := string(line[:21])
				if prefix == "//# sourceMappingURL=" || prefix == "//@ sourceMappingURL=" {
					found = strings.TrimRight(string(line[21:]), " \t\r")
				}
			}
		}

		// Still nothing: check the end of the last line after the code.
		// Not the literal reading of the spec, but browsers support it.
		// Only the last 300 bytes, since minified JS on a single line
		// can be tens of thousands of characters.
		if found == "" && len(candidates) > 0 {
			tail := bytes.TrimRight(candidates[len(candidates)-1], " \t\r")
			if len(tail) > 300 {
				tail = tail[len(tail)-300:]
			}
			if m := sourceMappingURLRe.FindSubmatch(tail); m != nil {
				found = string(m[1])
			}
		}
	}

	if found == "" {
		return ""
	}

	// react-native appends an out-of-spec trailing comment after the URL
	// (e.g. app.js.map/*ascii:...*/); strip it.
	if idx := strings.Index(found, "/*"); idx > 0 && strings.HasSuffix(found, "*/") {
		found = found[:idx]
	}

	return JoinURL(result.URL, found)
}

// JoinURL resolves ref against base, tolerating the non-standard schemes
// that show up in source maps (webpack:///, app:///). An absolute ref is
// returned untouched; so is anything unparseable.
func JoinURL(base, ref string) string {
	refURL, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	if baseURL.Opaque != "" {
		// Non-hierarchical base like "webpack:foo/bar.js": join on the
		// opaque path by hand, since ResolveReference cannot.
		joined := path.Join(path.Dir(baseURL.Opaque), refURL.Path)
		return baseURL.Scheme + ":" + joined
	}
	return baseURL.ResolveReference(refURL).String()
}
