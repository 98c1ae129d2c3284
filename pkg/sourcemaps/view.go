package sourcemaps

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/go-sourcemap/sourcemap"
)

// Token is a single resolved mapping from minified to original code.
// SrcLine and SrcCol are 0-indexed positions in the original source.
type Token struct {
	Src     string // original source file reference, as named in the map
	SrcLine int
	SrcCol  int
	Name    string // original function name, "" when the map has none
}

// SourceRef identifies one entry of a map's sources table.
type SourceRef struct {
	ID   int
	Name string
}

// SourceMapView is the narrow lookup interface over a parsed source map.
// Any conforming parser implementation can back it; the production one wraps
// github.com/go-sourcemap/sourcemap.
//
// Lookup takes 0-indexed minified line and column. The minified function
// name and source are accepted for implementations that can refine names by
// scope analysis; the default implementation relies on the map's names table
// alone.
type SourceMapView interface {
	Lookup(line, col int, minifiedFunction string, minified *SourceView) (*Token, bool)
	Sources() []SourceRef
	SourceContent(id int) string
}

// consumerView backs SourceMapView with a go-sourcemap Consumer plus the
// map's sources/sourcesContent tables, which the consumer does not expose.
// The sources slice holds sourceRoot-joined references matching what the
// consumer returns from lookups.
type consumerView struct {
	consumer *sourcemap.Consumer
	sources  []string
	contents []string
}

// rawMap is the subset of the source-map JSON structure we need beyond what
// the consumer exposes.
type rawMap struct {
	Version        int      `json:"version"`
	SourceRoot     string   `json:"sourceRoot"`
	Sources        []string `json:"sources"`
	SourcesContent []string `json:"sourcesContent"`
	Mappings       string   `json:"mappings"`
}

// ParseError reports a source map that could not be parsed. It maps to the
// InvalidSourcemap frame error.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unparseable sourcemap %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseSourcemap parses a source-map document into a queryable view.
// Malformed JSON or structurally invalid map content yields a *ParseError.
//
// The consumer is deliberately parsed without the map URL: with it, every
// sources entry would be rewritten to an absolute URL, and tokens must
// carry the map's own source references (the processor does its own URL
// joining against the map location). Only sourceRoot is applied.
func ParseSourcemap(mapURL string, body []byte) (SourceMapView, error) {
	consumer, err := sourcemap.Parse("", body)
	if err != nil {
		return nil, &ParseError{URL: mapURL, Err: err}
	}
	var raw rawMap
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{URL: mapURL, Err: err}
	}
	sources := make([]string, len(raw.Sources))
	for i, src := range raw.Sources {
		sources[i] = resolveSource(raw.SourceRoot, src)
	}
	return &consumerView{consumer: consumer, sources: sources, contents: raw.SourcesContent}, nil
}

// resolveSource mirrors the consumer's sourceRoot join so the sources table
// carries the same names lookups return.
func resolveSource(sourceRoot, source string) string {
	if path.IsAbs(source) {
		return source
	}
	if u, err := url.Parse(source); err == nil && u.IsAbs() {
		return source
	}
	if sourceRoot == "" {
		return source
	}
	if u, err := url.Parse(sourceRoot); err == nil && u.IsAbs() {
		joined := *u
		joined.Path = path.Join(joined.Path, source)
		return joined.String()
	}
	return path.Join(sourceRoot, source)
}

// Lookup resolves a 0-indexed minified position. The consumer's convention
// is 1-indexed lines and 0-indexed columns; returned original lines are
// converted back to 0-indexed to match Token's contract.
func (v *consumerView) Lookup(line, col int, minifiedFunction string, minified *SourceView) (*Token, bool) {
	src, name, origLine, origCol, ok := v.consumer.Source(line+1, col)
	if !ok || src == "" || origLine <= 0 {
		return nil, false
	}
	return &Token{Src: src, SrcLine: origLine - 1, SrcCol: origCol, Name: name}, true
}

// Sources enumerates the map's sources table.
func (v *consumerView) Sources() []SourceRef {
	refs := make([]SourceRef, len(v.sources))
	for i, name := range v.sources {
		refs[i] = SourceRef{ID: i, Name: name}
	}
	return refs
}

// SourceContent returns the inlined original source for a sources entry, or
// "" when the map carries none.
func (v *consumerView) SourceContent(id int) string {
	if id < 0 || id >= len(v.contents) {
		return ""
	}
	return v.contents[id]
}

// base64Preamble is the data-URI prefix of an inline source map.
const base64Preamble = "data:application/json;base64,"

// IsDataURI reports whether the sourceMappingURL embeds the map itself.
func IsDataURI(url string) bool {
	return strings.HasPrefix(url, base64Preamble)
}

// DecodeDataURI extracts the map document from an inline data URI,
// tolerating missing base64 padding the way browsers do.
func DecodeDataURI(url string) ([]byte, error) {
	payload := url[len(base64Preamble):]
	if pad := len(payload) % 4; pad != 0 {
		payload += strings.Repeat("=", 4-pad)
	}
	return base64.StdEncoding.DecodeString(payload)
}
