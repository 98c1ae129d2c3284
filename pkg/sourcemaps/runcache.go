package sourcemaps

import "github.com/stacklens/stacklens/pkg/frames"

// SourceCache memoizes, for the duration of one stacktrace-processing run,
// the decoded content or fetch errors associated with each URL. A URL is
// fetched at most once per run; every repeat access is answered here.
//
// The cache is scoped to a single run and never shared between goroutines,
// so it carries no locking. Cross-run persistence lives in the external byte
// cache, not here.
type SourceCache struct {
	views   map[string]*SourceView
	aliases map[string]string
	errors  map[string][]frames.Record
}

// NewSourceCache creates an empty per-run source cache.
func NewSourceCache() *SourceCache {
	return &SourceCache{
		views:   make(map[string]*SourceView),
		aliases: make(map[string]string),
		errors:  make(map[string][]frames.Record),
	}
}

func (c *SourceCache) resolve(url string) string {
	if target, ok := c.aliases[url]; ok {
		return target
	}
	return url
}

// Add stores raw content for a URL. Decoding happens lazily on first read.
func (c *SourceCache) Add(url string, body []byte, encoding string) {
	c.views[c.resolve(url)] = NewSourceView(body, encoding)
}

// AddView stores an already-decoded view, as produced from a source map's
// inline sourcesContent.
func (c *SourceCache) AddView(url string, view *SourceView) {
	c.views[c.resolve(url)] = view
}

// Alias makes url resolve to the entry stored under target. Used to unify a
// fetched file's canonical URL with the (possibly `~`-prefixed) name the
// stacktrace referenced it by.
func (c *SourceCache) Alias(url, target string) {
	if url != target {
		c.aliases[url] = target
	}
}

// AddError appends a fetch or decode error for a URL. Errors accumulate;
// they are reported on every frame that references the URL.
func (c *SourceCache) AddError(url string, record frames.Record) {
	key := c.resolve(url)
	c.errors[key] = append(c.errors[key], record)
}

// Get returns the view for a URL, or nil when no content was cached.
func (c *SourceCache) Get(url string) *SourceView {
	return c.views[c.resolve(url)]
}

// Errors returns the recorded errors for a URL, possibly empty.
func (c *SourceCache) Errors(url string) []frames.Record {
	return c.errors[c.resolve(url)]
}

// Contains reports whether any attempt (successful or failed) has been made
// for the URL. A contained URL is never fetched again within the run.
func (c *SourceCache) Contains(url string) bool {
	key := c.resolve(url)
	if _, ok := c.views[key]; ok {
		return true
	}
	_, ok := c.errors[key]
	return ok
}

// SourceMapCache memoizes, per run, the discovered source-map URL for each
// minified URL and the parsed lookup structure for each source-map URL.
// A minified URL may be linked before its map has been fetched; GetLink
// tolerates the map not being present yet.
type SourceMapCache struct {
	links map[string]string
	views map[string]SourceMapView
}

// NewSourceMapCache creates an empty per-run source-map cache.
func NewSourceMapCache() *SourceMapCache {
	return &SourceMapCache{
		links: make(map[string]string),
		views: make(map[string]SourceMapView),
	}
}

// Link records that minifiedURL's sourceMappingURL resolved to sourcemapURL.
func (c *SourceMapCache) Link(minifiedURL, sourcemapURL string) {
	c.links[minifiedURL] = sourcemapURL
}

// GetLink returns the source-map URL linked to a minified URL and, if the
// map has been parsed already, its lookup view.
func (c *SourceMapCache) GetLink(minifiedURL string) (string, SourceMapView) {
	url, ok := c.links[minifiedURL]
	if !ok {
		return "", nil
	}
	return url, c.views[url]
}

// Add stores a parsed lookup view under its source-map URL.
func (c *SourceMapCache) Add(sourcemapURL string, view SourceMapView) {
	c.views[sourcemapURL] = view
}

// Contains reports whether the map at sourcemapURL has been parsed.
func (c *SourceMapCache) Contains(sourcemapURL string) bool {
	_, ok := c.views[sourcemapURL]
	return ok
}
