package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/klauspost/compress/zlib"

	"github.com/stacklens/stacklens/pkg/cache"
	"github.com/stacklens/stacklens/pkg/frames"
	"github.com/stacklens/stacklens/pkg/httputil"
	"github.com/stacklens/stacklens/pkg/observability"
)

const (
	// Cached release-file payloads live longer than negative results: an
	// uploaded artifact is immutable, a missing one may be uploaded shortly.
	artifactTTL = time.Hour
	negativeTTL = time.Minute
	indexTTL    = time.Minute
)

// negativeSentinel marks a cached "definitely not there" result.
var negativeSentinel = []byte("-1")

// FetchPolicy carries the per-request settings that govern where a URL may
// be resolved from.
type FetchPolicy struct {
	// Release and Dist scope the artifact lookup. An empty Release skips
	// the upload tiers entirely.
	Release string
	Dist    string

	// AllowScraping permits falling back to the live web when the release
	// has no matching artifact.
	AllowScraping bool

	// Headers are sent with scrape requests (e.g. a configured token).
	Headers   map[string]string
	VerifySSL bool

	// Timeout bounds each scrape request. 0 uses the client default.
	Timeout time.Duration

	// AllowPrivateIP disables the scrape-time private-address guard.
	AllowPrivateIP bool
}

// Resolver retrieves URL contents through the tiered lookup: content cache,
// bundled archives, individually stored files, then the live web. All tiers
// share one external cache so concurrent runs deduplicate work.
type Resolver struct {
	Store   Store
	Cache   cache.Cache
	Fetcher httputil.Fetcher
	Logger  *log.Logger

	// MaxCacheSize caps the compressed payload size written to the cache.
	// Oversized release files are still served, but only their metadata is
	// cached. 0 means no cap.
	MaxCacheSize int
}

func (r *Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// FetchFile resolves one URL. Failures are returned as *httputil.FetchError
// so callers can attach them to the offending frame and move on.
func (r *Resolver) FetchFile(ctx context.Context, url string, policy FetchPolicy) (*httputil.UrlResult, error) {
	// A trailing ellipsis means the SDK truncated the path; whatever we
	// would fetch is not the file the frame refers to.
	if strings.HasSuffix(url, "...") {
		return nil, &httputil.FetchError{Kind: frames.KindTruncatedURL, URL: url}
	}

	if policy.Release != "" {
		result, err := r.fetchReleaseArtifact(ctx, url, policy.Release, policy.Dist)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return r.finishFetch(url, result)
		}
	}

	if !policy.AllowScraping {
		return nil, &httputil.FetchError{Kind: frames.KindScrapingDisabled, URL: url}
	}
	if !strings.HasPrefix(url, "http:") && !strings.HasPrefix(url, "https:") {
		return nil, &httputil.FetchError{Kind: frames.KindInvalidURL, URL: url}
	}

	result, err := r.scrape(ctx, url, policy)
	if err != nil {
		observability.Fetch().OnFetchError(ctx, url, err)
		return nil, err
	}
	return r.finishFetch(url, result)
}

// finishFetch applies the checks shared by every tier: HTTP status recorded
// at scrape time and the HTML-instead-of-JS guard.
func (r *Resolver) finishFetch(url string, result *httputil.UrlResult) (*httputil.UrlResult, error) {
	if result.Status != 200 {
		return nil, &httputil.FetchError{
			Kind:  frames.KindInvalidHTTPCode,
			URL:   url,
			Value: fmt.Sprintf("%d", result.Status),
		}
	}
	if err := httputil.CheckJSContent(url, result.Body); err != nil {
		return nil, err
	}
	return result, nil
}

// fetchReleaseArtifact looks the URL up among the release's uploads. A nil,
// nil return means "not uploaded": the caller may still scrape.
func (r *Resolver) fetchReleaseArtifact(ctx context.Context, url, release, dist string) (*httputil.UrlResult, error) {
	candidates := Normalize(url)
	idents := make([]string, len(candidates))
	for i, name := range candidates {
		idents[i] = Ident(name, dist)
	}

	// Tier 1: previously resolved content, keyed by the best candidate.
	cacheKey := releaseFileKey(release, idents[0])
	cached, hit, err := r.Cache.Get(ctx, cacheKey)
	if err != nil {
		r.logger().Warn("artifact cache read failed", "url", url, "err", err)
	} else if hit {
		observability.Cache().OnCacheHit(ctx, "releasefile")
		if bytes.Equal(cached, negativeSentinel) {
			return nil, nil
		}
		result, err := decodeCachedFile(url, cached)
		if err == nil {
			return result, nil
		}
		r.logger().Warn("discarding corrupt cache entry", "key", cacheKey, "err", err)
	} else {
		observability.Cache().OnCacheMiss(ctx, "releasefile")
	}

	// Tier 2: bundled archives via the release's artifact index. The index
	// is authoritative for the URLs it lists.
	index, err := r.artifactIndex(ctx, release, dist)
	if err != nil {
		return nil, err
	}
	if index != nil {
		for _, name := range candidates {
			entry, ok := index.Files[name]
			if !ok {
				continue
			}
			file, err := r.archiveMember(ctx, release, dist, entry.ArchiveIdent, name)
			if errors.Is(err, ErrNotFound) {
				// Listed but absent from its archive: a broken upload.
				// Cache the miss so we do not reopen the archive per frame.
				r.cacheSet(ctx, cacheKey, negativeSentinel, negativeTTL, "releasefile")
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			observability.Fetch().OnFetch(ctx, url, "archive", 0)
			return r.cacheArtifact(ctx, url, name, file, cacheKey, release, idents[0]), nil
		}
	}

	// Tier 3: individually stored files, first candidate wins.
	for _, ident := range idents {
		file, err := r.storeRead(ctx, release, dist, ident)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, &httputil.FetchError{Kind: frames.KindGenericFetchError, URL: url, Err: err}
		}
		observability.Fetch().OnFetch(ctx, url, "store", 0)
		return r.cacheArtifact(ctx, url, url, file, cacheKey, release, idents[0]), nil
	}

	r.cacheSet(ctx, cacheKey, negativeSentinel, negativeTTL, "releasefile")
	return nil, nil
}

// artifactIndex returns the release's manifest, caching both presence and
// absence briefly so hot releases do not hammer the store.
func (r *Resolver) artifactIndex(ctx context.Context, release, dist string) (*Index, error) {
	key := artifactIndexKey(release, Ident(IndexFilename, dist))
	cached, hit, err := r.Cache.Get(ctx, key)
	if err == nil && hit {
		observability.Cache().OnCacheHit(ctx, "artifact-index")
		if bytes.Equal(cached, negativeSentinel) {
			return nil, nil
		}
		var index Index
		if err := json.Unmarshal(cached, &index); err == nil {
			return &index, nil
		}
	}
	observability.Cache().OnCacheMiss(ctx, "artifact-index")

	var index *Index
	err = httputil.RetryStoreRead(ctx, func() error {
		var readErr error
		index, readErr = r.Store.ArtifactIndex(ctx, release, dist)
		return readErr
	})
	if err != nil {
		return nil, &httputil.FetchError{Kind: frames.KindGenericFetchError, URL: release, Err: err}
	}

	if index == nil {
		r.cacheSet(ctx, key, negativeSentinel, indexTTL, "artifact-index")
		return nil, nil
	}
	if raw, err := json.Marshal(index); err == nil {
		r.cacheSet(ctx, key, raw, indexTTL, "artifact-index")
	}
	return index, nil
}

// archiveMember extracts one member from a bundled archive. The archive
// bytes themselves go through the store with retries; opened archives are
// not kept across calls since extracted members land in the content cache.
func (r *Resolver) archiveMember(ctx context.Context, release, dist, archiveIdent, name string) (*StoredFile, error) {
	archiveFile, err := r.storeRead(ctx, release, dist, archiveIdent)
	if err != nil {
		return nil, err
	}
	archive, err := OpenArchive(archiveFile.Body)
	if err != nil {
		return nil, fmt.Errorf("archive %s: %w", archiveIdent, err)
	}
	defer archive.Close()
	return archive.ByURL(name)
}

func (r *Resolver) storeRead(ctx context.Context, release, dist, ident string) (*StoredFile, error) {
	var file *StoredFile
	err := httputil.RetryStoreRead(ctx, func() error {
		var readErr error
		file, readErr = r.Store.GetByIdent(ctx, release, dist, ident)
		return readErr
	})
	if err != nil {
		return nil, err
	}
	return file, nil
}

// cacheArtifact builds the UrlResult for a resolved release file and writes
// it through to the content cache. Payloads whose compressed form exceeds
// MaxCacheSize get a metadata-only entry instead, so repeat lookups can
// skip recompression without evicting half the cache.
func (r *Resolver) cacheArtifact(ctx context.Context, url, filename string, file *StoredFile, cacheKey, release, ident string) *httputil.UrlResult {
	result := httputil.NewUrlResult(url, file.Headers, file.Body, 200)

	// A metadata entry from an earlier lookup tells us compression is
	// pointless before we pay for it again.
	if r.MaxCacheSize > 0 {
		if meta, ok, _ := r.Cache.Get(ctx, metaKey(release, ident)); ok {
			var sizes map[string]int
			if json.Unmarshal(meta, &sizes) == nil && sizes["compressed_size"] > r.MaxCacheSize {
				return result
			}
		}
	}

	compressed, err := compress(file.Body)
	if err != nil {
		r.logger().Warn("compress failed", "file", filename, "err", err)
		return result
	}
	if r.MaxCacheSize > 0 && len(compressed) > r.MaxCacheSize {
		meta, _ := json.Marshal(map[string]int{"compressed_size": len(compressed)})
		r.cacheSet(ctx, metaKey(release, ident), meta, artifactTTL, "releasefile-meta")
		return result
	}

	entry := cachedFile{
		URL:      result.URL,
		Headers:  result.Headers,
		Body:     compressed,
		Status:   result.Status,
		Encoding: result.Encoding,
	}
	if raw, err := json.Marshal(entry); err == nil {
		r.cacheSet(ctx, cacheKey, raw, artifactTTL, "releasefile")
	}
	return result
}

// scrape retrieves the URL from the live web, with its own cache keyed by
// URL hash. Negative entries record upstream failures so a broken CDN does
// not get re-fetched for every frame that references it.
func (r *Resolver) scrape(ctx context.Context, url string, policy FetchPolicy) (*httputil.UrlResult, error) {
	key := scrapeKey(url)
	cached, hit, err := r.Cache.Get(ctx, key)
	if err == nil && hit {
		observability.Cache().OnCacheHit(ctx, "source")
		if bytes.HasPrefix(cached, negativeSentinel) {
			return nil, decodeNegative(cached, url)
		}
		if result, err := decodeCachedFile(url, cached); err == nil {
			return result, nil
		}
	}
	observability.Cache().OnCacheMiss(ctx, "source")

	start := time.Now()
	result, err := r.Fetcher.Fetch(ctx, url, httputil.FetchOptions{
		Headers:        policy.Headers,
		VerifySSL:      policy.VerifySSL,
		Timeout:        policy.Timeout,
		AllowPrivateIP: policy.AllowPrivateIP,
	})
	if err != nil {
		r.cacheSet(ctx, key, encodeNegative(err), negativeTTL, "source")
		return nil, err
	}
	observability.Fetch().OnFetch(ctx, url, "scrape", time.Since(start))

	ttl := httputil.MaxAge(result.Headers)
	compressed, cerr := compress(result.Body)
	if cerr == nil {
		entry := cachedFile{
			URL:      result.URL,
			Headers:  result.Headers,
			Body:     compressed,
			Status:   result.Status,
			Encoding: result.Encoding,
		}
		if raw, merr := json.Marshal(entry); merr == nil {
			r.cacheSet(ctx, key, raw, ttl, "source")
			// A silent write rejection (value over the backend's size cap)
			// must surface to the user: the file works now but will be
			// refetched on every event.
			if _, ok, _ := r.Cache.Get(ctx, key); !ok {
				return nil, &httputil.FetchError{
					Kind: frames.KindTooLargeForCache,
					URL:  url,
				}
			}
		}
	}
	return result, nil
}

func (r *Resolver) cacheSet(ctx context.Context, key string, value []byte, ttl time.Duration, keyType string) {
	if err := r.Cache.Set(ctx, key, value, ttl); err != nil {
		r.logger().Warn("cache write failed", "key", key, "err", err)
		return
	}
	observability.Cache().OnCacheSet(ctx, keyType, len(value))
}

// cachedFile is the serialized form of a fetched file. The body is zlib
// compressed; JS bundles compress an order of magnitude.
type cachedFile struct {
	URL      string            `json:"url"`
	Headers  map[string]string `json:"headers"`
	Body     []byte            `json:"body"`
	Status   int               `json:"status"`
	Encoding string            `json:"encoding,omitempty"`
}

// negativeEntry records why a scrape failed so a cached negative replays
// with its original kind instead of a generic fetch error.
type negativeEntry struct {
	Kind  frames.Kind `json:"kind"`
	Value string      `json:"value,omitempty"`
}

func encodeNegative(err error) []byte {
	var fetchErr *httputil.FetchError
	if errors.As(err, &fetchErr) && fetchErr.Kind != "" {
		if raw, merr := json.Marshal(negativeEntry{Kind: fetchErr.Kind, Value: fetchErr.Value}); merr == nil {
			out := append([]byte{}, negativeSentinel...)
			out = append(out, ':')
			return append(out, raw...)
		}
	}
	return negativeSentinel
}

func decodeNegative(raw []byte, url string) *httputil.FetchError {
	rest := bytes.TrimPrefix(raw, negativeSentinel)
	if len(rest) > 1 && rest[0] == ':' {
		var entry negativeEntry
		if err := json.Unmarshal(rest[1:], &entry); err == nil && entry.Kind != "" {
			return &httputil.FetchError{Kind: entry.Kind, URL: url, Value: entry.Value}
		}
	}
	return &httputil.FetchError{Kind: frames.KindGenericFetchError, URL: url}
}

func decodeCachedFile(url string, raw []byte) (*httputil.UrlResult, error) {
	var entry cachedFile
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	body, err := decompress(entry.Body)
	if err != nil {
		return nil, err
	}
	return &httputil.UrlResult{
		URL:      url,
		Headers:  entry.Headers,
		Body:     body,
		Status:   entry.Status,
		Encoding: entry.Encoding,
	}, nil
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	reader, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

func releaseFileKey(release, ident string) string {
	return fmt.Sprintf("releasefile:v1:%s:%s", release, ident)
}

func metaKey(release, ident string) string {
	return "meta:" + releaseFileKey(release, ident)
}

func artifactIndexKey(release, ident string) string {
	return fmt.Sprintf("artifact-index:v1:%s:%s", release, ident)
}

func scrapeKey(url string) string {
	return "source:cache:v4:" + cache.Hash([]byte(url))
}
