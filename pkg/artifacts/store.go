// Package artifacts resolves stack-frame URLs against uploaded release
// artifacts: individually stored files, bundled archives reachable through a
// per-release manifest, and (as a last resort) the live web.
//
// Persistent storage itself is an external collaborator behind the [Store]
// interface; this package owns candidate-name normalization, the tiered
// lookup order, and the caching policy at each tier.
package artifacts

import (
	"context"
	"errors"
	"net/url"

	"github.com/stacklens/stacklens/pkg/cache"
)

// ErrNotFound is returned when an artifact does not exist in a store or
// archive.
var ErrNotFound = errors.New("artifact not found")

// StoredFile is an artifact payload with its upload-time headers.
type StoredFile struct {
	Body    []byte
	Headers map[string]string
}

// IndexEntry maps a normalized URL to the archive holding its content.
type IndexEntry struct {
	ArchiveIdent string `json:"archive_ident"`
}

// Index is the per-release artifact manifest: normalized URL to archive
// reference. It is authoritative: a URL present in the index but missing
// from its archive is a hard not-found.
type Index struct {
	Files map[string]IndexEntry `json:"files"`
}

// Store is the external artifact storage collaborator.
//
// Reads may fail transiently (stale file handles on networked blob
// storage); implementations wrap such failures in
// [httputil.RetryableError] so the resolver's retry policy can engage.
type Store interface {
	// GetByIdent fetches one stored file by its stable identifier within a
	// release+dist, or ErrNotFound.
	GetByIdent(ctx context.Context, release, dist, ident string) (*StoredFile, error)

	// ArtifactIndex returns the release's artifact manifest, or nil when the
	// release has no archives.
	ArtifactIndex(ctx context.Context, release, dist string) (*Index, error)
}

// Archive is an opened artifact bundle. Container parsing is treated as an
// external capability: given a relative URL, return bytes or not-found.
type Archive interface {
	// ByURL extracts the member stored under the exact normalized URL,
	// returning its content and upload-time headers, or ErrNotFound.
	ByURL(url string) (*StoredFile, error)
	Close() error
}

// IndexFilename is the well-known name the artifact manifest is stored
// under within a release.
const IndexFilename = "~/manifest.json"

// Normalize expands a frame URL into its candidate stored names, in
// priority order:
//
//   - the original URL as given (minus any fragment)
//   - (if it had a query) the URL without the query string
//   - "~" + path, i.e. the URL stripped of scheme and host
//   - (if it had a query) the stripped form without the query string
//
// The "~" prefix is the upload convention for host-agnostic artifacts. The
// first candidate that resolves wins.
func Normalize(rawURL string) []string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return []string{rawURL}
	}
	parsed.Fragment = ""

	full := parsed.String()
	urls := []string{full}

	query := parsed.RawQuery
	if query != "" {
		noQuery := *parsed
		noQuery.RawQuery = ""
		urls = append(urls, noQuery.String())
	}

	relative := parsed.Path
	if query != "" {
		urls = append(urls, "~"+relative+"?"+query, "~"+relative)
	} else {
		urls = append(urls, "~"+relative)
	}
	return urls
}

// Ident derives the stable storage identifier for a normalized filename
// within a distribution.
func Ident(filename, dist string) string {
	return cache.Hash([]byte(filename + "\x00" + dist))
}
