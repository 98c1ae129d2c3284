package frames

// Kind is a machine-readable code classifying why a frame could not be
// (fully) demangled. Kinds are attached to frames as [Record] values and
// rendered inline by consumers; they never abort processing.
type Kind string

// Frame-level error kinds.
const (
	// Fetching
	KindTruncatedURL      Kind = "js_truncated_url"
	KindInvalidURL        Kind = "js_invalid_url"
	KindScrapingDisabled  Kind = "js_scraping_disabled"
	KindInvalidHTTPCode   Kind = "js_invalid_http_code"
	KindInvalidContent    Kind = "js_invalid_content"
	KindRestrictedIP      Kind = "js_restricted_ip"
	KindSecurityViolation Kind = "js_security_violation"
	KindFetchTimeout      Kind = "js_fetch_timeout"
	KindFetchTooLarge     Kind = "js_fetch_too_large"
	KindGenericFetchError Kind = "js_generic_fetch_error"
	KindTooLargeForCache  Kind = "js_too_large_for_cache"

	// Source content
	KindInvalidSourceEncoding Kind = "js_invalid_source_encoding"
	KindMissingMinifiedSource Kind = "js_no_minified_source"
	KindMissingOriginalCode   Kind = "js_no_original_source"

	// Frames and sourcemaps
	KindMissingRowOrColumn        Kind = "js_missing_row_or_column"
	KindInvalidRowOrColumn        Kind = "js_invalid_row_or_column"
	KindInvalidSourcemap          Kind = "js_invalid_sourcemap"
	KindInvalidSourcemapLocation  Kind = "js_invalid_sourcemap_location"
	KindInvalidStackframeLocation Kind = "js_invalid_stackframe_location"
	KindTooManyRemoteSources      Kind = "js_too_many_sources"
)

var kindMessages = map[Kind]string{
	KindTruncatedURL:      "Filename is truncated",
	KindInvalidURL:        "URL is invalid",
	KindScrapingDisabled:  "Web scraping is disabled",
	KindInvalidHTTPCode:   "HTTP request returned error response",
	KindInvalidContent:    "Source file was not JavaScript",
	KindRestrictedIP:      "Cannot fetch resource because IP address is restricted",
	KindSecurityViolation: "Cannot fetch resource because of a security violation",
	KindFetchTimeout:      "Remote file took too long to load",
	KindFetchTooLarge:     "Remote file too large for downloading",
	KindGenericFetchError: "Unable to fetch resource",
	KindTooLargeForCache:  "Remote file too large for caching",

	KindInvalidSourceEncoding: "File was not encoded properly",
	KindMissingMinifiedSource: "Minified source code was not found",
	KindMissingOriginalCode:   "Original source code was not found",

	KindMissingRowOrColumn:        "Cannot apply sourcemap because frame is missing row or column information",
	KindInvalidRowOrColumn:        "Cannot apply sourcemap because frame has invalid row or column information",
	KindInvalidSourcemap:          "Sourcemap was invalid or not parseable",
	KindInvalidSourcemapLocation:  "Location from stackframe mapped to an invalid location in original code",
	KindInvalidStackframeLocation: "Location from stackframe doesn't exist in minified code",
	KindTooManyRemoteSources:      "The maximum number of remote source requests was made",
}

// Message returns the user-facing description for the kind, or the raw code
// when no description is registered.
func (k Kind) Message() string {
	if msg, ok := kindMessages[k]; ok {
		return msg
	}
	return string(k)
}

// Record is a structured per-frame error annotation. Records are values, not
// Go errors: they are collected on a stacktrace and surfaced to the user, and
// processing of sibling frames continues regardless.
type Record struct {
	Kind   Kind   `json:"type"`
	URL    string `json:"url,omitempty"`
	Row    int    `json:"row,omitempty"`
	Column int    `json:"column,omitempty"`
	Source string `json:"source,omitempty"`
	Value  string `json:"value,omitempty"`
	Phase  string `json:"phase,omitempty"`
}

// String renders the record for logs and CLI output.
func (r Record) String() string {
	s := r.Kind.Message()
	if r.URL != "" {
		s += ": " + r.URL
	}
	return s
}
