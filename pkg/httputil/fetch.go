// Package httputil provides the HTTP plumbing for source fetching: a
// scraping client with typed failure kinds, size and timeout limits, and the
// retry policy applied to artifact-store reads.
//
// Fetch failures are classified with [frames.Kind] codes so callers can
// attach them to stack frames as structured error records instead of
// propagating exceptions (a bad URL must never abort a whole stacktrace).
package httputil

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/stacklens/stacklens/pkg/frames"
)

const (
	defaultTimeout = 5 * time.Second
	defaultMaxSize = 40 * 1024 * 1024

	// Cache-Control max-age clamp for scrape results.
	CacheControlMin = 60 * time.Second
	CacheControlMax = 7200 * time.Second
)

// UrlResult is the outcome of retrieving one URL, whether from the network,
// the artifact store, or a cache. Header keys are lowercased so lookups are
// case-insensitive.
type UrlResult struct {
	URL      string
	Headers  map[string]string
	Body     []byte
	Status   int
	Encoding string
}

// NewUrlResult normalizes headers and sniffs the body encoding from the
// Content-Type charset parameter.
func NewUrlResult(url string, headers map[string]string, body []byte, status int) *UrlResult {
	lowered := LowerHeaders(headers)
	return &UrlResult{
		URL:      url,
		Headers:  lowered,
		Body:     body,
		Status:   status,
		Encoding: EncodingFromHeaders(lowered),
	}
}

// FetchError is a typed retrieval failure carrying a frame-error kind.
// It is recovered at the frame level, never propagated past a single URL.
type FetchError struct {
	Kind  frames.Kind
	URL   string
	Value string
	Err   error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.URL)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Record converts the failure into a frame error record.
func (e *FetchError) Record() frames.Record {
	return frames.Record{Kind: e.Kind, URL: e.URL, Value: e.Value}
}

// FetchOptions controls a single scrape.
type FetchOptions struct {
	Headers   map[string]string
	VerifySSL bool
	Timeout   time.Duration // 0 means the default
	MaxSize   int           // response size limit in bytes, 0 means the default
	// AllowPrivateIP permits fetching from loopback and RFC1918 addresses.
	// Production deployments leave this false; tests enable it.
	AllowPrivateIP bool
}

// Fetcher retrieves a URL from the network. The production implementation is
// [Client]; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts FetchOptions) (*UrlResult, error)
}

// Client is the scraping HTTP client. It enforces the security, size, and
// timeout policies and translates transport failures into [FetchError]
// values.
type Client struct {
	// Transport overrides the HTTP transport; nil uses a default that
	// performs the private-IP check at dial time.
	Transport http.RoundTripper
}

// NewClient creates a scraping client with default policies.
func NewClient() *Client { return &Client{} }

// Fetch performs the request. The returned UrlResult has lowercased headers
// and a sniffed encoding; callers are responsible for the HTTP status check
// (a 404 body is still a valid UrlResult).
func (c *Client) Fetch(ctx context.Context, rawURL string, opts FetchOptions) (*UrlResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return nil, &FetchError{Kind: frames.KindInvalidURL, URL: rawURL, Err: err}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxSize := opts.MaxSize
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: frames.KindInvalidURL, URL: rawURL, Err: err}
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{Transport: c.transport(opts)}
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxSize)+1))
	if err != nil {
		return nil, classifyTransportError(rawURL, err)
	}
	if len(body) > maxSize {
		return nil, &FetchError{
			Kind:  frames.KindFetchTooLarge,
			URL:   rawURL,
			Value: fmt.Sprintf("%.1fMB", float64(maxSize)/1024/1024),
		}
	}

	headers := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	return NewUrlResult(rawURL, headers, body, resp.StatusCode), nil
}

func (c *Client) transport(opts FetchOptions) http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	dialer := &net.Dialer{}
	return &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: !opts.VerifySSL},
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			if !opts.AllowPrivateIP {
				if err := checkAddr(addr); err != nil {
					return nil, err
				}
			}
			return dialer.DialContext(ctx, network, addr)
		},
	}
}

// errRestrictedIP marks dials rejected by the private-address policy so the
// failure can be classified after it surfaces through the HTTP client.
var errRestrictedIP = errors.New("restricted ip address")

func checkAddr(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return err
	}
	for _, ip := range ips {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			return errRestrictedIP
		}
	}
	return nil
}

func classifyTransportError(url string, err error) *FetchError {
	switch {
	case errors.Is(err, errRestrictedIP):
		return &FetchError{Kind: frames.KindRestrictedIP, URL: url, Err: err}
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		return &FetchError{Kind: frames.KindFetchTimeout, URL: url, Err: err}
	default:
		var tlsErr *tls.CertificateVerificationError
		if errors.As(err, &tlsErr) {
			return &FetchError{Kind: frames.KindSecurityViolation, URL: url, Err: err}
		}
		return &FetchError{Kind: frames.KindGenericFetchError, URL: url, Err: err}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// CheckJSContent rejects bodies that are clearly not JavaScript. Only URLs
// whose path ends in ".js" are checked: a leading "<" means we most likely
// fetched an HTML login or error page instead of the script.
func CheckJSContent(rawURL string, body []byte) *FetchError {
	parsed, err := url.Parse(rawURL)
	if err != nil || !strings.HasSuffix(parsed.Path, ".js") {
		return nil
	}
	start := trimLeadingSpace(body)
	if len(start) > 0 && start[0] == '<' {
		return &FetchError{
			Kind:  frames.KindInvalidContent,
			URL:   rawURL,
			Value: string(truncate(start, 50)),
		}
	}
	return nil
}

// trimLeadingSpace discards leading whitespace (often found before a
// doctype) from the first 50 bytes of the body.
func trimLeadingSpace(b []byte) []byte {
	b = truncate(b, 50)
	return []byte(strings.TrimLeft(string(b), " \t\r\n\f"))
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

// LowerHeaders returns a copy of headers with lowercased keys so lookups are
// case-insensitive, matching how browsers normalize them.
func LowerHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		out[strings.ToLower(k)] = v
	}
	return out
}

// EncodingFromHeaders extracts the charset parameter from a lowercased
// header map's content-type, or "" when absent.
func EncodingFromHeaders(headers map[string]string) string {
	ct := headers["content-type"]
	if ct == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return ""
	}
	return params["charset"]
}

// MaxAge derives the cache TTL for a scrape result from its Cache-Control
// header, clamped to [CacheControlMin, CacheControlMax].
func MaxAge(headers map[string]string) time.Duration {
	maxAge := CacheControlMin
	if cc := headers["cache-control"]; cc != "" {
		for _, part := range strings.Split(cc, ",") {
			part = strings.TrimSpace(part)
			if v, ok := strings.CutPrefix(part, "max-age="); ok {
				if secs, err := strconv.Atoi(v); err == nil {
					maxAge = max(CacheControlMin, time.Duration(secs)*time.Second)
				}
			}
		}
	}
	return min(maxAge, CacheControlMax)
}
