package sourcemaps

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/stacklens/stacklens/pkg/frames"
)

// SourceView wraps the decoded text content of a single file (minified or
// original). Decoding raw bytes into line-split text is lazy and memoized:
// most cached files are never read because no frame points into them.
type SourceView struct {
	raw      []byte
	encoding string

	decoded bool
	lines   []string
	err     error
}

// NewSourceView creates a view over raw bytes with an optional encoding name
// (from the Content-Type charset). An empty encoding means UTF-8.
func NewSourceView(raw []byte, encoding string) *SourceView {
	return &SourceView{raw: raw, encoding: encoding}
}

// NewSourceViewFromString creates a view over already-decoded text, as found
// in a source map's sourcesContent entries.
func NewSourceViewFromString(content string) *SourceView {
	return &SourceView{decoded: true, lines: splitLines(content)}
}

// Lines returns the decoded content split into lines. The first call decodes
// and memoizes; a decoding failure is memoized too and returned as an error
// rather than panicking mid-run.
func (v *SourceView) Lines() ([]string, error) {
	if !v.decoded {
		v.lines, v.err = decodeLines(v.raw, v.encoding)
		v.decoded = true
		v.raw = nil
	}
	return v.lines, v.err
}

func decodeLines(raw []byte, encoding string) ([]string, error) {
	text := raw
	if encoding != "" && !isUTF8Name(encoding) {
		enc, err := htmlindex.Get(encoding)
		if err != nil {
			return nil, &EncodingError{Encoding: encoding, Err: err}
		}
		decoded, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return nil, &EncodingError{Encoding: encoding, Err: err}
		}
		text = decoded
	}
	return splitLines(string(text)), nil
}

func isUTF8Name(name string) bool {
	switch strings.ToLower(name) {
	case "utf-8", "utf8", "us-ascii", "ascii":
		return true
	}
	return false
}

func splitLines(s string) []string {
	// Normalize Windows line endings so column offsets stay aligned.
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.Split(s, "\n")
}

// EncodingError reports a source file that could not be decoded with its
// declared charset. It maps to the InvalidSourceEncoding frame error.
type EncodingError struct {
	Encoding string
	Err      error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("invalid source encoding %q: %v", e.Encoding, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// Record converts the failure into a frame error record for the given URL.
func (e *EncodingError) Record(url string) frames.Record {
	return frames.Record{Kind: frames.KindInvalidSourceEncoding, URL: url, Value: e.Encoding}
}
