// Package sourcemaps demangles JavaScript stacktraces: it resolves minified
// frame locations through source maps back to original files, lines, and
// function names, and attaches surrounding source context to each frame.
//
// A [Processor] is created per event and is not safe for concurrent use; its
// source and source-map caches are scoped to that one run. Cross-run reuse
// of fetched bytes happens in the artifact resolver's external cache.
package sourcemaps

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/stacklens/stacklens/pkg/artifacts"
	"github.com/stacklens/stacklens/pkg/frames"
	"github.com/stacklens/stacklens/pkg/httputil"
	"github.com/stacklens/stacklens/pkg/observability"
)

// DefaultMaxFetches caps how many distinct URLs one run may resolve. Each
// minified file (with its source map) counts once; past the cap, frames get
// a too-many-sources error instead of content.
const DefaultMaxFetches = 100

var nodeModulesRe = regexp.MustCompile(`\bnode_modules/`)

// FileFetcher resolves one URL through the artifact tiers. The production
// implementation is [artifacts.Resolver].
type FileFetcher interface {
	FetchFile(ctx context.Context, url string, policy artifacts.FetchPolicy) (*httputil.UrlResult, error)
}

// Processor demangles the stacktraces of a single event. Configure the
// exported fields before the ProcessEvent call; they are read-only during
// the run.
type Processor struct {
	Fetcher    FileFetcher
	Policy     artifacts.FetchPolicy
	Logger     *log.Logger
	MaxFetches int // 0 means DefaultMaxFetches

	runID      string
	platform   string
	policy     artifacts.FetchPolicy
	sources    *SourceCache
	maps       *SourceMapCache
	fetchCount int
	touched    map[string]struct{}
}

// NewProcessor creates a single-run processor. Release and dist on the
// policy act as defaults; values carried by the event override them.
func NewProcessor(fetcher FileFetcher, policy artifacts.FetchPolicy) *Processor {
	return &Processor{
		Fetcher:    fetcher,
		Policy:     policy,
		MaxFetches: DefaultMaxFetches,
		runID:      uuid.NewString(),
		sources:    NewSourceCache(),
		maps:       NewSourceMapCache(),
		touched:    make(map[string]struct{}),
	}
}

// Result summarizes one processing run.
type Result struct {
	RunID string

	// SourcemapsApplied counts distinct source maps consulted by any frame.
	SourcemapsApplied int

	// Fetches is how many URL resolutions the run attempted, including ones
	// rejected by the budget.
	Fetches int

	// Errors are the annotations collected across all frames, in frame
	// order. They are also appended to the event itself.
	Errors []frames.Record
}

func (p *Processor) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// ProcessEvent rewrites the event's stacktraces in place: frames gain
// original locations, function names, context lines, and in-app flags where
// source maps allow, and error annotations where they do not.
func (p *Processor) ProcessEvent(ctx context.Context, event *frames.Event) (*Result, error) {
	start := time.Now()

	p.platform = event.Platform
	p.policy = p.Policy
	if event.Release != "" {
		p.policy.Release = event.Release
	}
	if event.Dist != "" {
		p.policy.Dist = event.Dist
	}

	traces := event.AllStacktraces()
	frameCount := 0
	for _, trace := range traces {
		frameCount += len(trace.Frames)
	}
	observability.Processor().OnStacktraceStart(ctx, p.runID, frameCount)

	p.populate(ctx, traces)

	var all []frames.Record
	for _, trace := range traces {
		all = append(all, p.processStacktrace(ctx, trace)...)
	}
	event.Errors = append(event.Errors, all...)

	if len(p.touched) > 0 {
		p.logger().Info("applied sourcemaps",
			"run", p.runID,
			"sourcemaps", len(p.touched),
			"frames", frameCount)
	}
	observability.Processor().OnStacktraceComplete(ctx, p.runID, len(p.touched), time.Since(start))

	return &Result{
		RunID:             p.runID,
		SourcemapsApplied: len(p.touched),
		Fetches:           p.fetchCount,
		Errors:            all,
	}, nil
}

// populate prefetches everything the frames reference directly, so that
// frame processing mostly runs against warm caches.
func (p *Processor) populate(ctx context.Context, traces []*frames.Stacktrace) {
	seen := make(map[string]struct{})
	var pending []string
	for _, trace := range traces {
		for _, frame := range trace.Frames {
			url := frame.AbsPath
			if url == "" {
				continue
			}
			// Chrome emits "<anonymous>" for callbacks of builtins like
			// Array.forEach; there is nothing to fetch behind it.
			if url == "<anonymous>" {
				continue
			}
			if plat := p.framePlatform(frame); plat != "javascript" && plat != "node" {
				continue
			}
			// On node, only files uploaded by the user (the app: scheme)
			// can be prefetched; everything else is runtime-internal.
			if p.platform == "node" && !strings.HasPrefix(url, "app:") {
				continue
			}
			if _, ok := seen[url]; ok {
				continue
			}
			seen[url] = struct{}{}
			pending = append(pending, url)
		}
	}
	for _, url := range pending {
		p.cacheSource(ctx, url)
	}
}

// cacheSource fetches one minified file and, if it advertises one, its
// source map, storing content or errors in the run caches. Each call counts
// against the fetch budget exactly once.
func (p *Processor) cacheSource(ctx context.Context, filename string) {
	maxFetches := p.MaxFetches
	if maxFetches <= 0 {
		maxFetches = DefaultMaxFetches
	}
	p.fetchCount++
	if p.fetchCount > maxFetches {
		p.sources.AddError(filename, frames.Record{Kind: frames.KindTooManyRemoteSources})
		return
	}

	result, err := p.Fetcher.FetchFile(ctx, filename, p.policy)
	if err != nil {
		// Few people upload artifacts for their third-party libraries, so
		// fetch problems with node_modules files are not worth reporting.
		if !strings.Contains(filename, "node_modules") {
			p.sources.AddError(filename, errorRecord(err))
		}
		return
	}
	p.sources.Add(filename, result.Body, result.Encoding)

	// result.URL is definitionally a full URL while filename might use "~";
	// alias one to the other so the file is found under either name.
	p.sources.Alias(result.URL, filename)

	sourcemapURL := DiscoverSourcemapURL(result)
	if sourcemapURL == "" {
		return
	}
	p.maps.Link(filename, sourcemapURL)
	if p.maps.Contains(sourcemapURL) {
		return
	}

	view, err := p.fetchSourcemapView(ctx, sourcemapURL)
	if err != nil {
		// Unlike above, node_modules gets no special treatment here: a
		// dependency that advertises a map is presumably meant to be mapped.
		p.sources.AddError(filename, errorRecord(err))
		return
	}
	p.maps.Add(sourcemapURL, view)

	// Cache any inlined original source code.
	for _, ref := range view.Sources() {
		if content := view.SourceContent(ref.ID); content != "" {
			p.sources.AddView(JoinURL(sourcemapURL, ref.Name), NewSourceViewFromString(content))
		}
	}
}

// fetchSourcemapView retrieves and parses a source map, whether embedded in
// a data URI or fetched like any other file. It does not count against the
// budget; its minified file already did.
func (p *Processor) fetchSourcemapView(ctx context.Context, sourcemapURL string) (SourceMapView, error) {
	var body []byte
	if IsDataURI(sourcemapURL) {
		decoded, err := DecodeDataURI(sourcemapURL)
		if err != nil {
			return nil, &ParseError{URL: "<base64>", Err: err}
		}
		body = decoded
	} else {
		result, err := p.Fetcher.FetchFile(ctx, sourcemapURL, p.policy)
		if err != nil {
			return nil, err
		}
		body = result.Body
	}
	return ParseSourcemap(sourcemapURL, body)
}

// sourceView returns the decoded view for a URL, fetching on first demand.
// Any URL asked about exactly once lands in the cache as content or error,
// so repeats never refetch.
func (p *Processor) sourceView(ctx context.Context, filename string) *SourceView {
	if !p.sources.Contains(filename) {
		p.cacheSource(ctx, filename)
	}
	return p.sources.Get(filename)
}

func (p *Processor) processStacktrace(ctx context.Context, trace *frames.Stacktrace) []frames.Record {
	var all []frames.Record
	rawFrames := make([]*frames.StackFrame, len(trace.Frames))
	rawChanged := false

	// The token resolved for a frame names the enclosing function of the
	// frame above it, so each lookup result is carried to the next frame.
	var prevToken *Token

	for i, frame := range trace.Frames {
		newFrame, rawFrame, token, errs := p.processFrame(ctx, frame, prevToken)
		prevToken = token
		all = append(all, errs...)
		for _, rec := range errs {
			observability.Processor().OnFrameError(ctx, string(rec.Kind))
		}

		rawFrames[i] = frame
		if newFrame != nil {
			trace.Frames[i] = newFrame
			if rawFrame != nil {
				rawFrames[i] = rawFrame
				rawChanged = true
			}
		}
	}
	if rawChanged {
		trace.RawFrames = rawFrames
	}
	return all
}

// processFrame demangles one frame. It returns the rewritten frame (nil when
// the frame is left untouched), the raw pre-mapping frame with minified
// context attached (nil unless that attachment succeeded), the resolved
// token for the next frame's function-name fallback, and any errors.
func (p *Processor) processFrame(ctx context.Context, frame *frames.StackFrame, prevToken *Token) (*frames.StackFrame, *frames.StackFrame, *Token, []frames.Record) {
	// Nothing to demangle without a filename, and Chrome's "<anonymous>"
	// placeholder is not a filename.
	if frame.AbsPath == "" || frame.AbsPath == "<anonymous>" {
		return nil, nil, nil, nil
	}
	// Frames from other runtimes (a python backend frame mixed into the
	// event, say) are left untouched.
	if plat := p.framePlatform(frame); plat != "javascript" && plat != "node" {
		return nil, nil, nil, nil
	}
	// Node's internal modules cannot be mapped; only user-land frames
	// (starting with /) and bundler output are processed.
	if p.framePlatform(frame) == "node" &&
		!strings.HasPrefix(frame.AbsPath, "/") &&
		!strings.HasPrefix(frame.AbsPath, "app:") &&
		!strings.HasPrefix(frame.AbsPath, "webpack:") {
		return nil, nil, nil, nil
	}

	var errs []frames.Record
	minifiedFetchingErrors := p.sources.Errors(frame.AbsPath)
	errs = append(errs, minifiedFetchingErrors...)

	// Line and column numbers are both required and both 1-indexed.
	if frame.Lineno == 0 || frame.Colno == 0 {
		errs = append(errs, frames.Record{
			Kind:   frames.KindMissingRowOrColumn,
			URL:    frame.AbsPath,
			Row:    frame.Lineno,
			Column: frame.Colno,
			Phase:  "process_frame.precheck",
		})
		return nil, nil, nil, errs
	}
	if frame.Lineno < 0 || frame.Colno < 0 {
		errs = append(errs, frames.Record{
			Kind:   frames.KindInvalidRowOrColumn,
			URL:    frame.AbsPath,
			Row:    frame.Lineno,
			Column: frame.Colno,
			Phase:  "process_frame.precheck",
		})
		return nil, nil, nil, errs
	}

	minified := p.sourceView(ctx, frame.AbsPath)
	if minified == nil {
		// Without the minified file there is no sourceMappingURL, no map,
		// no context lines, and no basis for an in-app decision.
		if len(minifiedFetchingErrors) == 0 {
			errs = append(errs, frames.Record{
				Kind: frames.KindMissingMinifiedSource,
				URL:  frame.AbsPath,
			})
		}
		return nil, nil, nil, errs
	}

	newFrame := frame.Clone()
	rawFrame := frame.Clone()

	var (
		token           *Token
		inApp           *bool
		originalSource  *SourceView
		originalAbsPath string
	)
	sourcemapApplied := false

	sourcemapURL, sourcemapView := p.maps.GetLink(frame.AbsPath)
	if sourcemapURL != "" {
		p.touched[sourcemapURL] = struct{}{}
		errs = append(errs, p.sources.Errors(sourcemapURL)...)
	}

	if sourcemapView != nil {
		label := sourcemapURL
		if IsDataURI(sourcemapURL) {
			label = frame.AbsPath + " (inline)"
		}

		// Frames are 1-indexed, map lookups are 0-indexed.
		var ok bool
		token, ok = sourcemapView.Lookup(frame.Lineno-1, frame.Colno-1, frame.Function, minified)
		if !ok {
			token = nil
			errs = append(errs, frames.Record{
				Kind:   frames.KindInvalidStackframeLocation,
				Row:    frame.Lineno,
				Column: frame.Colno,
				Source: frame.AbsPath,
			})
		}

		newFrame.SetData("sourcemap", label)
		sourcemapApplied = true

		if token != nil {
			originalAbsPath = JoinURL(sourcemapURL, token.Src)
			originalSource = p.sourceView(ctx, originalAbsPath)

			newFrame.Lineno = token.SrcLine + 1
			newFrame.Colno = token.SrcCol + 1

			// If the map could not reconstruct the original function name,
			// the token of the caller frame usually holds it.
			functionName := token.Name
			if functionName == "" && prevToken != nil {
				functionName = prevToken.Name
			}
			if functionName != "" {
				newFrame.Function = functionName
			}

			filename := token.Src
			switch {
			case strings.HasPrefix(originalAbsPath, "webpack:"):
				filename = originalAbsPath
				// webpack uses ~ for "relative to resolver root", generally
				// third-party deps out of node_modules.
				if idx := strings.Index(filename, "/~/"); idx >= 0 {
					filename = "~/" + filename[idx+len("/~/"):]
				} else if idx := strings.Index(filename, "webpack:///"); idx >= 0 {
					filename = filename[idx+len("webpack:///"):]
				}

				if strings.HasPrefix(filename, "~/") ||
					strings.Contains(filename, "/node_modules/") ||
					!strings.HasPrefix(filename, "./") {
					inApp = boolPtr(false)
				} else if strings.HasPrefix(filename, "./") {
					inApp = boolPtr(true)
				}
				newFrame.Module = GenerateModule(filename)

			case strings.Contains(originalAbsPath, "/node_modules/"):
				// A subpath of node_modules could in principle hold first
				// party code, but nobody does that.
				inApp = boolPtr(false)
			}

			if strings.HasPrefix(originalAbsPath, "app:") {
				if filename != "" && nodeModulesRe.MatchString(filename) {
					inApp = boolPtr(false)
				} else {
					inApp = boolPtr(true)
				}
			}

			newFrame.AbsPath = originalAbsPath
			newFrame.Filename = filename

			if frame.Module == "" && hasAnyPrefix(originalAbsPath, "http:", "https:", "webpack:", "app:") {
				newFrame.Module = GenerateModule(originalAbsPath)
			}
		}
	} else if sourcemapURL != "" {
		newFrame.SetData("sourcemap", sourcemapURL)
	}

	changedFrame := false
	if originalSource != nil {
		changed, err := p.expandFrame(ctx, newFrame, originalSource)
		if err != nil {
			errs = append(errs, expandErrorRecord(err, frames.KindInvalidSourcemapLocation,
				newFrame.Lineno, newFrame.Colno, newFrame.AbsPath))
		}
		changedFrame = changed
	} else if token != nil {
		// Original source only ever arrives via the map's sourcesContent,
		// so its absence carries no fetching errors of its own.
		errs = append(errs, frames.Record{
			Kind: frames.KindMissingOriginalCode,
			URL:  originalAbsPath,
		})
	}

	changedRaw := false
	if sourcemapApplied {
		changed, err := p.expandFrame(ctx, rawFrame, nil)
		if err != nil && token != nil {
			errs = append(errs, expandErrorRecord(err, frames.KindInvalidStackframeLocation,
				frame.Lineno, frame.Colno, frame.AbsPath))
		}
		changedRaw = changed
	}

	if sourcemapApplied || len(errs) > 0 || changedFrame || changedRaw {
		// A frame that ended up with a visible context line is good enough;
		// whatever went wrong along the way is not worth reporting.
		if newFrame.ContextLine != "" {
			errs = nil
		}
		if inApp != nil {
			newFrame.InApp = inApp
			rawFrame.InApp = boolPtr(*inApp)
		}
		if !changedRaw {
			rawFrame = nil
		}
		return newFrame, rawFrame, token, errs
	}
	return nil, nil, token, nil
}

// expandFrame attaches context lines around the frame's location, reading
// from the given source or, when nil, from the run cache under the frame's
// own abs_path. Returns whether anything was attached.
func (p *Processor) expandFrame(ctx context.Context, frame *frames.StackFrame, source *SourceView) (bool, error) {
	if frame.Lineno == 0 {
		return false, nil
	}
	if source == nil {
		source = p.sourceView(ctx, frame.AbsPath)
		if source == nil {
			return false, nil
		}
	}
	lines, err := source.Lines()
	if err != nil {
		return false, err
	}
	pre, contextLine, post, err := sourceContext(lines, frame.Lineno, frame.Colno, linesOfContext)
	if err != nil {
		return false, err
	}
	frame.PreContext = pre
	frame.ContextLine = contextLine
	frame.PostContext = post
	return true, nil
}

func (p *Processor) framePlatform(frame *frames.StackFrame) string {
	if frame.Platform != "" {
		return frame.Platform
	}
	return p.platform
}

// errorRecord converts a fetch or parse failure into its frame annotation.
func errorRecord(err error) frames.Record {
	var fetchErr *httputil.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Record()
	}
	var parseErr *ParseError
	if errors.As(err, &parseErr) {
		return frames.Record{Kind: frames.KindInvalidSourcemap, URL: parseErr.URL}
	}
	return frames.Record{Kind: frames.KindGenericFetchError}
}

// expandErrorRecord maps a context-extraction failure to the right frame
// annotation: a bad charset keeps its own kind, anything else is a location
// problem of the given kind.
func expandErrorRecord(err error, kind frames.Kind, row, col int, source string) frames.Record {
	var encErr *EncodingError
	if errors.As(err, &encErr) {
		return encErr.Record(source)
	}
	return frames.Record{Kind: kind, Row: row, Column: col, Source: source}
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}
	return false
}

func boolPtr(b bool) *bool { return &b }
