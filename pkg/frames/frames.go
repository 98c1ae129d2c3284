// Package frames defines the stack-trace data model shared by the
// symbolication pipeline: frames, stacktraces, and the per-frame error
// records that the processor accumulates instead of failing a run.
//
// A [StackFrame] is mutable and owned by the stacktrace it belongs to; the
// processor rewrites it in place. Line and column numbers are 1-indexed, as
// they appear in JavaScript stack traces.
package frames

import "encoding/json"

// StackFrame is a single frame of a JavaScript stacktrace.
//
// InApp is a tri-state: nil means unclassified, otherwise the frame has been
// decided to be application code (true) or dependency/vendored code (false).
type StackFrame struct {
	AbsPath     string         `json:"abs_path,omitempty"`
	Lineno      int            `json:"lineno,omitempty"`
	Colno       int            `json:"colno,omitempty"`
	Function    string         `json:"function,omitempty"`
	Module      string         `json:"module,omitempty"`
	Filename    string         `json:"filename,omitempty"`
	Platform    string         `json:"platform,omitempty"`
	InApp       *bool          `json:"in_app,omitempty"`
	ContextLine string         `json:"context_line,omitempty"`
	PreContext  []string       `json:"pre_context,omitempty"`
	PostContext []string       `json:"post_context,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Clone returns a deep copy of the frame. The processor uses copies to keep a
// raw (unmapped) variant of each frame alongside the rewritten one.
func (f *StackFrame) Clone() *StackFrame {
	c := *f
	if f.PreContext != nil {
		c.PreContext = append([]string(nil), f.PreContext...)
	}
	if f.PostContext != nil {
		c.PostContext = append([]string(nil), f.PostContext...)
	}
	if f.Data != nil {
		c.Data = make(map[string]any, len(f.Data))
		for k, v := range f.Data {
			c.Data[k] = v
		}
	}
	return &c
}

// SetData sets a key in the frame's free-form annotation map, allocating it
// on first use.
func (f *StackFrame) SetData(key string, value any) {
	if f.Data == nil {
		f.Data = make(map[string]any, 1)
	}
	f.Data[key] = value
}

// Stacktrace is an ordered list of frames, oldest call first, matching the
// event schema.
//
// RawFrames preserves the pre-mapping frames (with minified context lines
// attached) whenever mapping changed any frame; it stays nil otherwise.
type Stacktrace struct {
	Frames    []*StackFrame `json:"frames"`
	RawFrames []*StackFrame `json:"raw_frames,omitempty"`
}

// ExceptionValue is one entry of an event's exception payload.
type ExceptionValue struct {
	Type       string      `json:"type,omitempty"`
	Value      string      `json:"value,omitempty"`
	Stacktrace *Stacktrace `json:"stacktrace,omitempty"`
}

// Exception wraps the exception chain of an event.
type Exception struct {
	Values []*ExceptionValue `json:"values,omitempty"`
}

// Event is the subset of an ingested event the pipeline consumes: the
// platform tag, release/dist identifiers, and one or more stacktraces.
type Event struct {
	EventID     string        `json:"event_id,omitempty"`
	Platform    string        `json:"platform,omitempty"`
	Release     string        `json:"release,omitempty"`
	Dist        string        `json:"dist,omitempty"`
	Exception   *Exception    `json:"exception,omitempty"`
	Stacktrace  *Stacktrace   `json:"stacktrace,omitempty"`
	Stacktraces []*Stacktrace `json:"stacktraces,omitempty"`

	// Errors accumulates the per-frame annotations collected while the
	// event was processed.
	Errors []Record `json:"errors,omitempty"`
}

// AllStacktraces returns every stacktrace carried by the event: the
// exception chain's traces first, then any standalone ones.
func (e *Event) AllStacktraces() []*Stacktrace {
	var out []*Stacktrace
	if e.Exception != nil {
		for _, v := range e.Exception.Values {
			if v != nil && v.Stacktrace != nil {
				out = append(out, v.Stacktrace)
			}
		}
	}
	out = append(out, e.Stacktraces...)
	if e.Stacktrace != nil {
		out = append(out, e.Stacktrace)
	}
	return out
}

// ParseEvent decodes an event JSON document.
func ParseEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}
