package frames

import (
	"encoding/json"
	"testing"
)

func TestCloneIsDeep(t *testing.T) {
	inApp := true
	f := &StackFrame{
		AbsPath:     "http://example.com/app.js",
		Lineno:      10,
		Colno:       4,
		Function:    "handleClick",
		InApp:       &inApp,
		PreContext:  []string{"a", "b"},
		PostContext: []string{"c"},
		Data:        map[string]any{"sourcemap": "http://example.com/app.js.map"},
	}

	c := f.Clone()
	c.PreContext[0] = "changed"
	c.Data["sourcemap"] = "other"

	if f.PreContext[0] != "a" {
		t.Error("clone shares PreContext with original")
	}
	if f.Data["sourcemap"] != "http://example.com/app.js.map" {
		t.Error("clone shares Data with original")
	}
	if c.AbsPath != f.AbsPath || c.Lineno != f.Lineno {
		t.Error("clone lost scalar fields")
	}
}

func TestSetDataAllocates(t *testing.T) {
	f := &StackFrame{}
	f.SetData("sourcemap", "url")
	if f.Data["sourcemap"] != "url" {
		t.Errorf("Data = %v", f.Data)
	}
}

func TestParseEvent(t *testing.T) {
	data := []byte(`{
		"event_id": "abc",
		"platform": "javascript",
		"release": "v1",
		"exception": {"values": [{"type": "TypeError", "stacktrace": {"frames": [
			{"abs_path": "http://example.com/app.js", "lineno": 1, "colno": 2}
		]}}]},
		"stacktrace": {"frames": [{"abs_path": "http://example.com/other.js"}]}
	}`)

	event, err := ParseEvent(data)
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if event.EventID != "abc" || event.Release != "v1" {
		t.Errorf("event fields = %q/%q", event.EventID, event.Release)
	}

	traces := event.AllStacktraces()
	if len(traces) != 2 {
		t.Fatalf("len(traces) = %d, want 2", len(traces))
	}
	// Exception traces come first.
	if traces[0].Frames[0].AbsPath != "http://example.com/app.js" {
		t.Errorf("first trace = %q", traces[0].Frames[0].AbsPath)
	}
	if traces[1].Frames[0].AbsPath != "http://example.com/other.js" {
		t.Errorf("second trace = %q", traces[1].Frames[0].AbsPath)
	}
}

func TestParseEventInvalid(t *testing.T) {
	if _, err := ParseEvent([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestAllStacktracesEmpty(t *testing.T) {
	event := &Event{}
	if traces := event.AllStacktraces(); len(traces) != 0 {
		t.Errorf("len = %d, want 0", len(traces))
	}
}

func TestKindMessage(t *testing.T) {
	if got := KindScrapingDisabled.Message(); got != "Web scraping is disabled" {
		t.Errorf("Message = %q", got)
	}
	if got := Kind("js_unknown_kind").Message(); got != "js_unknown_kind" {
		t.Errorf("unknown kind Message = %q", got)
	}
}

func TestRecordString(t *testing.T) {
	r := Record{Kind: KindInvalidHTTPCode, URL: "http://example.com/app.js"}
	want := "HTTP request returned error response: http://example.com/app.js"
	if got := r.String(); got != want {
		t.Errorf("String = %q, want %q", got, want)
	}
}

func TestInAppOmittedWhenNil(t *testing.T) {
	out, err := json.Marshal(&StackFrame{AbsPath: "a"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"abs_path":"a"}` {
		t.Errorf("marshal = %s", out)
	}
}
