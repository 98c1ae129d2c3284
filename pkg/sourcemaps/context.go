package sourcemaps

import "errors"

// linesOfContext is the number of surrounding lines (on each side) to attach
// to a frame.
const linesOfContext = 5

// ErrLocationOutOfRange reports a frame location that does not exist in the
// source it is supposed to point into. The caller decides which frame error
// kind it maps to, since that differs between minified and original code.
var ErrLocationOutOfRange = errors.New("location out of range for source")

// trimLine trims a line down to a goal of 140 characters (with a little
// wiggle room to be sensible) and tries to trim around the given column (the
// location of the error), extracting 60 characters on either side of it for
// better context. Truncated ends are marked with a {snip} tag.
func trimLine(line string, column int) string {
	runes := []rune(line)
	ll := len(runes)
	if ll <= 150 {
		return line
	}
	if column > ll {
		column = ll
	}
	start := max(column-60, 0)
	// Round down if it brings us close to the edge
	if start < 5 {
		start = 0
	}
	end := min(start+140, ll)
	// Round up to the end if it's close
	if end > ll-5 {
		end = ll
	}
	// If we are bumped all the way to the end,
	// make sure we still get a full 140 characters in the line
	if end == ll {
		start = max(end-140, 0)
	}
	out := string(runes[start:end])
	if end < ll {
		out += " {snip}"
	}
	if start > 0 {
		out = "{snip} " + out
	}
	return out
}

// sourceContext harvests pre- and post-context lines of code around a
// 1-indexed frame location. It fails with [ErrLocationOutOfRange] when the
// line does not exist in the source, or the column does not exist on that
// line.
func sourceContext(lines []string, lineno, colno, window int) (pre []string, contextLine string, post []string, err error) {
	idx := lineno - 1
	if idx < 0 || idx >= len(lines) {
		return nil, "", nil, ErrLocationOutOfRange
	}
	if colno > len([]rune(lines[idx])) {
		return nil, "", nil, ErrLocationOutOfRange
	}

	lower := max(0, idx-window)
	upper := min(idx+1+window, len(lines))

	for _, l := range lines[lower:idx] {
		pre = append(pre, trimLine(l, 0))
	}
	contextLine = trimLine(lines[idx], colno)
	for _, l := range lines[idx+1 : upper] {
		post = append(post, trimLine(l, 0))
	}
	return pre, contextLine, post, nil
}
