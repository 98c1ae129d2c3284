package sourcemaps

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// UnknownModule is the sentinel module name used when nothing sensible can
// be derived from a frame's path.
const UnknownModule = "<unknown module>"

var (
	// cleanModuleRe strips common noise prefixes from module paths: leading
	// slashes, asset/build folders, version numbers, and short or full hash
	// segments, plus a trailing commitish.
	cleanModuleRe = regexp.MustCompile(`(?i)^(?:/|(?:(?:java)?scripts?|js|build|static|node_modules|bower_components|[_.~].*?|v?(?:\d+\.)*\d+|[a-f0-9]{7,8}|[a-f0-9]{32}|[a-f0-9]{40})/)+|(?:[-.][a-f0-9]{7,}$)`)

	// versionRe matches a path segment that is an md5/sha1-style digest,
	// typically a release or commit marker.
	versionRe = regexp.MustCompile(`(?i)^(?:[a-f0-9]{32}|[a-f0-9]{40})$`)
)

// GenerateModule converts a URL into a made-up module name by extracting
// just the path (ignoring the query string), trimming the extension and any
// ".min" suffix, and removing useless folder prefixes.
//
// If a path segment is a 32/40-hex digest, everything up to and including
// that segment is dropped instead.
//
// e.g. http://google.com/js/v1.0/foo/bar/baz.js -> foo/bar/baz
func GenerateModule(src string) string {
	if src == "" {
		return UnknownModule
	}

	filename := src
	if parsed, err := url.Parse(src); err == nil {
		if parsed.Path != "" {
			filename = parsed.Path
		} else if parsed.Opaque != "" {
			filename = parsed.Opaque
		}
	}
	if idx := strings.IndexByte(filename, '?'); idx >= 0 {
		filename = filename[:idx]
	}
	if ext := path.Ext(filename); ext != "" {
		filename = filename[:len(filename)-len(ext)]
	}
	filename = strings.TrimSuffix(filename, ".min")

	for idx, token := range strings.Split(filename, "/") {
		if versionRe.MatchString(token) {
			rest := strings.Split(filename, "/")[idx+1:]
			return strings.Join(rest, "/")
		}
	}

	if cleaned := cleanModuleRe.ReplaceAllString(filename, ""); cleaned != "" {
		return cleaned
	}
	return UnknownModule
}
