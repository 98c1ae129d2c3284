package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/stacklens/stacklens/pkg/cache"
)

// cacheSafeName flattens an arbitrary URL into a member filename.
func cacheSafeName(url string) string {
	return cache.Hash([]byte(url))
}

// manifest is the metadata file bundled at the root of every artifact
// archive, mapping normalized URLs to member filenames and their
// upload-time headers.
type manifest struct {
	Files map[string]manifestEntry `json:"files"`
}

type manifestEntry struct {
	Filename string            `json:"filename"`
	Headers  map[string]string `json:"headers,omitempty"`
}

const manifestName = "manifest.json"

// ZipArchive reads artifact bundles: a zip file whose manifest.json maps
// normalized URLs to members.
type ZipArchive struct {
	reader   *zip.Reader
	manifest manifest
	members  map[string]*zip.File
}

// OpenArchive parses an artifact bundle from memory.
func OpenArchive(data []byte) (*ZipArchive, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	archive := &ZipArchive{
		reader:  reader,
		members: make(map[string]*zip.File, len(reader.File)),
	}
	for _, file := range reader.File {
		archive.members[file.Name] = file
	}

	raw, ok := archive.members[manifestName]
	if !ok {
		return nil, fmt.Errorf("open archive: missing %s", manifestName)
	}
	body, err := readMember(raw)
	if err != nil {
		return nil, fmt.Errorf("open archive: read manifest: %w", err)
	}
	if err := json.Unmarshal(body, &archive.manifest); err != nil {
		return nil, fmt.Errorf("open archive: parse manifest: %w", err)
	}
	return archive, nil
}

// ByURL extracts the member stored under the given normalized URL.
func (a *ZipArchive) ByURL(url string) (*StoredFile, error) {
	entry, ok := a.manifest.Files[url]
	if !ok {
		return nil, ErrNotFound
	}
	member, ok := a.members[entry.Filename]
	if !ok {
		return nil, fmt.Errorf("archive member %q: %w", entry.Filename, ErrNotFound)
	}
	body, err := readMember(member)
	if err != nil {
		return nil, fmt.Errorf("archive member %q: %w", entry.Filename, err)
	}
	return &StoredFile{Body: body, Headers: entry.Headers}, nil
}

func (a *ZipArchive) Close() error { return nil }

func readMember(file *zip.File) ([]byte, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// WriteArchive builds an artifact bundle from url->file mappings. Tests and
// the upload tooling share it so the manifest layout stays in one place.
func WriteArchive(w io.Writer, files map[string]*StoredFile) error {
	zw := zip.NewWriter(w)

	man := manifest{Files: make(map[string]manifestEntry, len(files))}
	for url, file := range files {
		name := "files/" + cacheSafeName(url)
		man.Files[url] = manifestEntry{Filename: name, Headers: file.Headers}
		fw, err := zw.Create(name)
		if err != nil {
			return err
		}
		if _, err := fw.Write(file.Body); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(man)
	if err != nil {
		return err
	}
	fw, err := zw.Create(manifestName)
	if err != nil {
		return err
	}
	if _, err := fw.Write(raw); err != nil {
		return err
	}
	return zw.Close()
}
