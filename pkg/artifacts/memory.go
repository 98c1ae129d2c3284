package artifacts

import (
	"context"
	"sync"
)

type releaseKey struct {
	release string
	dist    string
}

// MemoryStore is an in-process Store. It backs the standalone CLI mode,
// where artifacts are loaded from local bundles, and the test suites.
type MemoryStore struct {
	mu      sync.Mutex
	files   map[releaseKey]map[string]*StoredFile
	indexes map[releaseKey]*Index
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		files:   make(map[releaseKey]map[string]*StoredFile),
		indexes: make(map[releaseKey]*Index),
	}
}

// Put registers a stored file under its normalized filename.
func (s *MemoryStore) Put(release, dist, filename string, file *StoredFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := releaseKey{release, dist}
	if s.files[key] == nil {
		s.files[key] = make(map[string]*StoredFile)
	}
	s.files[key][Ident(filename, dist)] = file
}

// PutIndex installs the release's artifact manifest.
func (s *MemoryStore) PutIndex(release, dist string, index *Index) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[releaseKey{release, dist}] = index
}

func (s *MemoryStore) GetByIdent(ctx context.Context, release, dist, ident string) (*StoredFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	file, ok := s.files[releaseKey{release, dist}][ident]
	if !ok {
		return nil, ErrNotFound
	}
	return file, nil
}

func (s *MemoryStore) ArtifactIndex(ctx context.Context, release, dist string) (*Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indexes[releaseKey{release, dist}], nil
}
