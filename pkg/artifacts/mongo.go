package artifacts

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stacklens/stacklens/pkg/httputil"
)

const (
	filesCollection   = "artifact_files"
	indexesCollection = "artifact_indexes"
)

// MongoStore persists release artifacts in MongoDB. File bodies are kept
// inline in the document; callers upstream enforce size caps long before
// anything near the document limit is written.
type MongoStore struct {
	files   *mongo.Collection
	indexes *mongo.Collection
}

// MongoConfig locates the artifact database.
type MongoConfig struct {
	URI      string `toml:"uri"`
	Database string `toml:"database"`
}

type fileDoc struct {
	Release  string            `bson:"release"`
	Dist     string            `bson:"dist"`
	Ident    string            `bson:"ident"`
	Filename string            `bson:"filename"`
	Body     []byte            `bson:"body"`
	Headers  map[string]string `bson:"headers,omitempty"`
}

type indexDoc struct {
	Release string                `bson:"release"`
	Dist    string                `bson:"dist"`
	Files   map[string]IndexEntry `bson:"files"`
}

// NewMongoStore connects to the artifact database and verifies the
// connection before returning.
func NewMongoStore(ctx context.Context, cfg MongoConfig) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect artifact store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping artifact store: %w", err)
	}
	db := client.Database(cfg.Database)
	return &MongoStore{
		files:   db.Collection(filesCollection),
		indexes: db.Collection(indexesCollection),
	}, nil
}

func (s *MongoStore) GetByIdent(ctx context.Context, release, dist, ident string) (*StoredFile, error) {
	var doc fileDoc
	err := s.files.FindOne(ctx, bson.M{
		"release": release,
		"dist":    dist,
		"ident":   ident,
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		// Transient read failures are retried by the resolver.
		return nil, &httputil.RetryableError{Err: fmt.Errorf("artifact read: %w", err)}
	}
	return &StoredFile{Body: doc.Body, Headers: doc.Headers}, nil
}

func (s *MongoStore) ArtifactIndex(ctx context.Context, release, dist string) (*Index, error) {
	var doc indexDoc
	err := s.indexes.FindOne(ctx, bson.M{"release": release, "dist": dist}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, &httputil.RetryableError{Err: fmt.Errorf("artifact index read: %w", err)}
	}
	return &Index{Files: doc.Files}, nil
}

// PutFile uploads one artifact. The filename is normalized by the caller.
func (s *MongoStore) PutFile(ctx context.Context, release, dist, filename string, file *StoredFile) error {
	doc := fileDoc{
		Release:  release,
		Dist:     dist,
		Ident:    Ident(filename, dist),
		Filename: filename,
		Body:     file.Body,
		Headers:  file.Headers,
	}
	filter := bson.M{"release": release, "dist": dist, "ident": doc.Ident}
	_, err := s.files.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("artifact write: %w", err)
	}
	return nil
}

// PutIndex installs the release's artifact manifest.
func (s *MongoStore) PutIndex(ctx context.Context, release, dist string, index *Index) error {
	doc := indexDoc{Release: release, Dist: dist, Files: index.Files}
	filter := bson.M{"release": release, "dist": dist}
	_, err := s.indexes.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("artifact index write: %w", err)
	}
	return nil
}
