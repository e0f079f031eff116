// Package chromem provides an embedded vector driver backed by chromem-go.
// It needs no external service and optionally persists to a directory.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/philippgille/chromem-go"

	"github.com/papercomputeco/warden/pkg/vector"
)

// DefaultCollectionName is the default collection for evidence chunks.
const DefaultCollectionName = "compliance_docs"

// errNoEmbeddingFunc guards against chromem computing embeddings itself.
// Every document and query arrives with an embedding already.
var errNoEmbeddingFunc = errors.New("chromem driver requires precomputed embeddings")

// Driver implements vector.VectorDriver on a chromem collection. chromem
// always compares with cosine similarity.
type Driver struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *slog.Logger
}

// Config holds configuration for the chromem driver.
type Config struct {
	// PersistDir enables gob persistence when set. Empty keeps the
	// collection in memory.
	PersistDir string

	// Compress gzips the persisted files.
	Compress bool

	// CollectionName defaults to DefaultCollectionName.
	CollectionName string
}

// NewDriver opens (or creates) the chromem database and collection.
func NewDriver(c Config, logger *slog.Logger) (*Driver, error) {
	var (
		db  *chromem.DB
		err error
	)

	if c.PersistDir != "" {
		db, err = chromem.NewPersistentDB(c.PersistDir, c.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem database %s: %w", c.PersistDir, err)
		}
	} else {
		db = chromem.NewDB()
	}

	name := c.CollectionName
	if name == "" {
		name = DefaultCollectionName
	}

	noEmbed := func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbeddingFunc
	}

	collection, err := db.GetOrCreateCollection(name, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", name, err)
	}

	logger.Info("chromem vector driver initialized",
		"persist_dir", c.PersistDir,
		"collection", name,
		"documents", collection.Count(),
	)

	return &Driver{
		db:         db,
		collection: collection,
		logger:     logger,
	}, nil
}

// Add stores documents. chromem replaces documents with an existing id.
func (d *Driver) Add(ctx context.Context, docs []vector.Document) error {
	for _, doc := range docs {
		err := d.collection.AddDocument(ctx, chromem.Document{
			ID:        doc.ID,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
			Content:   doc.Content,
		})
		if err != nil {
			return fmt.Errorf("adding document %s: %w", doc.ID, err)
		}
	}

	d.logger.Debug("added documents to chromem", "count", len(docs))
	return nil
}

// Query finds the topK most similar documents to the given embedding.
func (d *Driver) Query(ctx context.Context, embedding []float32, topK int, filter vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	// chromem requires nResults <= document count
	count := d.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if topK > count {
		topK = count
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	res, err := d.collection.QueryEmbedding(ctx, embedding, topK, where, nil)
	if err != nil {
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	results := make([]vector.QueryResult, 0, len(res))
	for _, r := range res {
		results = append(results, vector.QueryResult{
			Document: vector.Document{
				ID:        r.ID,
				Content:   r.Content,
				Embedding: r.Embedding,
				Metadata:  r.Metadata,
			},
			Score: r.Similarity,
		})
	}

	vector.SortResults(results)

	d.logger.Debug("queried chromem", "results", len(results))
	return results, nil
}

// Get retrieves documents by their IDs.
func (d *Driver) Get(ctx context.Context, ids []string) ([]vector.Document, error) {
	docs := make([]vector.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := d.collection.GetByID(ctx, id)
		if err != nil {
			// chromem reports a missing id as an error
			continue
		}
		docs = append(docs, vector.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Embedding: doc.Embedding,
			Metadata:  doc.Metadata,
		})
	}
	return docs, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := d.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting documents: %w", err)
	}
	d.logger.Debug("deleted documents from chromem", "count", len(ids))
	return nil
}

// Close is a no-op: persistent chromem databases write through on every
// change.
func (d *Driver) Close() error {
	return nil
}

var _ vector.VectorDriver = (*Driver)(nil)
