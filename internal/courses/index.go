// Package courses owns the vector-searchable course catalog backed by
// Meilisearch.
package courses

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

// embedderName is the user-provided embedder configured on the index. Vectors
// are computed by the embedding model on our side and attached to documents.
const embedderName = "default"

// Course is one catalog entry. The json names double as the index schema.
type Course struct {
	ID          string `json:"id"`
	Title       string `json:"Title"`
	URL         string `json:"url"`
	Description string `json:"course_desc"`
}

// IndexedCourse is a course plus its embedding vector in the shape Meilisearch
// expects for user-provided embedders.
type IndexedCourse struct {
	Course
	Vectors map[string][]float32 `json:"_vectors"`
}

// NewIndexedCourse attaches a vector to a course for indexing.
func NewIndexedCourse(course Course, vector []float32) IndexedCourse {
	return IndexedCourse{
		Course:  course,
		Vectors: map[string][]float32{embedderName: vector},
	}
}

// Index wraps a single Meilisearch index holding the course catalog.
type Index struct {
	client meilisearch.ServiceManager
	name   string
	logger *zap.Logger
}

// NewIndex creates a client for the named course index.
func NewIndex(host, apiKey, name string, logger *zap.Logger) (*Index, error) {
	if host == "" {
		return nil, errors.New("meilisearch host is required")
	}
	if name == "" {
		return nil, errors.New("course index name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client := meilisearch.New(host, meilisearch.WithAPIKey(apiKey))

	return &Index{client: client, name: name, logger: logger}, nil
}

// EnsureEmbedder configures the index for user-provided vectors of the given
// dimensionality. Safe to call repeatedly.
func (ix *Index) EnsureEmbedder(dimensions int) error {
	if dimensions <= 0 {
		return fmt.Errorf("embedder dimensions must be positive, got %d", dimensions)
	}

	settings := &meilisearch.Settings{
		Embedders: map[string]meilisearch.Embedder{
			embedderName: {
				Source:     "userProvided",
				Dimensions: dimensions,
			},
		},
	}

	if _, err := ix.client.Index(ix.name).UpdateSettings(settings); err != nil {
		return fmt.Errorf("update index settings: %w", err)
	}

	ix.logger.Info("configured course index embedder",
		zap.String("index", ix.name),
		zap.Int("dimensions", dimensions),
	)

	return nil
}

// AddCourses uploads the documents in batches.
func (ix *Index) AddCourses(docs []IndexedCourse, batchSize int) error {
	if len(docs) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	primaryKey := "id"
	for start := 0; start < len(docs); start += batchSize {
		end := start + batchSize
		if end > len(docs) {
			end = len(docs)
		}

		if _, err := ix.client.Index(ix.name).AddDocuments(docs[start:end], &meilisearch.DocumentOptions{PrimaryKey: &primaryKey}); err != nil {
			return fmt.Errorf("add documents batch %d-%d: %w", start, end, err)
		}
	}

	ix.logger.Info("indexed courses", zap.String("index", ix.name), zap.Int("count", len(docs)))

	return nil
}

// SearchByVector runs a pure semantic search against the catalog and returns
// the closest courses.
func (ix *Index) SearchByVector(vector []float32, limit int64) ([]Course, error) {
	if len(vector) == 0 {
		return nil, errors.New("search vector is empty")
	}

	req := &meilisearch.SearchRequest{
		Limit:  limit,
		Vector: vector,
		Hybrid: &meilisearch.SearchRequestHybrid{
			SemanticRatio: 1.0,
			Embedder:      embedderName,
		},
	}

	resp, err := ix.client.Index(ix.name).Search("", req)
	if err != nil {
		return nil, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Course, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		var course Course
		if err := decodeHit(hit, &course); err != nil {
			ix.logger.Warn("skipping undecodable search hit", zap.Error(err))
			continue
		}
		results = append(results, course)
	}

	return results, nil
}

// decodeHit converts a raw search hit into a typed document through a JSON
// round trip.
func decodeHit(hit any, target any) error {
	raw, err := json.Marshal(hit)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}
