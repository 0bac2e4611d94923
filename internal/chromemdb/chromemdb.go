package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"docchat/internal/models"
)

var ErrEmptyIndex = errors.New("vector index is empty")

// metadata keys
const (
	metaSource = "source"
	metaPage   = "page"
	metaChunk  = "chunk_id"
)

// VectorDBManager holds one in-memory chromem collection. A manager is built
// once per uploaded batch and never updated afterwards.
type VectorDBManager struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   embeddings.Embedder
	compress   bool
}

const (
	compress = false
)

// NewVectorDBManager initializes a new in-memory vector database with a
// single collection. embedder is used for text queries and for documents
// added without a precomputed embedding.
func NewVectorDBManager(collectionName string, embedder embeddings.Embedder) (*VectorDBManager, error) {
	m := &VectorDBManager{
		db:       chromem.NewDB(),
		embedder: embedder,
		compress: compress,
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %v", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		if m.embedder == nil {
			return nil, errors.New("no embedder configured")
		}
		return m.embedder.EmbedQuery(ctx, text)
	}
}

// AddChunks stores embedded chunks.
func (m *VectorDBManager) AddChunks(ctx context.Context, chunks []models.ChunkEmbedding) error {
	docs := make([]chromem.Document, len(chunks))
	for i, ce := range chunks {
		docs[i] = chromem.Document{
			ID:      fmt.Sprintf("%d-%s-%d", i, ce.SourceFilename, ce.ChunkID),
			Content: ce.Content,
			Metadata: map[string]string{
				metaSource: ce.SourceFilename,
				metaPage:   strconv.Itoa(ce.PageNumber),
				metaChunk:  strconv.Itoa(ce.ChunkID),
			},
			Embedding: ce.Embedding,
		}
	}
	return m.CreateDocs(ctx, docs)
}

// add multiple documents
func (m *VectorDBManager) CreateDocs(ctx context.Context, documents []chromem.Document) error {
	err := m.collection.AddDocuments(ctx, documents, runtime.NumCPU())
	if err != nil {
		return fmt.Errorf("failed to add document: %v", err)
	}
	return nil
}

// Count returns the number of stored chunks.
func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// Search returns the k chunks nearest to the query embedding, most similar first.
func (m *VectorDBManager) Search(ctx context.Context, query []float32, k int) ([]models.Chunk, error) {
	if len(query) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	n := min(k, m.Count())
	if n <= 0 {
		return nil, ErrEmptyIndex
	}

	results, err := m.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}

	chunks := make([]models.Chunk, len(results))
	for i, r := range results {
		page, _ := strconv.Atoi(r.Metadata[metaPage])
		id, _ := strconv.Atoi(r.Metadata[metaChunk])
		chunks[i] = models.Chunk{
			Content:        r.Content,
			SourceFilename: r.Metadata[metaSource],
			PageNumber:     page,
			ChunkID:        id,
		}
	}
	return chunks, nil
}

// export to file
func (m *VectorDBManager) Export(filePath, encryptionKey string) error {
	if filePath == "" {
		return fmt.Errorf("file path is required")
	}
	if encryptionKey != "" && len(encryptionKey) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(encryptionKey))
	}

	log.Debug().Str("collection", m.collection.Name).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	err := m.db.ExportToFile(filePath, m.compress, encryptionKey, m.collection.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

// Import loads a snapshot written by Export into a fresh manager.
func Import(filePath, encryptionKey, collectionName string, embedder embeddings.Embedder) (*VectorDBManager, error) {
	if _, err := os.Stat(filePath); err != nil {
		return nil, err
	}
	m := &VectorDBManager{
		db:       chromem.NewDB(),
		embedder: embedder,
		compress: compress,
	}
	if err := m.db.ImportFromFile(filePath, encryptionKey, collectionName); err != nil {
		return nil, fmt.Errorf("failed to import database: %v", err)
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	return m, nil
}
