package chromemdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"docchat/internal/models"
	"docchat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T, texts ...string) (*VectorDBManager, *testutil.HashEmbedder) {
	t.Helper()
	ctx := context.Background()
	embedder := &testutil.HashEmbedder{Dim: 128}

	m, err := NewVectorDBManager("test_batch", embedder)
	require.NoError(t, err)

	chunks := make([]models.ChunkEmbedding, len(texts))
	for i, text := range texts {
		vec, err := embedder.EmbedQuery(ctx, text)
		require.NoError(t, err)
		chunks[i] = models.ChunkEmbedding{
			Content:        text,
			Embedding:      vec,
			SourceFilename: "doc.pdf",
			PageNumber:     i + 1,
			ChunkID:        i + 1,
		}
	}
	require.NoError(t, m.AddChunks(ctx, chunks))
	return m, embedder
}

func TestSearch(t *testing.T) {
	ctx := context.Background()
	m, embedder := newTestIndex(t,
		"The capital of France is Paris.",
		"Bananas are rich in potassium.",
		"Rust and Go are systems programming languages.",
	)
	assert.Equal(t, 3, m.Count())

	q, err := embedder.EmbedQuery(ctx, "What is the capital of France?")
	require.NoError(t, err)

	t.Run("nearest first with metadata", func(t *testing.T) {
		got, err := m.Search(ctx, q, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "The capital of France is Paris.", got[0].Content)
		assert.Equal(t, "doc.pdf", got[0].SourceFilename)
		assert.Equal(t, 1, got[0].PageNumber)
		assert.Equal(t, 1, got[0].ChunkID)
	})

	t.Run("k larger than index is clamped", func(t *testing.T) {
		got, err := m.Search(ctx, q, 10)
		require.NoError(t, err)
		assert.Len(t, got, 3)
	})

	t.Run("missing query", func(t *testing.T) {
		_, err := m.Search(ctx, nil, 2)
		assert.Error(t, err)
	})
}

func TestSearchEmptyIndex(t *testing.T) {
	m, err := NewVectorDBManager("empty", &testutil.HashEmbedder{})
	require.NoError(t, err)

	_, err = m.Search(context.Background(), []float32{1, 0}, 4)
	assert.ErrorIs(t, err, ErrEmptyIndex)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	m, embedder := newTestIndex(t, "The capital of France is Paris.", "Madrid is in Spain.")
	q, err := embedder.EmbedQuery(ctx, "capital of France")
	require.NoError(t, err)

	for name, key := range map[string]string{"plain": "", "encrypted": strings.Repeat("k", 32)} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "index.gob")
			require.NoError(t, m.Export(path, key))

			restored, err := Import(path, key, "test_batch", embedder)
			require.NoError(t, err)
			assert.Equal(t, 2, restored.Count())

			got, err := restored.Search(ctx, q, 1)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Contains(t, got[0].Content, "Paris")
		})
	}

	t.Run("bad key length", func(t *testing.T) {
		assert.Error(t, m.Export(filepath.Join(t.TempDir(), "x.gob"), "short"))
	})

	t.Run("missing snapshot", func(t *testing.T) {
		_, err := Import(filepath.Join(t.TempDir(), "nope.gob"), "", "test_batch", embedder)
		assert.Error(t, err)
	})
}
