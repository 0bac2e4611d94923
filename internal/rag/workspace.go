package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"docchat/internal/chromemdb"
	"docchat/internal/embedding"
	"docchat/internal/helper"
	"docchat/internal/parser"
)

const collectionName = "uploaded_batch"

// Workspace is one immutable generation of index and agent, built from one
// upload batch.
type Workspace struct {
	Version int64
	Files   []string
	Chunks  int
	BuiltAt time.Time
	Agent   *Agent
}

// Holder publishes the current Workspace. Requests load a workspace once and
// keep using it even if an upload swaps in a newer one meanwhile; the old
// generation is garbage once the last such request finishes.
type Holder struct {
	current atomic.Pointer[Workspace]
	version atomic.Int64
}

// Load returns the current workspace or nil before the first upload.
func (h *Holder) Load() *Workspace {
	return h.current.Load()
}

// Swap stamps ws with the next version, publishes it and returns the
// workspace it replaced.
func (h *Holder) Swap(ws *Workspace) *Workspace {
	ws.Version = h.version.Add(1)
	return h.current.Swap(ws)
}

// Builder turns uploaded files into a Workspace.
type Builder struct {
	Splitter    parser.Splitter
	Embedder    embeddings.Embedder
	LLM         llms.Model
	TopK        int
	Temperature float64
}

// Build parses, chunks and embeds paths into a fresh index. Nothing is
// returned unless every step succeeds.
func (b *Builder) Build(ctx context.Context, paths []string) (*Workspace, error) {
	docs, err := parser.LoadAll(ctx, paths)
	if err != nil {
		return nil, err
	}

	chunks := b.Splitter.SplitDocuments(docs)
	if len(chunks) == 0 {
		return nil, errors.New("no text could be extracted from the uploaded files")
	}

	embedded, err := embedding.EmbedChunks(ctx, b.Embedder, chunks)
	if err != nil {
		return nil, err
	}

	index, err := chromemdb.NewVectorDBManager(collectionName, b.Embedder)
	if err != nil {
		return nil, err
	}
	if err := index.AddChunks(ctx, embedded); err != nil {
		return nil, fmt.Errorf("index chunks: %w", err)
	}

	log.Info().Int("files", len(paths)).Int("chunks", len(chunks)).Msg("Built vector index")
	return b.Wrap(index, paths), nil
}

// Wrap builds a workspace around an existing index, e.g. a restored snapshot.
func (b *Builder) Wrap(index *chromemdb.VectorDBManager, paths []string) *Workspace {
	files := make([]string, len(paths))
	for i, p := range paths {
		files[i] = filepath.Base(p)
	}
	return &Workspace{
		Files:   files,
		Chunks:  index.Count(),
		BuiltAt: time.Now(),
		Agent:   NewAgent(index, b.Embedder, b.LLM, b.TopK, b.Temperature),
	}
}

// Restore loads a snapshot written by Snapshot.
func (b *Builder) Restore(path, encryptionKey string) (*Workspace, error) {
	index, err := chromemdb.Import(path, encryptionKey, collectionName, b.Embedder)
	if err != nil {
		return nil, err
	}
	return b.Wrap(index, nil), nil
}

// Snapshot writes the workspace index to path.
func Snapshot(ws *Workspace, path, encryptionKey string) error {
	if ws == nil {
		return ErrNoIndex
	}
	if err := helper.CreateFolder(filepath.Dir(path)); err != nil {
		return err
	}
	return ws.Agent.Index().Export(path, encryptionKey)
}
