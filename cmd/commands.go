package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"docchat/internal/db"
	"docchat/internal/helper"
	"docchat/internal/parser"
	"docchat/internal/rag"
	"docchat/internal/session"
	"docchat/internal/web"
)

var (
	ingestFiles  []string
	ingestDryRun bool
	askQuery     string
	exportTo     string
)

func init() {
	ingestCmd.Flags().StringArrayVar(&ingestFiles, "file", nil, "document to ingest (repeatable)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "print the chunks instead of indexing them")
	_ = ingestCmd.MarkFlagRequired("file")

	askCmd.Flags().StringVar(&askQuery, "query", "", "question to answer")
	_ = askCmd.MarkFlagRequired("query")

	exportCmd.Flags().StringVar(&exportTo, "to", "", "comma separated recipients to mail the export to")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web application",
	RunE:  runServe,
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Index documents into the snapshot the server restores on start",
	Long: `Parse, chunk and embed documents, then write the vector index snapshot.

Examples:
  # Show how a PDF would be chunked
  docchat ingest --file report.pdf --dry-run

  # Index two documents
  docchat ingest --file a.pdf --file b.docx`,
	RunE: runIngest,
}

var askCmd = &cobra.Command{
	Use:   "ask",
	Short: "Answer one question from the indexed snapshot",
	RunE:  runAsk,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the latest answer to a spreadsheet and optionally mail it",
	RunE:  runExport,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	builder, err := newBuilder(cfg, true)
	if err != nil {
		return err
	}
	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	exports, err := newExportWorkflow(cfg, database)
	if err != nil {
		return err
	}

	holder := &rag.Holder{}
	switch ws, err := restoreWorkspace(cfg, builder); {
	case err == nil:
		holder.Swap(ws)
		log.Info().Str("path", cfg.RAG.SnapshotPath).Int("chunks", ws.Chunks).Msg("Restored index snapshot")
	case errors.Is(err, rag.ErrNoIndex):
		log.Info().Msg("No index snapshot, waiting for an upload")
	default:
		log.Warn().Err(err).Str("path", cfg.RAG.SnapshotPath).Msg("Ignoring unreadable index snapshot")
	}

	srv, err := web.NewServer(cfg, web.Deps{
		Holder:   holder,
		Builder:  builder,
		Sessions: session.NewManager(&cfg.Session),
		DB:       database,
		Exports:  exports,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if ingestDryRun {
		docs, err := parser.LoadAll(ctx, ingestFiles)
		if err != nil {
			return err
		}
		chunks := parser.NewSplitter(&cfg.RAG).SplitDocuments(docs)
		helper.PrettyPrint(chunks)
		log.Info().Int("files", len(docs)).Int("chunks", len(chunks)).Msg("Dry run, nothing indexed")
		return nil
	}

	if cfg.RAG.SnapshotPath == "" {
		return errors.New("rag.snapshot_path must be set to ingest")
	}
	builder, err := newBuilder(cfg, false)
	if err != nil {
		return err
	}
	ws, err := builder.Build(ctx, ingestFiles)
	if err != nil {
		return err
	}
	if err := rag.Snapshot(ws, cfg.RAG.SnapshotPath, cfg.RAG.EncryptionKey); err != nil {
		return err
	}
	log.Info().Strs("files", ws.Files).Int("chunks", ws.Chunks).Str("path", cfg.RAG.SnapshotPath).Msg("Snapshot written")
	return nil
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	builder, err := newBuilder(cfg, true)
	if err != nil {
		return err
	}
	ws, err := restoreWorkspace(cfg, builder)
	if err != nil {
		return fmt.Errorf("load index (run ingest first): %w", err)
	}

	resp, err := ws.Agent.Ask(ctx, session.NewConversation(), askQuery)
	if err != nil {
		return err
	}

	if database, err := openDB(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("Chat history unavailable, answer not logged")
	} else {
		if _, err := db.AppendExchange(ctx, database, askQuery, resp.Content); err != nil {
			log.Error().Err(err).Msg("Failed to write exchange to chat history")
		}
		database.Close()
	}

	fmt.Println(resp.Content)
	if resp.Source != "" {
		fmt.Println("\nSources:", resp.Source)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	database, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	exports, err := newExportWorkflow(cfg, database)
	if err != nil {
		return err
	}
	h, err := exports.Start(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Export written to %s\n", h.Path)

	if exportTo == "" {
		return nil
	}
	sent, err := exports.Send(ctx, h.ID, exportTo)
	if err != nil {
		return err
	}
	fmt.Printf("Sent to %v via %s\n", sent.SentTo, exports.SenderName())
	return nil
}
