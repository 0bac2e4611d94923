package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"

	"docchat/internal/config"
	"docchat/internal/db"
	"docchat/internal/embedding"
	"docchat/internal/export"
	"docchat/internal/llmservice"
	"docchat/internal/notify"
	"docchat/internal/parser"
	"docchat/internal/rag"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "docchat",
	Short: "Chat with uploaded documents",
	Long: `docchat indexes uploaded documents into an in-memory vector store and
answers questions about them with a hosted LLM, keeping a durable log of
every exchange.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "path to the YAML config file")
	rootCmd.AddCommand(serveCmd, ingestCmd, askCmd, exportCmd)
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

// loadConfig reads the config, sets up logging and validates it. Commands
// that call the chat model pass requireLLM so a missing key fails fast.
func loadConfig(requireLLM bool) (*config.Config, error) {
	setupLogger("")
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg.Log.Level)

	if err := cfg.Validate(requireLLM); err != nil {
		return nil, err
	}
	if cfg.UsingInsecureSecret() {
		log.Warn().Msg("SECRET_KEY is not set, sessions are signed with the built-in development key")
	}
	log.Debug().Str("config", configPath).Str("llm", cfg.ChatLLM.Model).Str("embed", cfg.EmbedLLM.Model).Msg("Loaded config")
	return cfg, nil
}

func newBuilder(cfg *config.Config, withLLM bool) (*rag.Builder, error) {
	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	b := &rag.Builder{
		Splitter:    parser.NewSplitter(&cfg.RAG),
		Embedder:    embedder,
		TopK:        cfg.RAG.TopK,
		Temperature: cfg.ChatLLM.Temperature,
	}
	if withLLM {
		llm, err := llmservice.New(&cfg.ChatLLM)
		if err != nil {
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		b.LLM = llm
	}
	return b, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*bun.DB, error) {
	database, err := db.Open(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.InitDB(ctx, database); err != nil {
		database.Close()
		return nil, fmt.Errorf("init chat history: %w", err)
	}
	return database, nil
}

func newExportWorkflow(cfg *config.Config, database *bun.DB) (*export.Workflow, error) {
	sender, err := notify.New(&cfg.Notify)
	if err != nil {
		return nil, err
	}
	writer := &export.Writer{
		Dir:         cfg.Export.Dir,
		BaseName:    cfg.Export.BaseName,
		Sheet:       cfg.Export.Sheet,
		MaxColWidth: cfg.Export.MaxColWidth,
	}
	return export.NewWorkflow(database, writer, sender, cfg.Notify.Subject, cfg.Notify.Body), nil
}

// restoreWorkspace loads the last snapshot, if any.
func restoreWorkspace(cfg *config.Config, builder *rag.Builder) (*rag.Workspace, error) {
	path := cfg.RAG.SnapshotPath
	if path == "" {
		return nil, rag.ErrNoIndex
	}
	ws, err := builder.Restore(path, cfg.RAG.EncryptionKey)
	if errors.Is(err, os.ErrNotExist) {
		return nil, rag.ErrNoIndex
	}
	return ws, err
}
