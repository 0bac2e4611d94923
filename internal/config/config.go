package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// InsecureSecretKey signs session cookies when SECRET_KEY is not set.
// Only suitable for local use.
const InsecureSecretKey = "docchat-insecure-dev-secret"

type ServerConfig struct {
	Addr        string `yaml:"addr"`
	UploadDir   string `yaml:"upload_dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Key         string  `yaml:"key"`
	Temperature float64 `yaml:"temperature"`
	BatchSize   int     `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	Separator     string `yaml:"separator"`
	TopK          int    `yaml:"top_k"`
	SnapshotPath  string `yaml:"snapshot_path"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Debug  bool   `yaml:"debug"`
}

type SessionConfig struct {
	SecretKey   string        `yaml:"secret_key"`
	MaxSessions int           `yaml:"max_sessions"`
	TTL         time.Duration `yaml:"ttl"`
}

type ExportConfig struct {
	Dir         string `yaml:"dir"`
	BaseName    string `yaml:"base_name"`
	Sheet       string `yaml:"sheet"`
	MaxColWidth int    `yaml:"max_col_width"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type NotifyConfig struct {
	Driver       string     `yaml:"driver"`
	SMTP         SMTPConfig `yaml:"smtp"`
	SendmailPath string     `yaml:"sendmail_path"`
	Subject      string     `yaml:"subject"`
	Body         string     `yaml:"body"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	ChatLLM  LLMConfig      `yaml:"llm"`
	EmbedLLM LLMConfig      `yaml:"embed"`
	RAG      RAGConfig      `yaml:"rag"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Export   ExportConfig   `yaml:"export"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// LoadConfig reads the YAML file at path, falling back to defaults when it
// does not exist, then applies environment overrides (including a .env file
// in the working directory).
func LoadConfig(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnv(cfg)
	applyDefaults(cfg)
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:        ":5000",
			UploadDir:   "./uploads",
			MaxUploadMB: 50,
		},
		ChatLLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.groq.com/openai/v1",
			Model:    "llama-3.1-70b-versatile",
		},
		EmbedLLM: LLMConfig{
			Provider:  "ollama",
			BaseURL:   "http://localhost:11434",
			Model:     "nomic-embed-text",
			BatchSize: 64,
		},
		RAG: RAGConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Separator:    "\n",
			TopK:         4,
			SnapshotPath: "./chromemdb/index.gob",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "file:chat_history.db?cache=shared",
		},
		Session: SessionConfig{
			MaxSessions: 1024,
			TTL:         24 * time.Hour,
		},
		Export: ExportConfig{
			Dir:         ".",
			BaseName:    "dados",
			Sheet:       "Sheet1",
			MaxColWidth: 100,
		},
		Notify: NotifyConfig{
			Driver:       "noop",
			SendmailPath: "/usr/sbin/sendmail",
			Subject:      "Histórico do chat",
			Body:         "Segue em anexo a última resposta do assistente.",
			SMTP:         SMTPConfig{Port: 587},
		},
		Log: LogConfig{Level: "debug"},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("GROQ_API_KEY"); v != "" {
		cfg.ChatLLM.Key = v
	}
	if v := os.Getenv("EMBED_API_KEY"); v != "" {
		cfg.EmbedLLM.Key = v
	}
	if v := os.Getenv("SECRET_KEY"); v != "" {
		cfg.Session.SecretKey = v
	}
	if v := os.Getenv("DOCCHAT_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Notify.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Notify.SMTP.Port = port
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Notify.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASS"); v != "" {
		cfg.Notify.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Notify.SMTP.From = v
	}
	if cfg.Notify.SMTP.From == "" {
		cfg.Notify.SMTP.From = cfg.Notify.SMTP.Username
	}
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.RAG.ChunkSize == 0 {
		cfg.RAG.ChunkSize = def.RAG.ChunkSize
		cfg.RAG.ChunkOverlap = def.RAG.ChunkOverlap
	}
	if cfg.RAG.Separator == "" {
		cfg.RAG.Separator = def.RAG.Separator
	}
	if cfg.RAG.TopK <= 0 {
		cfg.RAG.TopK = def.RAG.TopK
	}
	if cfg.Session.SecretKey == "" {
		cfg.Session.SecretKey = InsecureSecretKey
	}
	if cfg.Session.MaxSessions <= 0 {
		cfg.Session.MaxSessions = def.Session.MaxSessions
	}
	if cfg.Export.BaseName == "" {
		cfg.Export.BaseName = def.Export.BaseName
	}
	if cfg.Export.Sheet == "" {
		cfg.Export.Sheet = def.Export.Sheet
	}
	if cfg.Export.MaxColWidth <= 0 {
		cfg.Export.MaxColWidth = def.Export.MaxColWidth
	}
	if cfg.EmbedLLM.BatchSize <= 0 {
		cfg.EmbedLLM.BatchSize = def.EmbedLLM.BatchSize
	}
}

// Validate checks the settings the server cannot run without. The chat
// model key is only required by commands that talk to the model.
func (c *Config) Validate(requireLLM bool) error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, %d), got %d", c.RAG.ChunkSize, c.RAG.ChunkOverlap)
	}
	if requireLLM && c.ChatLLM.Key == "" {
		return errors.New("GROQ_API_KEY is required")
	}
	return nil
}

// UsingInsecureSecret reports whether sessions are signed with the built-in key.
func (c *Config) UsingInsecureSecret() bool {
	return c.Session.SecretKey == InsecureSecretKey
}
