// Package config provides configuration loading for repochat.
//
// Values come from built-in defaults, an optional YAML or TOML file and
// REPOCHAT_* environment variables, in increasing order of precedence.
// Credentials are plain config values of type Secret; components receive
// them through their constructors and never look them up on their own.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete repochat configuration.
type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Workspace   WorkspaceConfig   `koanf:"workspace"`
	Fetch       FetchConfig       `koanf:"fetch"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Embeddings  EmbeddingsConfig  `koanf:"embeddings"`
	VectorStore VectorStoreConfig `koanf:"vectorstore"`
	LLM         LLMConfig         `koanf:"llm"`
	Chat        ChatConfig        `koanf:"chat"`
	Secrets     SecretsConfig     `koanf:"secrets"`
	Registry    RegistryConfig    `koanf:"registry"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	IngestRate      float64  `koanf:"ingest_rate"`  // repository loads per second
	IngestBurst     int      `koanf:"ingest_burst"` // loads allowed in a burst
}

// WorkspaceConfig controls where repositories are checked out and how
// stubbornly they are removed.
type WorkspaceConfig struct {
	Root           string   `koanf:"root"`
	RemoveAttempts int      `koanf:"remove_attempts"`
	RetryDelay     Duration `koanf:"retry_delay"`
	SettleDelay    Duration `koanf:"settle_delay"`
}

// FetchConfig configures the git fetcher.
type FetchConfig struct {
	Timeout  Duration `koanf:"timeout"`
	Depth    int      `koanf:"depth"` // 0 clones full history
	Username string   `koanf:"username"`
	Token    Secret   `koanf:"token"`
}

// IngestConfig configures file selection and chunking.
type IngestConfig struct {
	ChunkSize          int      `koanf:"chunk_size"`
	ChunkOverlap       int      `koanf:"chunk_overlap"`
	Extensions         []string `koanf:"extensions"`
	RespectIgnoreFiles bool     `koanf:"respect_ignore_files"`
	MaxFileSize        int64    `koanf:"max_file_size"` // bytes; larger files are skipped
	SkipDirs           []string `koanf:"skip_dirs"`     // directory names skipped besides .git
}

const (
	// DefaultMaxFileSize is the per-file read limit when none is configured.
	DefaultMaxFileSize int64 = 1 << 20

	// MaxFileSizeLimit is the largest accepted ingest.max_file_size.
	MaxFileSizeLimit int64 = 10 << 20
)

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // fastembed, ollama, openai
	Model     string `koanf:"model"`
	BaseURL   string `koanf:"base_url"`
	APIKey    Secret `koanf:"api_key"`
	CacheDir  string `koanf:"cache_dir"`
	Dimension int    `koanf:"dimension"`
	BatchSize int    `koanf:"batch_size"`
}

// VectorStoreConfig selects and configures the vector index.
type VectorStoreConfig struct {
	Provider     string `koanf:"provider"` // chromem, memory, qdrant
	Path         string `koanf:"path"`
	Compress     bool   `koanf:"compress"`
	QdrantHost   string `koanf:"qdrant_host"`
	QdrantPort   int    `koanf:"qdrant_port"`
	QdrantAPIKey Secret `koanf:"qdrant_api_key"`
	QdrantTLS    bool   `koanf:"qdrant_tls"`
}

// LLMConfig selects the answer-generating model.
type LLMConfig struct {
	Provider    string  `koanf:"provider"` // ollama, openai, anthropic, huggingface
	Model       string  `koanf:"model"`
	BaseURL     string  `koanf:"base_url"`
	APIKey      Secret  `koanf:"api_key"`
	Temperature float64 `koanf:"temperature"`
	MaxTokens   int     `koanf:"max_tokens"`
}

// ChatConfig tunes retrieval and conversation memory.
type ChatConfig struct {
	TopK          int `koanf:"top_k"`
	MaxHistory    int `koanf:"max_history"`
	SnippetLength int `koanf:"snippet_length"`
}

// SecretsConfig controls redaction of credentials found in ingested files.
type SecretsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	UserAllowlist string `koanf:"user_allowlist"`
}

// RegistryConfig locates the ingestion run database.
type RegistryConfig struct {
	Path string `koanf:"path"`
}

// LoggingConfig holds the logging knobs exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled         bool     `koanf:"enabled"`
	Endpoint        string   `koanf:"endpoint"`
	Protocol        string   `koanf:"protocol"` // grpc, http/protobuf
	Insecure        bool     `koanf:"insecure"`
	ServiceName     string   `koanf:"service_name"`
	SampleRate      float64  `koanf:"sample_rate"`
	MetricsInterval Duration `koanf:"metrics_interval"`
}

// DefaultExtensions is the allow-list of file suffixes ingested when none
// is configured.
func DefaultExtensions() []string {
	return []string{
		".py", ".js", ".ts", ".md", ".txt", ".json", ".xml", ".html", ".css",
		".java", ".c", ".cpp", ".h", ".hpp", ".go", ".rb", ".php",
	}
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
			IngestRate:      0.2,
			IngestBurst:     2,
		},
		Workspace: WorkspaceConfig{
			Root:           "cloned_repos",
			RemoveAttempts: 3,
			RetryDelay:     Duration(time.Second),
			SettleDelay:    Duration(500 * time.Millisecond),
		},
		Fetch: FetchConfig{
			Timeout: Duration(5 * time.Minute),
		},
		Ingest: IngestConfig{
			ChunkSize:    1000,
			ChunkOverlap: 200,
			Extensions:   DefaultExtensions(),
			MaxFileSize:  DefaultMaxFileSize,
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "fastembed",
			CacheDir:  "data/models",
			Dimension: 384,
			BatchSize: 64,
		},
		VectorStore: VectorStoreConfig{
			Provider:   "chromem",
			Path:       "data/index",
			QdrantHost: "localhost",
			QdrantPort: 6334,
		},
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "mistral",
			Temperature: 0.1,
			MaxTokens:   512,
		},
		Chat: ChatConfig{
			TopK:          5,
			MaxHistory:    20,
			SnippetLength: 200,
		},
		Secrets: SecretsConfig{
			Enabled: true,
		},
		Registry: RegistryConfig{
			Path: "data/registry.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:        "localhost:4317",
			Protocol:        "grpc",
			Insecure:        true,
			ServiceName:     "repochat",
			SampleRate:      1.0,
			MetricsInterval: Duration(15 * time.Second),
		},
	}
}

var (
	embeddingProviders   = map[string]bool{"fastembed": true, "ollama": true, "openai": true}
	vectorStoreProviders = map[string]bool{"chromem": true, "memory": true, "qdrant": true}
	llmProviders         = map[string]bool{"ollama": true, "openai": true, "anthropic": true, "huggingface": true}
)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error
	invalid := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		invalid("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.IngestRate <= 0 {
		invalid("server.ingest_rate must be positive")
	}
	if c.Server.IngestBurst < 1 {
		invalid("server.ingest_burst must be at least 1")
	}

	if c.Workspace.Root == "" {
		invalid("workspace.root is required")
	}
	if c.Workspace.RemoveAttempts < 1 {
		invalid("workspace.remove_attempts must be at least 1, got %d", c.Workspace.RemoveAttempts)
	}

	if c.Fetch.Timeout.Duration() <= 0 {
		invalid("fetch.timeout must be positive")
	}
	if c.Fetch.Depth < 0 {
		invalid("fetch.depth cannot be negative")
	}

	if c.Ingest.ChunkSize <= 0 {
		invalid("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		invalid("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if len(c.Ingest.Extensions) == 0 {
		invalid("ingest.extensions cannot be empty")
	}
	if c.Ingest.MaxFileSize <= 0 || c.Ingest.MaxFileSize > MaxFileSizeLimit {
		invalid("ingest.max_file_size must be in (0, %d], got %d", MaxFileSizeLimit, c.Ingest.MaxFileSize)
	}
	for _, dir := range c.Ingest.SkipDirs {
		if dir == "" || dir == "." || dir == ".." || strings.ContainsAny(dir, `/\`) {
			invalid("ingest.skip_dirs entries must be plain directory names, got %q", dir)
		}
	}

	if !embeddingProviders[c.Embeddings.Provider] {
		invalid("unknown embeddings.provider %q", c.Embeddings.Provider)
	}
	if c.Embeddings.BatchSize <= 0 {
		invalid("embeddings.batch_size must be positive")
	}
	if !vectorStoreProviders[c.VectorStore.Provider] {
		invalid("unknown vectorstore.provider %q", c.VectorStore.Provider)
	}
	if !llmProviders[c.LLM.Provider] {
		invalid("unknown llm.provider %q", c.LLM.Provider)
	}
	if c.Chat.TopK <= 0 {
		invalid("chat.top_k must be positive")
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		invalid("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		invalid("telemetry.sample_rate must be between 0 and 1")
	}

	return errors.Join(errs...)
}
