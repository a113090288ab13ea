package hybridrag

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/hybridrag/llm"
	"github.com/brunobiangulo/hybridrag/retrieval"
	"github.com/brunobiangulo/hybridrag/store/neo4jstore"
)

// Backend names for GraphBackend and VectorBackend.
const (
	BackendSQLite   = "sqlite"
	BackendNeo4j    = "neo4j"
	BackendPgvector = "pgvector"
)

// Config holds all configuration for the HybridRAG engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.hybridrag/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path" mapstructure:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "hybridrag".
	DBName string `json:"db_name" yaml:"db_name" mapstructure:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.hybridrag/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir" mapstructure:"storage_dir"`

	// Model providers. An empty Chat provider answers every question with
	// the fallback template; an empty Embedding provider disables the
	// vector source and ingestion.
	Chat      LLMConfig `json:"chat" yaml:"chat" mapstructure:"chat"`
	Embedding LLMConfig `json:"embedding" yaml:"embedding" mapstructure:"embedding"`

	// Embedding dimensions (must match model)
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim" mapstructure:"embedding_dim"`
	EmbedRetries int `json:"embed_retries" yaml:"embed_retries" mapstructure:"embed_retries"`

	// Backends. SQLite serves both roles unless an external store is named.
	GraphBackend  string            `json:"graph_backend" yaml:"graph_backend" mapstructure:"graph_backend"`
	VectorBackend string            `json:"vector_backend" yaml:"vector_backend" mapstructure:"vector_backend"`
	Neo4j         neo4jstore.Config `json:"neo4j" yaml:"neo4j" mapstructure:"neo4j"`
	Postgres      PostgresConfig    `json:"postgres" yaml:"postgres" mapstructure:"postgres"`

	// Retrieval
	TopK             int `json:"top_k" yaml:"top_k" mapstructure:"top_k"`
	MaxDirectMatches int `json:"max_direct_matches" yaml:"max_direct_matches" mapstructure:"max_direct_matches"`
	MaxConnected     int `json:"max_connected" yaml:"max_connected" mapstructure:"max_connected"`

	// Fusion and synthesis
	MaxContextChars int           `json:"max_context_chars" yaml:"max_context_chars" mapstructure:"max_context_chars"`
	SectionHeaders  bool          `json:"section_headers" yaml:"section_headers" mapstructure:"section_headers"`
	AnswerTimeout   time.Duration `json:"answer_timeout" yaml:"answer_timeout" mapstructure:"answer_timeout"`

	// Ingestion
	ChunkSize      int `json:"chunk_size" yaml:"chunk_size" mapstructure:"chunk_size"`
	ChunkOverlap   int `json:"chunk_overlap" yaml:"chunk_overlap" mapstructure:"chunk_overlap"`
	EmbedBatchSize int `json:"embed_batch_size" yaml:"embed_batch_size" mapstructure:"embed_batch_size"`
	EmbedWorkers   int `json:"embed_workers" yaml:"embed_workers" mapstructure:"embed_workers"`

	// LogQueries records every answered question in the query log.
	LogQueries bool `json:"log_queries" yaml:"log_queries" mapstructure:"log_queries"`
}

// LLMConfig configures a single model provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider" mapstructure:"provider"` // ollama, lmstudio, openrouter, openai, groq, xai, gemini, anthropic, custom
	Model    string `json:"model" yaml:"model" mapstructure:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url" mapstructure:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key" mapstructure:"api_key"`
}

// PostgresConfig locates the pgvector chunk index.
type PostgresConfig struct {
	DSN   string `json:"dsn" yaml:"dsn" mapstructure:"dsn"`
	Table string `json:"table" yaml:"table" mapstructure:"table"`
}

// DefaultConfig returns a Config with the catalog assistant defaults.
// Database is stored in ~/.hybridrag/hybridrag.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "hybridrag",
		StorageDir: "home",
		Chat: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: LLMConfig{
			Provider: "gemini",
			Model:    "text-embedding-004",
		},
		EmbeddingDim:     768,
		EmbedRetries:     3,
		GraphBackend:     BackendSQLite,
		VectorBackend:    BackendSQLite,
		TopK:             retrieval.DefaultTopK,
		MaxDirectMatches: retrieval.DefaultMaxDirect,
		MaxConnected:     retrieval.DefaultMaxConnected,
		MaxContextChars:  8000,
		AnswerTimeout:    30 * time.Second,
		ChunkSize:        1500,
		ChunkOverlap:     250,
		EmbedBatchSize:   32,
		EmbedWorkers:     4,
		LogQueries:       true,
	}
}

// Validate reports every invalid field, wrapped in ErrInvalidConfig.
// Zero values are accepted and replaced with defaults downstream.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for _, f := range []struct {
		name string
		v    int
	}{
		{"embedding_dim", c.EmbeddingDim},
		{"embed_retries", c.EmbedRetries},
		{"top_k", c.TopK},
		{"max_direct_matches", c.MaxDirectMatches},
		{"max_connected", c.MaxConnected},
		{"max_context_chars", c.MaxContextChars},
		{"chunk_size", c.ChunkSize},
		{"chunk_overlap", c.ChunkOverlap},
		{"embed_batch_size", c.EmbedBatchSize},
		{"embed_workers", c.EmbedWorkers},
	} {
		if f.v < 0 {
			bad("%s must not be negative, got %d", f.name, f.v)
		}
	}
	if c.AnswerTimeout < 0 {
		bad("answer_timeout must not be negative, got %s", c.AnswerTimeout)
	}
	if c.MaxDirectMatches > retrieval.DefaultMaxDirect {
		bad("max_direct_matches is capped at %d, got %d", retrieval.DefaultMaxDirect, c.MaxDirectMatches)
	}
	if c.MaxConnected > retrieval.DefaultMaxConnected {
		bad("max_connected is capped at %d, got %d", retrieval.DefaultMaxConnected, c.MaxConnected)
	}
	if c.ChunkSize > 0 && c.ChunkOverlap >= c.ChunkSize {
		bad("chunk_overlap (%d) must be smaller than chunk_size (%d)", c.ChunkOverlap, c.ChunkSize)
	}

	switch c.GraphBackend {
	case "", BackendSQLite:
	case BackendNeo4j:
		if c.Neo4j.URI == "" {
			bad("graph_backend %q requires neo4j.uri", c.GraphBackend)
		}
	default:
		bad("unknown graph_backend %q", c.GraphBackend)
	}
	switch c.VectorBackend {
	case "", BackendSQLite:
	case BackendPgvector:
		if c.Postgres.DSN == "" {
			bad("vector_backend %q requires postgres.dsn", c.VectorBackend)
		}
	default:
		bad("unknown vector_backend %q", c.VectorBackend)
	}

	if p := c.Chat.Provider; p != "" && !llm.IsKnownProvider(p) {
		bad("unknown chat provider %q", p)
	}
	if p := c.Embedding.Provider; p != "" {
		if !llm.IsKnownProvider(p) {
			bad("unknown embedding provider %q", p)
		} else if p == "anthropic" {
			bad("embedding provider %q does not offer embeddings", p)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// withDefaults fills zero values.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.EmbeddingDim == 0 {
		c.EmbeddingDim = d.EmbeddingDim
	}
	if c.GraphBackend == "" {
		c.GraphBackend = BackendSQLite
	}
	if c.VectorBackend == "" {
		c.VectorBackend = BackendSQLite
	}
	if c.TopK == 0 {
		c.TopK = d.TopK
	}
	if c.AnswerTimeout == 0 {
		c.AnswerTimeout = d.AnswerTimeout
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = d.ChunkSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = d.ChunkOverlap
		}
	}
	return c
}

func (l LLMConfig) toLLM(retries int) llm.Config {
	return llm.Config{
		Provider:     l.Provider,
		Model:        l.Model,
		BaseURL:      l.BaseURL,
		APIKey:       l.APIKey,
		EmbedRetries: retries,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "hybridrag"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		return filepath.Join(home, ".hybridrag", name+".db")
	}
}
