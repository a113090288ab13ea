package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/brunobiangulo/hybridrag"
)

// cliConfig is the engine configuration plus the settings only the
// command line needs.
type cliConfig struct {
	hybridrag.Config `mapstructure:",squash"`

	Server serverConfig `mapstructure:"server"`
	Log    logConfig    `mapstructure:"log"`
}

type serverConfig struct {
	Addr        string `mapstructure:"addr"`
	APIKey      string `mapstructure:"api_key"`
	CORSOrigins string `mapstructure:"cors_origins"`
}

type logConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or text

	// File, when set, receives a copy of every record and is rotated
	// by size.
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// providerKeyEnv maps providers to the API key variables their own
// tooling uses.
var providerKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"gemini":     "GOOGLE_API_KEY",
	"groq":       "GROQ_API_KEY",
	"xai":        "XAI_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
}

func setDefaults(v *viper.Viper) {
	d := hybridrag.DefaultConfig()

	v.SetDefault("db_path", d.DBPath)
	v.SetDefault("db_name", d.DBName)
	v.SetDefault("storage_dir", d.StorageDir)

	for prefix, llm := range map[string]hybridrag.LLMConfig{"chat": d.Chat, "embedding": d.Embedding} {
		v.SetDefault(prefix+".provider", llm.Provider)
		v.SetDefault(prefix+".model", llm.Model)
		v.SetDefault(prefix+".base_url", llm.BaseURL)
		v.SetDefault(prefix+".api_key", llm.APIKey)
	}
	v.SetDefault("embedding_dim", d.EmbeddingDim)
	v.SetDefault("embed_retries", d.EmbedRetries)

	v.SetDefault("graph_backend", d.GraphBackend)
	v.SetDefault("vector_backend", d.VectorBackend)
	v.SetDefault("neo4j.uri", d.Neo4j.URI)
	v.SetDefault("neo4j.user", d.Neo4j.User)
	v.SetDefault("neo4j.password", d.Neo4j.Password)
	v.SetDefault("neo4j.database", d.Neo4j.Database)
	v.SetDefault("postgres.dsn", d.Postgres.DSN)
	v.SetDefault("postgres.table", d.Postgres.Table)

	v.SetDefault("top_k", d.TopK)
	v.SetDefault("max_direct_matches", d.MaxDirectMatches)
	v.SetDefault("max_connected", d.MaxConnected)
	v.SetDefault("max_context_chars", d.MaxContextChars)
	v.SetDefault("section_headers", d.SectionHeaders)
	v.SetDefault("answer_timeout", d.AnswerTimeout)

	v.SetDefault("chunk_size", d.ChunkSize)
	v.SetDefault("chunk_overlap", d.ChunkOverlap)
	v.SetDefault("embed_batch_size", d.EmbedBatchSize)
	v.SetDefault("embed_workers", d.EmbedWorkers)
	v.SetDefault("log_queries", d.LogQueries)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.cors_origins", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)
	v.SetDefault("log.compress", false)
}

// loadConfig resolves configuration in increasing precedence: defaults,
// the config file, then HYBRIDRAG_* environment variables. A .env file in
// the working directory is loaded first without overriding the real
// environment.
func loadConfig(path string) (*cliConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("hybridrag")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hybridrag")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	// HYBRIDRAG_CHAT_API_KEY maps to chat.api_key.
	v.SetEnvPrefix("HYBRIDRAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg cliConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	applyLegacyEnv(&cfg.Config)

	if used := v.ConfigFileUsed(); used != "" {
		slog.Debug("config file loaded", "path", used)
	}
	return &cfg, nil
}

// applyLegacyEnv fills empty settings from the unprefixed variable names
// deployments already export.
func applyLegacyEnv(cfg *hybridrag.Config) {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fill(&cfg.Neo4j.URI, "NEO4J_URI")
	fill(&cfg.Neo4j.User, "NEO4J_USER")
	fill(&cfg.Neo4j.Password, "NEO4J_PASSWORD")

	if env, ok := providerKeyEnv[cfg.Chat.Provider]; ok {
		fill(&cfg.Chat.APIKey, env)
	}
	if env, ok := providerKeyEnv[cfg.Embedding.Provider]; ok {
		fill(&cfg.Embedding.APIKey, env)
	}
}

// newLogger builds the process logger. The returned func closes the
// rotated log file, if any.
func newLogger(lc logConfig, w io.Writer) (*slog.Logger, func() error, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(lc.Level)); err != nil {
		return nil, nil, fmt.Errorf("log level %q: %w", lc.Level, err)
	}

	closer := func() error { return nil }
	if lc.File != "" {
		lj := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    lc.MaxSize,
			MaxBackups: lc.MaxBackups,
			MaxAge:     lc.MaxAge,
			Compress:   lc.Compress,
		}
		w = io.MultiWriter(w, lj)
		closer = lj.Close
	}

	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(lc.Format) {
	case "", "json":
		h = slog.NewJSONHandler(w, opts)
	case "text":
		h = slog.NewTextHandler(w, opts)
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", lc.Format)
	}
	return slog.New(h), closer, nil
}
