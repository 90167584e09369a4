// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.recall/config.yaml)
//  3. Default values
//
// Error handling uses sentinel errors so callers can match with
// errors.Is() and wrap with fmt.Errorf("%w: details", ErrXxx).
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrMissingAPIKey indicates a required API key is missing.
	ErrMissingAPIKey = errors.New("missing API key")

	// ErrInvalidProvider indicates the AI provider is not supported.
	ErrInvalidProvider = errors.New("invalid provider")

	// ErrInvalidChunkSize indicates the chunk size is out of range.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidChunkOverlap indicates the chunk overlap is out of range.
	ErrInvalidChunkOverlap = errors.New("invalid chunk overlap")

	// ErrInvalidBatchSize indicates the ingest batch size is out of range.
	ErrInvalidBatchSize = errors.New("invalid batch size")

	// ErrInvalidTopK indicates the retrieval top-k is out of range.
	ErrInvalidTopK = errors.New("invalid top k")

	// ErrInvalidLambda indicates the MMR lambda is out of range.
	ErrInvalidLambda = errors.New("invalid mmr lambda")

	// ErrInvalidEps indicates the clustering radius is out of range.
	ErrInvalidEps = errors.New("invalid clustering eps")

	// ErrInvalidMinClusterSize indicates the minimum cluster size is out of range.
	ErrInvalidMinClusterSize = errors.New("invalid min cluster size")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")
)

// AI provider identifiers used in Config.Provider.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// DefaultEmbedderModel outputs 3072 dimensions by default but supports
// truncation to 768 via OutputDimensionality; the points schema uses
// 768, see index.VectorDimension.
const DefaultEmbedderModel = "gemini-embedding-001"

// Config stores application configuration.
type Config struct {
	// AI provider and model configuration
	Provider      string `mapstructure:"provider" json:"provider"`
	ModelName     string `mapstructure:"model_name" json:"model_name"`
	EmbedderModel string `mapstructure:"embedder_model" json:"embedder_model"`

	// Chunking configuration
	ChunkSize    int `mapstructure:"chunk_size" json:"chunk_size"`
	ChunkOverlap int `mapstructure:"chunk_overlap" json:"chunk_overlap"`

	// Ingestion configuration
	BatchSize     int     `mapstructure:"batch_size" json:"batch_size"`
	QueueWorkers  int     `mapstructure:"queue_workers" json:"queue_workers"`
	QueueCapacity int     `mapstructure:"queue_capacity" json:"queue_capacity"`
	EmbedRPS      float64 `mapstructure:"embed_rps" json:"embed_rps"`

	// Retrieval configuration
	TopK      int     `mapstructure:"top_k" json:"top_k"`
	MMRLambda float64 `mapstructure:"mmr_lambda" json:"mmr_lambda"`

	// Clustering configuration
	ClusterEps     float64 `mapstructure:"cluster_eps" json:"cluster_eps"`
	MinClusterSize int     `mapstructure:"min_cluster_size" json:"min_cluster_size"`

	// Storage configuration
	PostgresHost     string `mapstructure:"postgres_host" json:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port" json:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user" json:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password" json:"-"`
	PostgresDBName   string `mapstructure:"postgres_db_name" json:"postgres_db_name"`
	PostgresSSLMode  string `mapstructure:"postgres_ssl_mode" json:"postgres_ssl_mode"`
	ContentDBPath    string `mapstructure:"content_db_path" json:"content_db_path"`

	// Server configuration
	ListenAddr string `mapstructure:"listen_addr" json:"listen_addr"`
}

// Load loads configuration.
// Priority: Environment variables > Configuration file > Default values
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".recall")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, configDir)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults apply.
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	// DATABASE_URL overrides individual postgres_* settings.
	if err := cfg.parseDatabaseURL(os.Getenv("DATABASE_URL")); err != nil {
		return nil, fmt.Errorf("parsing DATABASE_URL: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	// AI defaults
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("model_name", "gemini-2.5-flash")
	v.SetDefault("embedder_model", DefaultEmbedderModel)

	// Chunking defaults
	v.SetDefault("chunk_size", 1000)
	v.SetDefault("chunk_overlap", 200)

	// Ingestion defaults
	v.SetDefault("batch_size", 10)
	v.SetDefault("queue_workers", 2)
	v.SetDefault("queue_capacity", 64)
	v.SetDefault("embed_rps", 5.0)

	// Retrieval defaults
	v.SetDefault("top_k", 5)
	v.SetDefault("mmr_lambda", 0.7)

	// Clustering defaults
	v.SetDefault("cluster_eps", 0.5)
	v.SetDefault("min_cluster_size", 3)

	// PostgreSQL defaults (matching docker-compose.yml)
	v.SetDefault("postgres_host", "localhost")
	v.SetDefault("postgres_port", 5432)
	v.SetDefault("postgres_user", "recall")
	v.SetDefault("postgres_password", "recall_dev_password")
	v.SetDefault("postgres_db_name", "recall")
	v.SetDefault("postgres_ssl_mode", "disable")

	// Content backup defaults
	v.SetDefault("content_db_path", filepath.Join(configDir, "content.db"))

	// Server defaults
	v.SetDefault("listen_addr", ":8090")
}

// bindEnvVariables binds environment variables explicitly. Secrets only
// come from the environment, never from the config file.
func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("postgres_password", "RECALL_POSTGRES_PASSWORD")
	_ = v.BindEnv("postgres_host", "RECALL_POSTGRES_HOST")
	_ = v.BindEnv("postgres_port", "RECALL_POSTGRES_PORT")
	_ = v.BindEnv("listen_addr", "RECALL_LISTEN_ADDR")
	_ = v.BindEnv("content_db_path", "RECALL_CONTENT_DB_PATH")
	_ = v.BindEnv("provider", "RECALL_PROVIDER")
}
