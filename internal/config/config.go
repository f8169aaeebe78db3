// Package config provides configuration management for Covenant.
// It loads settings from environment variables with the COVENANT_ prefix
// and provides sensible defaults for all configuration options.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/covenantql/covenant/pkg/types"
)

// Config holds all configuration settings for the Covenant engine.
type Config struct {
	Storage  StorageConfig
	LLM      LLMConfig
	Planning PlanningConfig
	Tracing  TracingConfig
	Server   ServerConfig
}

// StorageConfig contains backend connection configuration.
type StorageConfig struct {
	StorageEngine  string // Storage engine: sqlite, postgres (default: sqlite)
	SQLitePath     string // SQLite database path (default: ./data/covenant.db)
	PostgresDSN    string // Postgres connection string
	SPARQLEndpoint string // SPARQL query endpoint URL; empty disables GRAPH_TRAVERSAL
	CatalogPath    string // Entity catalog YAML; empty uses the built-in catalog
}

// LLMConfig contains planning-model configuration.
type LLMConfig struct {
	Enabled           bool          // Enable the LLM planner (default: true)
	Provider          string        // Provider: ollama, openai (default: ollama)
	OllamaURL         string        // Ollama API URL (default: http://localhost:11434)
	PrimaryModel      string        // Primary planning model (default: qwen2.5:7b)
	SecondaryModel    string        // Secondary model for A/B and comparison runs
	EmbeddingModel    string        // Embedding model for similarity search (default: nomic-embed-text)
	OpenAIAPIKey      string        // OpenAI API key
	PlannerTimeout    time.Duration // Planning call timeout (default: 5s)
	RequestsPerSecond float64       // Outbound call rate limit; 0 disables (default: 0)
}

// PlanningConfig contains strategy selection and caching settings.
type PlanningConfig struct {
	Mode         types.ExecutionMode // comparison_only, execution, a_b_test (default: execution)
	CacheSize    int                 // Plan cache capacity (default: 1024)
	CacheTTL     time.Duration       // Plan cache entry lifetime (default: 1h)
	QueryTimeout time.Duration       // Whole-call deadline (default: 30s)
	VectorTopK   int                 // Similarity search result count (default: 10)
	MaxResults   int                 // Document cap per query (default: 100)
}

// TracingConfig contains trace artifact settings.
type TracingConfig struct {
	TraceDir string // Directory for paired trace artifacts; empty disables files
}

// ServerConfig contains HTTP API settings for serve mode.
type ServerConfig struct {
	Host     string // Bind host (default: 127.0.0.1)
	Port     int    // Bind port; 0 picks an ephemeral port (default: 7373)
	APIToken string // Bearer token for /api routes; empty disables auth
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the COVENANT_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			StorageEngine:  getEnv("COVENANT_STORAGE_ENGINE", "sqlite"),
			SQLitePath:     getEnv("COVENANT_SQLITE_PATH", "./data/covenant.db"),
			PostgresDSN:    getEnv("COVENANT_POSTGRES_DSN", ""),
			SPARQLEndpoint: getEnv("COVENANT_SPARQL_ENDPOINT", ""),
			CatalogPath:    getEnv("COVENANT_CATALOG_PATH", ""),
		},
		LLM: LLMConfig{
			Enabled:           getEnvBool("COVENANT_LLM_ENABLED", true),
			Provider:          getEnv("COVENANT_LLM_PROVIDER", "ollama"),
			OllamaURL:         getEnv("COVENANT_OLLAMA_URL", "http://localhost:11434"),
			PrimaryModel:      getEnv("COVENANT_PRIMARY_MODEL", "qwen2.5:7b"),
			SecondaryModel:    getEnv("COVENANT_SECONDARY_MODEL", ""),
			EmbeddingModel:    getEnv("COVENANT_EMBEDDING_MODEL", "nomic-embed-text"),
			OpenAIAPIKey:      getEnv("COVENANT_OPENAI_API_KEY", ""),
			PlannerTimeout:    getEnvDuration("COVENANT_PLANNER_TIMEOUT", 5*time.Second),
			RequestsPerSecond: getEnvFloat("COVENANT_LLM_RATE_LIMIT", 0),
		},
		Planning: PlanningConfig{
			Mode:         types.ExecutionMode(getEnv("COVENANT_EXECUTION_MODE", string(types.ModeExecution))),
			CacheSize:    getEnvInt("COVENANT_CACHE_SIZE", 1024),
			CacheTTL:     getEnvDuration("COVENANT_CACHE_TTL", time.Hour),
			QueryTimeout: getEnvDuration("COVENANT_QUERY_TIMEOUT", 30*time.Second),
			VectorTopK:   getEnvInt("COVENANT_VECTOR_TOP_K", 10),
			MaxResults:   getEnvInt("COVENANT_MAX_RESULTS", 100),
		},
		Tracing: TracingConfig{
			TraceDir: getEnv("COVENANT_TRACE_DIR", "./traces"),
		},
		Server: ServerConfig{
			Host:     getEnv("COVENANT_SERVER_HOST", "127.0.0.1"),
			Port:     getEnvInt("COVENANT_SERVER_PORT", 7373),
			APIToken: getEnv("COVENANT_API_TOKEN", ""),
		},
	}

	if !types.IsValidExecutionMode(cfg.Planning.Mode) {
		return nil, fmt.Errorf("config: unknown execution mode %q", cfg.Planning.Mode)
	}
	switch cfg.Storage.StorageEngine {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("config: unknown storage engine %q", cfg.Storage.StorageEngine)
	}
	if cfg.Storage.StorageEngine == "postgres" && cfg.Storage.PostgresDSN == "" {
		return nil, fmt.Errorf("config: COVENANT_POSTGRES_DSN is required for the postgres engine")
	}
	return cfg, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. Accepts the forms strconv.ParseBool accepts.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable (e.g. "5s",
// "1h") or returns a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
