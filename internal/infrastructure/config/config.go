package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Supported graph stores.
const (
	StorePostgres = "postgres"
	StoreNeo4j    = "neo4j"
	StoreSQLite   = "sqlite"
)

// Config represents the application configuration
type Config struct {
	Database DatabaseConfig
	Neo4j    Neo4jConfig
	SQLite   SQLiteConfig
	Ingest   IngestConfig
	Metrics  MetricsConfig
	Cache    CacheConfig
}

// IngestConfig controls how the engine talks to the store.
type IngestConfig struct {
	Store        string        // postgres, neo4j or sqlite
	BatchSize    int           // Rows per committed chunk
	ChunkTimeout time.Duration // Deadline for a single chunk transaction
	MaxRetries   int           // Retries of a chunk after a transient store error
	CleanupLimit int           // Deletions per cleanup pass; 0 deletes in one pass
}

// MetricsConfig represents the Prometheus exporter configuration
type MetricsConfig struct {
	Enabled bool
	Port    int           // Port for Prometheus metrics HTTP server
	Linger  time.Duration // How long a finished run keeps serving /metrics
}

// CacheConfig configures the compiled query cache
type CacheConfig struct {
	Enabled        bool
	MaxMemoryBytes int64 // Maximum memory usage in bytes (e.g., 1048576 = 1MB)
	TTLMinutes     int   // Zero keeps entries until evicted
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// Neo4jConfig represents the Bolt connection configuration
type Neo4jConfig struct {
	URI                   string
	User                  string
	Password              string
	Database              string // Empty selects the server default
	MaxConnectionPoolSize int
}

// SQLiteConfig represents the embedded store configuration
type SQLiteConfig struct {
	Path string // File path, or ":memory:"
}

// findProjectRoot finds the project root directory by looking for go.mod
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	// Walk up the directory tree until we find go.mod
	for {
		goModPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(goModPath); err == nil {
			return dir, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached the root directory
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}

// InitConfig initializes viper configuration
// env: environment name (dev, test, prod)
func InitConfig(env string) error {
	if env == "" {
		env = "dev"
	}

	// Find project root
	projectRoot, err := findProjectRoot()
	if err != nil {
		return fmt.Errorf("failed to find project root: %w", err)
	}

	// Set config file name based on environment
	viper.SetConfigName(fmt.Sprintf(".env.%s", env))
	viper.SetConfigType("env")
	viper.AddConfigPath(projectRoot) // Project root

	// Read config file (optional, ignore error if not found)
	_ = viper.ReadInConfig()

	// Environment variables take precedence over config file
	viper.AutomaticEnv()

	setDefaults()
	return nil
}

func setDefaults() {
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", 15432)
	viper.SetDefault("DB_USER", "graphsync")
	viper.SetDefault("DB_NAME", "graphsync_dev")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("NEO4J_URI", "bolt://localhost:7687")
	viper.SetDefault("NEO4J_USER", "neo4j")
	viper.SetDefault("NEO4J_MAX_POOL_SIZE", 50)

	viper.SetDefault("SQLITE_PATH", "graphsync.db")

	viper.SetDefault("INGEST_STORE", StorePostgres)
	viper.SetDefault("INGEST_BATCH_SIZE", 10000)
	viper.SetDefault("INGEST_CHUNK_TIMEOUT", "60s")
	viper.SetDefault("INGEST_MAX_RETRIES", 3)
	viper.SetDefault("INGEST_CLEANUP_LIMIT", 0)

	viper.SetDefault("METRICS_ENABLED", false)
	viper.SetDefault("METRICS_PORT", 9090)
	viper.SetDefault("METRICS_LINGER", "15s")

	// Cache defaults
	viper.SetDefault("CACHE_ENABLED", true)
	viper.SetDefault("CACHE_MAX_MEMORY_BYTES", 1024*1024) // 1MB of query text
	viper.SetDefault("CACHE_TTL_MINUTES", 0)
}

// Load loads configuration from viper
func Load() (*Config, error) {
	config := &Config{
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetInt("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_NAME"),
			SSLMode:  viper.GetString("DB_SSLMODE"),
		},
		Neo4j: Neo4jConfig{
			URI:                   viper.GetString("NEO4J_URI"),
			User:                  viper.GetString("NEO4J_USER"),
			Password:              viper.GetString("NEO4J_PASSWORD"),
			Database:              viper.GetString("NEO4J_DATABASE"),
			MaxConnectionPoolSize: viper.GetInt("NEO4J_MAX_POOL_SIZE"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("SQLITE_PATH"),
		},
		Ingest: IngestConfig{
			Store:        viper.GetString("INGEST_STORE"),
			BatchSize:    viper.GetInt("INGEST_BATCH_SIZE"),
			ChunkTimeout: viper.GetDuration("INGEST_CHUNK_TIMEOUT"),
			MaxRetries:   viper.GetInt("INGEST_MAX_RETRIES"),
			CleanupLimit: viper.GetInt("INGEST_CLEANUP_LIMIT"),
		},
		Metrics: MetricsConfig{
			Enabled: viper.GetBool("METRICS_ENABLED"),
			Port:    viper.GetInt("METRICS_PORT"),
			Linger:  viper.GetDuration("METRICS_LINGER"),
		},
		Cache: CacheConfig{
			Enabled:        viper.GetBool("CACHE_ENABLED"),
			MaxMemoryBytes: viper.GetInt64("CACHE_MAX_MEMORY_BYTES"),
			TTLMinutes:     viper.GetInt("CACHE_TTL_MINUTES"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the settings the selected store depends on.
func (c *Config) Validate() error {
	switch c.Ingest.Store {
	case StorePostgres:
		// DB_PASSWORD is required for security
		if c.Database.Password == "" {
			return fmt.Errorf("DB_PASSWORD is required (set via environment variable or .env file)")
		}
	case StoreNeo4j:
		if c.Neo4j.Password == "" {
			return fmt.Errorf("NEO4J_PASSWORD is required (set via environment variable or .env file)")
		}
	case StoreSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("SQLITE_PATH must not be empty")
		}
	default:
		return fmt.Errorf("unknown INGEST_STORE %q (want postgres, neo4j or sqlite)", c.Ingest.Store)
	}

	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.MaxRetries < 0 {
		return fmt.Errorf("INGEST_MAX_RETRIES must not be negative, got %d", c.Ingest.MaxRetries)
	}
	if c.Ingest.CleanupLimit < 0 {
		return fmt.Errorf("INGEST_CLEANUP_LIMIT must not be negative, got %d", c.Ingest.CleanupLimit)
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Database,
		c.SSLMode,
	)
}
