// Package config loads application configuration from YAML files with
// environment-variable overrides. It provides typed structs for the index
// engine, its host store and the services around it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Postgres PostgresConfig `yaml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer"`
	Storage  StorageConfig  `yaml:"storage"`
	Search   SearchConfig   `yaml:"search"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// CORSOrigins lists the origins allowed cross-origin access; "*" allows
	// any. Empty disables CORS headers.
	CORSOrigins []string `yaml:"corsOrigins"`
	// RateLimit is requests per second per client address; 0 disables it.
	RateLimit float64 `yaml:"rateLimit"`
	RateBurst int     `yaml:"rateBurst"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentEvents string `yaml:"documentEvents"`
	IndexCommitted string `yaml:"indexCommitted"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// IndexerConfig controls the index engine: column layout, node size,
// pending-buffer budget and merge policy.
type IndexerConfig struct {
	Columns   []string `yaml:"columns"`
	Tokenizer string   `yaml:"tokenizer"`
	NodeSize  int      `yaml:"nodeSize"`
	// PendingBudget is the pending buffer size that triggers a flush.
	PendingBudget  int64 `yaml:"pendingBudget"`
	MergeThreshold int   `yaml:"mergeThreshold"`
	// MaxDoclistBytes caps a single merged doclist.
	MaxDoclistBytes int `yaml:"maxDoclistBytes"`
	// MaxDocumentBytes caps the total column text of one document.
	MaxDocumentBytes int           `yaml:"maxDocumentBytes"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	BatchSize        int           `yaml:"batchSize"`
	// OptimizeSchedule is a cron spec; empty disables scheduled optimize.
	OptimizeSchedule string `yaml:"optimizeSchedule"`
}

// StorageConfig selects the host store.
type StorageConfig struct {
	// Driver is one of memory, bolt, sqlite or postgres.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// Compression is none, lz4 or zstd.
	Compression    string `yaml:"compression"`
	BlockCacheSize int    `yaml:"blockCacheSize"`
}

// SearchConfig controls query evaluation and result limits.
type SearchConfig struct {
	MaxResults   int           `yaml:"maxResults"`
	DefaultLimit int           `yaml:"defaultLimit"`
	Timeout      time.Duration `yaml:"timeout"`
	// DeferMode is auto, always or never.
	DeferMode    string  `yaml:"deferMode"`
	DeferRatio   float64 `yaml:"deferRatio"`
	MinDeferCost int     `yaml:"minDeferCost"`
	NearDefault  int     `yaml:"nearDefault"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result. Missing values keep their defaults.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with production-ready defaults for local
// development.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "segmentsearch",
			User:            "segmentsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "segmentsearch-indexer",
			Topics: KafkaTopics{
				DocumentEvents: "document-events",
				IndexCommitted: "index-committed",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Indexer: IndexerConfig{
			Columns:          []string{"content"},
			Tokenizer:        "simple",
			NodeSize:         4000,
			PendingBudget:    1 << 20,
			MergeThreshold:   16,
			MaxDoclistBytes:  256 << 20,
			MaxDocumentBytes: 16 << 20,
			FlushInterval:    5 * time.Second,
			BatchSize:        500,
		},
		Storage: StorageConfig{
			Driver:         "bolt",
			Path:           "./data/index.db",
			Compression:    "none",
			BlockCacheSize: 1024,
		},
		Search: SearchConfig{
			MaxResults:   1000,
			DefaultLimit: 20,
			Timeout:      5 * time.Second,
			DeferMode:    "auto",
			DeferRatio:   4,
			MinDeferCost: 256,
			NearDefault:  10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads SP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("SP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("SP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("SP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("SP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("SP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("SP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("SP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("SP_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("SP_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("SP_STORAGE_COMPRESSION"); v != "" {
		cfg.Storage.Compression = v
	}
	if v := os.Getenv("SP_INDEXER_COLUMNS"); v != "" {
		cfg.Indexer.Columns = strings.Split(v, ",")
	}
	if v := os.Getenv("SP_INDEXER_MERGE_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Indexer.MergeThreshold = n
		}
	}
	if v := os.Getenv("SP_INDEXER_OPTIMIZE_SCHEDULE"); v != "" {
		cfg.Indexer.OptimizeSchedule = v
	}
	if v := os.Getenv("SP_SERVER_RATE_LIMIT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Server.RateLimit = n
		}
	}
	if v := os.Getenv("SP_SEARCH_DEFER_MODE"); v != "" {
		cfg.Search.DeferMode = v
	}
}

// Validate reports the first setting the engine cannot run with.
func (c *Config) Validate() error {
	if len(c.Indexer.Columns) == 0 {
		return fmt.Errorf("indexer.columns must name at least one column")
	}
	if c.Indexer.MergeThreshold < 2 {
		return fmt.Errorf("indexer.mergeThreshold must be at least 2, got %d", c.Indexer.MergeThreshold)
	}
	if c.Indexer.NodeSize < 64 {
		return fmt.Errorf("indexer.nodeSize must be at least 64, got %d", c.Indexer.NodeSize)
	}
	if c.Server.RateLimit < 0 {
		return fmt.Errorf("server.rateLimit must not be negative, got %g", c.Server.RateLimit)
	}
	switch c.Storage.Driver {
	case "memory", "bolt", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	switch c.Storage.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown storage.compression %q", c.Storage.Compression)
	}
	switch c.Search.DeferMode {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("unknown search.deferMode %q", c.Search.DeferMode)
	}
	return nil
}
