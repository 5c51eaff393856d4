// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// search core (data files, vocabularies, model, token lengths, chunking) and
// for the service surface (server, Redis, Kafka, Postgres, logging, metrics).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Adithya-Monish-Kumar-K/deep-code-search/pkg/errors"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Vocab     VocabConfig     `yaml:"vocab"`
	Model     ModelConfig     `yaml:"model"`
	Lengths   LengthsConfig   `yaml:"lengths"`
	Search    SearchConfig    `yaml:"search"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Analytics AnalyticsConfig `yaml:"analytics"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of search requests allowed per client per
	// minute. Zero disables limiting.
	RateLimit int `yaml:"rateLimit"`
}

// DataConfig names the precomputed corpus artifacts, relative to Workdir.
type DataConfig struct {
	Workdir  string `yaml:"workdir"`
	Codebase string `yaml:"codebase"`
	Codevecs string `yaml:"codevecs"`
	UseData  string `yaml:"useData"`
}

// VocabConfig names the per-field vocabulary files and how many of the most
// frequent entries of each are kept.
type VocabConfig struct {
	Name      string `yaml:"name"`
	API       string `yaml:"api"`
	Tokens    string `yaml:"tokens"`
	Desc      string `yaml:"desc"`
	TopNames  int    `yaml:"topNames"`
	TopAPIs   int    `yaml:"topApis"`
	TopTokens int    `yaml:"topTokens"`
	TopDescs  int    `yaml:"topDescs"`
}

// ModelConfig selects the embedding model. When EmbedURL is set the model is
// served remotely, otherwise the checkpoint for Epoch is loaded from disk.
type ModelConfig struct {
	Name      string `yaml:"name"`
	Epoch     int    `yaml:"epoch"`
	Hidden    int    `yaml:"hidden"`
	EmbedURL  string `yaml:"embedUrl"`
	Serialize bool   `yaml:"serialize"`
}

// LengthsConfig holds the fixed token lengths of every encoder input.
type LengthsConfig struct {
	Name   int `yaml:"name"`
	API    int `yaml:"api"`
	Tokens int `yaml:"tokens"`
	Desc   int `yaml:"desc"`
}

// SearchConfig controls chunking and query execution.
type SearchConfig struct {
	ChunkSize    int           `yaml:"chunkSize"`
	Workers      int           `yaml:"workers"`
	DefaultK     int           `yaml:"defaultK"`
	MaxK         int           `yaml:"maxK"`
	Timeout      time.Duration `yaml:"timeout"`
	ReprBatch    int           `yaml:"reprBatch"`
	ReprParallel int           `yaml:"reprParallel"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
	// LocalSize bounds the in-process result cache used when Redis is
	// disabled. Zero turns result caching off entirely.
	LocalSize int `yaml:"localSize"`
}

// KafkaConfig holds Kafka broker and topic settings for search events.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	ConsumerGroup string   `yaml:"consumerGroup"`
}

// AnalyticsConfig controls how search events are buffered and where the
// analytics worker serves its stats.
type AnalyticsConfig struct {
	BufferSize       int           `yaml:"bufferSize"`
	BatchSize        int           `yaml:"batchSize"`
	FlushInterval    time.Duration `yaml:"flushInterval"`
	SnapshotInterval time.Duration `yaml:"snapshotInterval"`
	Port             int           `yaml:"port"`
}

// PostgresConfig holds PostgreSQL connection parameters for the query log.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
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

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults. The result is validated.
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
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the search core cannot run with.
func (c *Config) Validate() error {
	if c.Search.ChunkSize <= 0 {
		return fmt.Errorf("%w: search.chunkSize must be positive, got %d", apperrors.ErrConfiguration, c.Search.ChunkSize)
	}
	lengths := map[string]int{
		"lengths.name":   c.Lengths.Name,
		"lengths.api":    c.Lengths.API,
		"lengths.tokens": c.Lengths.Tokens,
		"lengths.desc":   c.Lengths.Desc,
	}
	for name, v := range lengths {
		if v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", apperrors.ErrConfiguration, name, v)
		}
	}
	if c.Search.MaxK <= 0 || c.Search.DefaultK <= 0 || c.Search.DefaultK > c.Search.MaxK {
		return fmt.Errorf("%w: search.defaultK (%d) must be in [1, search.maxK (%d)]",
			apperrors.ErrConfiguration, c.Search.DefaultK, c.Search.MaxK)
	}
	if c.Search.Workers < 0 {
		return fmt.Errorf("%w: search.workers must not be negative", apperrors.ErrConfiguration)
	}
	return nil
}

// Path resolves a data file name against the working directory.
func (c *Config) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Data.Workdir, name)
}

// defaultConfig mirrors the settings the Java corpus artifacts were built with.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Data: DataConfig{
			Workdir:  "./data/java_corpus/",
			Codebase: "use.rawcode.txt",
			Codevecs: "use.codevecs.normalized.csvec",
			UseData:  "use.csv",
		},
		Vocab: VocabConfig{
			Name:      "nameVocab.csv",
			API:       "apiVocab.csv",
			Tokens:    "tokenVocab.csv",
			Desc:      "commentVocab.csv",
			TopNames:  10000,
			TopAPIs:   10000,
			TopTokens: 10000,
			TopDescs:  10000,
		},
		Model: ModelConfig{
			Name:   "java_cs_v2",
			Epoch:  0,
			Hidden: 400,
		},
		Lengths: LengthsConfig{
			Name:   6,
			API:    30,
			Tokens: 50,
			Desc:   30,
		},
		Search: SearchConfig{
			ChunkSize:    2000000,
			DefaultK:     10,
			MaxK:         1000,
			Timeout:      20 * time.Second,
			ReprBatch:    1000,
			ReprParallel: 4,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			CacheTTL:  10 * time.Minute,
			LocalSize: 1024,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			Topic:         "search-events",
			ConsumerGroup: "codesearch-analytics",
		},
		Analytics: AnalyticsConfig{
			BufferSize:       10000,
			BatchSize:        100,
			FlushInterval:    5 * time.Second,
			SnapshotInterval: time.Minute,
			Port:             8081,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "codesearch",
			User:            "codesearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads CS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CS_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CS_DATA_WORKDIR"); v != "" {
		cfg.Data.Workdir = v
	}
	if v := os.Getenv("CS_MODEL_NAME"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("CS_MODEL_EPOCH"); v != "" {
		if epoch, err := strconv.Atoi(v); err == nil {
			cfg.Model.Epoch = epoch
		}
	}
	if v := os.Getenv("CS_MODEL_EMBED_URL"); v != "" {
		cfg.Model.EmbedURL = v
	}
	if v := os.Getenv("CS_SEARCH_CHUNK_SIZE"); v != "" {
		if size, err := strconv.Atoi(v); err == nil {
			cfg.Search.ChunkSize = size
		}
	}
	if v := os.Getenv("CS_SEARCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Search.Workers = n
		}
	}
	if v := os.Getenv("CS_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("CS_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("CS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("CS_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("CS_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("CS_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("CS_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
