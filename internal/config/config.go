package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the rowbatch server and worker.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Pipeline  PipelineConfig
	Worker    WorkerConfig
	Retention RetentionConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// PipelineConfig bounds the chunker: uploads larger than MaxUploadBytes or
// with more than MaxRows usable rows are rejected; accepted tables are split
// into chunks of at most ChunkRows rows.
type PipelineConfig struct {
	DataDir        string
	ChunkRows      int
	MaxRows        int
	MaxUploadBytes int64
	TrustedColumns []string
}

type WorkerConfig struct {
	Concurrency    int
	CancelPollRows int
	QueueName      string
	DeadLetterName string
	MaxAttempts    int
	PopTimeout     time.Duration
}

type RetentionConfig struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

var defaultTrustedColumns = []string{
	"CompanyName", "ContactName", "Email", "Segment", "Region", "Employees",
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("ROWBATCH_PORT", 8080),
			Env:             envString("ROWBATCH_ENV", "development"),
			RateLimitPerMin: envInt("ROWBATCH_RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Pipeline: PipelineConfig{
			DataDir:        os.Getenv("ROWBATCH_DATA_DIR"),
			ChunkRows:      envInt("ROWBATCH_CHUNK_ROWS", 5000),
			MaxRows:        envInt("ROWBATCH_MAX_ROWS", 100000),
			MaxUploadBytes: envInt64("ROWBATCH_MAX_UPLOAD_BYTES", 32<<20),
			TrustedColumns: envList("ROWBATCH_TRUSTED_COLUMNS", defaultTrustedColumns),
		},
		Worker: WorkerConfig{
			Concurrency:    envInt("ROWBATCH_WORKER_CONCURRENCY", 4),
			CancelPollRows: envInt("ROWBATCH_CANCEL_POLL_ROWS", 500),
			QueueName:      envString("ROWBATCH_QUEUE_NAME", "rowbatch:work"),
			DeadLetterName: envString("ROWBATCH_DEAD_LETTER_NAME", "rowbatch:dead"),
			MaxAttempts:    envInt("ROWBATCH_MAX_ATTEMPTS", 3),
			PopTimeout:     envDuration("ROWBATCH_POP_TIMEOUT", 5*time.Second),
		},
		Retention: RetentionConfig{
			TTL:           envDuration("ROWBATCH_RETENTION_TTL", 72*time.Hour),
			SweepInterval: envDuration("ROWBATCH_SWEEP_INTERVAL", time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Pipeline.DataDir == "" {
		return fmt.Errorf("ROWBATCH_DATA_DIR is required")
	}
	if c.Pipeline.ChunkRows <= 0 {
		return fmt.Errorf("ROWBATCH_CHUNK_ROWS must be positive, got %d", c.Pipeline.ChunkRows)
	}
	if c.Pipeline.MaxRows < c.Pipeline.ChunkRows {
		return fmt.Errorf("ROWBATCH_MAX_ROWS (%d) must be at least ROWBATCH_CHUNK_ROWS (%d)",
			c.Pipeline.MaxRows, c.Pipeline.ChunkRows)
	}
	if c.Pipeline.MaxUploadBytes <= 0 {
		return fmt.Errorf("ROWBATCH_MAX_UPLOAD_BYTES must be positive, got %d", c.Pipeline.MaxUploadBytes)
	}
	if len(c.Pipeline.TrustedColumns) == 0 {
		return fmt.Errorf("ROWBATCH_TRUSTED_COLUMNS must name at least one column")
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("ROWBATCH_WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Worker.CancelPollRows <= 0 {
		return fmt.Errorf("ROWBATCH_CANCEL_POLL_ROWS must be positive, got %d", c.Worker.CancelPollRows)
	}
	if c.Worker.MaxAttempts <= 0 {
		return fmt.Errorf("ROWBATCH_MAX_ATTEMPTS must be positive, got %d", c.Worker.MaxAttempts)
	}

	if c.Retention.TTL <= 0 {
		return fmt.Errorf("ROWBATCH_RETENTION_TTL must be positive, got %s", c.Retention.TTL)
	}
	if c.Retention.SweepInterval <= 0 {
		return fmt.Errorf("ROWBATCH_SWEEP_INTERVAL must be positive, got %s", c.Retention.SweepInterval)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
