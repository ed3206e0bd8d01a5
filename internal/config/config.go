package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the CertHub server and worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Engine   EngineConfig
	Queue    QueueConfig
	Certify  CertifyConfig
}

type ServerConfig struct {
	Port int
	Env  string
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

// EngineConfig points at the external test-execution engine.
type EngineConfig struct {
	BaseURL string
	Timeout time.Duration
}

// QueueConfig tunes the certification queue and its worker pool.
type QueueConfig struct {
	Name          string
	Concurrency   int
	JobsPerSecond float64
	MaxAttempts   int
	Backoff       time.Duration
	JobTimeout    time.Duration
	StallTimeout  time.Duration
	Retention     time.Duration
	SweepAfter    time.Duration
}

// CertifyConfig tunes the certification domain logic.
type CertifyConfig struct {
	Regions       []string
	Freshness     time.Duration
	PassThreshold float64
}

// defaultRegions is the provider-region allow-list; any region outside this
// set is rejected at validation time and never reaches the broker.
var defaultRegions = []string{
	"us-east-1",
	"us-west-2",
	"eu-west-1",
	"eu-central-1",
	"ap-southeast-1",
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CERTHUB_PORT", 8080),
			Env:  envString("CERTHUB_ENV", "development"),
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
		Engine: EngineConfig{
			BaseURL: os.Getenv("ENGINE_BASE_URL"),
			Timeout: envDuration("ENGINE_TIMEOUT", 120*time.Second),
		},
		Queue: QueueConfig{
			Name:          envString("QUEUE_NAME", "certification"),
			Concurrency:   envInt("QUEUE_CONCURRENCY", 5),
			JobsPerSecond: envFloat("QUEUE_JOBS_PER_SECOND", 2),
			MaxAttempts:   envInt("QUEUE_MAX_ATTEMPTS", 3),
			Backoff:       envDuration("QUEUE_BACKOFF", 5*time.Second),
			JobTimeout:    envDuration("QUEUE_JOB_TIMEOUT", 5*time.Minute),
			StallTimeout:  envDuration("QUEUE_STALL_TIMEOUT", 10*time.Minute),
			Retention:     envDuration("QUEUE_RETENTION", 24*time.Hour),
			SweepAfter:    envDuration("QUEUE_SWEEP_AFTER", 30*time.Minute),
		},
		Certify: CertifyConfig{
			Regions:       envList("CERT_REGIONS", defaultRegions),
			Freshness:     envDuration("CERT_FRESHNESS", 24*time.Hour),
			PassThreshold: envFloat("CERT_PASS_THRESHOLD", 70),
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

	if c.Engine.BaseURL == "" {
		return fmt.Errorf("ENGINE_BASE_URL is required")
	}
	if !strings.HasPrefix(c.Engine.BaseURL, "http://") && !strings.HasPrefix(c.Engine.BaseURL, "https://") {
		return fmt.Errorf("ENGINE_BASE_URL must start with http:// or https://, got %q", c.Engine.BaseURL)
	}

	if c.Queue.Concurrency < 1 {
		return fmt.Errorf("QUEUE_CONCURRENCY must be at least 1, got %d", c.Queue.Concurrency)
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_ATTEMPTS must be at least 1, got %d", c.Queue.MaxAttempts)
	}
	if c.Queue.JobsPerSecond <= 0 {
		return fmt.Errorf("QUEUE_JOBS_PER_SECOND must be positive, got %v", c.Queue.JobsPerSecond)
	}

	if len(c.Certify.Regions) == 0 {
		return fmt.Errorf("CERT_REGIONS must name at least one region")
	}
	if c.Certify.PassThreshold < 0 || c.Certify.PassThreshold > 100 {
		return fmt.Errorf("CERT_PASS_THRESHOLD must be between 0 and 100, got %v", c.Certify.PassThreshold)
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

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
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
