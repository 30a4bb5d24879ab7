package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the scraper orchestration server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Session   SessionConfig
	Logging   LoggingConfig
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

// QueueConfig controls retry, retention, and deferral behavior of the job queue.
type QueueConfig struct {
	MaxRetries      int
	BackoffBase     time.Duration // delay before the first retry; doubles each attempt
	Retention       time.Duration // how long completed job records are kept
	ConflictRequeue time.Duration // deferral when a campaign is already in flight
}

// SchedulerConfig controls the periodic task intervals.
type SchedulerConfig struct {
	DrainInterval     time.Duration
	ReconcileInterval time.Duration
	StallInterval     time.Duration
	PromoteInterval   time.Duration
	StallTimeout      time.Duration // age in processing after which a job is failed
	LeadBatchSize     int
}

// SessionConfig controls the automation session pool and account health
// policy.
type SessionConfig struct {
	IdleMaxAge       time.Duration
	SweepInterval    time.Duration
	DisableThreshold int // consecutive auth failures before an account is disabled
}

type LoggingConfig struct {
	Level  string
	Format string // json or console
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("SCRAPER_PORT", 8080),
			Env:  envString("SCRAPER_ENV", "development"),
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
		Queue: QueueConfig{
			MaxRetries:      envInt("QUEUE_MAX_RETRIES", 3),
			BackoffBase:     envDuration("QUEUE_BACKOFF_BASE", time.Minute),
			Retention:       envDuration("QUEUE_RETENTION", 24*time.Hour),
			ConflictRequeue: envDuration("QUEUE_CONFLICT_REQUEUE", 30*time.Second),
		},
		Scheduler: SchedulerConfig{
			DrainInterval:     envDuration("SCHEDULER_DRAIN_INTERVAL", time.Minute),
			ReconcileInterval: envDuration("SCHEDULER_RECONCILE_INTERVAL", 5*time.Minute),
			StallInterval:     envDuration("SCHEDULER_STALL_INTERVAL", 15*time.Minute),
			PromoteInterval:   envDuration("SCHEDULER_PROMOTE_INTERVAL", time.Minute),
			StallTimeout:      envDuration("SCHEDULER_STALL_TIMEOUT", 30*time.Minute),
			LeadBatchSize:     envInt("SCHEDULER_LEAD_BATCH_SIZE", 25),
		},
		Session: SessionConfig{
			IdleMaxAge:       envDuration("SESSION_IDLE_MAX_AGE", 20*time.Minute),
			SweepInterval:    envDuration("SESSION_SWEEP_INTERVAL", 2*time.Minute),
			DisableThreshold: envInt("SESSION_DISABLE_THRESHOLD", 5),
		},
		Logging: LoggingConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
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

	if c.Queue.MaxRetries < 0 {
		return fmt.Errorf("QUEUE_MAX_RETRIES must be >= 0, got %d", c.Queue.MaxRetries)
	}
	if c.Queue.BackoffBase <= 0 {
		return fmt.Errorf("QUEUE_BACKOFF_BASE must be positive, got %s", c.Queue.BackoffBase)
	}
	if c.Queue.Retention <= 0 {
		return fmt.Errorf("QUEUE_RETENTION must be positive, got %s", c.Queue.Retention)
	}

	if c.Scheduler.StallTimeout <= 0 {
		return fmt.Errorf("SCHEDULER_STALL_TIMEOUT must be positive, got %s", c.Scheduler.StallTimeout)
	}
	if c.Scheduler.LeadBatchSize <= 0 {
		return fmt.Errorf("SCHEDULER_LEAD_BATCH_SIZE must be positive, got %d", c.Scheduler.LeadBatchSize)
	}

	if c.Session.IdleMaxAge <= 0 {
		return fmt.Errorf("SESSION_IDLE_MAX_AGE must be positive, got %s", c.Session.IdleMaxAge)
	}
	if c.Session.DisableThreshold <= 0 {
		return fmt.Errorf("SESSION_DISABLE_THRESHOLD must be positive, got %d", c.Session.DisableThreshold)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
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
