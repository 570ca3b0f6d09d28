package config

import (
	"errors"
	"fmt"
	"time"
)

// ClassTimeouts describes the runtime budget for one complexity class.
type ClassTimeouts struct {
	Initial     time.Duration
	Extension   time.Duration
	Maximum     time.Duration
	HealthCheck time.Duration
	GracePeriod time.Duration
}

// OrchestratorConfig holds runtime configuration for the orchestrator service.
type OrchestratorConfig struct {
	Environment   string
	Addr          string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string

	ProviderURL     string
	ProviderToken   string
	ProviderTimeout time.Duration

	Simple     ClassTimeouts
	Complex    ClassTimeouts
	Enterprise ClassTimeouts

	MaxConcurrentPerUser int
	MaxConcurrentGlobal  int
	SandboxMemoryMB      int
	SandboxDiskMB        int
	SandboxCPUPercent    int

	CleanupInterval  time.Duration
	MaxIdleTime      time.Duration
	MaxSandboxAge    time.Duration
	CleanupBatchSize int
	OrphanTimeout    time.Duration

	MaxRetries        int
	RetryBaseBackoff  time.Duration
	RetryMaxBackoff   time.Duration
	FailureThreshold  int
	CircuitCooldown   time.Duration
	HealthProbePaths  []string
	EventBufferSize   int
	SubscriberBuffer  int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadOrchestratorConfig constructs an OrchestratorConfig from environment variables.
func LoadOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		Environment:   GetString("APP_ENV", "development"),
		Addr:          GetString("ORCHESTRATOR_ADDR", ":4000"),
		DatabaseURL:   GetString("DATABASE_URL", "postgres://coderunner:coderunner@db:5432/coderunner?sslmode=disable"),
		MigrationsDir: GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:     GetString("JWT_SECRET", "supersecuresecret"),

		ProviderURL:     GetString("PROVIDER_URL", "http://provider:5000"),
		ProviderToken:   GetString("PROVIDER_TOKEN", ""),
		ProviderTimeout: GetSeconds("PROVIDER_TIMEOUT_SECONDS", 30*time.Second),

		Simple: ClassTimeouts{
			Initial:     GetSeconds("TIMEOUT_SIMPLE_INITIAL_SECONDS", 30*time.Minute),
			Extension:   GetSeconds("TIMEOUT_SIMPLE_EXTENSION_SECONDS", 15*time.Minute),
			Maximum:     GetSeconds("TIMEOUT_SIMPLE_MAXIMUM_SECONDS", 2*time.Hour),
			HealthCheck: GetSeconds("HEALTH_SIMPLE_INTERVAL_SECONDS", 30*time.Second),
			GracePeriod: GetSeconds("HEALTH_SIMPLE_GRACE_SECONDS", 20*time.Second),
		},
		Complex: ClassTimeouts{
			Initial:     GetSeconds("TIMEOUT_COMPLEX_INITIAL_SECONDS", time.Hour),
			Extension:   GetSeconds("TIMEOUT_COMPLEX_EXTENSION_SECONDS", 30*time.Minute),
			Maximum:     GetSeconds("TIMEOUT_COMPLEX_MAXIMUM_SECONDS", 4*time.Hour),
			HealthCheck: GetSeconds("HEALTH_COMPLEX_INTERVAL_SECONDS", 20*time.Second),
			GracePeriod: GetSeconds("HEALTH_COMPLEX_GRACE_SECONDS", 45*time.Second),
		},
		Enterprise: ClassTimeouts{
			Initial:     GetSeconds("TIMEOUT_ENTERPRISE_INITIAL_SECONDS", 2*time.Hour),
			Extension:   GetSeconds("TIMEOUT_ENTERPRISE_EXTENSION_SECONDS", time.Hour),
			Maximum:     GetSeconds("TIMEOUT_ENTERPRISE_MAXIMUM_SECONDS", 8*time.Hour),
			HealthCheck: GetSeconds("HEALTH_ENTERPRISE_INTERVAL_SECONDS", 15*time.Second),
			GracePeriod: GetSeconds("HEALTH_ENTERPRISE_GRACE_SECONDS", 90*time.Second),
		},

		MaxConcurrentPerUser: GetInt("MAX_CONCURRENT_PER_USER", 3),
		MaxConcurrentGlobal:  GetInt("MAX_CONCURRENT_GLOBAL", 50),
		SandboxMemoryMB:      GetInt("SANDBOX_MEMORY_MB", 512),
		SandboxDiskMB:        GetInt("SANDBOX_DISK_MB", 1024),
		SandboxCPUPercent:    GetInt("SANDBOX_CPU_PERCENT", 100),

		CleanupInterval:  GetSeconds("CLEANUP_INTERVAL_SECONDS", time.Minute),
		MaxIdleTime:      GetSeconds("MAX_IDLE_SECONDS", 30*time.Minute),
		MaxSandboxAge:    GetSeconds("MAX_SANDBOX_AGE_SECONDS", 24*time.Hour),
		CleanupBatchSize: GetInt("CLEANUP_BATCH_SIZE", 10),
		OrphanTimeout:    GetSeconds("ORPHAN_TIMEOUT_SECONDS", 5*time.Minute),

		MaxRetries:       GetInt("MAX_RETRIES", 3),
		RetryBaseBackoff: GetMillis("RETRY_BASE_BACKOFF_MS", 500*time.Millisecond),
		RetryMaxBackoff:  GetMillis("RETRY_MAX_BACKOFF_MS", 10*time.Second),
		FailureThreshold: GetInt("HEALTH_FAILURE_THRESHOLD", 3),
		CircuitCooldown:  GetSeconds("CIRCUIT_COOLDOWN_SECONDS", 30*time.Second),
		HealthProbePaths: GetStringSlice("HEALTH_PROBE_PATHS", []string{"/healthz", "/health", "/"}),
		EventBufferSize:  GetInt("EVENT_BUFFER_SIZE", 100),
		SubscriberBuffer: GetInt("SUBSCRIBER_BUFFER_SIZE", 64),

		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}

// Validate rejects configurations that cannot produce a working orchestrator.
func (c OrchestratorConfig) Validate() error {
	if c.ProviderURL == "" {
		return errors.New("provider URL is required")
	}
	if c.MaxConcurrentPerUser <= 0 || c.MaxConcurrentGlobal <= 0 {
		return errors.New("concurrency limits must be positive")
	}
	if c.MaxConcurrentPerUser > c.MaxConcurrentGlobal {
		return fmt.Errorf("per-user limit %d exceeds global limit %d", c.MaxConcurrentPerUser, c.MaxConcurrentGlobal)
	}
	if c.MaxRetries < 1 {
		return errors.New("max retries must be at least 1")
	}
	if c.FailureThreshold < 1 {
		return errors.New("health failure threshold must be at least 1")
	}
	if c.CleanupBatchSize < 1 {
		return errors.New("cleanup batch size must be at least 1")
	}
	for _, class := range []ClassTimeouts{c.Simple, c.Complex, c.Enterprise} {
		if class.Initial <= 0 || class.Maximum <= 0 {
			return errors.New("timeout profile durations must be positive")
		}
		if class.Maximum < class.Initial {
			return errors.New("timeout profile maximum below initial budget")
		}
	}
	return nil
}
