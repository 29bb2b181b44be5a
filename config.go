package queryspec

import "time"

// Config consolidates the ambient settings a Service needs to compile and
// execute searches: connection behavior, pagination/batching limits,
// logging, and metrics. Concerns that have no analogue in this module
// (entity versioning, cascade rules, transaction retry policy) are left to
// the concrete QueryRunner implementation rather than carried here.
type Config struct {
	Database DatabaseConfig `json:"database"`
	Query    QueryConfig    `json:"query"`
	Logging  LoggingConfig  `json:"logging"`
	Metrics  MetricsConfig  `json:"metrics"`
}

// DatabaseConfig contains connection-pool settings for the concrete backend.
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Database        string        `json:"database"`
	Username        string        `json:"username"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"sslMode"`
	MaxConnections  int           `json:"maxConnections"`
	MaxIdleConns    int           `json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `json:"connMaxIdleTime"`
	Timeout         time.Duration `json:"timeout"`
}

// QueryConfig governs pagination, batching, and per-phase timeout defaults
// for the two-phase executor (C7).
type QueryConfig struct {
	DefaultTimeout time.Duration `json:"defaultTimeout"`
	DefaultPageSize int          `json:"defaultPageSize"`
	MaxPageSize     int          `json:"maxPageSize"`
	// MaxInClauseBatch bounds how many primary keys are placed in a single
	// IN(...) clause during Phase 2 materialization; larger result pages are
	// split into multiple LoadEntities calls and re-assembled in key order.
	MaxInClauseBatch int `json:"maxInClauseBatch"`
	// CircuitBreakerThreshold/Window/OpenDuration configure the breaker
	// wrapping each QueryRunner phase call (see internal.CircuitBreaker).
	CircuitBreakerThreshold    int           `json:"circuitBreakerThreshold"`
	CircuitBreakerWindow       time.Duration `json:"circuitBreakerWindow"`
	CircuitBreakerOpenDuration time.Duration `json:"circuitBreakerOpenDuration"`
}

// LoggingConfig controls the structured logger used by the executor and
// service facade.
type LoggingConfig struct {
	Level              string `json:"level"`
	EnableQueryLogging bool   `json:"enableQueryLogging"`
	SanitizeParameters bool   `json:"sanitizeParameters"`
}

// MetricsConfig controls optional metrics emission.
type MetricsConfig struct {
	Enabled    bool   `json:"enabled"`
	Namespace  string `json:"namespace"`
	Provider   string `json:"provider"`
}

// DefaultConfig returns sane defaults matching spec.md's stated defaults
// (page size 20, max page size 200, MAX_IN_CLAUSE 500).
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			MaxConnections:  25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			Timeout:         30 * time.Second,
		},
		Query: QueryConfig{
			DefaultTimeout:             10 * time.Second,
			DefaultPageSize:            20,
			MaxPageSize:                200,
			MaxInClauseBatch:           500,
			CircuitBreakerThreshold:    5,
			CircuitBreakerWindow:       30 * time.Second,
			CircuitBreakerOpenDuration: 15 * time.Second,
		},
		Logging: LoggingConfig{
			Level:              "info",
			EnableQueryLogging: true,
			SanitizeParameters: true,
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "queryspec",
			Provider:  "none",
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database.MaxConnections <= 0 {
		return &ConfigError{Field: "database.maxConnections", Message: "must be greater than 0"}
	}
	if c.Query.DefaultPageSize <= 0 {
		return &ConfigError{Field: "query.defaultPageSize", Message: "must be greater than 0"}
	}
	if c.Query.MaxPageSize < c.Query.DefaultPageSize {
		return &ConfigError{Field: "query.maxPageSize", Message: "must be greater than or equal to defaultPageSize"}
	}
	if c.Query.MaxInClauseBatch <= 0 {
		return &ConfigError{Field: "query.maxInClauseBatch", Message: "must be greater than 0"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ConfigError) Error() string {
	return "config validation error for field '" + e.Field + "': " + e.Message
}
