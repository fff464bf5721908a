package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the complaint ledger service.
type Config struct {
	Environment  string             `yaml:"environment"`
	Debug        bool               `yaml:"debug"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	ContentStore ContentStoreConfig `yaml:"content_store"`
	Kafka        KafkaConfig        `yaml:"kafka"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	Ledger       LedgerConfig       `yaml:"ledger"`
}

// ServerConfig contains HTTP and gRPC server settings.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port"`
	GRPCPort        int           `yaml:"grpc_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	ConnectionString   string        `yaml:"connection_string"`
	MaxOpenConnections int           `yaml:"max_open_connections"`
	MaxIdleConnections int           `yaml:"max_idle_connections"`
	ConnectionLifetime time.Duration `yaml:"connection_lifetime"`
	ConnectionTimeout  time.Duration `yaml:"connection_timeout"`
	QueryTimeout       time.Duration `yaml:"query_timeout"`
	MigrationPath      string        `yaml:"migration_path"`
	EnableQueryLogging bool          `yaml:"enable_query_logging"`
	SlowQueryThreshold time.Duration `yaml:"slow_query_threshold"`
}

// ContentStoreConfig selects and configures the content-addressed blob store.
type ContentStoreConfig struct {
	Provider       string        `yaml:"provider"` // memory, local, s3
	LocalPath      string        `yaml:"local_path"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxBlobSize    int64         `yaml:"max_blob_size"`
	S3             S3Config      `yaml:"s3"`
}

// S3Config contains the S3-compatible object store settings.
type S3Config struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// KafkaConfig contains the event publisher settings. Publishing is optional;
// an empty broker list disables it.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Enabled reports whether event publishing is configured.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// RedisConfig contains the verification cache settings. An empty address
// disables caching.
type RedisConfig struct {
	Address      string        `yaml:"address"`
	Password     string        `yaml:"password"`
	Database     int           `yaml:"database"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// Enabled reports whether the cache is configured.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// AuthConfig contains JWT verification settings for the auth collaborator
// boundary.
type AuthConfig struct {
	JWTSecret      string `yaml:"jwt_secret"`
	AllowDevHeader bool   `yaml:"allow_dev_header"`
}

// LedgerConfig contains lifecycle policy knobs.
type LedgerConfig struct {
	RequiredEvidence int    `yaml:"required_evidence"`
	AppendRetryLimit int    `yaml:"append_retry_limit"`
	StorageBackend   string `yaml:"storage_backend"` // postgres, memory
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Debug:       getBoolEnv("DEBUG", false),

		Server: ServerConfig{
			HTTPPort:        getIntEnv("HTTP_PORT", 8080),
			GRPCPort:        getIntEnv("GRPC_PORT", 9090),
			ReadTimeout:     getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getDurationEnv("IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
			MaxHeaderBytes:  getIntEnv("MAX_HEADER_BYTES", 1048576),
		},

		Database: DatabaseConfig{
			ConnectionString:   getEnv("DATABASE_URL", "postgres://localhost:5432/blocksentinel?sslmode=disable"),
			MaxOpenConnections: getIntEnv("DB_MAX_OPEN_CONNECTIONS", 25),
			MaxIdleConnections: getIntEnv("DB_MAX_IDLE_CONNECTIONS", 5),
			ConnectionLifetime: getDurationEnv("DB_CONNECTION_LIFETIME", 1*time.Hour),
			ConnectionTimeout:  getDurationEnv("DB_CONNECTION_TIMEOUT", 30*time.Second),
			QueryTimeout:       getDurationEnv("DB_QUERY_TIMEOUT", 30*time.Second),
			MigrationPath:      getEnv("DB_MIGRATION_PATH", "file://migrations"),
			EnableQueryLogging: getBoolEnv("DB_ENABLE_QUERY_LOGGING", false),
			SlowQueryThreshold: getDurationEnv("DB_SLOW_QUERY_THRESHOLD", 1*time.Second),
		},

		ContentStore: ContentStoreConfig{
			Provider:       getEnv("CONTENT_STORE_PROVIDER", "local"),
			LocalPath:      getEnv("CONTENT_STORE_LOCAL_PATH", "./storage/blobs"),
			RequestTimeout: getDurationEnv("CONTENT_STORE_REQUEST_TIMEOUT", 10*time.Second),
			MaxBlobSize:    getInt64Env("CONTENT_STORE_MAX_BLOB_SIZE", 50*1024*1024),
		},

		Kafka: KafkaConfig{
			Brokers:      getStringSliceEnv("KAFKA_BROKERS", nil),
			Topic:        getEnv("KAFKA_TOPIC_CHAIN_EVENTS", "complaint-chain-events"),
			BatchSize:    getIntEnv("KAFKA_BATCH_SIZE", 100),
			BatchTimeout: getDurationEnv("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
			WriteTimeout: getDurationEnv("KAFKA_WRITE_TIMEOUT", 10*time.Second),
		},

		Redis: RedisConfig{
			Address:      getEnv("REDIS_ADDRESS", ""),
			Password:     getEnv("REDIS_PASSWORD", ""),
			Database:     getIntEnv("REDIS_DATABASE", 0),
			DialTimeout:  getDurationEnv("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDurationEnv("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDurationEnv("REDIS_WRITE_TIMEOUT", 3*time.Second),
			CacheTTL:     getDurationEnv("REDIS_CACHE_TTL", 15*time.Second),
		},

		Auth: AuthConfig{
			JWTSecret:      getEnv("JWT_SECRET", "change-me-in-production"),
			AllowDevHeader: getBoolEnv("AUTH_ALLOW_DEV_HEADER", true),
		},

		Ledger: LedgerConfig{
			RequiredEvidence: getIntEnv("LEDGER_REQUIRED_EVIDENCE", 1),
			AppendRetryLimit: getIntEnv("LEDGER_APPEND_RETRY_LIMIT", 3),
			StorageBackend:   getEnv("LEDGER_STORAGE_BACKEND", "postgres"),
		},
	}

	if cfg.ContentStore.Provider == "s3" {
		cfg.ContentStore.S3 = S3Config{
			Endpoint:  getEnv("S3_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("S3_ACCESS_KEY", ""),
			SecretKey: getEnv("S3_SECRET_KEY", ""),
			Bucket:    getEnv("S3_BUCKET", "blocksentinel-evidence"),
			UseSSL:    getBoolEnv("S3_USE_SSL", true),
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		return fmt.Errorf("invalid gRPC port: %d", c.Server.GRPCPort)
	}

	switch c.Ledger.StorageBackend {
	case "postgres":
		if c.Database.ConnectionString == "" {
			return fmt.Errorf("database connection string is required")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Ledger.StorageBackend)
	}

	switch c.ContentStore.Provider {
	case "memory":
	case "local":
		if c.ContentStore.LocalPath == "" {
			return fmt.Errorf("local content store path is required")
		}
	case "s3":
		if c.ContentStore.S3.Bucket == "" {
			return fmt.Errorf("S3 bucket is required when using the s3 content store")
		}
	default:
		return fmt.Errorf("unknown content store provider: %s", c.ContentStore.Provider)
	}

	if c.Ledger.RequiredEvidence < 1 {
		return fmt.Errorf("required evidence count must be at least 1")
	}
	if c.Ledger.AppendRetryLimit < 1 {
		return fmt.Errorf("append retry limit must be at least 1")
	}

	if c.Auth.JWTSecret == "change-me-in-production" && c.Environment == "production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}
	if c.Auth.AllowDevHeader && c.Environment == "production" {
		return fmt.Errorf("dev header authentication must be disabled in production")
	}

	return nil
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt64Env(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
