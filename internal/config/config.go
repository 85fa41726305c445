package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BlobBackendMemory   = "memory"
	BlobBackendSupabase = "supabase"
	BlobBackendS3       = "s3"

	ProcessingInline   = "inline"
	ProcessingExternal = "external"
)

type Config struct {
	// Supabase
	SupabaseURL           string `yaml:"supabase_url"`
	SupabaseServiceKey    string `yaml:"supabase_service_key"`
	SupabaseJWTSecret     string `yaml:"supabase_jwt_secret"`
	SupabaseStorageBucket string `yaml:"supabase_storage_bucket"`
	RealtimeEvents        bool   `yaml:"realtime_events"`

	// S3 / MinIO
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3Region    string `yaml:"s3_region"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3AccessKey string `yaml:"s3_access_key"`
	S3SecretKey string `yaml:"s3_secret_key"`

	// Database
	DatabaseURL   string `yaml:"database_url"`
	RunMigrations bool   `yaml:"run_migrations"`

	// Storage and processing
	BlobBackend             string `yaml:"blob_backend"`
	ProcessingMode          string `yaml:"processing_mode"`
	ProcessingWebhookSecret string `yaml:"processing_webhook_secret"`
	MaxUploadMB             int64  `yaml:"max_upload_mb"`

	// Server
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	BaseURL     string `yaml:"base_url"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Load reads defaults, then the YAML file named by CONFIG_FILE if any, then
// environment variables, each layer overriding the previous one.
func Load() (*Config, error) {
	cfg := &Config{
		SupabaseStorageBucket: "project-assets",
		S3Region:              "us-east-1",
		BlobBackend:           BlobBackendMemory,
		ProcessingMode:        ProcessingInline,
		MaxUploadMB:           512,
		Port:                  "8080",
		Environment:           "development",
		BaseURL:               "http://localhost:8080",
		LogLevel:              "info",
		LogFormat:             "text",
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.SupabaseURL = getEnv("SUPABASE_URL", cfg.SupabaseURL)
	cfg.SupabaseServiceKey = getEnv("SUPABASE_SERVICE_KEY", cfg.SupabaseServiceKey)
	cfg.SupabaseJWTSecret = getEnv("SUPABASE_JWT_SECRET", cfg.SupabaseJWTSecret)
	cfg.SupabaseStorageBucket = getEnv("SUPABASE_STORAGE_BUCKET", cfg.SupabaseStorageBucket)
	cfg.RealtimeEvents = getEnvBool("REALTIME_EVENTS", cfg.RealtimeEvents)

	cfg.S3Endpoint = getEnv("S3_ENDPOINT", cfg.S3Endpoint)
	cfg.S3Region = getEnv("S3_REGION", cfg.S3Region)
	cfg.S3Bucket = getEnv("S3_BUCKET", cfg.S3Bucket)
	cfg.S3AccessKey = getEnv("S3_ACCESS_KEY", cfg.S3AccessKey)
	cfg.S3SecretKey = getEnv("S3_SECRET_KEY", cfg.S3SecretKey)

	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RunMigrations = getEnvBool("RUN_MIGRATIONS", cfg.RunMigrations)

	cfg.BlobBackend = getEnv("BLOB_BACKEND", cfg.BlobBackend)
	cfg.ProcessingMode = getEnv("PROCESSING_MODE", cfg.ProcessingMode)
	cfg.ProcessingWebhookSecret = getEnv("PROCESSING_WEBHOOK_SECRET", cfg.ProcessingWebhookSecret)
	cfg.MaxUploadMB = getEnvInt("MAX_UPLOAD_MB", cfg.MaxUploadMB)

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.BaseURL = getEnv("BASE_URL", cfg.BaseURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	switch c.BlobBackend {
	case BlobBackendMemory:
	case BlobBackendSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for the supabase blob backend")
		}
	case BlobBackendS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 blob backend")
		}
	default:
		return fmt.Errorf("unknown BLOB_BACKEND %q", c.BlobBackend)
	}
	switch c.ProcessingMode {
	case ProcessingInline:
	case ProcessingExternal:
		if c.ProcessingWebhookSecret == "" {
			return fmt.Errorf("PROCESSING_WEBHOOK_SECRET is required for external processing")
		}
	default:
		return fmt.Errorf("unknown PROCESSING_MODE %q", c.ProcessingMode)
	}
	if c.RealtimeEvents && (c.SupabaseURL == "" || c.SupabaseServiceKey == "") {
		return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for realtime events")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// MaxUploadBytes is the request body limit for uploads and resumes.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ClientConfig configures the assetctl client.
type ClientConfig struct {
	APIURL          string        `yaml:"api_url"`
	Token           string        `yaml:"token"`
	Timeout         time.Duration `yaml:"timeout"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxPollAttempts int           `yaml:"max_poll_attempts"`
	GraceInterval   time.Duration `yaml:"grace_interval"`
	LogLevel        string        `yaml:"log_level"`
}

// LoadClient reads the client configuration the same way Load does, using
// STUDIO_CONFIG for the file.
func LoadClient() (*ClientConfig, error) {
	cfg := &ClientConfig{
		APIURL:          "http://localhost:8080/api/v1",
		Timeout:         30 * time.Second,
		PollInterval:    2 * time.Second,
		MaxPollAttempts: 90,
		GraceInterval:   5 * time.Second,
		LogLevel:        "warn",
	}

	if path := os.Getenv("STUDIO_CONFIG"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.APIURL = getEnv("STUDIO_API_URL", cfg.APIURL)
	cfg.Token = getEnv("STUDIO_TOKEN", cfg.Token)
	cfg.Timeout = getEnvDuration("STUDIO_TIMEOUT", cfg.Timeout)
	cfg.PollInterval = getEnvDuration("STUDIO_POLL_INTERVAL", cfg.PollInterval)
	cfg.MaxPollAttempts = int(getEnvInt("STUDIO_MAX_POLL_ATTEMPTS", int64(cfg.MaxPollAttempts)))
	cfg.GraceInterval = getEnvDuration("STUDIO_GRACE_INTERVAL", cfg.GraceInterval)
	cfg.LogLevel = getEnv("STUDIO_LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

func (c *ClientConfig) Validate() error {
	if c.APIURL == "" {
		return fmt.Errorf("STUDIO_API_URL is required")
	}
	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("max poll attempts must be positive")
	}
	if c.PollInterval < 0 || c.GraceInterval < 0 || c.Timeout < 0 {
		return fmt.Errorf("intervals must not be negative")
	}
	return nil
}

func loadFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int64) int64 {
	if v, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}
