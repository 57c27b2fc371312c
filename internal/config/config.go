package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Environment   string
	LogLevel      string
	AWS           AWSConfig
	API           APIConfig
	Uploads       UploadConfig
	Uploader      UploaderConfig
	Worker        WorkerConfig
	Observability ObservabilityConfig
	CORS          CORSConfig
}

// AWSConfig holds AWS-specific configuration.
type AWSConfig struct {
	Region        string
	Bucket        string
	DynamoDBTable string
	SQSQueueURL   string
	CDNDomain     string
}

// APIConfig holds API server configuration.
type APIConfig struct {
	Port      string
	Username  string
	Password  string
	JWTSecret string
	TokenTTL  time.Duration
}

// UploadConfig holds per-kind upload size limits in bytes.
type UploadConfig struct {
	MaxVideoBytes     int64
	MaxThumbnailBytes int64
	MaxNotesBytes     int64
}

// UploaderConfig holds configuration for the bulk upload CLI.
type UploaderConfig struct {
	APIURL   string
	Username string
	Password string
	Timeout  time.Duration
}

// WorkerConfig holds configuration for the catalog event worker.
type WorkerConfig struct {
	MaxConcurrent int
	MetricsPort   string
}

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTLPEndpoint string
	Enabled      bool
}

// CORSConfig holds CORS configuration.
type CORSConfig struct {
	AllowedOrigins []string
}

// Default values
const (
	DefaultPort              = "8080"
	DefaultRegion            = "ap-south-1"
	DefaultOTLPEndpoint      = "localhost:4317"
	DefaultTokenTTL          = 7 * 24 * time.Hour
	DefaultMaxVideoBytes     = 2 << 30   // 2 GiB
	DefaultMaxThumbnailBytes = 5 << 20   // 5 MiB
	DefaultMaxNotesBytes     = 100 << 20 // 100 MiB
	DefaultAPIURL            = "http://localhost:8080"
	DefaultUploadTimeout     = 2 * time.Hour
	DefaultWorkerConcurrency = 4
	DefaultMetricsPort       = "2112"
	MinProductionSecretLen   = 32
)

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnv("ENV", "dev"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		AWS: AWSConfig{
			Region:        getEnv("AWS_REGION", DefaultRegion),
			Bucket:        os.Getenv("S3_BUCKET"),
			DynamoDBTable: os.Getenv("DYNAMODB_TABLE"),
			SQSQueueURL:   os.Getenv("SQS_QUEUE_URL"),
			CDNDomain:     os.Getenv("CDN_DOMAIN"),
		},
		API: APIConfig{
			Port:      getEnv("PORT", DefaultPort),
			Username:  os.Getenv("API_USERNAME"),
			Password:  os.Getenv("API_PASSWORD"),
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  getEnvDuration("TOKEN_TTL", DefaultTokenTTL),
		},
		Uploads: UploadConfig{
			MaxVideoBytes:     getEnvInt64("MAX_VIDEO_UPLOAD_BYTES", DefaultMaxVideoBytes),
			MaxThumbnailBytes: getEnvInt64("MAX_THUMBNAIL_BYTES", DefaultMaxThumbnailBytes),
			MaxNotesBytes:     getEnvInt64("MAX_NOTES_UPLOAD_BYTES", DefaultMaxNotesBytes),
		},
		Uploader: UploaderConfig{
			APIURL:   strings.TrimRight(getEnv("LMS_API_URL", DefaultAPIURL), "/"),
			Username: os.Getenv("LMS_USERNAME"),
			Password: os.Getenv("LMS_PASSWORD"),
			Timeout:  getEnvDuration("UPLOAD_TIMEOUT", DefaultUploadTimeout),
		},
		Worker: WorkerConfig{
			MaxConcurrent: int(getEnvInt64("MAX_CONCURRENT_EVENTS", DefaultWorkerConcurrency)),
			MetricsPort:   getEnv("METRICS_PORT", DefaultMetricsPort),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
			Enabled:      getEnvBool("OTEL_ENABLED", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:5173",
			}),
		},
	}

	return cfg, nil
}

// LoadAPI loads configuration required for the API service.
func LoadAPI() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateAPI(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadUploader loads configuration required for the upload CLI.
func LoadUploader() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateUploader(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadWorker loads configuration required for the event worker.
func LoadWorker() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	if err := cfg.ValidateWorker(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ValidateAPI validates configuration required for the API service.
func (c *Config) ValidateAPI() error {
	var errs []string

	if c.AWS.Bucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.AWS.DynamoDBTable == "" {
		errs = append(errs, "DYNAMODB_TABLE is required")
	}
	if c.API.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}

	// In production, require explicit credentials
	if c.IsProduction() {
		if c.API.Username == "" {
			errs = append(errs, "API_USERNAME is required in production")
		}
		if c.API.Password == "" {
			errs = append(errs, "API_PASSWORD is required in production")
		}
		if len(c.API.JWTSecret) < MinProductionSecretLen {
			errs = append(errs, "JWT_SECRET must be at least 32 characters in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateUploader validates configuration required for the upload CLI.
func (c *Config) ValidateUploader() error {
	var errs []string

	if c.Uploader.APIURL == "" {
		errs = append(errs, "LMS_API_URL is required")
	}
	if c.Uploader.Username == "" {
		errs = append(errs, "LMS_USERNAME is required")
	}
	if c.Uploader.Password == "" {
		errs = append(errs, "LMS_PASSWORD is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateWorker validates configuration required for the event worker.
func (c *Config) ValidateWorker() error {
	var errs []string

	if c.AWS.SQSQueueURL == "" {
		errs = append(errs, "SQS_QUEUE_URL is required")
	}
	if c.AWS.Bucket == "" {
		errs = append(errs, "S3_BUCKET is required")
	}
	if c.AWS.DynamoDBTable == "" {
		errs = append(errs, "DYNAMODB_TABLE is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	env := strings.ToLower(c.Environment)
	return env == "prod" || env == "production"
}

// BootstrapAdmin returns the credentials of the admin created at startup.
// ok is false when none are configured.
func (c *Config) BootstrapAdmin() (username, password string, ok bool) {
	if c.API.Username == "" || c.API.Password == "" {
		return "", "", false
	}
	return strings.ToLower(c.API.Username), c.API.Password, true
}

// GetJWTSecret returns the JWT signing secret.
func (c *Config) GetJWTSecret() ([]byte, error) {
	secret := c.API.JWTSecret

	if secret == "" {
		return nil, errors.New("JWT_SECRET is required (set it even for development)")
	}

	if len(secret) < MinProductionSecretLen && c.IsProduction() {
		return nil, errors.New("JWT_SECRET must be at least 32 characters")
	}

	return []byte(secret), nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
