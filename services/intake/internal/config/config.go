package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location, relative to the working
// directory.
var ConfigPath = "config.yaml"

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	LogsDir        string   `yaml:"logsDir"`
	AllowedOrigins []string `yaml:"allowedOrigins"`
	TrustedProxies []string `yaml:"trustedProxies"`

	DatabaseDriver string `yaml:"databaseDriver"`
	DatabaseURL    string `yaml:"databaseURL"`

	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	QueueName         string `yaml:"queueName"`
	QueueGroup        string `yaml:"queueGroup"`
	QueueConcurrency  int    `yaml:"queueConcurrency"`
	QueueMaxRetries   int    `yaml:"queueMaxRetries"`
	QueueRetryDelay   string `yaml:"queueRetryDelay"`
	ReconcileSchedule string `yaml:"reconcileSchedule"`
	StaleAfter        string `yaml:"staleAfter"`
	MaxAttempts       int    `yaml:"maxAttempts"`

	MinioEndpoint  string `yaml:"minioEndpoint"`
	MinioAccessKey string `yaml:"minioAccessKey"`
	MinioSecretKey string `yaml:"minioSecretKey"`
	MinioBucket    string `yaml:"minioBucket"`
	MinioUseSSL    bool   `yaml:"minioUseSSL"`

	LLMProvider    string  `yaml:"llmProvider"`
	LLMModel       string  `yaml:"llmModel"`
	LLMAPIKey      string  `yaml:"llmApiKey"`
	LLMBaseURL     string  `yaml:"llmBaseURL"`
	LLMTemperature float32 `yaml:"llmTemperature"`

	MaxFileSizeMB      int `yaml:"maxFileSizeMB"`
	MaxPages           int `yaml:"maxPages"`
	SynopsisMaxChars   int `yaml:"synopsisMaxChars"`
	ExcerptChars       int `yaml:"excerptChars"`
	CacheDurationHours int `yaml:"cacheDurationHours"`
	CacheMaxEntries    int `yaml:"cacheMaxEntries"`

	UploadRateLimitPerMinute int `yaml:"uploadRateLimitPerMinute"`
	SignupRateLimitPerMinute int `yaml:"signupRateLimitPerMinute"`
}

// Load reads config from path (defaults to config.yaml). Environment
// variables override file values.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	setString(&cfg.Port, "PORT")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogsDir, "LOGS_DIR")
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	setString(&cfg.DatabaseDriver, "DATABASE_DRIVER")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.RedisPassword, "REDIS_PASSWORD")
	setString(&cfg.MinioEndpoint, "MINIO_ENDPOINT")
	setString(&cfg.MinioAccessKey, "MINIO_ACCESS_KEY")
	setString(&cfg.MinioSecretKey, "MINIO_SECRET_KEY")
	setString(&cfg.MinioBucket, "MINIO_BUCKET")
	if v := os.Getenv("MINIO_USE_SSL"); v == "true" {
		cfg.MinioUseSSL = true
	}
	setString(&cfg.LLMProvider, "LLM_PROVIDER")
	setString(&cfg.LLMModel, "LLM_MODEL")
	setString(&cfg.LLMBaseURL, "LLM_BASE_URL")
	setString(&cfg.LLMAPIKey, "LLM_API_KEY")
	if cfg.LLMAPIKey == "" {
		setString(&cfg.LLMAPIKey, "OPENAI_API_KEY")
	}
	setInt(&cfg.MaxFileSizeMB, "MAX_FILE_SIZE_MB")
	setInt(&cfg.MaxPages, "MAX_PAGES")
	setInt(&cfg.CacheDurationHours, "CACHE_DURATION_HOURS")
	setInt(&cfg.SynopsisMaxChars, "SYNOPSIS_MAX_CHARS")
	setInt(&cfg.QueueConcurrency, "QUEUE_CONCURRENCY")
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DriverPostgres
	}
	cfg.DatabaseDriver = strings.ToLower(strings.TrimSpace(cfg.DatabaseDriver))
	if cfg.MaxFileSizeMB == 0 {
		cfg.MaxFileSizeMB = 10
	}
	if cfg.MaxPages == 0 {
		cfg.MaxPages = 10
	}
	if cfg.SynopsisMaxChars == 0 {
		cfg.SynopsisMaxChars = 1000
	}
	if cfg.ExcerptChars == 0 {
		cfg.ExcerptChars = 8000
	}
	if cfg.CacheDurationHours == 0 {
		cfg.CacheDurationHours = 24
	}
	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = 1000
	}
	if cfg.QueueConcurrency == 0 {
		cfg.QueueConcurrency = 4
	}
	if cfg.QueueMaxRetries == 0 {
		cfg.QueueMaxRetries = 3
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StaleAfter == "" {
		cfg.StaleAfter = "5m"
	}
	if cfg.ReconcileSchedule == "" {
		cfg.ReconcileSchedule = "@every 1m"
	}
	if cfg.UploadRateLimitPerMinute == 0 {
		cfg.UploadRateLimitPerMinute = 10
	}
	if cfg.SignupRateLimitPerMinute == 0 {
		cfg.SignupRateLimitPerMinute = 5
	}
}

func validateConfig(cfg FileConfig) error {
	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unsupported databaseDriver %q", cfg.DatabaseDriver)
	}
	if cfg.MaxFileSizeMB < 0 {
		return errors.New("config: maxFileSizeMB must be positive")
	}
	if cfg.MaxPages < 0 {
		return errors.New("config: maxPages must be positive")
	}
	if cfg.SynopsisMaxChars < 0 {
		return errors.New("config: synopsisMaxChars must be positive")
	}
	if cfg.CacheDurationHours < 0 || cfg.CacheMaxEntries < 0 {
		return errors.New("config: cache settings must be positive")
	}
	if cfg.MaxAttempts < 1 {
		return errors.New("config: maxAttempts must be at least 1")
	}
	if _, err := ParseDuration(cfg.StaleAfter, 0); err != nil {
		return fmt.Errorf("config: staleAfter: %w", err)
	}
	if _, err := ParseDuration(cfg.QueueRetryDelay, 0); err != nil {
		return fmt.Errorf("config: queueRetryDelay: %w", err)
	}
	if cfg.MinioEndpoint != "" && cfg.MinioBucket == "" {
		return errors.New("config: minioBucket is required when minioEndpoint is set")
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if (provider == "" || provider == "openai" || provider == "gemini") && cfg.LLMAPIKey == "" && cfg.LLMBaseURL == "" {
		return errors.New("config: llmApiKey is required (set in config.yaml, LLM_API_KEY or OPENAI_API_KEY)")
	}
	return nil
}

// ParseDuration parses a Go duration string, returning def when empty.
func ParseDuration(value string, def time.Duration) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("duration must not be negative: %s", value)
	}
	return d, nil
}

// MaxUploadBytes converts the configured megabyte limit to bytes.
func (c FileConfig) MaxUploadBytes() int64 {
	return int64(c.MaxFileSizeMB) << 20
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			*dst = n
		}
	}
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
