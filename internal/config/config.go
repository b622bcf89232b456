package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port                 string        `yaml:"port"`
	DatabaseURL          string        `yaml:"databaseURL"`
	OpenAIAPIKey         string        `yaml:"openaiAPIKey"`
	EmbeddingModel       string        `yaml:"embeddingModel"`
	EmbeddingDimensions  int           `yaml:"embeddingDimensions"`
	GenerationProvider   string        `yaml:"generationProvider"`
	GenerationModel      string        `yaml:"generationModel"`
	BriefModel           string        `yaml:"briefModel"`
	GeminiAPIKey         string        `yaml:"geminiAPIKey"`
	GoogleClientID       string        `yaml:"googleClientID"`
	GoogleClientSecret   string        `yaml:"googleClientSecret"`
	JWTSecret            string        `yaml:"jwtSecret"`
	RedisAddr            string        `yaml:"redisAddr"`
	RedisPassword        string        `yaml:"redisPassword"`
	LogLevel             string        `yaml:"logLevel"`
	LogFormat            string        `yaml:"logFormat"`
	Environment          string        `yaml:"environment"`
	IndexBatchSize       int           `yaml:"indexBatchSize"`
	DriveFileLimit       int           `yaml:"driveFileLimit"`
	EmbeddingBatchSize   int           `yaml:"embeddingBatchSize"`
	ChunkPreset          string        `yaml:"chunkPreset"`
	ExternalCallTimeout  time.Duration `yaml:"externalCallTimeout"`
	CalendarSyncInterval time.Duration `yaml:"calendarSyncInterval"`
	IndexLockTTL         time.Duration `yaml:"indexLockTTL"`
	TrustProxyHeaders    bool          `yaml:"trustProxyHeaders"`
}

// Defaults returns the configuration used when neither the YAML file nor the
// environment set a value.
func Defaults() *Config {
	return &Config{
		Port:                "8080",
		DatabaseURL:         "postgres://localhost/docbrief?sslmode=disable",
		EmbeddingModel:      "text-embedding-3-small",
		EmbeddingDimensions: 1536,
		GenerationProvider:  "openai",
		GenerationModel:     "gpt-4o-mini",
		BriefModel:          "gpt-4o",
		LogLevel:            "INFO",
		LogFormat:           "text",
		Environment:         "development",
		IndexBatchSize:      5,
		DriveFileLimit:      50,
		EmbeddingBatchSize:  20,
		ChunkPreset:         "balanced",
		ExternalCallTimeout: 30 * time.Second,
		IndexLockTTL:        5 * time.Minute,
	}
}

// Load builds the configuration from defaults, an optional YAML file named by
// CONFIG_FILE, and finally the environment (a .env file is loaded first when present).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := Defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyProviderDefaults()
	return cfg, nil
}

const (
	defaultGeminiModel      = "gemini-1.5-flash"
	defaultGeminiBriefModel = "gemini-1.5-pro"
)

// applyProviderDefaults swaps the OpenAI model defaults for Gemini ones when
// the Gemini provider is selected and no model was set explicitly.
func (c *Config) applyProviderDefaults() {
	if strings.ToLower(c.GenerationProvider) != "gemini" {
		return
	}
	d := Defaults()
	if c.GenerationModel == d.GenerationModel {
		c.GenerationModel = defaultGeminiModel
	}
	if c.BriefModel == d.BriefModel {
		c.BriefModel = defaultGeminiBriefModel
	}
}

func (c *Config) applyEnv() {
	c.Port = getEnvOrDefault("PORT", c.Port)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.OpenAIAPIKey = getEnvOrDefault("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.EmbeddingModel = getEnvOrDefault("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingDimensions = getEnvAsInt("EMBEDDING_DIMENSIONS", c.EmbeddingDimensions)
	c.GenerationProvider = getEnvOrDefault("GENERATION_PROVIDER", c.GenerationProvider)
	c.GenerationModel = getEnvOrDefault("GENERATION_MODEL", c.GenerationModel)
	c.BriefModel = getEnvOrDefault("BRIEF_MODEL", c.BriefModel)
	c.GeminiAPIKey = getEnvOrDefault("GEMINI_API_KEY", c.GeminiAPIKey)
	c.GoogleClientID = getEnvOrDefault("GOOGLE_CLIENT_ID", c.GoogleClientID)
	c.GoogleClientSecret = getEnvOrDefault("GOOGLE_CLIENT_SECRET", c.GoogleClientSecret)
	c.JWTSecret = getEnvOrDefault("JWT_SECRET", c.JWTSecret)
	c.RedisAddr = getEnvOrDefault("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", c.RedisPassword)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.Environment = getEnvOrDefault("ENVIRONMENT", c.Environment)
	c.IndexBatchSize = getEnvAsInt("INDEX_BATCH_SIZE", c.IndexBatchSize)
	c.DriveFileLimit = getEnvAsInt("DRIVE_FILE_LIMIT", c.DriveFileLimit)
	c.EmbeddingBatchSize = getEnvAsInt("EMBEDDING_BATCH_SIZE", c.EmbeddingBatchSize)
	c.ChunkPreset = getEnvOrDefault("CHUNK_PRESET", c.ChunkPreset)
	c.ExternalCallTimeout = getEnvAsDuration("EXTERNAL_CALL_TIMEOUT", c.ExternalCallTimeout)
	c.CalendarSyncInterval = getEnvAsDuration("CALENDAR_SYNC_INTERVAL", c.CalendarSyncInterval)
	c.IndexLockTTL = getEnvAsDuration("INDEX_LOCK_TTL", c.IndexLockTTL)
	c.TrustProxyHeaders = getEnvAsBool("TRUST_PROXY_HEADERS", c.TrustProxyHeaders)
}

func (c *Config) Validate() error {
	var errs []string

	if c.OpenAIAPIKey == "" {
		errs = append(errs, "OPENAI_API_KEY is required")
	}

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	}

	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		errs = append(errs, "GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET are required for token refresh")
	}

	switch strings.ToLower(c.GenerationProvider) {
	case "openai":
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, "GEMINI_API_KEY is required when GENERATION_PROVIDER=gemini")
		}
	default:
		errs = append(errs, "GENERATION_PROVIDER must be one of: openai, gemini")
	}

	if c.EmbeddingDimensions <= 0 {
		errs = append(errs, "EMBEDDING_DIMENSIONS must be positive")
	}

	if c.IndexBatchSize <= 0 || c.DriveFileLimit <= 0 || c.EmbeddingBatchSize <= 0 {
		errs = append(errs, "INDEX_BATCH_SIZE, DRIVE_FILE_LIMIT and EMBEDDING_BATCH_SIZE must be positive")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		errs = append(errs, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}

	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errs = append(errs, "LOG_FORMAT must be one of: text, json")
	}

	if len(errs) > 0 {
		return errors.New(errs[0])
	}

	return nil
}

func (c *Config) IsProduction() bool {
	return strings.ToLower(c.Environment) == "production"
}

func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return value
	}
	return defaultValue
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
