package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName       string
	AppEnv        string
	AppPort       string
	AllowOrigins  string
	AccessLogging bool

	DatabaseDriver  string
	DatabaseURL     string
	SubmissionStore string

	RedisURL            string
	NATSURL             string
	NotificationChannel string

	AuthMode  string
	JWTSecret string

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	StorageDir             string
	StoragePublicBase      string
	UploadMaxSizeMB        int

	StatsCacheTTL time.Duration

	AIProvider          string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
	AIModel             string
	DemoAnalysisLatency time.Duration

	SSEKeepAlive    time.Duration
	RetryRateLimit  int
	RetryRateWindow time.Duration
	ShutdownTimeout time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// UsesMemoryStore reports whether submissions live only in process memory.
func (c Config) UsesMemoryStore() bool {
	return c.SubmissionStore == "memory"
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EDUGRADE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "EduGrade API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.allow_origins", "*")
	v.SetDefault("app.access_logging", true)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.url", "file:edugrade.db?cache=shared")
	v.SetDefault("submissions.store", "gorm")
	v.SetDefault("notifications.channel", "edugrade")
	v.SetDefault("auth.mode", "demo")
	v.SetDefault("cloudinary.folder", "edugrade/submissions")
	v.SetDefault("storage.local_dir", "./uploads")
	v.SetDefault("storage.public_base", "/files")
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("stats.cache_ttl", "1m")
	v.SetDefault("ai.provider", "demo")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.demo_latency", "2s")
	v.SetDefault("sse.keepalive", "15s")
	v.SetDefault("retry.rate_limit", 5)
	v.SetDefault("retry.rate_window", "1m")
	v.SetDefault("shutdown.timeout", "20s")

	durations := map[string]time.Duration{}
	for _, key := range []string{"stats.cache_ttl", "ai.demo_latency", "sse.keepalive", "retry.rate_window", "shutdown.timeout"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		AllowOrigins:           v.GetString("app.allow_origins"),
		AccessLogging:          v.GetBool("app.access_logging"),
		DatabaseDriver:         strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:            v.GetString("database.url"),
		SubmissionStore:        strings.ToLower(v.GetString("submissions.store")),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		NotificationChannel:    v.GetString("notifications.channel"),
		AuthMode:               strings.ToLower(v.GetString("auth.mode")),
		JWTSecret:              v.GetString("jwt.secret"),
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		StorageDir:             v.GetString("storage.local_dir"),
		StoragePublicBase:      strings.TrimRight(v.GetString("storage.public_base"), "/"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		StatsCacheTTL:          durations["stats.cache_ttl"],
		AIProvider:             strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:           v.GetString("ai.openai_api_key"),
		OpenAIBaseURL:          v.GetString("ai.openai_base_url"),
		AIModel:                v.GetString("ai.model"),
		DemoAnalysisLatency:    durations["ai.demo_latency"],
		SSEKeepAlive:           durations["sse.keepalive"],
		RetryRateLimit:         v.GetInt("retry.rate_limit"),
		RetryRateWindow:        durations["retry.rate_window"],
		ShutdownTimeout:        durations["shutdown.timeout"],
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}

	switch c.SubmissionStore {
	case "gorm", "memory":
	default:
		return fmt.Errorf("unsupported submission store %q", c.SubmissionStore)
	}

	switch c.AuthMode {
	case "demo":
	case "session":
		if c.JWTSecret == "" {
			return fmt.Errorf("jwt secret must be provided when auth mode is session")
		}
	default:
		return fmt.Errorf("unsupported auth mode %q", c.AuthMode)
	}

	switch c.AIProvider {
	case "demo":
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai api key must be provided when ai provider is openai")
		}
	default:
		return fmt.Errorf("unsupported ai provider %q", c.AIProvider)
	}

	if c.UploadMaxSizeMB <= 0 {
		return fmt.Errorf("upload max size must be positive")
	}

	return nil
}
