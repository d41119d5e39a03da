package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from environment variables
// (and an optional config.yaml).
type Config struct {
	Env       string
	Mode      string
	Port      string
	LogLevel  string
	LogFormat string

	DatabaseURL string
	RedisURL    string
	SeedDevData bool

	SessionSecret     string
	SessionTTL        time.Duration
	SessionCookieName string
	EncryptionKey     string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleCallbackURL  string

	AllowedOrigins []string

	StorageDriver       string
	S3Bucket            string
	S3Region            string
	S3Endpoint          string
	S3PublicBaseURL     string
	S3AccessKeyID       string
	S3SecretAccessKey   string
	MaxUploadBytes      int64
	InlineFallbackBytes int64

	VideoTransport      string
	VideoRendererURL    string
	VideoRendererSecret string
	TemplateDir         string

	AssistantAPIURL string
	AssistantAPIKey string
	AssistantModel  string

	EMRClientID    string
	EMRAuthURL     string
	EMRTokenURL    string
	EMRRedirectURL string
	EMRFHIRBase    string
	EMRScopes      []string

	RateLimitPerMinute  int
	MaintenanceSchedule string
	OrphanGrace         time.Duration
}

const devSessionSecret = "dev-secret-change-in-production-use-openssl-rand-hex-32"

// Load reads configuration from environment variables and config.yaml.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{
		Env:       v.GetString("env"),
		Mode:      strings.ToLower(v.GetString("mode")),
		Port:      v.GetString("port"),
		LogLevel:  v.GetString("log_level"),
		LogFormat: v.GetString("log_format"),

		DatabaseURL: v.GetString("database_url"),
		RedisURL:    v.GetString("redis_url"),
		SeedDevData: v.GetBool("seed_dev_data"),

		SessionSecret:     v.GetString("session_secret"),
		SessionTTL:        v.GetDuration("session_ttl"),
		SessionCookieName: v.GetString("session_cookie_name"),
		EncryptionKey:     v.GetString("encryption_key"),

		GoogleClientID:     v.GetString("google_client_id"),
		GoogleClientSecret: v.GetString("google_client_secret"),
		GoogleCallbackURL:  v.GetString("google_callback_url"),

		AllowedOrigins: splitList(v.GetString("allowed_origins")),

		StorageDriver:       strings.ToLower(v.GetString("storage_driver")),
		S3Bucket:            v.GetString("s3_bucket"),
		S3Region:            v.GetString("s3_region"),
		S3Endpoint:          v.GetString("s3_endpoint"),
		S3PublicBaseURL:     v.GetString("s3_public_base_url"),
		S3AccessKeyID:       v.GetString("s3_access_key_id"),
		S3SecretAccessKey:   v.GetString("s3_secret_access_key"),
		MaxUploadBytes:      v.GetInt64("max_upload_bytes"),
		InlineFallbackBytes: v.GetInt64("inline_fallback_bytes"),

		VideoTransport:      strings.ToLower(v.GetString("video_transport")),
		VideoRendererURL:    v.GetString("video_renderer_url"),
		VideoRendererSecret: v.GetString("video_renderer_secret"),
		TemplateDir:         v.GetString("template_dir"),

		AssistantAPIURL: v.GetString("assistant_api_url"),
		AssistantAPIKey: v.GetString("assistant_api_key"),
		AssistantModel:  v.GetString("assistant_model"),

		EMRClientID:    v.GetString("emr_client_id"),
		EMRAuthURL:     v.GetString("emr_auth_url"),
		EMRTokenURL:    v.GetString("emr_token_url"),
		EMRRedirectURL: v.GetString("emr_redirect_url"),
		EMRFHIRBase:    v.GetString("emr_fhir_base"),
		EMRScopes:      strings.Fields(v.GetString("emr_scopes")),

		RateLimitPerMinute:  v.GetInt("rate_limit_per_minute"),
		MaintenanceSchedule: v.GetString("maintenance_schedule"),
		OrphanGrace:         v.GetDuration("orphan_grace"),
	}

	if !v.IsSet("seed_dev_data") {
		cfg.SeedDevData = !cfg.IsProduction()
	}

	// Warn if using default session secret (insecure for production)
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = devSessionSecret
		slog.Warn("Using default SESSION_SECRET. Generate a secure secret with: openssl rand -hex 32")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")
	v.SetDefault("mode", "embedded")
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")

	v.SetDefault("redis_url", "redis://localhost:6379/0")

	v.SetDefault("session_ttl", 24*time.Hour)
	v.SetDefault("session_cookie_name", "amma_session")

	v.SetDefault("allowed_origins", "http://localhost:5173")

	v.SetDefault("storage_driver", "memory")
	v.SetDefault("s3_bucket", "patient-files")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("max_upload_bytes", 10*1024*1024)
	v.SetDefault("inline_fallback_bytes", 5*1024*1024)

	v.SetDefault("video_transport", "stub")

	v.SetDefault("assistant_api_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("assistant_model", "gpt-4o-mini")

	v.SetDefault("emr_auth_url", "https://api.plasma.health/oauth2/authorize")
	v.SetDefault("emr_token_url", "https://api.plasma.health/oauth2/token")
	v.SetDefault("emr_fhir_base", "https://api.plasma.health/fhir/r4")
	v.SetDefault("emr_scopes", "patient/*.read launch/patient openid fhirUser")

	v.SetDefault("rate_limit_per_minute", 10)
	v.SetDefault("maintenance_schedule", "@hourly")
	v.SetDefault("orphan_grace", time.Hour)
}

// Validate checks settings that must be present outside development.
func (c *Config) Validate() error {
	switch c.Mode {
	case "server", "worker", "embedded":
	default:
		return fmt.Errorf("invalid MODE %q (want server, worker or embedded)", c.Mode)
	}

	switch c.StorageDriver {
	case "memory", "s3":
	default:
		return fmt.Errorf("invalid STORAGE_DRIVER %q (want memory or s3)", c.StorageDriver)
	}

	switch c.VideoTransport {
	case "stub", "webhook", "stream":
	default:
		return fmt.Errorf("invalid VIDEO_TRANSPORT %q (want stub, webhook or stream)", c.VideoTransport)
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if !c.IsProduction() {
		return nil
	}

	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.SessionSecret == devSessionSecret {
		missing = append(missing, "SESSION_SECRET")
	}
	if c.GoogleClientID == "" {
		missing = append(missing, "GOOGLE_CLIENT_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required production settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
