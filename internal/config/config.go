package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Postgres     PostgresConfig
	JWT          JWTConfig
	RateLimit    RateLimitConfig
	R2           R2Config
	Zitadel      ZitadelConfig
	Separator    SeparatorConfig
	Instrumental InstrumentalConfig
	Mixer        MixerConfig
	Pipeline     PipelineConfig
	Gateway      GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	DSN string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	ProjectPerMin   int
	SeparatePerHour int
	GeneratePerHour int
	FinalizePerHour int
	UploadPerHour   int
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

// SeparatorConfig configures the vocal-separation provider.
type SeparatorConfig struct {
	APIKey  string
	BaseURL string
}

// InstrumentalConfig configures the instrumental/intro/outro generation provider.
type InstrumentalConfig struct {
	APIKey  string
	BaseURL string
}

// MixerConfig configures the mix/master provider.
type MixerConfig struct {
	APIKey  string
	BaseURL string
}

// PipelineConfig holds the shared polling parameters applied to all provider jobs.
type PipelineConfig struct {
	PollIntervalSec  int
	PollMaxAttempts  int
	TransientRetries int
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_DSN")
	readSecret("SEPARATOR_API_KEY")
	readSecret("INSTRUMENTAL_API_KEY")
	readSecret("MIXER_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("postgres.dsn", "POSTGRES_DSN")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("separator.api_key", "SEPARATOR_API_KEY")
	_ = viper.BindEnv("separator.base_url", "SEPARATOR_BASE_URL")
	_ = viper.BindEnv("instrumental.api_key", "INSTRUMENTAL_API_KEY")
	_ = viper.BindEnv("instrumental.base_url", "INSTRUMENTAL_BASE_URL")
	_ = viper.BindEnv("mixer.api_key", "MIXER_API_KEY")
	_ = viper.BindEnv("mixer.base_url", "MIXER_BASE_URL")
	_ = viper.BindEnv("pipeline.poll_interval_sec", "PIPELINE_POLL_INTERVAL_SEC")
	_ = viper.BindEnv("pipeline.poll_max_attempts", "PIPELINE_POLL_MAX_ATTEMPTS")
	_ = viper.BindEnv("pipeline.transient_retries", "PIPELINE_TRANSIENT_RETRIES")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("postgres.dsn", "")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.project_per_min", 60)
	viper.SetDefault("ratelimit.separate_per_hour", 10)
	viper.SetDefault("ratelimit.generate_per_hour", 10)
	viper.SetDefault("ratelimit.finalize_per_hour", 10)
	viper.SetDefault("ratelimit.upload_per_hour", 100)

	// Provider defaults
	viper.SetDefault("separator.base_url", "https://api.kits.audio")
	viper.SetDefault("instrumental.base_url", "https://api.sunoapi.org")
	viper.SetDefault("mixer.base_url", "https://tonn.roexaudio.com")

	// Polling defaults: 5s cadence, 120 attempts, ~10 minute ceiling
	viper.SetDefault("pipeline.poll_interval_sec", 5)
	viper.SetDefault("pipeline.poll_max_attempts", 120)
	viper.SetDefault("pipeline.transient_retries", 3)

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		Postgres: PostgresConfig{
			DSN: viper.GetString("postgres.dsn"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			ProjectPerMin:   viper.GetInt("ratelimit.project_per_min"),
			SeparatePerHour: viper.GetInt("ratelimit.separate_per_hour"),
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			FinalizePerHour: viper.GetInt("ratelimit.finalize_per_hour"),
			UploadPerHour:   viper.GetInt("ratelimit.upload_per_hour"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Separator: SeparatorConfig{
			APIKey:  viper.GetString("separator.api_key"),
			BaseURL: viper.GetString("separator.base_url"),
		},
		Instrumental: InstrumentalConfig{
			APIKey:  viper.GetString("instrumental.api_key"),
			BaseURL: viper.GetString("instrumental.base_url"),
		},
		Mixer: MixerConfig{
			APIKey:  viper.GetString("mixer.api_key"),
			BaseURL: viper.GetString("mixer.base_url"),
		},
		Pipeline: PipelineConfig{
			PollIntervalSec:  viper.GetInt("pipeline.poll_interval_sec"),
			PollMaxAttempts:  viper.GetInt("pipeline.poll_max_attempts"),
			TransientRetries: viper.GetInt("pipeline.transient_retries"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
