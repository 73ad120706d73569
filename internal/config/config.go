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
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Stripe    StripeConfig
	Fees      FeesConfig
	Gateway   GatewayConfig
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
	URL string
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	EscrowWritePerMin int
	EscrowReadPerMin  int
	DisputePerHour    int
}

type StripeConfig struct {
	APIKey        string
	BaseURL       string
	WebhookSecret string
	Timeout       int // seconds
}

type FeesConfig struct {
	PlatformRate  float64
	ProcessorRate float64
	ProcessorFlat float64
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("POSTGRES_URL")
	readSecret("JWT_SECRET")
	readSecret("STRIPE_API_KEY")
	readSecret("STRIPE_WEBHOOK_SECRET")

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
	_ = viper.BindEnv("postgres.url", "POSTGRES_URL")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("stripe.api_key", "STRIPE_API_KEY")
	_ = viper.BindEnv("stripe.base_url", "STRIPE_BASE_URL")
	_ = viper.BindEnv("stripe.webhook_secret", "STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("stripe.timeout", "STRIPE_TIMEOUT")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("postgres.url", "")
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.escrow_write_per_min", 60)
	viper.SetDefault("ratelimit.escrow_read_per_min", 300)
	viper.SetDefault("ratelimit.dispute_per_hour", 10)

	// Stripe defaults
	viper.SetDefault("stripe.base_url", "https://api.stripe.com")
	viper.SetDefault("stripe.timeout", 30)

	// Fee defaults: 8% platform, 2.9% + 0.30 processor
	viper.SetDefault("fees.platform_rate", 0.08)
	viper.SetDefault("fees.processor_rate", 0.029)
	viper.SetDefault("fees.processor_flat", 0.30)

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
			URL: viper.GetString("postgres.url"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			EscrowWritePerMin: viper.GetInt("ratelimit.escrow_write_per_min"),
			EscrowReadPerMin:  viper.GetInt("ratelimit.escrow_read_per_min"),
			DisputePerHour:    viper.GetInt("ratelimit.dispute_per_hour"),
		},
		Stripe: StripeConfig{
			APIKey:        viper.GetString("stripe.api_key"),
			BaseURL:       viper.GetString("stripe.base_url"),
			WebhookSecret: viper.GetString("stripe.webhook_secret"),
			Timeout:       viper.GetInt("stripe.timeout"),
		},
		Fees: FeesConfig{
			PlatformRate:  viper.GetFloat64("fees.platform_rate"),
			ProcessorRate: viper.GetFloat64("fees.processor_rate"),
			ProcessorFlat: viper.GetFloat64("fees.processor_flat"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
