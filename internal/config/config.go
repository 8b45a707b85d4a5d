package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort           string
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	MaxRequestBodySize int64
	LogLevel           string

	DB             DBConfig
	RedisAddr      string
	RedisPassword  string
	MongoURI       string
	MongoDBName    string
	KafkaBrokers   []string
	OutboxTopic    string
	JWTSecret      string
	AllowedOrigins []string

	BaseCurrency     string
	FallbackCurrency string
	FxAPIURL         string
	FxCacheTTL       time.Duration

	DefaultPaymentProvider string
	ReferenceProvider      ProviderConfig
	CallbackProvider       ProviderConfig

	SMTP SMTPConfig

	ResumeWindow        time.Duration
	ResumeCandidates    int
	RedemptionTTL       time.Duration
	OrderAbandonAfter   time.Duration
	BeginRatePerMinute  int
	OutboxPollInterval  time.Duration
	RecoveryInterval    time.Duration
	ProviderCallTimeout time.Duration
}

type DBConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	MigrationsPath string
}

type ProviderConfig struct {
	PublicKey  string
	SecretKey  string
	BaseURL    string
	Currencies []string
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Load reads .env when present and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}
	smtpPort, err := strconv.Atoi(getEnv("SMTP_PORT", "587"))
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP_PORT: %w", err)
	}
	beginRate, err := strconv.Atoi(getEnv("BEGIN_RATE_PER_MINUTE", "20"))
	if err != nil {
		return nil, fmt.Errorf("invalid BEGIN_RATE_PER_MINUTE: %w", err)
	}

	cfg := &Config{
		HTTPPort:           getEnv("HTTP_PORT", "8080"),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    10 * time.Second,
		MaxRequestBodySize: 1 << 20, // 1MB
		LogLevel:           getEnv("LOG_LEVEL", "info"),

		DB: DBConfig{
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           dbPort,
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			Name:           getEnv("DB_NAME", "marketplace"),
			MigrationsPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
		RedisAddr:      getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		MongoURI:       getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:    getEnv("MONGO_DB_NAME", "checkout"),
		KafkaBrokers:   getList("KAFKA_BROKERS", []string{"localhost:9092"}),
		OutboxTopic:    getEnv("OUTBOX_TOPIC", "order-settled"),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		AllowedOrigins: getList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),

		BaseCurrency:     strings.ToUpper(getEnv("BASE_CURRENCY", "USD")),
		FallbackCurrency: strings.ToUpper(getEnv("FALLBACK_CURRENCY", "NGN")),
		FxAPIURL:         getEnv("FX_API_URL", "https://open.er-api.com/v6"),
		FxCacheTTL:       getDuration("FX_CACHE_TTL", time.Hour),

		DefaultPaymentProvider: getEnv("DEFAULT_PAYMENT_PROVIDER", "reference"),
		ReferenceProvider: ProviderConfig{
			PublicKey:  getEnv("REFERENCE_PROVIDER_PUBLIC_KEY", ""),
			SecretKey:  getEnv("REFERENCE_PROVIDER_SECRET_KEY", ""),
			BaseURL:    getEnv("REFERENCE_PROVIDER_BASE_URL", "https://api.paystack.co"),
			Currencies: upper(getList("REFERENCE_PROVIDER_CURRENCIES", nil)),
		},
		CallbackProvider: ProviderConfig{
			PublicKey:  getEnv("CALLBACK_PROVIDER_PUBLIC_KEY", ""),
			Currencies: upper(getList("CALLBACK_PROVIDER_CURRENCIES", nil)),
		},

		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     smtpPort,
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("MAIL_FROM", "orders@localhost"),
		},

		ResumeWindow:        15 * time.Minute,
		ResumeCandidates:    3,
		RedemptionTTL:       30 * time.Minute,
		OrderAbandonAfter:   getDuration("ORDER_ABANDON_AFTER", 24*time.Hour),
		BeginRatePerMinute:  beginRate,
		OutboxPollInterval:  time.Second,
		RecoveryInterval:    getDuration("RECOVERY_INTERVAL", time.Minute),
		ProviderCallTimeout: getDuration("PROVIDER_CALL_TIMEOUT", 10*time.Second),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

func getList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func upper(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToUpper(v)
	}
	return values
}
