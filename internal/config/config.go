// Package config loads service settings from the environment.
package config

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/nsridhar76/go-checkoutsvc/internal/settlement"
)

// MaxNotifyAttempts caps the confirmation email retry budget.
// NOTIFY_MAX_ATTEMPTS may lower it but never raise it.
const MaxNotifyAttempts = 5

type Config struct {
	Env  string
	Port string

	DatabaseURL string
	RedisURL    string

	KafkaBrokers         []string
	KafkaTopic           string
	KafkaDeadLetterTopic string
	KafkaGroupPrefix     string

	StripeSecretKey     string
	StripeWebhookSecret string

	ResendAPIKey      string
	MailFrom          string
	MailSubject       string
	MailRatePerSecond float64

	AdminJWTSecret string

	SettlementCurrency string
	HomeCountry        string
	Fees               settlement.FeeSchedule

	NotifyMaxAttempts  int
	PersistMaxAttempts int
	RetryBackoff       time.Duration
	ShutdownTimeout    time.Duration
}

// LoadConfig reads the .env file, if any, and then the environment.
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Warn("No .env file found, relying on System Env Variables")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() *Config {
	defaults := settlement.DefaultFeeSchedule()

	return &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "8080"),

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		KafkaBrokers:         getEnvList("KAFKA_BROKERS"),
		KafkaTopic:           getEnv("KAFKA_TOPIC", "orders"),
		KafkaDeadLetterTopic: getEnv("KAFKA_DEAD_LETTER_TOPIC", "orders.dead-letter"),
		KafkaGroupPrefix:     getEnv("KAFKA_GROUP_PREFIX", "checkoutsvc."),

		StripeSecretKey:     getEnv("STRIPE_SECRET_KEY", ""),
		StripeWebhookSecret: getEnv("STRIPE_WEBHOOK_SECRET", ""),

		ResendAPIKey:      getEnv("RESEND_API_KEY", ""),
		MailFrom:          getEnv("MAIL_FROM", "Garage Comics <hola@garagecomics.mx>"),
		MailSubject:       getEnv("MAIL_SUBJECT", "Thank you for your order!"),
		MailRatePerSecond: getEnvFloat("MAIL_RATE_PER_SECOND", 2),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		SettlementCurrency: strings.ToLower(getEnv("SETTLEMENT_CURRENCY", "mxn")),
		HomeCountry:        strings.ToUpper(getEnv("HOME_COUNTRY", "MX")),
		Fees: settlement.FeeSchedule{
			CardPercent:          getEnvDecimal("FEE_CARD_PERCENT", defaults.CardPercent),
			OxxoPercent:          getEnvDecimal("FEE_OXXO_PERCENT", defaults.OxxoPercent),
			InternationalPercent: getEnvDecimal("FEE_INTERNATIONAL_PERCENT", defaults.InternationalPercent),
			ConversionPercent:    getEnvDecimal("FEE_CONVERSION_PERCENT", defaults.ConversionPercent),
			FixedMinor:           int64(getEnvIntBetween("FEE_FIXED_MINOR", int(defaults.FixedMinor), 0, math.MaxInt32)),
		},

		NotifyMaxAttempts:  getEnvIntBetween("NOTIFY_MAX_ATTEMPTS", MaxNotifyAttempts, 1, MaxNotifyAttempts),
		PersistMaxAttempts: getEnvIntBetween("PERSIST_MAX_ATTEMPTS", 10, 1, math.MaxInt32),
		RetryBackoff:       getEnvDuration("RETRY_BACKOFF", time.Second),
		ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// UseKafka reports whether the order channel runs on Kafka rather than in
// process.
func (c *Config) UseKafka() bool {
	return len(c.KafkaBrokers) > 0
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("Invalid integer in environment, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

// getEnvIntBetween is getEnvInt restricted to [lo, hi]. Values outside the
// range fall back.
func getEnvIntBetween(key string, fallback, lo, hi int) int {
	v := getEnvInt(key, fallback)
	if v < lo || v > hi {
		slog.Warn("Integer in environment out of range, using default", "key", key, "value", v, "min", lo, "max", hi)
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		slog.Warn("Invalid number in environment, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		slog.Warn("Invalid duration in environment, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || v.IsNegative() {
		slog.Warn("Invalid percentage in environment, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
