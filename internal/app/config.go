package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver определяет бэкенд хранения заказов и каталога.
type StorageDriver string

const (
	StorageDriverMemory   StorageDriver = "memory"
	StorageDriverPostgres StorageDriver = "postgres"
)

// PaymentDriver определяет платёжный шлюз сервиса.
type PaymentDriver string

const (
	// PaymentDriverCardSim — карточный симулятор, подтверждает оплату синхронно.
	PaymentDriverCardSim PaymentDriver = "cardsim"
	// PaymentDriverPayPal — реальный PayPal Orders v2 API.
	PaymentDriverPayPal PaymentDriver = "paypal"
)

// Config описывает настройки запуска приложения. Все значения читаются из
// окружения с префиксом CRAFTSHOP_, незаполненные поля получают дефолты.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers string

	RedisAddr     string
	RedisPassword string
	DedupTTL      time.Duration

	PaymentDriver      PaymentDriver
	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string

	SweepInterval       time.Duration
	SweepOrderThreshold time.Duration
	SweepReservationTTL time.Duration
	SweepSecret         string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает конфигурацию по умолчанию: in-memory storage,
// карточный симулятор, без Kafka и Redis.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		MetricsAddr: ":9090",

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,

		DedupTTL: 24 * time.Hour,

		PaymentDriver: PaymentDriverCardSim,
		PayPalBaseURL: "https://api-m.sandbox.paypal.com",

		SweepInterval:       5 * time.Minute,
		SweepOrderThreshold: 30 * time.Minute,
		SweepReservationTTL: 5 * time.Minute,

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,

		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// LoadConfigFromEnv читает конфигурацию из переменных окружения поверх
// значений по умолчанию.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	cfg.HTTPAddr = envString("CRAFTSHOP_HTTP_ADDR", cfg.HTTPAddr)
	cfg.MetricsAddr = envString("CRAFTSHOP_METRICS_ADDR", cfg.MetricsAddr)

	cfg.StorageDriver = StorageDriver(envString("CRAFTSHOP_STORAGE_DRIVER", string(cfg.StorageDriver)))
	cfg.PostgresDSN = envString("CRAFTSHOP_POSTGRES_DSN", cfg.PostgresDSN)
	autoMigrate, err := envBool("CRAFTSHOP_POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	if err != nil {
		return Config{}, err
	}
	cfg.PostgresAutoMigrate = autoMigrate

	cfg.KafkaBrokers = envString("CRAFTSHOP_KAFKA_BROKERS", cfg.KafkaBrokers)

	cfg.RedisAddr = envString("CRAFTSHOP_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = envString("CRAFTSHOP_REDIS_PASSWORD", cfg.RedisPassword)
	if cfg.DedupTTL, err = envDuration("CRAFTSHOP_DEDUP_TTL", cfg.DedupTTL); err != nil {
		return Config{}, err
	}

	cfg.PaymentDriver = PaymentDriver(envString("CRAFTSHOP_PAYMENT_GATEWAY", string(cfg.PaymentDriver)))
	cfg.PayPalBaseURL = envString("CRAFTSHOP_PAYPAL_BASE_URL", cfg.PayPalBaseURL)
	cfg.PayPalClientID = envString("CRAFTSHOP_PAYPAL_CLIENT_ID", cfg.PayPalClientID)
	cfg.PayPalClientSecret = envString("CRAFTSHOP_PAYPAL_CLIENT_SECRET", cfg.PayPalClientSecret)

	if cfg.SweepInterval, err = envDuration("CRAFTSHOP_SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.SweepOrderThreshold, err = envDuration("CRAFTSHOP_SWEEP_ORDER_THRESHOLD", cfg.SweepOrderThreshold); err != nil {
		return Config{}, err
	}
	if cfg.SweepReservationTTL, err = envDuration("CRAFTSHOP_SWEEP_RESERVATION_TTL", cfg.SweepReservationTTL); err != nil {
		return Config{}, err
	}
	cfg.SweepSecret = envString("CRAFTSHOP_SWEEP_SECRET", cfg.SweepSecret)

	if cfg.OutboxPollInterval, err = envDuration("CRAFTSHOP_OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = envInt("CRAFTSHOP_OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize); err != nil {
		return Config{}, err
	}
	if cfg.OutboxMaxAttempts, err = envInt("CRAFTSHOP_OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRetryDelay, err = envDuration("CRAFTSHOP_OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay); err != nil {
		return Config{}, err
	}

	if cfg.IdempotencyCleanupInterval, err = envDuration("CRAFTSHOP_IDEMPOTENCY_CLEANUP_INTERVAL", cfg.IdempotencyCleanupInterval); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyCleanupBatchSize, err = envInt("CRAFTSHOP_IDEMPOTENCY_CLEANUP_BATCH_SIZE", cfg.IdempotencyCleanupBatchSize); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres storage driver requires CRAFTSHOP_POSTGRES_DSN")
		}
	default:
		return fmt.Errorf("unsupported storage driver: %s", c.StorageDriver)
	}

	switch c.PaymentDriver {
	case PaymentDriverCardSim:
	case PaymentDriverPayPal:
		if c.PayPalClientID == "" || c.PayPalClientSecret == "" {
			return fmt.Errorf("paypal gateway requires CRAFTSHOP_PAYPAL_CLIENT_ID and CRAFTSHOP_PAYPAL_CLIENT_SECRET")
		}
	default:
		return fmt.Errorf("unsupported payment gateway: %s", c.PaymentDriver)
	}

	return nil
}

func envString(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func envBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envInt(key string, fallback int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}
