package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска сервиса.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// SeedDemoCatalog наполняет in-memory склад демонстрационными вариантами.
	SeedDemoCatalog bool
	// MemoryLockTimeout ограничивает ожидание блокировки строки в in-memory хранилище.
	MemoryLockTimeout time.Duration

	// RedisURL включает генератор номеров на Redis INCR. Без него номер считается по строкам в транзакции.
	RedisURL string

	KafkaBrokers  string
	KafkaClientID string
	OrderTopic    string
	DLQTopic      string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int
	OutboxMaxAge       time.Duration

	OrderMaxLines        int
	OrderMaxLineQuantity int32
	OrderNumberAttempts  int
	// CreditDefaultLimit задаёт доступный кредит компаний без явного лимита. Пустое значение отклоняет такие компании.
	CreditDefaultLimit string
}

// DefaultConfig возвращает конфигурацию для локального запуска.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:             ":50051",
		MetricsAddr:          ":9090",
		StorageDriver:        StorageDriverMemory,
		PostgresAutoMigrate:  true,
		SeedDemoCatalog:      true,
		MemoryLockTimeout:    5 * time.Second,
		KafkaClientID:        "ordercore",
		OutboxPollInterval:   time.Second,
		OutboxBatchSize:      100,
		OutboxMaxAttempts:    3,
		OutboxRetryDelay:     50 * time.Millisecond,
		OutboxMaxPending:     1000,
		OutboxMaxAge:         5 * time.Minute,
		OrderMaxLines:        50,
		OrderMaxLineQuantity: 100,
		OrderNumberAttempts:  3,
	}
}

// Validate проверяет согласованность настроек до запуска зависимостей.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if c.OrderMaxLines <= 0 {
		errs = append(errs, errors.New("order max lines must be > 0"))
	}
	if c.OrderMaxLineQuantity <= 0 {
		errs = append(errs, errors.New("order max line quantity must be > 0"))
	}
	if c.OrderNumberAttempts <= 0 {
		errs = append(errs, errors.New("order number attempts must be > 0"))
	}
	if _, err := c.creditDefaultLimit(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c Config) creditDefaultLimit() (*decimal.Decimal, error) {
	if c.CreditDefaultLimit == "" {
		return nil, nil
	}
	limit, err := decimal.NewFromString(c.CreditDefaultLimit)
	if err != nil {
		return nil, fmt.Errorf("parse credit default limit: %w", err)
	}
	if limit.IsNegative() {
		return nil, errors.New("credit default limit must be non-negative")
	}
	return &limit, nil
}
