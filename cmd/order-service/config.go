package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/ordercore/internal/app"
)

const (
	envGRPCAddr            = "OMS_GRPC_ADDR"
	envMetricsAddr         = "OMS_METRICS_ADDR"
	envStorageDriver       = "OMS_STORAGE_DRIVER"
	envPostgresDSN         = "OMS_POSTGRES_DSN"
	envPostgresAutoMigrate = "OMS_POSTGRES_AUTO_MIGRATE"
	envSeedDemoCatalog     = "OMS_SEED_DEMO_CATALOG"
	envMemoryLockTimeout   = "OMS_MEMORY_LOCK_TIMEOUT"
	envRedisURL            = "OMS_REDIS_URL"
	envKafkaBrokers        = "OMS_KAFKA_BROKERS"
	envKafkaClientID       = "OMS_KAFKA_CLIENT_ID"
	envOrderTopic          = "OMS_KAFKA_ORDER_TOPIC"
	envDLQTopic            = "OMS_KAFKA_DLQ_TOPIC"
	envOutboxPollInterval  = "OMS_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize     = "OMS_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts   = "OMS_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay    = "OMS_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending    = "OMS_OUTBOX_MAX_PENDING"
	envOrderMaxLines       = "OMS_ORDER_MAX_LINES"
	envOrderMaxLineQty     = "OMS_ORDER_MAX_LINE_QTY"
	envOrderNumberAttempts = "OMS_ORDER_NUMBER_ATTEMPTS"
	envCreditDefaultLimit  = "OMS_CREDIT_DEFAULT_LIMIT"
	envLogLevel            = "OMS_LOG_LEVEL"
)

// envLookup совпадает по сигнатуре с os.LookupEnv, чтобы тесты подставляли map.
type envLookup func(key string) (string, bool)

// readConfig читает конфигурацию из окружения процесса.
func readConfig() (app.Config, []error) {
	return readConfigFromEnv(os.LookupEnv)
}

// readConfigFromEnv накладывает переменные окружения на DefaultConfig.
// Некорректное значение не прерывает запуск. Остаётся значение по умолчанию, а ошибка уходит в warnings.
func readConfigFromEnv(lookup envLookup) (app.Config, []error) {
	cfg := app.DefaultConfig()
	var warnings []error

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }

	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	setBool := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	setInt := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}
	setDuration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warnings = append(warnings, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = parsed
	}

	setString(envGRPCAddr, &cfg.GRPCAddr)
	setString(envMetricsAddr, &cfg.MetricsAddr)
	if v, ok := lookup(envStorageDriver); ok && strings.TrimSpace(v) != "" {
		cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v))
	}
	setString(envPostgresDSN, &cfg.PostgresDSN)
	setBool(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)
	setBool(envSeedDemoCatalog, &cfg.SeedDemoCatalog)
	setDuration(envMemoryLockTimeout, &cfg.MemoryLockTimeout, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	setString(envRedisURL, &cfg.RedisURL)

	setString(envKafkaBrokers, &cfg.KafkaBrokers)
	setString(envKafkaClientID, &cfg.KafkaClientID)
	setString(envOrderTopic, &cfg.OrderTopic)
	setString(envDLQTopic, &cfg.DLQTopic)

	setDuration(envOutboxPollInterval, &cfg.OutboxPollInterval, func(v time.Duration) bool { return v > 0 }, "must be > 0")
	setInt(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	setInt(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	setDuration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, func(v time.Duration) bool { return v >= 0 }, "must be >= 0")
	setInt(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	setInt(envOrderMaxLines, &cfg.OrderMaxLines, positive, "must be > 0")
	maxLineQty := int(cfg.OrderMaxLineQuantity)
	setInt(envOrderMaxLineQty, &maxLineQty, func(v int) bool { return v > 0 && v <= 1<<31-1 }, "must be in 1..2147483647")
	cfg.OrderMaxLineQuantity = int32(maxLineQty)
	setInt(envOrderNumberAttempts, &cfg.OrderNumberAttempts, positive, "must be > 0")
	setString(envCreditDefaultLimit, &cfg.CreditDefaultLimit)

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool value %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid int value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %d %s", value, rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q: %w", raw, err)
	}
	if !valid(value) {
		return 0, fmt.Errorf("value %s %s", value, rule)
	}
	return value, nil
}
