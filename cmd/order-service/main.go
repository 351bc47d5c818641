package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordercore/internal/app"
	"github.com/vladislavdragonenkov/ordercore/internal/version"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(logLevel(lookup))
}

// logLevel читает OMS_LOG_LEVEL, по умолчанию info.
func logLevel(lookup envLookup) log.Level {
	raw, ok := lookup(envLogLevel)
	if !ok {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(raw)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

func main() {
	setupLogger(os.LookupEnv)

	cfg, warnings := readConfig()
	for _, warning := range warnings {
		log.WithError(warning).Warn("некорректная переменная окружения, используется значение по умолчанию")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"version":        version.GetVersion(),
		"grpc_addr":      cfg.GRPCAddr,
		"metrics_addr":   cfg.MetricsAddr,
		"storage_driver": cfg.StorageDriver,
	}).Info("запускаем order core")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("order core остановлен")
}
