// Package app собирает ядро заказов с инфраструктурой и запускает служебные серверы.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/ordercore/internal/health"
	"github.com/vladislavdragonenkov/ordercore/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/ordercore/internal/metrics"
	"github.com/vladislavdragonenkov/ordercore/internal/service/outbox"
	"github.com/vladislavdragonenkov/ordercore/internal/storage/memory"
	"github.com/vladislavdragonenkov/ordercore/internal/version"
)

const (
	shutdownTimeout    = 5 * time.Second
	healthSyncInterval = 5 * time.Second
)

// App собирает инфраструктуру и ядро заказов в один сервис.
type App struct {
	cfg      Config
	logger   *log.Entry
	deps     *runtimeDependencies
	Services *Services
}

// New проверяет конфигурацию, открывает хранилище и собирает сервисы ядра.
func New(ctx context.Context, cfg Config) (*App, error) {
	logger := log.WithField("component", "app")
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	services, err := newServices(deps, cfg, metrics.NewOrderMetrics(), logger)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	return &App{cfg: cfg, logger: logger, deps: deps, Services: services}, nil
}

// MemoryStore возвращает in-memory хранилище или nil для других драйверов.
func (a *App) MemoryStore() *memory.Store {
	return a.deps.memoryStore
}

// Close освобождает подключения к хранилищу и Redis.
func (a *App) Close() error {
	return a.deps.Close()
}

// Run поднимает сервис и блокируется до отмены ctx или ошибки gRPC.
func Run(ctx context.Context, cfg Config) error {
	a, err := New(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close dependencies")
		}
	}()
	return a.Serve(ctx)
}

// Serve запускает outbox worker и служебные серверы: gRPC health и HTTP /metrics.
func (a *App) Serve(ctx context.Context) error {
	logger := a.logger

	// ошибка Kafka не фатальна: события остаются в outbox до следующего запуска
	kafkaProducer, _ := initKafkaProducer(a.cfg, logger)
	defer closeKafkaProducer(kafkaProducer, logger)

	stopOutbox, outboxDone := startOutboxWorker(ctx, a.deps, kafkaProducer, a.cfg, logger)
	defer shutdownOutboxWorker(stopOutbox, outboxDone, logger)

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	for name, checker := range a.deps.checkers {
		healthHandler.RegisterChecker(name, checker)
	}

	grpcServer, healthServer := newOpsGRPCServer(logger)
	go syncGRPCHealth(ctx, healthServer, healthHandler, healthSyncInterval)

	metricsSrv := startMetricsServer(ctx, a.cfg.MetricsAddr, logger, healthHandler)
	defer shutdownHTTP(metricsSrv, logger)

	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("gRPC сервер слушает %s", lis.Addr())
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(shutdownTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newOpsGRPCServer создаёт служебный gRPC сервер: health, reflection и метрики интерсепторов.
func newOpsGRPCServer(logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// reflection нужен grpcurl
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

// syncGRPCHealth переносит результат readiness-проверок в статус gRPC health.
func syncGRPCHealth(ctx context.Context, healthServer *health.Server, handler *healthcheck.Handler, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status := healthpb.HealthCheckResponse_SERVING
		if handler.Run(ctx).Status == healthcheck.StatusUnhealthy {
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
		if ctx.Err() != nil {
			return
		}
		healthServer.SetServingStatus("", status)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// startOutboxWorker запускает публикацию outbox, если есть producer.
func startOutboxWorker(
	ctx context.Context,
	deps *runtimeDependencies,
	producer *kafka.Producer,
	cfg Config,
	logger *log.Entry,
) (context.CancelFunc, <-chan struct{}) {
	if producer == nil {
		logger.Info("kafka is not configured, outbox events stay pending")
		return nil, nil
	}

	orderTopic := cfg.OrderTopic
	if orderTopic == "" {
		orderTopic = kafka.TopicOrderEvents
	}
	dlqTopic := cfg.DLQTopic
	if dlqTopic == "" {
		dlqTopic = kafka.TopicDeadLetterQueue
	}

	worker := outbox.NewWorker(
		deps.outboxRepo,
		kafka.NewOutboxPublisher(producer, orderTopic),
		outbox.WithDLQPublisher(kafka.NewOutboxPublisher(producer, dlqTopic)),
		outbox.WithMetrics(metrics.NewOutboxMetrics()),
		outbox.WithLogger(logger.WithField("component", "outbox-worker")),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
		outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
	)

	workerCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(workerCtx)
	}()

	logger.WithFields(log.Fields{"topic": orderTopic, "dlq_topic": dlqTopic}).Info("outbox worker started")
	return cancel, done
}

// shutdownOutboxWorker останавливает воркер и ждёт завершения текущего батча.
func shutdownOutboxWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel == nil {
		return
	}
	cancel()
	if done == nil {
		return
	}
	select {
	case <-done:
		logger.Info("outbox worker stopped")
	case <-time.After(shutdownTimeout):
		logger.Warn("outbox worker did not stop in time")
	}
}

// startMetricsServer запускает HTTP-обработчики /metrics и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
