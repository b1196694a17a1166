package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/rl1809/order-fulfillment/internal/adapter/handler"
	"github.com/rl1809/order-fulfillment/internal/adapter/messaging"
	"github.com/rl1809/order-fulfillment/internal/adapter/storage"
	"github.com/rl1809/order-fulfillment/internal/app"
	"github.com/rl1809/order-fulfillment/internal/config"
	"github.com/rl1809/order-fulfillment/internal/logging"
	"github.com/rl1809/order-fulfillment/internal/metrics"
	"github.com/rl1809/order-fulfillment/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	healthInterval  = 5 * time.Second
)

func main() {
	cfg, err := config.Load(logging.New("info"))
	if err != nil {
		logging.New("info").Fatalf("load config: %v", err)
	}
	log := logging.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		log.Fatalf("setup tracing: %v", err)
	}

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping mysql: %v", err)
	}
	commands := storage.NewMySQLAdapter(db, log)
	if err := commands.Migrate(ctx); err != nil {
		log.Fatalf("failed to migrate schema: %v", err)
	}
	log.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	log.Info("connected to redis")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	application, err := app.New(cfg, app.Dependencies{
		Orders:      commands,
		Shipping:    commands,
		Repayments:  commands,
		Projections: storage.NewRedisProjectionStore(rdb, log),
		Inbox:       storage.NewRedisInbox(rdb, cfg.InboxTTL),
		Writers: messaging.NewKafkaWriterFactory(messaging.ProducerConfig{
			Brokers:         cfg.KafkaBrokers,
			TransactionalID: cfg.TransactionalID,
			MaxRetries:      cfg.ProducerMaxRetries,
			InitialBackoff:  cfg.ProducerInitialBackoff,
		}),
		Readers: messaging.NewKafkaReaderFactory(),
		Metrics: m,
		Log:     log,
	})
	if err != nil {
		log.Fatalf("failed to build application: %v", err)
	}
	if err := application.Start(ctx); err != nil {
		log.Fatalf("failed to start consumer: %v", err)
	}

	// consumerDone stays nil without a consumer so the select below only
	// waits for a signal.
	var (
		states       handler.StateSource
		consumerDone chan error
	)
	if application.Consumer != nil {
		states = application.Consumer
		consumerDone = make(chan error, 1)
		go func() { consumerDone <- application.Wait() }()
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	go handler.NewHealthReporter(healthServer, states, cfg.ServiceName, log).Run(ctx, healthInterval)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}
	go func() {
		log.WithField("addr", cfg.GRPCAddr).Info("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server error: %v", err)
		}
	}()

	// Initialize HTTP server
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(states, metrics.Handler(reg), log).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("HTTP server listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("HTTP server error: %v", err)
		}
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		log.Info("shutting down...")
	case err := <-consumerDone:
		if err != nil {
			log.WithField("error", err).Error("consumer stopped, shutting down")
			exitCode = 1
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("HTTP shutdown: %v", err)
	}
	log.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	log.Info("gRPC server stopped")

	if err := application.Close(); err != nil {
		log.Warnf("application close: %v", err)
	}
	log.Info("buses and transport stopped")

	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Warnf("tracing shutdown: %v", err)
	}
	closeConnections(log, rdb, db)
	os.Exit(exitCode)
}

func closeConnections(log *logrus.Logger, rdb *redis.Client, db *sql.DB) {
	if err := rdb.Close(); err != nil {
		log.Warnf("redis close: %v", err)
	}
	if err := db.Close(); err != nil {
		log.Warnf("mysql close: %v", err)
	}
	log.Info("connections closed")
}
