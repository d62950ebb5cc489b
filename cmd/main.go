package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	errors2 "chat-relay/errors"
	grpc2 "chat-relay/grpc"
	"chat-relay/internal"
	"chat-relay/observability"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/server"
	"chat-relay/sink"
	"chat-relay/transport/ws"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/time/rate"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Relay terminated with error: %v\n", err)
	}
	os.Exit(code)
}

// run initializes all components, manages the server lifecycle, and centralizes error reporting.
// Deferred cleanups (store, broker) run before the process exits.
func run() (int, error) {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	if err := config.Validate(); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Message store
	repository, closeStore, err := openStore(ctx, log, config)
	if err != nil {
		return exitRuntime, err
	}
	defer closeStore()

	// 3. Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	// 4. Optional roster mirror
	var publishers []contract.RosterPublisher
	if config.RabbitMQURL != "" {
		publisher, err := sink.NewAMQPRosterPublisher(log, config.RabbitMQURL, config.PresenceExchange)
		if err != nil {
			return exitRuntime, err
		}
		defer func() { _ = publisher.Close() }()
		publishers = append(publishers, publisher)
	}

	// 5. Orchestration
	supervisor := workers.NewSupervisor(log, config.RestartInterval)
	orchestrator := runtime.NewOrchestrator(log, supervisor, repository, metrics, runtime.OrchestratorConfig{
		Session: runtime.SessionConfig{
			OutboundBuffer: config.ConnectionBufferSize,
			InboundBuffer:  config.InboundBufferSize,
			PingPeriod:     config.PingPeriod,
			InboundRate:    rate.Limit(config.InboundRate),
			InboundBurst:   config.InboundBurst,
		},
		DurableSendTimeout: config.DurableSendTimeout,
		StoreTimeout:       config.StoreTimeout,
		NotifyInterval:     config.NotifyInitial,
		NotifyMaxElapsed:   config.NotifyMaxElapsed,
		PublishTimeout:     config.PublishTimeout,
		SampleInterval:     config.MetricInterval,
		SaturationRatio:    config.SaturationRatio,
	}, publishers...)
	if err = orchestrator.Start(ctx); err != nil {
		return exitRuntime, fmt.Errorf("orchestrator failed to start: %w", err)
	}

	// 6. HTTP & WebSocket
	handler := server.NewHandler(log, orchestrator, newAuthenticator(config), config.Origins(), ws.Options{
		WriteWait:      config.WriteWait,
		PongWait:       config.PongWait,
		MaxMessageSize: config.MaxMessageSize,
	})
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           server.NewRouter(handler, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 7. gRPC health
	grpcAddress := fmt.Sprintf("%s:%d", config.Host, config.GRPCPort)
	listener, err := net.Listen("tcp", grpcAddress)
	if err != nil {
		return exitRuntime, fmt.Errorf("failed to listen on %s: %w", grpcAddress, err)
	}
	healthServer := grpc2.NewHealthServer(log)

	errChan := make(chan error, 2)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()
	go func() {
		if err := healthServer.Serve(listener); err != nil {
			errChan <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()

	// 8. Wait for Stop or Error
	code := exitOK
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err = <-errChan:
		log.Error("Server failed", "error", err)
		code = exitRuntime
	}

	// 9. Final Cleanup
	healthServer.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	// Hijacked WebSocket connections are not tracked by Shutdown; the orchestrator closes them.
	if shutdownErr := httpServer.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("HTTP shutdown incomplete", "error", shutdownErr)
	}
	orchestrator.Stop()
	log.Info("Program stopped cleanly")

	return code, err
}

func openStore(ctx context.Context, log *slog.Logger, config internal.Config) (contract.MessageStatusRepository, func(), error) {
	switch config.StoreDriver {
	case internal.StorePostgres:
		pool, err := repositories.OpenPostgres(ctx, config.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres opening failed: %w", err)
		}
		return repositories.NewPostgresMessageStatusRepository(pool, log), func() {
			log.Info("Closing PostgreSQL pool...")
			pool.Close()
		}, nil
	case internal.StoreBadger:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		return repositories.NewBadgerMessageStatusRepository(db, log), func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}, nil
	default:
		return nil, nil, fmt.Errorf("%q: %w", config.StoreDriver, errors2.ErrUnsupportedStorage)
	}
}

func newAuthenticator(config internal.Config) contract.Authenticator {
	if config.AuthMode == internal.AuthToken {
		return auth.NewTokenAuthenticator(config.JWTSecret)
	}
	return auth.NewQueryAuthenticator()
}
