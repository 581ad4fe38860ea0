// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator wires and runs the chat service.
//
// This package contains the Service type that coordinates all components:
// HTTP routing, the session verifier, the quota ledger, the conversation
// store, the completion gateway, the in-flight guard and observability.
//
// # Extension Points
//
// New accepts extensions.ServiceOptions so embedding programs can supply
// their own implementations of:
//   - AuthProvider: session verification (JWT by default)
//   - AuditLogger: quota audit trail
//
// # Usage
//
//	cfg, err := orchestrator.LoadConfig()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := orchestrator.New(cfg, nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	log.Fatal(svc.Run(ctx))
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/AleutianAI/AleutianChat/pkg/extensions"
	"github.com/AleutianAI/AleutianChat/services/llm"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/conversation"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/database"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/dedupe"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/handlers"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/observability"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/quota"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/routes"
	"github.com/AleutianAI/AleutianChat/services/orchestrator/services"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// serviceName tags spans, the otelgin middleware and log records.
const serviceName = "chat-service"

// initTimeout bounds connecting to the database and Redis in New.
const initTimeout = 30 * time.Second

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the orchestrator service.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Run blocks and should
// only be called once per instance.
type Service interface {
	// Run serves HTTP until ctx is cancelled or the listener fails, then
	// shuts down gracefully and releases every resource.
	Run(ctx context.Context) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Fields
//
//   - config: Service configuration, defaults applied
//   - opts: Extension options, normalized
//   - router: Gin HTTP engine
//   - registry: Prometheus registry served on /metrics
//   - chat: The chat pipeline
//   - closers: Release backing connections, in reverse order of opening
//   - tracerCleanup: Flushes the span exporter
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New returns.
type service struct {
	config        Config
	opts          extensions.ServiceOptions
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.ChatMetrics
	chat          *services.ChatService
	readiness     map[string]handlers.ReadinessCheck
	closers       []func() error
	tracerCleanup func(context.Context)
}

// storage groups the two stores opened on one database.
type storage struct {
	ledger quota.Ledger
	store  conversation.Store
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a new orchestrator Service with the given configuration.
//
// # Description
//
// New initializes all components:
//  1. Applies default configuration and validates it
//  2. Resolves extension options (auth provider from config unless given)
//  3. Initializes OpenTelemetry tracing
//  4. Creates the Prometheus registry and chat metrics
//  5. Opens SQLite or Postgres and builds the ledger and store on it
//  6. Connects the Redis in-flight guard, or falls back to in-process
//  7. Creates the OpenAI-compatible client behind the completion gateway
//  8. Sets up HTTP routes
//
// If opts is nil, the auth provider comes from cfg.Auth and audit events go
// to the log when cfg.AuditLog is set.
//
// # Outputs
//
//   - Service: Ready-to-run orchestrator service
//   - error: Non-nil if configuration is invalid or a backend is unreachable.
//     Anything already opened is released.
func New(cfg Config, opts *extensions.ServiceOptions) (Service, error) {
	s := &service{
		config:    applyConfigDefaults(cfg),
		readiness: make(map[string]handlers.ReadinessCheck),
	}
	if err := s.config.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if opts != nil {
		s.opts = *opts
	}
	if err := s.initOptions(); err != nil {
		return nil, err
	}

	cleanup, err := s.initTracer()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewChatMetrics(s.registry)

	ctx, cancel := context.WithTimeout(context.Background(), initTimeout)
	defer cancel()

	st, err := s.initStorage(ctx)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	guard := s.initGuard(ctx)

	completer, err := s.initCompleter()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	s.chat, err = services.NewChatService(services.ChatDeps{
		Ledger:    st.ledger,
		Store:     st.store,
		Completer: completer,
		Guard:     guard,
		Audit:     s.opts.AuditLogger,
		Metrics:   s.metrics,
	}, services.ChatConfig{
		SystemPrompt: s.config.LLM.SystemPrompt,
		SignupPoints: s.config.SignupPoints,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize chat service: %w", err)
	}

	s.initRouter()

	slog.Info("orchestrator initialized",
		"port", s.config.Port,
		"storage", s.config.Storage.Driver,
		"auth", s.config.Auth.Mode,
		"redis", s.config.RedisURL != "",
		"signup_points", s.config.SignupPoints,
	)
	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and blocks until ctx is cancelled or the
// server fails. In-flight requests get ShutdownTimeout to finish.
func (s *service) Run(ctx context.Context) error {
	defer s.cleanup()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Starting orchestrator server", "port", s.config.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down orchestrator server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initOptions() error {
	if s.opts.AuthProvider == nil {
		switch s.config.Auth.Mode {
		case AuthModeJWT:
			provider, err := extensions.NewJWTAuthProvider(s.config.Auth.JWTSecret, s.config.Auth.JWTIssuer)
			if err != nil {
				return fmt.Errorf("failed to initialize JWT auth: %w", err)
			}
			s.opts.AuthProvider = provider
		case AuthModeNone:
			slog.Warn("authentication disabled: every caller is the local administrator")
		}
	}
	if s.opts.AuditLogger == nil && s.config.AuditLog {
		s.opts.AuditLogger = &extensions.SlogAuditLogger{Logger: slog.Default().With("component", "audit")}
	}
	s.opts = s.opts.Normalize()
	return nil
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// # Description
//
// OTelEndpoint selects the exporter: empty disables tracing (the global
// no-op provider stays in place), "stdout" pretty-prints spans, anything
// else is an OTLP gRPC collector address.
//
// # Outputs
//
//   - func(context.Context): Cleanup function to call on shutdown
//   - error: Non-nil if tracer setup fails
//
// # Limitations
//
//   - Uses insecure gRPC connection (appropriate for internal networks)
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	var exporter sdktrace.SpanExporter
	switch s.config.OTelEndpoint {
	case "":
		slog.Info("tracing disabled")
		return func(context.Context) {}, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
		exporter = exp
	default:
		conn, err := grpc.NewClient(s.config.OTelEndpoint,
			grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
		}
		exp, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		exporter = exp
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String(serviceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceProvider.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown tracer provider", "error", err)
		}
	}, nil
}

// initStorage opens the configured database and builds the ledger and the
// conversation store on it.
func (s *service) initStorage(ctx context.Context) (storage, error) {
	switch s.config.Storage.Driver {
	case DriverPostgres:
		pool, err := database.Connect(ctx, s.config.Storage.DSN)
		if err != nil {
			return storage{}, err
		}
		s.closers = append(s.closers, func() error { pool.Close(); return nil })
		if err := database.EnsurePostgresSchema(ctx, pool); err != nil {
			return storage{}, err
		}
		s.readiness["database"] = pool.Ping
		return storage{
			ledger: quota.NewPostgresLedger(pool),
			store:  conversation.NewPostgresStore(pool),
		}, nil

	default:
		db, err := database.OpenSQLite(ctx, s.config.Storage.DSN)
		if err != nil {
			return storage{}, err
		}
		s.closers = append(s.closers, db.Close)
		s.readiness["database"] = db.PingContext
		return storage{
			ledger: quota.NewSQLiteLedger(db),
			store:  conversation.NewSQLiteStore(db),
		}, nil
	}
}

// initGuard connects the Redis guard. Without a URL, or when Redis is
// unreachable at startup, the in-process guard is used instead.
func (s *service) initGuard(ctx context.Context) dedupe.Guard {
	if s.config.RedisURL == "" {
		return dedupe.NewMemoryGuard()
	}
	guard, err := dedupe.NewRedisGuard(ctx, s.config.RedisURL)
	if err != nil {
		slog.Warn("Redis unavailable, using in-process duplicate guard", "error", err)
		return dedupe.NewMemoryGuard()
	}
	s.closers = append(s.closers, guard.Close)
	s.readiness["redis"] = guard.Ping
	return guard
}

func (s *service) initCompleter() (*llm.Gateway, error) {
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:     s.config.LLM.APIKey,
		APIKeyFile: s.config.LLM.APIKeyFile,
		BaseURL:    s.config.LLM.BaseURL,
	})
	if err != nil {
		return nil, err
	}
	return llm.NewGateway(client, llm.GatewayConfig{
		Temperature: s.config.LLM.Temperature,
		Timeout:     s.config.LLM.Timeout,
		MaxRPS:      s.config.LLM.MaxRPS,
		Burst:       s.config.LLM.Burst,
	}, s.metrics), nil
}

// initRouter sets up the Gin HTTP router with all routes.
func (s *service) initRouter() {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	s.router = gin.Default()
	s.router.Use(otelgin.Middleware(serviceName))

	routes.SetupRoutes(s.router, routes.Deps{
		Chat:           s.chat,
		Metrics:        s.metrics,
		Gatherer:       s.registry,
		Options:        s.opts,
		Readiness:      s.readiness,
		AllowedOrigins: s.config.AllowedOrigins,
	})
}

// cleanup releases all resources held by the service.
func (s *service) cleanup() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			slog.Warn("close error", "error", err)
		}
	}
	s.closers = nil

	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
