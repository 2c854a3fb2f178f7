// Copyright (C) 2025 Nyuchi Technologies (support@mukoko.com)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package weatherapi provides the mukoko weather API service.
//
// This package owns the service lifecycle: configuration, dependency
// construction (store, providers, LLM client, circuit breakers, prompt
// library, domain services), HTTP routing, and observability wiring.
//
// # Usage
//
//	cfg := weatherapi.Config{MongoURI: os.Getenv("MONGODB_URI")}
//	svc, err := weatherapi.New(context.Background(), cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
//
// The only hard dependency is the document store; a missing weather
// provider key degrades to the free tier, and a missing LLM key
// degrades every AI feature to its deterministic fallback.
package weatherapi

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nyuchitech/mukoko-weather/pkg/logging"
	"github.com/nyuchitech/mukoko-weather/services/llm"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/breaker"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/middleware"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/observability"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/prompts"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/providers"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/routes"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/services"
	"github.com/nyuchitech/mukoko-weather/services/weatherapi/store"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the weather API lifecycle contract.
//
// Implementations must be safe for concurrent use after construction.
// Run blocks and should be called at most once per instance.
type Service interface {
	// Run starts the HTTP server and blocks until it stops.
	Run() error

	// Router returns the configured gin engine for integration tests.
	// Callers must not modify it.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the service configuration. MongoURI is the only
// required field; everything else has a default or degrades.
type Config struct {
	// Port is the HTTP server port. Default: 8080.
	Port int

	// MongoURI is the MongoDB connection string. Required.
	MongoURI string

	// MongoDatabase is the database name. Default: "mukoko-weather".
	MongoDatabase string

	// APIPrefix roots every endpoint. Default: "/api".
	APIPrefix string

	// LLMBackend selects the model provider: "anthropic" (default) or
	// "openai".
	LLMBackend string

	// AnthropicAPIKey and OpenAIAPIKey are the model credentials. When
	// the selected backend has no key in config, the environment, or
	// the stored credentials, AI features run in fallback mode.
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// OTelEndpoint is the OTLP/gRPC collector address. Empty disables
	// tracing.
	OTelEndpoint string

	// Influx configures the optional history mirror.
	Influx store.InfluxConfig

	// GinMode sets the gin framework mode ("debug", "release", "test").
	// Empty defers to the GIN_MODE environment variable.
	GinMode string

	// EnableMetrics registers the Prometheus collectors and the
	// /metrics endpoint. Default: true.
	EnableMetrics bool
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "mukoko-weather"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	if cfg.LLMBackend == "" {
		cfg.LLMBackend = "anthropic"
	}
	cfg.EnableMetrics = true
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
type service struct {
	config Config
	logger *logging.Logger
	router *gin.Engine

	store     *store.Store
	mirror    *store.HistoryMirror
	breakers  *breaker.Registry
	llmClient llm.MessagesClient

	tracerCleanup func(context.Context)
}

// New creates a ready-to-run weather API service.
//
// # Description
//
// Initialization order:
//  1. Apply configuration defaults.
//  2. Initialize tracing when a collector endpoint is configured.
//  3. Register Prometheus metrics.
//  4. Connect the document store (the one fatal dependency) and run
//     the index bootstrap.
//  5. Connect the optional time-series mirror.
//  6. Build the LLM client; a missing credential warns and leaves the
//     client nil, which every AI feature treats as fallback mode.
//  7. Construct breakers, prompt library, domain services, routes.
//
// # Outputs
//
//   - Service: ready to Run.
//   - error: non-nil when the store is unreachable or a component
//     fails construction. Provider and LLM credentials are never
//     fatal.
func New(ctx context.Context, cfg Config) (Service, error) {
	s := &service{
		config: applyConfigDefaults(cfg),
		logger: logging.Default(),
	}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	} else {
		slog.Info("OTel endpoint not configured, tracing disabled")
	}

	if s.config.EnableMetrics {
		observability.InitMetrics()
	}

	st, err := store.Connect(ctx, store.Config{
		URI:      s.config.MongoURI,
		Database: s.config.MongoDatabase,
	}, s.logger)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to connect store: %w", err)
	}
	s.store = st

	if err := st.EnsureIndexes(ctx); err != nil {
		// Index creation races with concurrent deploys; the service
		// still works on existing indexes.
		slog.Warn("Index bootstrap incomplete", "error", err)
	}

	mirror, err := store.NewHistoryMirror(s.config.Influx, s.logger)
	if err != nil {
		slog.Warn("History mirror unavailable, continuing without it", "error", err)
	}
	s.mirror = mirror

	s.breakers = breaker.NewRegistry()

	if err := s.initLLMClient(ctx); err != nil {
		slog.Warn("LLM client unavailable, AI features run in fallback mode", "error", err)
	}

	if err := s.initRouter(); err != nil {
		s.cleanup()
		return nil, err
	}

	return s, nil
}

// Run starts the HTTP server and blocks until it stops. Resources are
// released on return.
func (s *service) Run() error {
	defer s.cleanup()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting weather API server", "port", s.config.Port, "prefix", s.config.APIPrefix)

	return s.router.Run(addr)
}

// Router returns the underlying gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

// initTracer initializes OpenTelemetry distributed tracing over an
// insecure OTLP/gRPC connection, appropriate for a collector sidecar.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("mukoko-weatherapi")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}

	return cleanup, nil
}

// initLLMClient builds the model client for the configured backend.
// The Anthropic credential falls back to the stored api_keys document
// so operators can rotate it without a redeploy.
func (s *service) initLLMClient(ctx context.Context) error {
	switch s.config.LLMBackend {
	case "openai":
		client, err := llm.NewOpenAIClient(s.config.OpenAIAPIKey, "")
		if err != nil {
			return err
		}
		s.llmClient = client
		slog.Info("Using OpenAI LLM backend")
	case "anthropic", "claude":
		apiKey := s.config.AnthropicAPIKey
		if apiKey == "" {
			if stored, err := s.store.APIKey(ctx, "anthropic"); err == nil {
				apiKey = stored
			}
		}
		client, err := llm.NewAnthropicClient(apiKey, "")
		if err != nil {
			return err
		}
		s.llmClient = client
		slog.Info("Using Anthropic LLM backend")
	default:
		return fmt.Errorf("unknown LLM backend %q", s.config.LLMBackend)
	}
	return nil
}

// initRouter builds the gin engine, middleware stack, and route table.
func (s *service) initRouter() error {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}

	lib, err := prompts.NewLibrary(s.store, s.logger)
	if err != nil {
		return fmt.Errorf("failed to build prompt library: %w", err)
	}

	httpClient := providers.NewHTTPClient()
	tomorrow := providers.NewTomorrowClient(httpClient, s.logger)
	openMeteo := providers.NewOpenMeteoClient(httpClient, s.logger)
	geocoder := providers.NewGeocoder(httpClient, s.logger)

	contextCache := services.NewContextCache(s.store, s.logger)

	deps := routes.Deps{
		Store:            s.store,
		Weather:          services.NewWeatherService(s.store, tomorrow, openMeteo, s.breakers, s.mirror, s.logger),
		Summary:          services.NewSummaryService(s.store, s.llmClient, lib, s.breakers, s.logger),
		Chat:             services.NewChatService(s.store, s.llmClient, lib, contextCache, s.breakers, s.logger),
		Explore:          services.NewExploreService(s.store, s.llmClient, lib, contextCache, s.breakers, s.logger),
		Followup:         services.NewFollowupService(s.llmClient, lib, s.breakers, s.logger),
		Reports:          services.NewReportsService(s.store, s.llmClient, lib, s.breakers, s.logger),
		Analyzer:         services.NewAnalyzerService(s.store, s.llmClient, lib, s.breakers, s.logger),
		Locations:        services.NewLocationsService(s.store, geocoder, openMeteo, s.logger),
		HTTP:             httpClient,
		LLM:              s.llmClient,
		LLMKeyConfigured: s.llmClient != nil,
	}

	s.router = gin.Default()
	s.router.Use(otelgin.Middleware("mukoko-weatherapi"))
	s.router.Use(middleware.ClientIP())
	if s.config.EnableMetrics {
		s.router.Use(middleware.RequestMetrics())
	}

	routes.SetupRoutes(s.router, s.config.APIPrefix, deps)
	return nil
}

// cleanup releases resources held by the service.
func (s *service) cleanup() {
	if s.mirror != nil {
		s.mirror.Close()
	}
	if s.store != nil {
		if err := s.store.Close(context.Background()); err != nil {
			slog.Warn("store close error", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
