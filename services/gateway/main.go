package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/budget"
	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/credentials"
	"github.com/daviswhitehead/chef-chopsky-sub000/pkg/telemetry"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/agent"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/handlers"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/observability"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/orchestrator"
	"github.com/daviswhitehead/chef-chopsky-sub000/services/gateway/routes"
	"google.golang.org/grpc/credentials/insecure"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing export disabled")
		return func(context.Context) {}, nil
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chopsky-gateway")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// openRunStore connects the relational telemetry sink. A missing DATABASE_URL
// means lightweight mode: the gateway runs with tracing-only telemetry.
func openRunStore() *telemetry.RunStore {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		slog.Info("DATABASE_URL not set. Running in lightweight mode (trace telemetry only).")
		return nil
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		slog.Error("Failed to connect the telemetry database, continuing without it", "error", err)
		return nil
	}

	store := telemetry.NewRunStore(db)
	if err := store.Migrate(); err != nil {
		slog.Error("Telemetry schema migration failed, continuing without the database", "error", err)
		return nil
	}
	return store
}

func main() {
	port := os.Getenv("GATEWAY_PORT")
	if port == "" {
		port = "3001"
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	cfg, err := orchestrator.FromEnv()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	// The budget ordering is a startup invariant; a violated table means
	// every tier's give-up point is wrong, so refuse to start.
	budgets, err := budget.Load()
	if err != nil {
		log.Fatalf("FATAL: invalid timeout budget: %v", err)
	}
	budgets, err = budgets.ForEnvironment(cfg.Environment)
	if err != nil {
		log.Fatalf("FATAL: invalid scaled timeout budget: %v", err)
	}

	var traceSink telemetry.TraceSink
	if cfg.TracingCredential == credentials.Present {
		traceSink = telemetry.NewHTTPTraceSink()
	} else {
		slog.Info("TRACING_API_KEY not usable, trace telemetry disabled",
			"status", cfg.TracingCredential)
		traceSink = telemetry.NoopTraceSink{}
	}
	recorder := telemetry.NewRecorder(traceSink, openRunStore())

	var agentClient agent.Client
	if cfg.ModelCredential == credentials.Present {
		agentClient, err = agent.NewOpenAIClient(cfg.Model)
		if err != nil {
			log.Fatalf("Failed to initialize the agent client: %v", err)
		}
		slog.Info("Using OpenAI agent backend", "model", cfg.Model)
	} else {
		slog.Warn("Model credential not usable, gateway starts in degraded mode",
			"status", cfg.ModelCredential, "production", cfg.Production())
	}

	metrics := observability.NewChatMetrics()
	orch := orchestrator.New(cfg, budgets, agentClient, recorder, metrics)

	// Custom recovery so even a panic answers with the error envelope.
	router := gin.New()
	router.Use(gin.Logger(), handlers.RecoverJSON())
	router.Use(otelgin.Middleware("chopsky-gateway"))

	routes.SetupRoutes(router, orch)

	log.Println("Starting the gateway server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
