// Entry point for the attendance agent: UI surface, device bridge and both
// background triggers.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance.agent/internal/api"
	"attendance.agent/internal/api/handler"
	"attendance.agent/internal/config"
	"attendance.agent/internal/core"
	"attendance.agent/internal/gateway"
	"attendance.agent/internal/geofence"
	"attendance.agent/internal/location"
	"attendance.agent/internal/lock"
	"attendance.agent/internal/polling"
	"attendance.agent/internal/ports/messaging"
	"attendance.agent/internal/ports/store"
	"attendance.agent/pkg/aws"
	"attendance.agent/pkg/logger"
	"attendance.agent/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"k8s.io/utils/clock"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}

	// Configure structured logging
	logger.Setup(cfg.IsLocalDev)

	// Configure OpenTelemetry Tracing
	shutdownTracer, err := telemetry.InitTracer("attendance-agent", cfg.TracingEndpoint, cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid time zone")
	}

	// Persistent store shared by every execution context
	kv, err := store.Open(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StoreDriver).Msg("Error opening store")
	}
	defer kv.Close()
	log.Info().Str("driver", cfg.StoreDriver).Msg("Store opened")

	// Initialize dependencies
	clk := clock.RealClock{}
	dedup := lock.New(kv, lock.WithTTL(cfg.LockTTL), lock.WithLocation(loc))
	tokens := core.NewStoreTokens(kv)
	backend := gateway.NewHTTPClient(cfg.BackendURL,
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithMaxAttempts(cfg.GatewayMaxAttempts),
	)
	device := location.NewDevice()
	locator := location.NewDeviceProvider(device, clk, location.DefaultMaxAge)
	coordinator := core.NewCoordinator(dedup, backend, locator, tokens)

	scheduler := polling.NewTickerScheduler(cfg.PollingInterval, cfg.PollingJitter, cfg.ExecutionBudget,
		polling.WithDenied(cfg.BackgroundFetchDeny),
	)
	defer scheduler.Close()
	host := geofence.NewDistanceMonitor(device, cfg.ExecutionBudget)

	opts := []core.BackgroundOption{
		core.WithGeofenceOptions(geofence.WithLocation(loc)),
		core.WithManualBudget(cfg.ExecutionBudget),
	}
	if cfg.AlertsEnabled {
		awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("unable to load SDK config")
		}
		producer := messaging.NewSQSProducer(sqs.NewFromConfig(awsCfg), cfg.AlertSQSQueueURL, cfg.NotificationSQSQueueURL)
		opts = append(opts, core.WithAlertPublisher(producer))
	}
	service := core.NewBackgroundService(coordinator, scheduler, host, backend, tokens, kv, dedup, opts...)

	// Setup router and server
	router := api.NewRouter(
		&handler.AttendanceHandler{Service: service, Tokens: tokens, Store: kv, Push: backend},
		&handler.DeviceHandler{Device: device},
	)

	// Middleware to inject logger with trace ID
	loggerMiddleware := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = logger.EnrichContextWithLogger(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}

	// Wrap the router with OpenTelemetry middleware to create spans for each request
	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: otelhttp.NewHandler(loggerMiddleware(router), "api"),
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("Attendance agent starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down agent...")

	// In-flight attempts get the execution budget to finish
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ExecutionBudget+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}
	if err := host.StopMonitoring(); err != nil {
		log.Error().Err(err).Msg("Failed to stop region monitoring")
	}

	log.Info().Msg("Agent exiting")
}
