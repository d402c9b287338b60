package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"attendance.agent/internal/config"
	"attendance.agent/internal/core"
	"attendance.agent/internal/gateway"
	"attendance.agent/internal/geofence"
	"attendance.agent/internal/location"
	"attendance.agent/internal/lock"
	"attendance.agent/internal/polling"
	"attendance.agent/internal/ports/messaging"
	"attendance.agent/internal/ports/store"
	"attendance.agent/internal/worker"
	"attendance.agent/internal/worker/notification"
	"attendance.agent/pkg/aws"
	"attendance.agent/pkg/logger"
	"attendance.agent/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
	"k8s.io/utils/clock"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	logger.Setup(cfg.IsLocalDev)

	shutdownTracer, err := telemetry.InitTracer("notification-worker", cfg.TracingEndpoint, cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	if cfg.StoreDriver == "bolt" {
		// bbolt holds an exclusive file lock; the agent already owns it
		log.Fatal().Msg("The notification worker shares the agent's store: use STORE_DRIVER=file or postgres")
	}

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid time zone")
	}

	kv, err := store.Open(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening store")
	}
	defer kv.Close()

	// AWS SDK Config
	awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}
	sqsClient := sqs.NewFromConfig(awsCfg)

	// Initialize dependencies: a coordinator of our own over the shared store,
	// reading positions from the agent's device bridge.
	dedup := lock.New(kv, lock.WithTTL(cfg.LockTTL), lock.WithLocation(loc))
	tokens := core.NewStoreTokens(kv)
	backend := gateway.NewHTTPClient(cfg.BackendURL,
		gateway.WithTimeout(cfg.GatewayTimeout),
		gateway.WithMaxAttempts(cfg.GatewayMaxAttempts),
	)
	locator := location.NewRemoteProvider(cfg.AgentURL, clock.RealClock{}, location.DefaultMaxAge, time.Second)
	coordinator := core.NewCoordinator(dedup, backend, locator, tokens)

	// background triggers stay with the agent; this process never registers them
	scheduler := polling.NewTickerScheduler(cfg.PollingInterval, cfg.PollingJitter, cfg.ExecutionBudget, polling.WithDenied(true))
	host := geofence.NewDistanceMonitor(location.NewDevice(), cfg.ExecutionBudget)

	opts := []core.BackgroundOption{core.WithManualBudget(cfg.ExecutionBudget)}
	if cfg.AlertsEnabled {
		opts = append(opts, core.WithAlertPublisher(messaging.NewSQSProducer(sqsClient, cfg.AlertSQSQueueURL, cfg.NotificationSQSQueueURL)))
	}
	service := core.NewBackgroundService(coordinator, scheduler, host, backend, tokens, kv, dedup, opts...)
	processor := notification.NewProcessor(service)

	// Start Worker
	ctx, cancel := context.WithCancel(context.Background())
	app := worker.NewWorker(sqsClient, cfg.NotificationSQSQueueURL, processor)

	done := make(chan struct{})
	go func() {
		app.Start(ctx)
		close(done)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info().Msg("Shutting down worker...")

	// Cancel the context to signal the worker to stop polling.
	cancel()
	<-done

	log.Info().Msg("Worker exited gracefully")
}
