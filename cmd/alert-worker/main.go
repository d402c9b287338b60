package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"attendance.agent/internal/config"
	"attendance.agent/internal/core"
	"attendance.agent/internal/worker"
	"attendance.agent/internal/worker/alert"
	"attendance.agent/pkg/aws"
	"attendance.agent/pkg/logger"
	"attendance.agent/pkg/telemetry"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load configuration")
	}
	logger.Setup(cfg.IsLocalDev)

	if cfg.AlertRecipient == "" {
		log.Fatal().Msg("ALERT_RECIPIENT is required")
	}

	shutdownTracer, err := telemetry.InitTracer("alert-worker", cfg.TracingEndpoint, cfg.IsLocalDev)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to init tracer")
	}
	defer func() {
		_ = shutdownTracer(context.Background())
	}()

	// AWS SDK Config
	awsCfg, err := aws.NewAWSConfig(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("unable to load SDK config")
	}

	// Initialize Dependencies
	sqsClient := sqs.NewFromConfig(awsCfg)
	sesClient := ses.NewFromConfig(awsCfg)
	alertService := core.NewSESAlertService(sesClient, cfg.AlertSender)
	processor := alert.NewProcessor(alertService, cfg.AlertRecipient)

	// Start Worker
	ctx, cancel := context.WithCancel(context.Background())
	app := worker.NewWorker(sqsClient, cfg.AlertSQSQueueURL, processor)

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
