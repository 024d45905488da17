// main package for the tts-orchestrator service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/tariq126/TTS-project/internal/aggregate"
	"github.com/tariq126/TTS-project/internal/audit"
	"github.com/tariq126/TTS-project/internal/cleanup"
	"github.com/tariq126/TTS-project/internal/config"
	"github.com/tariq126/TTS-project/internal/dispatch"
	"github.com/tariq126/TTS-project/internal/hooks"
	"github.com/tariq126/TTS-project/internal/jobstore"
	"github.com/tariq126/TTS-project/internal/provider"
	"github.com/tariq126/TTS-project/internal/storage"
	"github.com/tariq126/TTS-project/internal/worker"
)

const bootstrapLogFileName = "tts-orchestrator-bootstrap.log"

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	bootstrapLog, err := setupLogger(os.TempDir(), bootstrapLogFileName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := setupLogger(cfg.Paths.BaseLogsDir, "tts-orchestrator.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	return runService(cfg, log)
}

func runService(cfg *config.Config, log *logger.Logger) error {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer natsConnection.Close()

	blockWorker, aggregateWorker, sweeper, err := buildWorkers(cfg, natsConnection, log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 3)

	go func() { errChan <- blockWorker.Run(ctx) }()
	go func() { errChan <- aggregateWorker.Run(ctx) }()
	go func() { errChan <- sweeper.Run(ctx) }()

	log.System("TTS orchestrator running. Blocks on '%s', aggregation on '%s'.",
		cfg.NATS.BlockAssignedSubject, cfg.NATS.AggregateJobSubject)

	<-ctx.Done()

	var firstErr error

	for range 3 {
		runErr := <-errChan
		if runErr != nil && firstErr == nil {
			firstErr = runErr
		}
	}

	return firstErr
}

func buildWorkers(
	cfg *config.Config,
	natsConnection *nats.Conn,
	log *logger.Logger,
) (*worker.BlockWorker, *worker.AggregateWorker, *cleanup.Sweeper, error) {
	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	store, err := jobstore.New(jetstreamContext, cfg.NATS.JobRecordBucket)
	if err != nil {
		return nil, nil, nil, err
	}

	artifacts, err := buildStorage(cfg, jetstreamContext, log)
	if err != nil {
		return nil, nil, nil, err
	}

	dispatcher, err := dispatch.New(jetstreamContext, cfg.NATS.JobStreamName, []string{
		cfg.NATS.BlockAssignedSubject,
		cfg.NATS.AggregateJobSubject,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	registry, err := provider.NewRegistry(cfg.Providers, log)
	if err != nil {
		return nil, nil, nil, err
	}

	notifier := hooks.New(
		natsConnection, cfg.NATS.NotifySubjectPrefix, store, buildAuditClient(cfg, log), log,
	)

	blockWorker, err := worker.NewBlockWorker(worker.BlockWorkerOptions{
		NatsConnection:   natsConnection,
		Subject:          cfg.NATS.BlockAssignedSubject,
		QueueGroup:       cfg.NATS.BlockWorkerQueueGroup,
		Store:            store,
		Providers:        registry,
		Artifacts:        artifacts,
		Dispatcher:       dispatcher,
		Notifier:         notifier,
		AggregateSubject: cfg.NATS.AggregateJobSubject,
		ScratchDir:       cfg.Cleanup.ScratchDir,
		Log:              log,
	})
	if err != nil {
		return nil, nil, nil, err
	}

	aggregator := aggregate.New(store, artifacts, notifier, log)

	aggregateWorker, err := worker.NewAggregateWorker(
		natsConnection, cfg.NATS.AggregateJobSubject, cfg.NATS.AggregateQueueGroup, aggregator, log,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	sweeper := cleanup.New(
		cfg.Cleanup.ScratchDir,
		time.Duration(cfg.Cleanup.MaxAgeSeconds)*time.Second,
		time.Duration(cfg.Cleanup.IntervalSeconds)*time.Second,
		log,
	)

	return blockWorker, aggregateWorker, sweeper, nil
}

func buildStorage(
	cfg *config.Config,
	jetstreamContext nats.JetStreamContext,
	log *logger.Logger,
) (*storage.Manager, error) {
	primary, err := storage.New(jetstreamContext, cfg.Storage.ArtifactBucket)
	if err != nil {
		return nil, err
	}

	var secondary *storage.NatsObjectStore

	if cfg.Storage.Mirroring && cfg.Storage.MirrorBucket != "" {
		secondary, err = storage.New(jetstreamContext, cfg.Storage.MirrorBucket)
		if err != nil {
			return nil, err
		}

		return storage.NewManager(primary, secondary, log), nil
	}

	return storage.NewManager(primary, nil, log), nil
}

func buildAuditClient(cfg *config.Config, log *logger.Logger) hooks.AuditClient {
	if !cfg.Audit.Enabled {
		return nil
	}

	adminSecret := os.Getenv(cfg.Audit.AdminSecretEnv)
	if cfg.Audit.Endpoint == "" || adminSecret == "" {
		log.Warn("Audit endpoint or admin secret is not configured. Audit client is disabled.")

		return nil
	}

	return audit.New(
		cfg.Audit.Endpoint,
		adminSecret,
		cfg.Audit.MaxAttempts,
		time.Duration(cfg.Audit.MinDelaySeconds)*time.Second,
		time.Duration(cfg.Audit.MaxDelaySeconds)*time.Second,
		time.Duration(cfg.Audit.TimeoutSeconds)*time.Second,
		log,
	)
}
