// Package worker provides the NATS workers that process block synthesis
// units and job aggregation units.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/tariq126/TTS-project/internal/core"
)

const (
	handleMessageTimeout = 300 * time.Second

	scratchFilePermissions = 0o600
	scratchDirPermissions  = 0o750
	scratchFileFormat      = "%s_block%d.wav"
	blockArtifactFormat    = "%s_block%d.wav"
)

// ProviderResolver resolves a provider id to a synthesis backend.
type ProviderResolver interface {
	Get(name string) (core.Provider, error)
}

// BlockWorker listens for block units on a NATS subject and executes them:
// synthesize, persist, record completion, and — for exactly one worker per
// job — trigger the aggregation step.
type BlockWorker struct {
	natsConnection   *nats.Conn
	subject          string
	queueGroup       string
	store            core.RecordStore
	providers        ProviderResolver
	artifacts        core.ArtifactStore
	dispatcher       core.Dispatcher
	notifier         core.Notifier
	aggregateSubject string
	scratchDir       string
	log              *logger.Logger
}

// BlockWorkerOptions collects the collaborators of a BlockWorker.
type BlockWorkerOptions struct {
	NatsConnection   *nats.Conn
	Subject          string
	QueueGroup       string
	Store            core.RecordStore
	Providers        ProviderResolver
	Artifacts        core.ArtifactStore
	Dispatcher       core.Dispatcher
	Notifier         core.Notifier
	AggregateSubject string
	ScratchDir       string
	Log              *logger.Logger
}

// NewBlockWorker creates a new instance of a block worker.
func NewBlockWorker(opts BlockWorkerOptions) (*BlockWorker, error) {
	err := os.MkdirAll(opts.ScratchDir, scratchDirPermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch directory '%s': %w", opts.ScratchDir, err)
	}

	return &BlockWorker{
		natsConnection:   opts.NatsConnection,
		subject:          opts.Subject,
		queueGroup:       opts.QueueGroup,
		store:            opts.Store,
		providers:        opts.Providers,
		artifacts:        opts.Artifacts,
		dispatcher:       opts.Dispatcher,
		notifier:         opts.Notifier,
		aggregateSubject: opts.AggregateSubject,
		scratchDir:       opts.ScratchDir,
		log:              opts.Log,
	}, nil
}

// Run starts the worker and begins listening for block units.
func (w *BlockWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *BlockWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleMessageTimeout)
	defer cancel()

	var event core.BlockAssignedEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal block event: %v", err)

		return
	}

	err = w.ProcessBlock(ctx, &event)
	if err != nil {
		w.log.Error("Block %d of job %s failed: %v", event.Index, event.JobID, err)
	}
}

// ProcessBlock executes one block unit to completion or failure.
func (w *BlockWorker) ProcessBlock(ctx context.Context, event *core.BlockAssignedEvent) error {
	// Best-effort precondition: a terminal record makes this unit a no-op.
	// Not required for correctness — the aggregation step refuses to run
	// against a FAILED record regardless.
	status, err := w.store.GetField(ctx, event.JobID, core.FieldStatus)
	if err != nil {
		return fmt.Errorf("failed to read status for job '%s': %w", event.JobID, err)
	}

	if core.JobStatus(status).Terminal() {
		w.log.Warn("Skipping block %d of job %s: job is already %s.",
			event.Index, event.JobID, status)

		return nil
	}

	locator, err := w.synthesizeAndPersist(ctx, event)
	if err != nil {
		return w.failBlock(ctx, event, err)
	}

	return w.recordCompletion(ctx, event, locator)
}

// synthesizeAndPersist runs the provider and persists the artifact,
// returning its locator.
func (w *BlockWorker) synthesizeAndPersist(
	ctx context.Context,
	event *core.BlockAssignedEvent,
) (string, error) {
	backend, err := w.providers.Get(event.ProviderID)
	if err != nil {
		return "", err
	}

	audioData, err := backend.Generate(ctx, event.Text, event.VoiceID)
	if err != nil {
		if errors.Is(err, core.ErrInvalidVoice) {
			return "", err
		}

		return "", fmt.Errorf("%w: %w", core.ErrSynthesisFailed, err)
	}

	// The scratch copy is left behind on purpose: its lifetime belongs to
	// the age-based sweep, not to this worker.
	scratchPath := filepath.Join(
		w.scratchDir,
		fmt.Sprintf(scratchFileFormat, event.JobID, event.Index),
	)

	err = os.WriteFile(scratchPath, audioData, scratchFilePermissions)
	if err != nil {
		return "", fmt.Errorf("%w: failed to write scratch file: %w", core.ErrSynthesisFailed, err)
	}

	key := fmt.Sprintf(blockArtifactFormat, event.JobID, event.Index)

	locator, err := w.artifacts.Upload(ctx, key, audioData)
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrPersistenceFailed, err)
	}

	return locator, nil
}

// recordCompletion mutates the job record for one completed block and, when
// this worker observes the final completion, dispatches the aggregation
// step. The increment is the sole trigger condition: it returns a distinct
// post-increment value to each caller, so exactly one worker per job can
// ever see the counter reach blocks_total.
func (w *BlockWorker) recordCompletion(
	ctx context.Context,
	event *core.BlockAssignedEvent,
	locator string,
) error {
	err := w.store.AppendResult(ctx, event.JobID, core.BlockResult{
		Index:   event.Index,
		Locator: locator,
	})
	if err != nil {
		if errors.Is(err, core.ErrAlreadyExists) {
			// Redelivered unit whose completion is already recorded.
			w.log.Warn("Block %d of job %s already recorded, skipping.", event.Index, event.JobID)

			return nil
		}

		return fmt.Errorf("failed to append result for job '%s': %w", event.JobID, err)
	}

	err = w.store.SetField(ctx, event.JobID, core.FieldStatus, string(core.StatusProcessing))
	if err != nil {
		return fmt.Errorf("failed to set processing status for job '%s': %w", event.JobID, err)
	}

	doneCount, err := w.store.Increment(ctx, event.JobID, core.FieldBlocksDone, 1)
	if err != nil {
		return fmt.Errorf("failed to increment done counter for job '%s': %w", event.JobID, err)
	}

	w.notifier.BlockCompleted(ctx, event.JobID, event.Index, locator)

	totalValue, err := w.store.GetField(ctx, event.JobID, core.FieldBlocksTotal)
	if err != nil {
		return fmt.Errorf("failed to read blocks_total for job '%s': %w", event.JobID, err)
	}

	total, err := strconv.ParseInt(totalValue, 10, 64)
	if err != nil {
		return fmt.Errorf("failed to parse blocks_total for job '%s': %w", event.JobID, err)
	}

	if doneCount >= total {
		return w.dispatchAggregation(ctx, event.JobID)
	}

	return nil
}

func (w *BlockWorker) dispatchAggregation(ctx context.Context, jobID string) error {
	aggregateEvent := core.AggregateJobEvent{
		Header: core.NewEventHeader(jobID),
		JobID:  jobID,
	}

	data, err := json.Marshal(aggregateEvent)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate event for job '%s': %w", jobID, err)
	}

	err = w.dispatcher.Dispatch(ctx, w.aggregateSubject, data)
	if err != nil {
		return fmt.Errorf("failed to dispatch aggregation for job '%s': %w", jobID, err)
	}

	w.log.Info("All blocks of job %s are done, aggregation dispatched.", jobID)

	return nil
}

// failBlock marks the whole job FAILED and fires the block-failed hook. A
// failed block never increments the counter and never triggers aggregation.
func (w *BlockWorker) failBlock(
	ctx context.Context,
	event *core.BlockAssignedEvent,
	cause error,
) error {
	setErr := w.store.SetField(ctx, event.JobID, core.FieldStatus, string(core.StatusFailed))
	if setErr != nil {
		w.log.Error("Failed to mark job '%s' as failed: %v", event.JobID, setErr)
	}

	w.notifier.BlockFailed(ctx, event.JobID, event.Index, cause)

	return cause
}
