// Package aggregate implements the fan-in aggregation step: once every block
// of a job has completed, it reconstructs block order, concatenates the audio
// with the configured pauses, uploads the final artifact, and finalizes the
// job record.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/book-expert/logger"

	"github.com/tariq126/TTS-project/internal/audio"
	"github.com/tariq126/TTS-project/internal/core"
)

const finalArtifactSuffix = "_final.wav"

// Aggregator performs the aggregation step for one job at a time. The task
// substrate may deliver the same job more than once, so every run is safe to
// repeat: a COMPLETED job is a no-op and a FAILED job is refused.
type Aggregator struct {
	store     core.RecordStore
	artifacts core.ArtifactStore
	notifier  core.Notifier
	log       *logger.Logger
}

// New creates an Aggregator.
func New(
	store core.RecordStore,
	artifacts core.ArtifactStore,
	notifier core.Notifier,
	log *logger.Logger,
) *Aggregator {
	return &Aggregator{
		store:     store,
		artifacts: artifacts,
		notifier:  notifier,
		log:       log,
	}
}

// Run executes the aggregation step for jobID.
func (a *Aggregator) Run(ctx context.Context, jobID string) error {
	record, err := a.store.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			a.log.Error("Aggregation requested for unknown job '%s': %v", jobID, err)
		}

		return fmt.Errorf("failed to load job '%s': %w", jobID, err)
	}

	// Redelivery of an already-finalized job is a safe no-op. A FAILED
	// record is terminal: refusing here is what keeps late block
	// completions from resurrecting the job.
	if record.Status == core.StatusCompleted {
		a.log.Info("Job '%s' is already completed, skipping aggregation.", jobID)

		return nil
	}

	if record.Status == core.StatusFailed {
		a.log.Warn("Refusing to aggregate failed job '%s'.", jobID)

		return nil
	}

	ordered, err := orderedResults(record)
	if err != nil {
		return a.fail(ctx, jobID, err)
	}

	finalAudio, err := a.concatenate(ctx, record, ordered)
	if err != nil {
		return a.fail(ctx, jobID, err)
	}

	locator, err := a.artifacts.Upload(ctx, jobID+finalArtifactSuffix, finalAudio)
	if err != nil {
		return a.fail(ctx, jobID, fmt.Errorf("%w: %w", core.ErrPersistenceFailed, err))
	}

	published, err := a.finalize(ctx, jobID, locator)
	if err != nil {
		return err
	}

	if !published {
		return nil
	}

	a.notifier.JobCompleted(ctx, jobID, locator)
	a.log.Info("Job '%s' completed, result at '%s'.", jobID, locator)

	return nil
}

// orderedResults verifies that every index in [0, blocks_total) has exactly
// one result and returns the results sorted by index. Final audio order is
// defined purely by index, independent of completion order.
func orderedResults(record *core.JobRecord) ([]core.BlockResult, error) {
	// The pause lookup indexes the block list by result index; a record
	// whose list disagrees with blocks_total must fail, not panic.
	if len(record.Blocks) != record.BlocksTotal {
		return nil, fmt.Errorf("%w: %d block(s) listed, blocks_total %d for job '%s'",
			core.ErrIncompleteAggregation, len(record.Blocks), record.BlocksTotal, record.ID)
	}

	seen := make(map[int]string, len(record.BlockResults))

	for _, result := range record.BlockResults {
		if _, duplicate := seen[result.Index]; duplicate {
			return nil, fmt.Errorf("%w: duplicate result for block %d of job '%s'",
				core.ErrIncompleteAggregation, result.Index, record.ID)
		}

		if result.Index < 0 || result.Index >= record.BlocksTotal {
			return nil, fmt.Errorf("%w: result index %d outside [0, %d) for job '%s'",
				core.ErrIncompleteAggregation, result.Index, record.BlocksTotal, record.ID)
		}

		seen[result.Index] = result.Locator
	}

	ordered := make([]core.BlockResult, 0, record.BlocksTotal)

	for index := 0; index < record.BlocksTotal; index++ {
		locator, ok := seen[index]
		if !ok {
			return nil, fmt.Errorf("%w: no result for block %d of job '%s'",
				core.ErrIncompleteAggregation, index, record.ID)
		}

		ordered = append(ordered, core.BlockResult{Index: index, Locator: locator})
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Index < ordered[j].Index })

	return ordered, nil
}

// concatenate assembles the final audio: each block in index order, followed
// by that block's configured pause. No pause ever precedes the first block.
func (a *Aggregator) concatenate(
	ctx context.Context,
	record *core.JobRecord,
	ordered []core.BlockResult,
) ([]byte, error) {
	concatenator := audio.NewConcatenator()

	for _, result := range ordered {
		blockAudio, err := a.artifacts.Download(ctx, result.Locator)
		if err != nil {
			return nil, fmt.Errorf("failed to download block %d of job '%s': %w",
				result.Index, record.ID, err)
		}

		err = concatenator.AppendWAV(blockAudio)
		if err != nil {
			return nil, fmt.Errorf("failed to append block %d of job '%s': %w",
				result.Index, record.ID, err)
		}

		pauseMS := record.Blocks[result.Index].PauseAfterMS
		if pauseMS > 0 {
			err = concatenator.AppendSilence(pauseMS)
			if err != nil {
				return nil, fmt.Errorf("failed to append pause after block %d of job '%s': %w",
					result.Index, record.ID, err)
			}
		}
	}

	finalAudio, err := concatenator.Bytes()
	if err != nil {
		return nil, fmt.Errorf("failed to export final audio for job '%s': %w", record.ID, err)
	}

	return finalAudio, nil
}

// finalize publishes the result locator and the COMPLETED status, re-checking
// that the record has not been failed in the meantime. It reports whether the
// completion was actually published.
func (a *Aggregator) finalize(ctx context.Context, jobID, locator string) (bool, error) {
	status, err := a.store.GetField(ctx, jobID, core.FieldStatus)
	if err != nil {
		return false, fmt.Errorf("failed to re-read status for job '%s': %w", jobID, err)
	}

	if core.JobStatus(status) == core.StatusFailed {
		a.log.Warn("Job '%s' failed during aggregation, leaving record untouched.", jobID)

		return false, nil
	}

	err = a.store.SetField(ctx, jobID, core.FieldResultLocator, locator)
	if err != nil {
		return false, fmt.Errorf("failed to set result locator for job '%s': %w", jobID, err)
	}

	err = a.store.SetField(ctx, jobID, core.FieldStatus, string(core.StatusCompleted))
	if err != nil {
		return false, fmt.Errorf("failed to set completed status for job '%s': %w", jobID, err)
	}

	return true, nil
}

// fail marks the job FAILED and fires the job-failed hook. Partial block
// artifacts are deliberately left in place for operator inspection.
func (a *Aggregator) fail(ctx context.Context, jobID string, cause error) error {
	setErr := a.store.SetField(ctx, jobID, core.FieldStatus, string(core.StatusFailed))
	if setErr != nil {
		a.log.Error("Failed to mark job '%s' as failed: %v", jobID, setErr)
	}

	a.notifier.JobFailed(ctx, jobID, cause)
	a.log.Error("Aggregation for job '%s' failed: %v", jobID, cause)

	return cause
}
