// Package submit implements the job submission path: it creates the job
// record and fans the blocks out to the task substrate.
package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"

	"github.com/tariq126/TTS-project/internal/core"
)

// Static errors.
var (
	ErrEmptyBlockText = errors.New("block text cannot be empty")
	ErrNegativePause  = errors.New("block pause must be non-negative")
)

// AuditClient is the audit surface used at submission time. Failures are
// logged and never block the submission.
type AuditClient interface {
	CreateProject(ctx context.Context, jobID, blocksJSON string) error
}

// Submitter creates job records and dispatches their block units.
type Submitter struct {
	store        core.RecordStore
	dispatcher   core.Dispatcher
	blockSubject string
	audit        AuditClient
	log          *logger.Logger
}

// New creates a Submitter. The audit client may be nil.
func New(
	store core.RecordStore,
	dispatcher core.Dispatcher,
	blockSubject string,
	audit AuditClient,
	log *logger.Logger,
) *Submitter {
	return &Submitter{
		store:        store,
		dispatcher:   dispatcher,
		blockSubject: blockSubject,
		audit:        audit,
		log:          log,
	}
}

// Submit validates the blocks, creates a QUEUED job record, and dispatches
// one block unit per block. It returns the new job id.
func (s *Submitter) Submit(
	ctx context.Context,
	submittedBy string,
	blocks []core.BlockUnit,
) (string, error) {
	err := validateBlocks(blocks)
	if err != nil {
		return "", err
	}

	// Block order is defined by position in the request; the index carried
	// through every structure downstream is assigned here.
	for position := range blocks {
		blocks[position].Index = position
	}

	jobID := uuid.NewString()

	record := &core.JobRecord{
		ID:           jobID,
		Status:       core.StatusQueued,
		SubmittedBy:  submittedBy,
		SubmittedAt:  time.Now().UTC(),
		Blocks:       blocks,
		BlocksTotal:  len(blocks),
		BlocksDone:   0,
		BlockResults: []core.BlockResult{},
	}

	err = s.store.CreateJob(ctx, record)
	if err != nil {
		return "", fmt.Errorf("failed to create job record: %w", err)
	}

	s.auditCreate(ctx, jobID, blocks)

	for _, block := range blocks {
		dispatchErr := s.dispatchBlock(ctx, jobID, block)
		if dispatchErr != nil {
			return "", dispatchErr
		}
	}

	s.log.Info("Job %s submitted with %d block(s).", jobID, len(blocks))

	return jobID, nil
}

// Status loads the current job record for status reporting.
func (s *Submitter) Status(ctx context.Context, jobID string) (*core.JobRecord, error) {
	record, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to load job '%s': %w", jobID, err)
	}

	return record, nil
}

func validateBlocks(blocks []core.BlockUnit) error {
	if len(blocks) == 0 {
		return core.ErrNoBlocks
	}

	for position, block := range blocks {
		if block.Text == "" {
			return fmt.Errorf("%w: block %d", ErrEmptyBlockText, position)
		}

		if block.PauseAfterMS < 0 {
			return fmt.Errorf("%w: block %d", ErrNegativePause, position)
		}
	}

	return nil
}

func (s *Submitter) dispatchBlock(ctx context.Context, jobID string, block core.BlockUnit) error {
	event := core.BlockAssignedEvent{
		Header:       core.NewEventHeader(jobID),
		JobID:        jobID,
		Index:        block.Index,
		Text:         block.Text,
		PauseAfterMS: block.PauseAfterMS,
		ProviderID:   block.ProviderID,
		VoiceID:      block.VoiceID,
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal block %d of job '%s': %w", block.Index, jobID, err)
	}

	err = s.dispatcher.Dispatch(ctx, s.blockSubject, data)
	if err != nil {
		return fmt.Errorf("failed to dispatch block %d of job '%s': %w", block.Index, jobID, err)
	}

	return nil
}

func (s *Submitter) auditCreate(ctx context.Context, jobID string, blocks []core.BlockUnit) {
	if s.audit == nil {
		return
	}

	blocksJSON, err := json.Marshal(blocks)
	if err != nil {
		s.log.Warn("Failed to encode blocks for audit of job %s: %v", jobID, err)

		return
	}

	err = s.audit.CreateProject(ctx, jobID, string(blocksJSON))
	if err != nil {
		s.log.Warn("Audit create for job %s failed: %v", jobID, err)
	}
}
