// Package core defines the domain types, collaborator interfaces, and error
// taxonomy for the TTS job orchestration service.
package core

import (
	"context"
	"errors"
	"time"
)

// JobStatus represents the lifecycle state of a synthesis job.
type JobStatus string

// Job lifecycle states. QUEUED and PROCESSING are transient; COMPLETED and
// FAILED are terminal and never left.
const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status permits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job record field names, as stored in the record store.
const (
	FieldID            = "id"
	FieldStatus        = "status"
	FieldSubmittedBy   = "submitted_by"
	FieldSubmittedAt   = "submitted_at"
	FieldBlocks        = "blocks"
	FieldBlocksTotal   = "blocks_total"
	FieldBlocksDone    = "blocks_done"
	FieldBlockResults  = "block_results"
	FieldResultLocator = "result_locator"
)

// Static errors for the core taxonomy.
var (
	// ErrAlreadyExists indicates a job record with the same id is already present.
	ErrAlreadyExists = errors.New("job record already exists")
	// ErrNotFound indicates the requested job record or field is absent.
	ErrNotFound = errors.New("job record not found")
	// ErrProviderNotFound indicates the block references an unregistered provider.
	ErrProviderNotFound = errors.New("provider not found")
	// ErrInvalidVoice indicates the provider does not recognize the requested voice.
	ErrInvalidVoice = errors.New("invalid voice")
	// ErrSynthesisFailed indicates the synthesis backend failed to produce audio.
	ErrSynthesisFailed = errors.New("synthesis failed")
	// ErrPersistenceFailed indicates the block artifact could not be persisted.
	ErrPersistenceFailed = errors.New("persistence failed")
	// ErrIncompleteAggregation indicates the recorded results do not cover
	// every block index exactly once.
	ErrIncompleteAggregation = errors.New("incomplete aggregation")
	// ErrJobFailed indicates the job record is already in the terminal FAILED state.
	ErrJobFailed = errors.New("job is failed")
	// ErrNoBlocks indicates a submission without any blocks.
	ErrNoBlocks = errors.New("job must contain at least one block")
)

// BlockUnit describes one segment of a synthesis request. It is immutable
// for the lifetime of the job; Index defines the final audio ordering and
// the placement of the trailing silence gap.
type BlockUnit struct {
	Index        int    `json:"index"`
	Text         string `json:"text"`
	PauseAfterMS int    `json:"pause_after_ms"`
	ProviderID   string `json:"provider_id"`
	VoiceID      string `json:"voice_id"`
}

// BlockResult records the outcome of one successfully completed block.
type BlockResult struct {
	Index   int    `json:"index"`
	Locator string `json:"locator"`
}

// JobRecord is the shared mutable state for one synthesis request.
type JobRecord struct {
	ID            string
	Status        JobStatus
	SubmittedBy   string
	SubmittedAt   time.Time
	Blocks        []BlockUnit
	BlocksTotal   int
	BlocksDone    int
	BlockResults  []BlockResult
	ResultLocator string
}

// RecordStore is the coordination substrate for job records. Every method is
// atomic with respect to concurrent callers operating on the same job id;
// there is no cross-field transaction.
type RecordStore interface {
	// CreateJob stores a new record, failing with ErrAlreadyExists if the
	// id is already present.
	CreateJob(ctx context.Context, record *JobRecord) error
	// GetJob loads the full record, failing with ErrNotFound if absent.
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
	// GetField reads one string-encoded field.
	GetField(ctx context.Context, jobID, field string) (string, error)
	// SetField unconditionally overwrites one field.
	SetField(ctx context.Context, jobID, field, value string) error
	// Increment atomically adds delta to an integer-encoded field and
	// returns the post-increment value. Each concurrent caller observes a
	// distinct value; no caller observes an intermediate state.
	Increment(ctx context.Context, jobID, field string, delta int64) (int64, error)
	// AppendResult atomically merges one block result into the result set.
	// Appending the same index twice is rejected.
	AppendResult(ctx context.Context, jobID string, result BlockResult) error
}

// Voice describes one selectable voice of a synthesis backend.
type Voice struct {
	Name    string `json:"name"`
	VoiceID string `json:"voice_id"`
}

// Provider is a text-to-speech synthesis backend.
type Provider interface {
	// Generate synthesizes text with the given voice and returns raw audio.
	Generate(ctx context.Context, text, voiceID string) ([]byte, error)
	// Voices lists the voices this provider can synthesize with.
	Voices() []Voice
}

// ObjectStore persists and retrieves opaque artifacts by key.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ArtifactStore is the storage collaborator the workers persist through:
// an upload yields the locator under which the artifact can later be read.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte) (string, error)
	Download(ctx context.Context, locator string) ([]byte, error)
	Delete(ctx context.Context, locator string) error
}

// Dispatcher hands a unit of work to the task substrate. Delivery is
// at-least-once with no ordering guarantee between units.
type Dispatcher interface {
	Dispatch(ctx context.Context, subject string, data []byte) error
}

// Notifier carries the best-effort side-channel hooks. Implementations must
// never let a hook failure propagate to the caller.
type Notifier interface {
	BlockCompleted(ctx context.Context, jobID string, index int, locator string)
	BlockFailed(ctx context.Context, jobID string, index int, failure error)
	JobCompleted(ctx context.Context, jobID, resultLocator string)
	JobFailed(ctx context.Context, jobID string, failure error)
}
