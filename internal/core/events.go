package core

import (
	"time"

	"github.com/book-expert/events"
	"github.com/google/uuid"
)

// BlockAssignedEvent is the unit of work dispatched once per block.
type BlockAssignedEvent struct {
	Header       events.EventHeader `json:"header"`
	JobID        string             `json:"job_id"`
	Index        int                `json:"index"`
	Text         string             `json:"text"`
	PauseAfterMS int                `json:"pause_after_ms"`
	ProviderID   string             `json:"provider_id"`
	VoiceID      string             `json:"voice_id"`
}

// AggregateJobEvent is the unit of work dispatched exactly once per job,
// by the block worker that observes the final completion.
type AggregateJobEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
}

// NewEventHeader builds the standard event header for dispatched units and
// notifications, keyed by the job the event belongs to.
func NewEventHeader(jobID string) events.EventHeader {
	return events.EventHeader{
		Timestamp:  time.Now().UTC(),
		WorkflowID: jobID,
		EventID:    uuid.NewString(),
		UserID:     "",
		TenantID:   "",
	}
}
