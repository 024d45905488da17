// Package hooks implements the best-effort notification side channel. Every
// hook is fire-and-continue: failures are logged and swallowed, and never
// change the outcome of the operation that triggered the hook.
package hooks

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/book-expert/events"
	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/tariq126/TTS-project/internal/core"
)

// Notification subject suffixes, appended to the configured prefix.
const (
	subjectBlockCompleted = ".block.completed"
	subjectBlockFailed    = ".block.failed"
	subjectJobCompleted   = ".job.completed"
	subjectJobFailed      = ".job.failed"
)

// BlockCompletedEvent announces one successfully completed block.
type BlockCompletedEvent struct {
	Header  events.EventHeader `json:"header"`
	JobID   string             `json:"job_id"`
	Index   int                `json:"index"`
	Locator string             `json:"locator"`
}

// BlockFailedEvent announces one failed block.
type BlockFailedEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
	Index  int                `json:"index"`
	Error  string             `json:"error"`
}

// JobCompletedEvent announces a fully aggregated job.
type JobCompletedEvent struct {
	Header        events.EventHeader `json:"header"`
	JobID         string             `json:"job_id"`
	ResultLocator string             `json:"result_locator"`
}

// JobFailedEvent announces a terminally failed job.
type JobFailedEvent struct {
	Header events.EventHeader `json:"header"`
	JobID  string             `json:"job_id"`
	Error  string             `json:"error"`
}

// AuditClient is the subset of the audit mutation client the hooks fan out
// to. Errors from it are logged here, never propagated.
type AuditClient interface {
	InsertBlock(ctx context.Context, projectID, content, locator, blockIndex string) error
	LinkProjectStorage(ctx context.Context, projectID, locator string) error
}

// Notifier publishes notification events on a NATS side channel and fans
// selected hooks out to the audit client. It implements core.Notifier.
type Notifier struct {
	natsConnection *nats.Conn
	subjectPrefix  string
	store          core.RecordStore
	audit          AuditClient
	log            *logger.Logger
}

// New creates a Notifier. The audit client may be nil, in which case only
// the NATS side channel is used.
func New(
	natsConnection *nats.Conn,
	subjectPrefix string,
	store core.RecordStore,
	audit AuditClient,
	log *logger.Logger,
) *Notifier {
	return &Notifier{
		natsConnection: natsConnection,
		subjectPrefix:  subjectPrefix,
		store:          store,
		audit:          audit,
		log:            log,
	}
}

// BlockCompleted fires the block-completed hook.
func (n *Notifier) BlockCompleted(ctx context.Context, jobID string, index int, locator string) {
	n.publish(subjectBlockCompleted, BlockCompletedEvent{
		Header:  core.NewEventHeader(jobID),
		JobID:   jobID,
		Index:   index,
		Locator: locator,
	})

	if n.audit == nil {
		return
	}

	content := n.blockText(ctx, jobID, index)

	err := n.audit.InsertBlock(ctx, jobID, content, locator, strconv.Itoa(index))
	if err != nil {
		n.log.Warn("Audit write for block %d of job %s failed: %v", index, jobID, err)
	}
}

// BlockFailed fires the block-failed hook.
func (n *Notifier) BlockFailed(_ context.Context, jobID string, index int, failure error) {
	n.publish(subjectBlockFailed, BlockFailedEvent{
		Header: core.NewEventHeader(jobID),
		JobID:  jobID,
		Index:  index,
		Error:  failure.Error(),
	})
}

// JobCompleted fires the job-completed hook.
func (n *Notifier) JobCompleted(ctx context.Context, jobID, resultLocator string) {
	n.publish(subjectJobCompleted, JobCompletedEvent{
		Header:        core.NewEventHeader(jobID),
		JobID:         jobID,
		ResultLocator: resultLocator,
	})

	if n.audit == nil {
		return
	}

	err := n.audit.LinkProjectStorage(ctx, jobID, resultLocator)
	if err != nil {
		n.log.Warn("Audit link for job %s failed: %v", jobID, err)
	}
}

// JobFailed fires the job-failed hook.
func (n *Notifier) JobFailed(_ context.Context, jobID string, failure error) {
	n.publish(subjectJobFailed, JobFailedEvent{
		Header: core.NewEventHeader(jobID),
		JobID:  jobID,
		Error:  failure.Error(),
	})
}

// publish sends one event on the side channel. Marshal and publish failures
// are logged and swallowed.
func (n *Notifier) publish(suffix string, event any) {
	data, err := json.Marshal(event)
	if err != nil {
		n.log.Warn("Failed to marshal notification event: %v", err)

		return
	}

	err = n.natsConnection.Publish(n.subjectPrefix+suffix, data)
	if err != nil {
		n.log.Warn("Failed to publish notification on '%s%s': %v", n.subjectPrefix, suffix, err)
	}
}

// blockText reads the text of one block from the job record, returning an
// empty string when the record cannot be read.
func (n *Notifier) blockText(ctx context.Context, jobID string, index int) string {
	blocksJSON, err := n.store.GetField(ctx, jobID, core.FieldBlocks)
	if err != nil {
		n.log.Warn("Failed to read blocks for job %s: %v", jobID, err)

		return ""
	}

	var blocks []core.BlockUnit

	err = json.Unmarshal([]byte(blocksJSON), &blocks)
	if err != nil {
		n.log.Warn("Failed to decode blocks for job %s: %v", jobID, err)

		return ""
	}

	if index < 0 || index >= len(blocks) {
		n.log.Warn("Block index %d out of range for job %s", index, jobID)

		return ""
	}

	return blocks[index].Text
}
