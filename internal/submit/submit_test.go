package submit_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariq126/TTS-project/internal/core"
	"github.com/tariq126/TTS-project/internal/submit"
)

// capturingStore records created job records.
type capturingStore struct {
	created   *core.JobRecord
	createErr error
}

func (c *capturingStore) CreateJob(_ context.Context, record *core.JobRecord) error {
	if c.createErr != nil {
		return c.createErr
	}

	c.created = record

	return nil
}

func (c *capturingStore) GetJob(_ context.Context, jobID string) (*core.JobRecord, error) {
	if c.created == nil || c.created.ID != jobID {
		return nil, core.ErrNotFound
	}

	return c.created, nil
}

func (c *capturingStore) GetField(_ context.Context, _, _ string) (string, error) {
	return "", core.ErrNotFound
}

func (c *capturingStore) SetField(_ context.Context, _, _, _ string) error { return nil }

func (c *capturingStore) Increment(_ context.Context, _, _ string, _ int64) (int64, error) {
	return 0, nil
}

func (c *capturingStore) AppendResult(_ context.Context, _ string, _ core.BlockResult) error {
	return nil
}

// capturingDispatcher records dispatched payloads per subject.
type capturingDispatcher struct {
	payloads map[string][][]byte
}

func newCapturingDispatcher() *capturingDispatcher {
	return &capturingDispatcher{payloads: make(map[string][][]byte)}
}

func (c *capturingDispatcher) Dispatch(_ context.Context, subject string, data []byte) error {
	c.payloads[subject] = append(c.payloads[subject], data)

	return nil
}

// recordingAudit records project creations.
type recordingAudit struct {
	created []string
	err     error
}

func (r *recordingAudit) CreateProject(_ context.Context, jobID, _ string) error {
	r.created = append(r.created, jobID)

	return r.err
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()

	log, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	return log
}

func sampleBlocks() []core.BlockUnit {
	return []core.BlockUnit{
		{Text: "first", PauseAfterMS: 500, ProviderID: "openai", VoiceID: "alloy"},
		{Text: "second", PauseAfterMS: 0, ProviderID: "openai", VoiceID: "alloy"},
		{Text: "third", PauseAfterMS: 200, ProviderID: "elevenlabs", VoiceID: "rachel-id"},
	}
}

func TestSubmit_CreatesQueuedRecordAndDispatchesEveryBlock(t *testing.T) {
	t.Parallel()

	store := &capturingStore{}
	dispatcher := newCapturingDispatcher()
	submitter := submit.New(store, dispatcher, "tts.block.assigned", nil, testLogger(t))

	jobID, err := submitter.Submit(context.Background(), "tester", sampleBlocks())
	require.NoError(t, err)

	_, err = uuid.Parse(jobID)
	require.NoError(t, err, "job ids must be uuids")

	require.NotNil(t, store.created)
	assert.Equal(t, jobID, store.created.ID)
	assert.Equal(t, core.StatusQueued, store.created.Status)
	assert.Equal(t, "tester", store.created.SubmittedBy)
	assert.Equal(t, 3, store.created.BlocksTotal)
	assert.Zero(t, store.created.BlocksDone)
	assert.Empty(t, store.created.BlockResults)

	dispatched := dispatcher.payloads["tts.block.assigned"]
	require.Len(t, dispatched, 3)

	for position, payload := range dispatched {
		var event core.BlockAssignedEvent

		require.NoError(t, json.Unmarshal(payload, &event))
		assert.Equal(t, jobID, event.JobID)
		assert.Equal(t, position, event.Index, "indices are assigned by request position")
	}
}

func TestSubmit_ValidatesBlocks(t *testing.T) {
	t.Parallel()

	submitter := submit.New(
		&capturingStore{}, newCapturingDispatcher(), "tts.block.assigned", nil, testLogger(t),
	)
	ctx := context.Background()

	_, err := submitter.Submit(ctx, "tester", nil)
	require.ErrorIs(t, err, core.ErrNoBlocks)

	_, err = submitter.Submit(ctx, "tester", []core.BlockUnit{{Text: ""}})
	require.ErrorIs(t, err, submit.ErrEmptyBlockText)

	_, err = submitter.Submit(ctx, "tester", []core.BlockUnit{
		{Text: "ok", PauseAfterMS: -5},
	})
	require.ErrorIs(t, err, submit.ErrNegativePause)
}

func TestSubmit_StoreFailureAbortsSubmission(t *testing.T) {
	t.Parallel()

	store := &capturingStore{createErr: core.ErrAlreadyExists}
	dispatcher := newCapturingDispatcher()
	submitter := submit.New(store, dispatcher, "tts.block.assigned", nil, testLogger(t))

	_, err := submitter.Submit(context.Background(), "tester", sampleBlocks())
	require.ErrorIs(t, err, core.ErrAlreadyExists)
	assert.Empty(t, dispatcher.payloads, "no block may be dispatched without a record")
}

// TestSubmit_AuditFailureDoesNotBlock: the audit write is best-effort and a
// failing endpoint must not stop the submission.
func TestSubmit_AuditFailureDoesNotBlock(t *testing.T) {
	t.Parallel()

	audit := &recordingAudit{err: errors.New("audit endpoint down")}
	submitter := submit.New(
		&capturingStore{}, newCapturingDispatcher(), "tts.block.assigned", audit, testLogger(t),
	)

	jobID, err := submitter.Submit(context.Background(), "tester", sampleBlocks())
	require.NoError(t, err)
	assert.Equal(t, []string{jobID}, audit.created)
}

func TestStatus(t *testing.T) {
	t.Parallel()

	store := &capturingStore{}
	submitter := submit.New(store, newCapturingDispatcher(), "tts.block.assigned", nil, testLogger(t))
	ctx := context.Background()

	jobID, err := submitter.Submit(ctx, "tester", sampleBlocks())
	require.NoError(t, err)

	record, err := submitter.Status(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, jobID, record.ID)

	_, err = submitter.Status(ctx, uuid.NewString())
	require.ErrorIs(t, err, core.ErrNotFound)
}
