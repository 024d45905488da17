package worker_test

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/google/uuid"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariq126/TTS-project/internal/audio"
	"github.com/tariq126/TTS-project/internal/core"
	"github.com/tariq126/TTS-project/internal/jobstore"
	"github.com/tariq126/TTS-project/internal/worker"
)

var testFormat = audio.Format{
	SampleRate:    8000,
	Channels:      1,
	BitsPerSample: 16,
}

type mockProvider struct {
	generateErr error
}

func (m *mockProvider) Generate(_ context.Context, _, _ string) ([]byte, error) {
	if m.generateErr != nil {
		return nil, m.generateErr
	}

	pcm := bytes.Repeat([]byte{0x5A}, 160*testFormat.BytesPerFrame())

	return audio.Encode(testFormat, pcm), nil
}

func (m *mockProvider) Voices() []core.Voice {
	return []core.Voice{{Name: "alloy", VoiceID: "alloy"}}
}

type mockResolver struct {
	providers map[string]core.Provider
}

func (m *mockResolver) Get(name string) (core.Provider, error) {
	backend, ok := m.providers[name]
	if !ok {
		return nil, core.ErrProviderNotFound
	}

	return backend, nil
}

type memoryArtifactStore struct {
	mutex     sync.Mutex
	artifacts map[string][]byte
}

func newMemoryArtifactStore() *memoryArtifactStore {
	return &memoryArtifactStore{artifacts: make(map[string][]byte)}
}

func (m *memoryArtifactStore) Upload(_ context.Context, key string, data []byte) (string, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.artifacts[key] = append([]byte(nil), data...)

	return key, nil
}

func (m *memoryArtifactStore) Download(_ context.Context, locator string) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, ok := m.artifacts[locator]
	if !ok {
		return nil, core.ErrNotFound
	}

	return data, nil
}

func (m *memoryArtifactStore) Delete(_ context.Context, locator string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.artifacts, locator)

	return nil
}

// countingDispatcher records every dispatched unit.
type countingDispatcher struct {
	mutex    sync.Mutex
	subjects []string
}

func (c *countingDispatcher) Dispatch(_ context.Context, subject string, _ []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.subjects = append(c.subjects, subject)

	return nil
}

func (c *countingDispatcher) count() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return len(c.subjects)
}

type recordingNotifier struct {
	mutex          sync.Mutex
	blockCompleted int
	blockFailed    int
}

func (r *recordingNotifier) BlockCompleted(_ context.Context, _ string, _ int, _ string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.blockCompleted++
}

func (r *recordingNotifier) BlockFailed(_ context.Context, _ string, _ int, _ error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.blockFailed++
}

func (r *recordingNotifier) JobCompleted(_ context.Context, _, _ string) {}

func (r *recordingNotifier) JobFailed(_ context.Context, _ string, _ error) {}

type workerHarness struct {
	worker     *worker.BlockWorker
	store      *jobstore.Store
	dispatcher *countingDispatcher
	notifier   *recordingNotifier
	artifacts  *memoryArtifactStore
}

func newWorkerHarness(t *testing.T) *workerHarness {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	natsServer := test.RunServer(&opts)
	t.Cleanup(natsServer.Shutdown)

	natsConnection, err := nats.Connect(natsServer.ClientURL())
	require.NoError(t, err)
	t.Cleanup(natsConnection.Close)

	jetstreamContext, err := natsConnection.JetStream()
	require.NoError(t, err)

	store, err := jobstore.New(jetstreamContext, "test-job-records")
	require.NoError(t, err)

	log, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	dispatcher := &countingDispatcher{}
	notifier := &recordingNotifier{}
	artifacts := newMemoryArtifactStore()

	blockWorker, err := worker.NewBlockWorker(worker.BlockWorkerOptions{
		NatsConnection: natsConnection,
		Subject:        "tts.block.assigned",
		QueueGroup:     "block-workers",
		Store:          store,
		Providers: &mockResolver{
			providers: map[string]core.Provider{"openai": &mockProvider{}},
		},
		Artifacts:        artifacts,
		Dispatcher:       dispatcher,
		Notifier:         notifier,
		AggregateSubject: "tts.job.aggregate",
		ScratchDir:       t.TempDir(),
		Log:              log,
	})
	require.NoError(t, err)

	return &workerHarness{
		worker:     blockWorker,
		store:      store,
		dispatcher: dispatcher,
		notifier:   notifier,
		artifacts:  artifacts,
	}
}

func (h *workerHarness) createJob(t *testing.T, blocks int) string {
	t.Helper()

	jobID := uuid.NewString()

	units := make([]core.BlockUnit, 0, blocks)
	for index := range blocks {
		units = append(units, core.BlockUnit{
			Index:        index,
			Text:         "block text",
			PauseAfterMS: 100,
			ProviderID:   "openai",
			VoiceID:      "alloy",
		})
	}

	record := &core.JobRecord{
		ID:           jobID,
		Status:       core.StatusQueued,
		SubmittedBy:  "tester",
		SubmittedAt:  time.Now().UTC(),
		Blocks:       units,
		BlocksTotal:  blocks,
		BlockResults: []core.BlockResult{},
	}
	require.NoError(t, h.store.CreateJob(context.Background(), record))

	return jobID
}

func blockEvent(jobID string, index int, providerID string) *core.BlockAssignedEvent {
	return &core.BlockAssignedEvent{
		Header:       core.NewEventHeader(jobID),
		JobID:        jobID,
		Index:        index,
		Text:         "block text",
		PauseAfterMS: 100,
		ProviderID:   providerID,
		VoiceID:      "alloy",
	}
}

// TestProcessBlock_ExactlyOneWorkerDispatchesAggregation runs every block of
// a job concurrently and requires that exactly one of them triggers the
// aggregation step, no matter how the completions interleave.
func TestProcessBlock_ExactlyOneWorkerDispatchesAggregation(t *testing.T) {
	t.Parallel()

	harness := newWorkerHarness(t)
	ctx := context.Background()

	const blocks = 8

	jobID := harness.createJob(t, blocks)

	var waitGroup sync.WaitGroup

	for index := range blocks {
		waitGroup.Add(1)

		go func(blockIndex int) {
			defer waitGroup.Done()

			err := harness.worker.ProcessBlock(ctx, blockEvent(jobID, blockIndex, "openai"))
			assert.NoError(t, err)
		}(index)
	}

	waitGroup.Wait()

	assert.Equal(t, 1, harness.dispatcher.count(), "aggregation must be dispatched exactly once")
	assert.Equal(t, blocks, harness.notifier.blockCompleted)

	record, err := harness.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, core.StatusProcessing, record.Status)
	assert.Equal(t, blocks, record.BlocksDone)
	assert.Len(t, record.BlockResults, blocks)
}

func TestProcessBlock_SingleBlockJob(t *testing.T) {
	t.Parallel()

	harness := newWorkerHarness(t)
	ctx := context.Background()

	jobID := harness.createJob(t, 1)
	require.NoError(t, harness.worker.ProcessBlock(ctx, blockEvent(jobID, 0, "openai")))

	assert.Equal(t, 1, harness.dispatcher.count())

	record, err := harness.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	require.Len(t, record.BlockResults, 1)

	artifact, err := harness.artifacts.Download(ctx, record.BlockResults[0].Locator)
	require.NoError(t, err)

	_, _, err = audio.Decode(artifact)
	require.NoError(t, err)
}

// TestProcessBlock_FailureIsFatalForTheJob covers fail-fast: one bad block
// marks the whole job failed, later blocks are skipped, and aggregation is
// never dispatched.
func TestProcessBlock_FailureIsFatalForTheJob(t *testing.T) {
	t.Parallel()

	harness := newWorkerHarness(t)
	ctx := context.Background()

	jobID := harness.createJob(t, 3)

	require.NoError(t, harness.worker.ProcessBlock(ctx, blockEvent(jobID, 0, "openai")))

	err := harness.worker.ProcessBlock(ctx, blockEvent(jobID, 1, "no-such-provider"))
	require.ErrorIs(t, err, core.ErrProviderNotFound)

	// The remaining block arrives after the failure and must be a no-op.
	require.NoError(t, harness.worker.ProcessBlock(ctx, blockEvent(jobID, 2, "openai")))

	assert.Zero(t, harness.dispatcher.count(), "a failed job must never reach aggregation")
	assert.Equal(t, 1, harness.notifier.blockFailed)

	record, getErr := harness.store.GetJob(ctx, jobID)
	require.NoError(t, getErr)
	assert.Equal(t, core.StatusFailed, record.Status)
	assert.Equal(t, 1, record.BlocksDone, "skipped blocks must not advance the counter")
}

func TestProcessBlock_SynthesisErrorMarksJobFailed(t *testing.T) {
	t.Parallel()

	harness := newWorkerHarness(t)
	ctx := context.Background()

	brokenResolver := &mockResolver{
		providers: map[string]core.Provider{
			"openai": &mockProvider{generateErr: assert.AnError},
		},
	}

	log, err := logger.New(t.TempDir(), "test-log.log")
	require.NoError(t, err)
	t.Cleanup(func() { _ = log.Close() })

	blockWorker, err := worker.NewBlockWorker(worker.BlockWorkerOptions{
		NatsConnection:   nil,
		Subject:          "tts.block.assigned",
		QueueGroup:       "block-workers",
		Store:            harness.store,
		Providers:        brokenResolver,
		Artifacts:        harness.artifacts,
		Dispatcher:       harness.dispatcher,
		Notifier:         harness.notifier,
		AggregateSubject: "tts.job.aggregate",
		ScratchDir:       t.TempDir(),
		Log:              log,
	})
	require.NoError(t, err)

	jobID := harness.createJob(t, 1)

	processErr := blockWorker.ProcessBlock(ctx, blockEvent(jobID, 0, "openai"))
	require.ErrorIs(t, processErr, core.ErrSynthesisFailed)

	record, getErr := harness.store.GetJob(ctx, jobID)
	require.NoError(t, getErr)
	assert.Equal(t, core.StatusFailed, record.Status)
	assert.Zero(t, harness.dispatcher.count())
}

// TestProcessBlock_RedeliveryDoesNotDoubleCount replays a unit whose
// completion is already recorded: the counter must not advance a second time
// and aggregation must not fire early.
func TestProcessBlock_RedeliveryDoesNotDoubleCount(t *testing.T) {
	t.Parallel()

	harness := newWorkerHarness(t)
	ctx := context.Background()

	jobID := harness.createJob(t, 2)

	require.NoError(t, harness.worker.ProcessBlock(ctx, blockEvent(jobID, 0, "openai")))
	require.NoError(t, harness.worker.ProcessBlock(ctx, blockEvent(jobID, 0, "openai")))

	record, err := harness.store.GetJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, 1, record.BlocksDone)
	assert.Len(t, record.BlockResults, 1)
	assert.Zero(t, harness.dispatcher.count())

	require.NoError(t, harness.worker.ProcessBlock(ctx, blockEvent(jobID, 1, "openai")))
	assert.Equal(t, 1, harness.dispatcher.count())
}

func TestProcessBlock_UnknownJob(t *testing.T) {
	t.Parallel()

	harness := newWorkerHarness(t)

	err := harness.worker.ProcessBlock(
		context.Background(),
		blockEvent(uuid.NewString(), 0, "openai"),
	)
	require.ErrorIs(t, err, core.ErrNotFound)
}
