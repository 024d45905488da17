// Package config_test tests the configuration loading for the orchestrator.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tariq126/TTS-project/internal/config"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[nats]
url = "nats://127.0.0.1:4222"
job_stream_name = "TTS_JOBS"
block_assigned_subject = "tts.block.assigned"
aggregate_job_subject = "tts.job.aggregate"
notify_subject_prefix = "tts.notify"
job_record_bucket = "TTS_JOB_RECORDS"
block_worker_queue_group = "block-workers"
aggregate_queue_group = "aggregate-workers"

[providers.openai]
kind = "openai"
base_url = "https://api.openai.com/v1"
api_key_env = "OPENAI_API_KEY"
model = "tts-1"

[providers.openai.voices]
Alloy = "alloy"
Nova = "nova"

[providers.elevenlabs]
kind = "elevenlabs"
base_url = "https://api.elevenlabs.io"
api_key_env = "ELEVENLABS_API_KEY"
model = "eleven_multilingual_v2"

[storage]
artifact_bucket = "TTS_ARTIFACTS"
mirror_bucket = "TTS_ARTIFACTS_MIRROR"
mirroring = true

[audit]
enabled = true
endpoint = "https://hasura.example.com/v1/graphql"
admin_secret_env = "HASURA_ADMIN_SECRET"
max_attempts = 3
min_delay_seconds = 4
max_delay_seconds = 10
timeout_seconds = 30

[cleanup]
scratch_dir = "/tmp/tts-scratch"
max_age_seconds = 3600
interval_seconds = 3600

[paths]
base_logs_dir = "/var/log/tts-orchestrator"
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "nats://127.0.0.1:4222", cfg.NATS.URL)
	assert.Equal(t, "TTS_JOBS", cfg.NATS.JobStreamName)
	assert.Equal(t, "tts.block.assigned", cfg.NATS.BlockAssignedSubject)
	assert.Equal(t, "tts.job.aggregate", cfg.NATS.AggregateJobSubject)
	assert.Equal(t, "tts.notify", cfg.NATS.NotifySubjectPrefix)
	assert.Equal(t, "TTS_JOB_RECORDS", cfg.NATS.JobRecordBucket)
	assert.Equal(t, "block-workers", cfg.NATS.BlockWorkerQueueGroup)
	assert.Equal(t, "aggregate-workers", cfg.NATS.AggregateQueueGroup)

	require.Contains(t, cfg.Providers, "openai")
	assert.Equal(t, "openai", cfg.Providers["openai"].Kind)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Providers["openai"].APIKeyEnv)
	assert.Equal(t, "alloy", cfg.Providers["openai"].Voices["Alloy"])
	require.Contains(t, cfg.Providers, "elevenlabs")
	assert.Equal(t, "eleven_multilingual_v2", cfg.Providers["elevenlabs"].Model)

	assert.Equal(t, "TTS_ARTIFACTS", cfg.Storage.ArtifactBucket)
	assert.Equal(t, "TTS_ARTIFACTS_MIRROR", cfg.Storage.MirrorBucket)
	assert.True(t, cfg.Storage.Mirroring)

	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, "https://hasura.example.com/v1/graphql", cfg.Audit.Endpoint)
	assert.Equal(t, 3, cfg.Audit.MaxAttempts)
	assert.Equal(t, 4, cfg.Audit.MinDelaySeconds)
	assert.Equal(t, 10, cfg.Audit.MaxDelaySeconds)
	assert.Equal(t, 30, cfg.Audit.TimeoutSeconds)

	assert.Equal(t, "/tmp/tts-scratch", cfg.Cleanup.ScratchDir)
	assert.Equal(t, 3600, cfg.Cleanup.MaxAgeSeconds)
	assert.Equal(t, "/var/log/tts-orchestrator", cfg.Paths.BaseLogsDir)
}
