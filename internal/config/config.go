// Package config provides the configuration structure for the TTS orchestrator.
package config

import (
	"fmt"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
)

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                   string `toml:"url"`
	JobStreamName         string `toml:"job_stream_name"`
	BlockAssignedSubject  string `toml:"block_assigned_subject"`
	AggregateJobSubject   string `toml:"aggregate_job_subject"`
	NotifySubjectPrefix   string `toml:"notify_subject_prefix"`
	JobRecordBucket       string `toml:"job_record_bucket"`
	BlockWorkerQueueGroup string `toml:"block_worker_queue_group"`
	AggregateQueueGroup   string `toml:"aggregate_queue_group"`
}

// ProviderConfig describes one named synthesis backend in the provider arena.
type ProviderConfig struct {
	Kind      string            `toml:"kind"`
	BaseURL   string            `toml:"base_url"`
	APIKeyEnv string            `toml:"api_key_env"`
	Model     string            `toml:"model"`
	Voices    map[string]string `toml:"voices"`
}

// StorageConfig holds the artifact storage configuration.
type StorageConfig struct {
	ArtifactBucket string `toml:"artifact_bucket"`
	MirrorBucket   string `toml:"mirror_bucket"`
	Mirroring      bool   `toml:"mirroring"`
}

// AuditConfig holds the configuration for the audit mutation client.
type AuditConfig struct {
	Enabled         bool   `toml:"enabled"`
	Endpoint        string `toml:"endpoint"`
	AdminSecretEnv  string `toml:"admin_secret_env"`
	MaxAttempts     int    `toml:"max_attempts"`
	MinDelaySeconds int    `toml:"min_delay_seconds"`
	MaxDelaySeconds int    `toml:"max_delay_seconds"`
	TimeoutSeconds  int    `toml:"timeout_seconds"`
}

// CleanupConfig holds the scratch directory sweep configuration.
type CleanupConfig struct {
	ScratchDir      string `toml:"scratch_dir"`
	MaxAgeSeconds   int    `toml:"max_age_seconds"`
	IntervalSeconds int    `toml:"interval_seconds"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
}

// Config is the root configuration structure.
type Config struct {
	NATS      NATSConfig                `toml:"nats"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Storage   StorageConfig             `toml:"storage"`
	Audit     AuditConfig               `toml:"audit"`
	Cleanup   CleanupConfig             `toml:"cleanup"`
	Paths     PathsConfig               `toml:"paths"`
}

// Load loads the configuration for the TTS orchestrator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return &cfg, nil
}
