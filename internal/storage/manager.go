package storage

import (
	"context"
	"fmt"

	"github.com/book-expert/logger"

	"github.com/tariq126/TTS-project/internal/core"
)

// Manager persists artifacts through a primary object store and, when
// mirroring is enabled, copies them to a secondary store best-effort. A
// mirror failure is logged and never fails the primary upload.
type Manager struct {
	primary   core.ObjectStore
	secondary core.ObjectStore
	log       *logger.Logger
}

// NewManager creates a storage manager. The secondary store may be nil, in
// which case mirroring is disabled.
func NewManager(primary, secondary core.ObjectStore, log *logger.Logger) *Manager {
	if secondary != nil {
		log.Info("Storage mirroring is enabled.")
	}

	return &Manager{
		primary:   primary,
		secondary: secondary,
		log:       log,
	}
}

// Upload persists an artifact to the primary store and returns its locator.
func (m *Manager) Upload(ctx context.Context, key string, data []byte) (string, error) {
	err := m.primary.Upload(ctx, key, data)
	if err != nil {
		return "", fmt.Errorf("primary upload of '%s' failed: %w", key, err)
	}

	if m.secondary != nil {
		mirrorErr := m.secondary.Upload(ctx, key, data)
		if mirrorErr != nil {
			// The primary upload succeeded; mirroring must not block the flow.
			m.log.Error("Failed to mirror '%s' to secondary storage: %v", key, mirrorErr)
		}
	}

	return key, nil
}

// Download retrieves an artifact from the primary store by its locator.
func (m *Manager) Download(ctx context.Context, locator string) ([]byte, error) {
	data, err := m.primary.Download(ctx, locator)
	if err != nil {
		return nil, fmt.Errorf("failed to download '%s': %w", locator, err)
	}

	return data, nil
}

// Delete removes an artifact from the primary store and, best-effort, from
// the mirror.
func (m *Manager) Delete(ctx context.Context, locator string) error {
	err := m.primary.Delete(ctx, locator)
	if err != nil {
		return fmt.Errorf("failed to delete '%s': %w", locator, err)
	}

	if m.secondary != nil {
		mirrorErr := m.secondary.Delete(ctx, locator)
		if mirrorErr != nil {
			m.log.Warn("Failed to delete mirror copy of '%s': %v", locator, mirrorErr)
		}
	}

	return nil
}
