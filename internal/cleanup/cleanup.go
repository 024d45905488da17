// Package cleanup implements the time-based scratch sweep. Block workers
// deliberately leave their scratch files behind; this sweep owns their
// lifetime and deletes anything older than the configured age, decoupling
// cleanup timing from job completion.
package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
)

// Sweeper deletes scratch files older than a configured age on a fixed
// interval.
type Sweeper struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	log      *logger.Logger
}

// New creates a Sweeper for the given scratch directory.
func New(dir string, maxAge, interval time.Duration, log *logger.Logger) *Sweeper {
	return &Sweeper{
		dir:      dir,
		maxAge:   maxAge,
		interval: interval,
		log:      log,
	}
}

// Run sweeps on every tick until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			deleted, err := s.Sweep()
			if err != nil {
				s.log.Error("Scratch sweep failed: %v", err)

				continue
			}

			if deleted > 0 {
				s.log.Info("Scratch sweep deleted %d old file(s).", deleted)
			}
		}
	}
}

// Sweep deletes every regular file in the scratch directory whose
// modification time is older than the configured age. It returns the number
// of files deleted.
func (s *Sweeper) Sweep() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read scratch directory '%s': %w", s.dir, err)
	}

	cutoff := time.Now().Add(-s.maxAge)
	deleted := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			s.log.Warn("Failed to stat scratch file '%s': %v", entry.Name(), infoErr)

			continue
		}

		if info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())

		removeErr := os.Remove(path)
		if removeErr != nil {
			s.log.Warn("Failed to delete scratch file '%s': %v", path, removeErr)

			continue
		}

		deleted++
	}

	return deleted, nil
}
