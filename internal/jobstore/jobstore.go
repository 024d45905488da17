// Package jobstore provides a NATS JetStream key-value implementation of the
// job record store.
//
// Each job record is a set of string-encoded fields keyed "<jobID>.<field>".
// Single-field reads and writes map directly onto KV operations; Increment
// and AppendResult are built on revision-guarded updates, so every concurrent
// caller observes a distinct post-mutation state and no update is ever lost.
package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tariq126/TTS-project/internal/core"
)

// ErrBlockCountMismatch indicates a record whose blocks_total disagrees with
// its block list.
var ErrBlockCountMismatch = errors.New("blocks_total does not match the block list")

// Store implements core.RecordStore on a JetStream key-value bucket.
type Store struct {
	keyValue nats.KeyValue
	bucket   string
}

// New creates and initializes a new Store.
func New(jetstreamContext nats.JetStreamContext, bucketName string) (*Store, error) {
	// Use a "create-first" approach.
	keyValue, err := jetstreamContext.CreateKeyValue(&nats.KeyValueConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Job records for the %s bucket.", bucketName),
	})

	// If the bucket already exists, bind to it.
	if err != nil {
		keyValue, err = jetstreamContext.KeyValue(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to job record bucket '%s': %w", bucketName, err)
		}
	}

	return &Store{
		keyValue: keyValue,
		bucket:   bucketName,
	}, nil
}

func fieldKey(jobID, field string) string {
	return jobID + "." + field
}

// CreateJob stores a new job record. The id field is claimed with a
// create-only write, so a second submission with the same id fails with
// core.ErrAlreadyExists before any other field is touched.
func (s *Store) CreateJob(_ context.Context, record *core.JobRecord) error {
	// Downstream consumers index the block list by blocks_total positions;
	// reject a disagreeing record before it is persisted.
	if record.BlocksTotal != len(record.Blocks) {
		return fmt.Errorf("%w: total %d, %d block(s) for job '%s'",
			ErrBlockCountMismatch, record.BlocksTotal, len(record.Blocks), record.ID)
	}

	_, err := s.keyValue.Create(fieldKey(record.ID, core.FieldID), []byte(record.ID))
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) {
			return fmt.Errorf("%w: %s", core.ErrAlreadyExists, record.ID)
		}

		return fmt.Errorf("failed to claim job record '%s' in bucket '%s': %w",
			record.ID, s.bucket, err)
	}

	blocksJSON, err := json.Marshal(record.Blocks)
	if err != nil {
		return fmt.Errorf("failed to encode blocks for job '%s': %w", record.ID, err)
	}

	resultsJSON, err := json.Marshal(record.BlockResults)
	if err != nil {
		return fmt.Errorf("failed to encode block results for job '%s': %w", record.ID, err)
	}

	fields := map[string]string{
		core.FieldStatus:        string(record.Status),
		core.FieldSubmittedBy:   record.SubmittedBy,
		core.FieldSubmittedAt:   record.SubmittedAt.UTC().Format(time.RFC3339Nano),
		core.FieldBlocks:        string(blocksJSON),
		core.FieldBlocksTotal:   strconv.Itoa(record.BlocksTotal),
		core.FieldBlocksDone:    strconv.Itoa(record.BlocksDone),
		core.FieldBlockResults:  string(resultsJSON),
		core.FieldResultLocator: record.ResultLocator,
	}

	for field, value := range fields {
		_, putErr := s.keyValue.Put(fieldKey(record.ID, field), []byte(value))
		if putErr != nil {
			return fmt.Errorf("failed to write field '%s' for job '%s': %w", field, record.ID, putErr)
		}
	}

	return nil
}

// GetField reads one string-encoded field of a job record.
func (s *Store) GetField(_ context.Context, jobID, field string) (string, error) {
	entry, err := s.keyValue.Get(fieldKey(jobID, field))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: job '%s' field '%s'", core.ErrNotFound, jobID, field)
		}

		return "", fmt.Errorf("failed to read field '%s' for job '%s' from bucket '%s': %w",
			field, jobID, s.bucket, err)
	}

	return string(entry.Value()), nil
}

// SetField unconditionally overwrites one field of a job record.
func (s *Store) SetField(_ context.Context, jobID, field, value string) error {
	_, err := s.keyValue.Put(fieldKey(jobID, field), []byte(value))
	if err != nil {
		return fmt.Errorf("failed to write field '%s' for job '%s' to bucket '%s': %w",
			field, jobID, s.bucket, err)
	}

	return nil
}

// Increment atomically adds delta to an integer-encoded field and returns
// the post-increment value. The update is guarded by the entry revision, so
// concurrent callers serialize through the bucket and each one returns a
// distinct value.
func (s *Store) Increment(ctx context.Context, jobID, field string, delta int64) (int64, error) {
	key := fieldKey(jobID, field)

	for {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return 0, fmt.Errorf("increment of '%s' for job '%s' canceled: %w", field, jobID, ctxErr)
		}

		entry, err := s.keyValue.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				return 0, fmt.Errorf("%w: job '%s' field '%s'", core.ErrNotFound, jobID, field)
			}

			return 0, fmt.Errorf("failed to read field '%s' for job '%s': %w", field, jobID, err)
		}

		current, err := strconv.ParseInt(string(entry.Value()), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("field '%s' of job '%s' is not integer-encoded: %w", field, jobID, err)
		}

		next := current + delta

		_, err = s.keyValue.Update(key, []byte(strconv.FormatInt(next, 10)), entry.Revision())
		if err == nil {
			return next, nil
		}
		// Lost the revision race to a concurrent caller; reload and retry.
	}
}

// AppendResult atomically merges one block result into the result set. The
// merge is revision-guarded like Increment, so two workers appending
// concurrently cannot lose an entry. Appending an index that is already
// present fails with core.ErrAlreadyExists.
func (s *Store) AppendResult(ctx context.Context, jobID string, result core.BlockResult) error {
	key := fieldKey(jobID, core.FieldBlockResults)

	for {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			return fmt.Errorf("result append for job '%s' canceled: %w", jobID, ctxErr)
		}

		entry, err := s.keyValue.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				return fmt.Errorf("%w: job '%s'", core.ErrNotFound, jobID)
			}

			return fmt.Errorf("failed to read block results for job '%s': %w", jobID, err)
		}

		var results []core.BlockResult

		err = json.Unmarshal(entry.Value(), &results)
		if err != nil {
			return fmt.Errorf("failed to decode block results for job '%s': %w", jobID, err)
		}

		for _, existing := range results {
			if existing.Index == result.Index {
				return fmt.Errorf("%w: result for block %d of job '%s'",
					core.ErrAlreadyExists, result.Index, jobID)
			}
		}

		results = append(results, result)

		updated, err := json.Marshal(results)
		if err != nil {
			return fmt.Errorf("failed to encode block results for job '%s': %w", jobID, err)
		}

		_, err = s.keyValue.Update(key, updated, entry.Revision())
		if err == nil {
			return nil
		}
		// Lost the revision race to a concurrent caller; reload and retry.
	}
}

// GetJob loads the full job record.
func (s *Store) GetJob(ctx context.Context, jobID string) (*core.JobRecord, error) {
	record := &core.JobRecord{ID: jobID}

	idValue, err := s.GetField(ctx, jobID, core.FieldID)
	if err != nil {
		return nil, err
	}

	record.ID = idValue

	statusValue, err := s.GetField(ctx, jobID, core.FieldStatus)
	if err != nil {
		return nil, err
	}

	record.Status = core.JobStatus(statusValue)

	record.SubmittedBy, err = s.GetField(ctx, jobID, core.FieldSubmittedBy)
	if err != nil {
		return nil, err
	}

	submittedAt, err := s.GetField(ctx, jobID, core.FieldSubmittedAt)
	if err != nil {
		return nil, err
	}

	record.SubmittedAt, err = time.Parse(time.RFC3339Nano, submittedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse submitted_at for job '%s': %w", jobID, err)
	}

	err = s.loadBlocks(ctx, record)
	if err != nil {
		return nil, err
	}

	err = s.loadProgress(ctx, record)
	if err != nil {
		return nil, err
	}

	record.ResultLocator, err = s.GetField(ctx, jobID, core.FieldResultLocator)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (s *Store) loadBlocks(ctx context.Context, record *core.JobRecord) error {
	blocksJSON, err := s.GetField(ctx, record.ID, core.FieldBlocks)
	if err != nil {
		return err
	}

	err = json.Unmarshal([]byte(blocksJSON), &record.Blocks)
	if err != nil {
		return fmt.Errorf("failed to decode blocks for job '%s': %w", record.ID, err)
	}

	resultsJSON, err := s.GetField(ctx, record.ID, core.FieldBlockResults)
	if err != nil {
		return err
	}

	err = json.Unmarshal([]byte(resultsJSON), &record.BlockResults)
	if err != nil {
		return fmt.Errorf("failed to decode block results for job '%s': %w", record.ID, err)
	}

	return nil
}

func (s *Store) loadProgress(ctx context.Context, record *core.JobRecord) error {
	totalValue, err := s.GetField(ctx, record.ID, core.FieldBlocksTotal)
	if err != nil {
		return err
	}

	record.BlocksTotal, err = strconv.Atoi(totalValue)
	if err != nil {
		return fmt.Errorf("failed to parse blocks_total for job '%s': %w", record.ID, err)
	}

	doneValue, err := s.GetField(ctx, record.ID, core.FieldBlocksDone)
	if err != nil {
		return err
	}

	record.BlocksDone, err = strconv.Atoi(doneValue)
	if err != nil {
		return fmt.Errorf("failed to parse blocks_done for job '%s': %w", record.ID, err)
	}

	return nil
}
