// main package for the tts-submit command-line client.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/tariq126/TTS-project/internal/config"
	"github.com/tariq126/TTS-project/internal/core"
	"github.com/tariq126/TTS-project/internal/dispatch"
	"github.com/tariq126/TTS-project/internal/jobstore"
	"github.com/tariq126/TTS-project/internal/submit"
)

// Flag names and descriptions.
const (
	flagBlocks      = "blocks"
	flagBlocksDesc  = "JSON file containing the blocks to synthesize"
	flagBy          = "submitted-by"
	flagByDesc      = "Submitter identity recorded on the job"
	flagWait        = "wait"
	flagWaitDesc    = "Poll the job until it reaches a terminal state"
	flagTimeout     = "timeout"
	flagTimeoutDesc = "Maximum time to wait for completion"
)

// Messages.
const (
	errBlocksRequired = "--blocks must be provided"
	logFileName       = "tts-submit.log"

	pollInterval = 2 * time.Second
)

type appFlags struct {
	blocks      string
	submittedBy string
	wait        bool
	timeout     time.Duration
}

func main() {
	err := run()
	if err != nil {
		// The logger may not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags := parseFlags()
	if flags.blocks == "" {
		flag.Usage()

		return errors.New(errBlocksRequired)
	}

	blocks, err := readBlocksFile(flags.blocks)
	if err != nil {
		return err
	}

	bootstrapLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing logger: %v\n", closeErr)
		}
	}()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	submitter, err := buildSubmitter(cfg, bootstrapLog)
	if err != nil {
		return err
	}

	ctx := context.Background()

	jobID, err := submitter.Submit(ctx, flags.submittedBy, blocks)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	fmt.Printf("Submitted job: %s\n", jobID)

	if flags.wait {
		return waitForJob(ctx, submitter, jobID, flags.timeout)
	}

	return nil
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.blocks, flagBlocks, "", flagBlocksDesc)
	flag.StringVar(&flags.submittedBy, flagBy, "", flagByDesc)
	flag.BoolVar(&flags.wait, flagWait, false, flagWaitDesc)
	flag.DurationVar(&flags.timeout, flagTimeout, 10*time.Minute, flagTimeoutDesc)
	flag.Parse()

	return flags
}

// readBlocksFile reads and parses a JSON file containing an array of blocks.
func readBlocksFile(path string) ([]core.BlockUnit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read blocks file: %w", err)
	}

	var blocks []core.BlockUnit

	err = json.Unmarshal(data, &blocks)
	if err != nil {
		return nil, fmt.Errorf("failed to parse blocks JSON: %w", err)
	}

	return blocks, nil
}

func buildSubmitter(cfg *config.Config, log *logger.Logger) (*submit.Submitter, error) {
	natsConnection, err := nats.Connect(cfg.NATS.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	store, err := jobstore.New(jetstreamContext, cfg.NATS.JobRecordBucket)
	if err != nil {
		return nil, err
	}

	dispatcher, err := dispatch.New(jetstreamContext, cfg.NATS.JobStreamName, []string{
		cfg.NATS.BlockAssignedSubject,
		cfg.NATS.AggregateJobSubject,
	})
	if err != nil {
		return nil, err
	}

	return submit.New(store, dispatcher, cfg.NATS.BlockAssignedSubject, nil, log), nil
}

// waitForJob polls the job record until it reaches a terminal state.
func waitForJob(
	ctx context.Context,
	submitter *submit.Submitter,
	jobID string,
	timeout time.Duration,
) error {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		record, err := submitter.Status(ctx, jobID)
		if err != nil {
			return err
		}

		fmt.Printf("Job %s: %s (%d/%d blocks)\n",
			jobID, record.Status, record.BlocksDone, record.BlocksTotal)

		if record.Status.Terminal() {
			if record.Status == core.StatusFailed {
				return fmt.Errorf("%w: %s", core.ErrJobFailed, jobID)
			}

			fmt.Printf("Result: %s\n", record.ResultLocator)

			return nil
		}

		time.Sleep(pollInterval)
	}

	return fmt.Errorf("job %s did not finish within %s", jobID, timeout)
}
