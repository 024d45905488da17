package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/tariq126/TTS-project/internal/aggregate"
	"github.com/tariq126/TTS-project/internal/core"
)

const aggregateMessageTimeout = 600 * time.Second

// AggregateWorker listens for aggregation units and runs the aggregation
// step. The substrate may redeliver a unit; the step itself is idempotent.
type AggregateWorker struct {
	natsConnection *nats.Conn
	subject        string
	queueGroup     string
	aggregator     *aggregate.Aggregator
	log            *logger.Logger
}

// NewAggregateWorker creates a new instance of an aggregate worker.
func NewAggregateWorker(
	natsConnection *nats.Conn,
	subject string,
	queueGroup string,
	aggregator *aggregate.Aggregator,
	log *logger.Logger,
) (*AggregateWorker, error) {
	return &AggregateWorker{
		natsConnection: natsConnection,
		subject:        subject,
		queueGroup:     queueGroup,
		aggregator:     aggregator,
		log:            log,
	}, nil
}

// Run starts the worker and begins listening for aggregation units.
func (w *AggregateWorker) Run(ctx context.Context) error {
	sub, err := w.natsConnection.QueueSubscribe(w.subject, w.queueGroup, w.handleMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", w.subject, err)
	}

	<-ctx.Done()

	drainErr := sub.Drain()
	if drainErr != nil {
		return fmt.Errorf("failed to drain subscription: %w", drainErr)
	}

	return nil
}

func (w *AggregateWorker) handleMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), aggregateMessageTimeout)
	defer cancel()

	var event core.AggregateJobEvent

	err := json.Unmarshal(msg.Data, &event)
	if err != nil {
		w.log.Error("Failed to unmarshal aggregate event: %v", err)

		return
	}

	err = w.aggregator.Run(ctx, event.JobID)
	if err != nil {
		w.log.Error("Aggregation for job %s failed: %v", event.JobID, err)
	}
}
