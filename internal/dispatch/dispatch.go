// Package dispatch provides the task dispatch substrate: JetStream stream
// publishes with at-least-once delivery and no ordering guarantee between
// units of work.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
)

// Publisher implements core.Dispatcher on a JetStream stream.
type Publisher struct {
	jetstreamContext nats.JetStreamContext
	stream           string
}

// New creates a Publisher, ensuring the backing stream exists for the given
// subjects.
func New(
	jetstreamContext nats.JetStreamContext,
	streamName string,
	subjects []string,
) (*Publisher, error) {
	// Use a "create-first" approach.
	_, err := jetstreamContext.AddStream(&nats.StreamConfig{
		Name:     streamName,
		Subjects: subjects,
		Storage:  nats.FileStorage,
		Replicas: 1,
	})

	// If the stream already exists, bind to it.
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
		return nil, fmt.Errorf("failed to create stream '%s': %w", streamName, err)
	}

	return &Publisher{
		jetstreamContext: jetstreamContext,
		stream:           streamName,
	}, nil
}

// Dispatch publishes one unit of work. JetStream acknowledges persistence,
// and consumers may redeliver, so delivery is at-least-once.
func (p *Publisher) Dispatch(ctx context.Context, subject string, data []byte) error {
	_, err := p.jetstreamContext.Publish(subject, data, nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to dispatch to subject '%s': %w", subject, err)
	}

	return nil
}
