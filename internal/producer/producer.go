// Package producer turns extracted records into durable queue messages. It
// sits between the orchestrator and the broker and never blocks on anything
// downstream of the queue.
package producer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jobgtm/jobs-ingest/internal/listing"
	"github.com/jobgtm/jobs-ingest/internal/queue"
)

const (
	defaultAttempts = 3
	defaultBackoff  = 200 * time.Millisecond
	maxBackoff      = 5 * time.Second
)

type Producer struct {
	broker   queue.Broker
	attempts int
	backoff  time.Duration
}

func New(broker queue.Broker, opts ...Option) *Producer {
	p := &Producer{
		broker:   broker,
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

type Option func(*Producer)

func WithAttempts(n int) Option {
	return func(p *Producer) {
		if n > 0 {
			p.attempts = n
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(p *Producer) {
		if d > 0 {
			p.backoff = d
		}
	}
}

// Publish wraps the record in an envelope and publishes it persistently to
// the main exchange, routing key = source. A broker ack confirms acceptance
// by the queue, not persistence to the store. Broker errors are retried with
// capped exponential backoff before the record is given up on.
func (p *Producer) Publish(ctx context.Context, rec listing.JobRecord) error {
	env := listing.Envelope{
		MessageID:  uuid.NewString(),
		Source:     rec.Source,
		EnqueuedAt: time.Now().UTC(),
		JobRecord:  rec,
	}

	body, err := env.Encode()
	if err != nil {
		return err
	}

	msg := queue.Message{
		MessageID:  env.MessageID,
		RoutingKey: rec.Source,
		Body:       body,
	}

	var lastErr error
	backoff := p.backoff
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if lastErr = p.broker.Publish(ctx, msg); lastErr == nil {
			return nil
		}

		if attempt == p.attempts {
			break
		}
		slog.Warn("publish failed, retrying",
			"source", rec.Source, "attempt", attempt, "backoff", backoff.String(), "error", lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("publish %s: %w", rec.Source, ctx.Err())
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}

	return fmt.Errorf("publish %s after %d attempts: %w", rec.Source, p.attempts, lastErr)
}
