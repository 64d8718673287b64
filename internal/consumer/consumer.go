// Package consumer drains the queue in bounded batches and turns them into
// idempotent store writes. Acknowledgement is per message, never per batch:
// only rows the store genuinely handled (inserted or absorbed as duplicates)
// are acked; rows that failed transiently go back through the retry path.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/jobgtm/jobs-ingest/internal/listing"
	"github.com/jobgtm/jobs-ingest/internal/queue"
)

const (
	defaultBatchSize    = 50
	defaultBatchTimeout = 2 * time.Second
	defaultMaxRetries   = 3
)

type Consumer struct {
	broker       queue.Broker
	store        listing.Repository
	batchSize    int
	batchTimeout time.Duration
	maxRetries   int
}

func New(broker queue.Broker, store listing.Repository, opts ...Option) *Consumer {
	c := &Consumer{
		broker:       broker,
		store:        store,
		batchSize:    defaultBatchSize,
		batchTimeout: defaultBatchTimeout,
		maxRetries:   defaultMaxRetries,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type Option func(*Consumer)

func WithBatchSize(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

func WithBatchTimeout(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.batchTimeout = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(c *Consumer) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// Run consumes until ctx is cancelled or the broker closes. It may be called
// once per consumer instance; instances share nothing but the broker and the
// store, so any number can run against the same queue.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.broker.Consume(ctx)
	if err != nil {
		return err
	}

	slog.Info("consumer started", "batchSize", c.batchSize, "batchTimeout", c.batchTimeout.String())

	for {
		// Block until the first message of the next batch arrives. An empty
		// window is not a flush; collection simply restarts.
		var batch []queue.Delivery
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			batch = append(batch, d)
		}

		closed := false
		timer := time.NewTimer(c.batchTimeout)
	collect:
		for len(batch) < c.batchSize {
			select {
			case <-ctx.Done():
				break collect
			case <-timer.C:
				break collect
			case d, ok := <-deliveries:
				if !ok {
					closed = true
					break collect
				}
				batch = append(batch, d)
			}
		}
		timer.Stop()

		// Flush with a background context so messages already in hand are
		// persisted (or properly requeued) during shutdown rather than lost
		// to a cancelled write.
		c.flush(context.WithoutCancel(ctx), batch)

		if closed {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) flush(ctx context.Context, batch []queue.Delivery) {
	records := make([]listing.JobRecord, 0, len(batch))
	kept := make([]queue.Delivery, 0, len(batch))

	for _, d := range batch {
		env, err := listing.DecodeEnvelope(d.Body())
		if err != nil {
			// Malformed bodies can never succeed; straight to the DLQ.
			slog.Error("malformed message rejected", "messageId", d.MessageID(), "error", err)
			_ = d.Reject()
			continue
		}
		rec := env.JobRecord
		if rec.Source == "" {
			rec.Source = env.Source
		}
		records = append(records, rec)
		kept = append(kept, d)
	}

	if len(records) == 0 {
		return
	}

	result, err := c.store.UpsertBatch(ctx, records)
	if err != nil {
		// Whole-batch failure (store unreachable): every row takes the
		// transient path individually.
		slog.Error("batch write failed", "size", len(records), "error", err)
		for _, d := range kept {
			c.retryOrDeadLetter(ctx, d)
		}
		return
	}

	failed := make(map[int]bool, len(result.Failed))
	for _, idx := range result.Failed {
		failed[idx] = true
	}

	for i, d := range kept {
		if failed[i] {
			c.retryOrDeadLetter(ctx, d)
			continue
		}
		if err := d.Ack(); err != nil {
			slog.Error("ack failed", "messageId", d.MessageID(), "error", err)
		}
	}

	slog.Info("batch processed",
		"size", len(records),
		"inserted", result.Inserted,
		"duplicates", result.Duplicates,
		"failed", len(result.Failed),
	)
}

// retryOrDeadLetter re-publishes the message to the main exchange with the
// retry count bumped, or to the dead-letter exchange once the ceiling is
// reached. Either way the original delivery is acked so it leaves the main
// queue exactly once.
func (c *Consumer) retryOrDeadLetter(ctx context.Context, d queue.Delivery) {
	count := d.RetryCount()
	msg := queue.Message{
		MessageID:  d.MessageID(),
		RoutingKey: d.RoutingKey(),
		Body:       d.Body(),
		RetryCount: count + 1,
	}

	if count < c.maxRetries {
		if err := c.broker.Publish(ctx, msg); err != nil {
			slog.Error("requeue failed, rejecting to DLQ", "messageId", d.MessageID(), "error", err)
			_ = d.Reject()
			return
		}
		slog.Warn("message requeued", "messageId", d.MessageID(), "attempt", count+1, "max", c.maxRetries)
		_ = d.Ack()
		return
	}

	msg.RetryCount = count
	if err := c.broker.PublishDead(ctx, msg); err != nil {
		slog.Error("dead-letter publish failed, rejecting", "messageId", d.MessageID(), "error", err)
		_ = d.Reject()
		return
	}
	slog.Error("message dead-lettered", "messageId", d.MessageID(), "retries", count)
	_ = d.Ack()
}
