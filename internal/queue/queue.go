// Package queue is the durable broker boundary between the scrape side and
// the persistence side of the pipeline. One main exchange/queue carries
// freshly published records; one dead-letter exchange/queue holds messages
// that exhausted their retry budget. Retry counts are stamped into the
// x-retry-count header by whoever re-publishes a failed message; the broker
// itself does not count.
package queue

import "context"

// Topology names, shared by every process attached to the pipeline.
const (
	MainExchange = "scraped_jobs_exchange"
	MainQueue    = "scraped_jobs"
	DeadExchange = "scraped_jobs_dlx"
	DeadQueue    = "scraped_jobs_dlq"
)

const retryCountHeader = "x-retry-count"

// Message is one publishable unit. Body is an encoded listing.Envelope.
type Message struct {
	MessageID  string
	RoutingKey string
	Body       []byte
	RetryCount int
}

// Delivery is one message handed to a consumer. Ack removes it from the main
// queue; Reject discards it to the dead-letter queue without requeueing.
// Exactly one of the two must be called per delivery.
type Delivery interface {
	MessageID() string
	RoutingKey() string
	Body() []byte
	RetryCount() int
	Ack() error
	Reject() error
}

// Broker is the durable queue contract. Publish targets the main exchange,
// PublishDead the dead-letter exchange; both use the message's routing key
// (the source identifier). Consume may be called by any number of consumer
// instances; the broker distributes disjoint deliveries among them.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	PublishDead(ctx context.Context, msg Message) error
	Consume(ctx context.Context) (<-chan Delivery, error)
	Close() error
}
