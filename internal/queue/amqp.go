package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPBroker implements Broker on RabbitMQ. The topology is declared once at
// construction: durable direct exchanges, durable queues, and the main queue
// configured with the dead-letter exchange so broker-side rejects also land
// in the DLQ. The main and dead queues are bound once per registered source
// name, since routing keys are source identifiers.
type AMQPBroker struct {
	conn     *amqp.Connection
	pubMu    sync.Mutex
	pubCh    *amqp.Channel
	prefetch int
}

func NewAMQPBroker(url string, sources []string, prefetch int) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if err := declareTopology(ch, sources); err != nil {
		_ = conn.Close()
		return nil, err
	}

	if prefetch <= 0 {
		prefetch = 100
	}

	slog.Info("connected to broker", "exchange", MainExchange, "queue", MainQueue, "sources", len(sources))
	return &AMQPBroker{conn: conn, pubCh: ch, prefetch: prefetch}, nil
}

func declareTopology(ch *amqp.Channel, sources []string) error {
	if err := ch.ExchangeDeclare(DeadExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(DeadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead queue: %w", err)
	}

	if err := ch.ExchangeDeclare(MainExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare main exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(MainQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": DeadExchange,
	}); err != nil {
		return fmt.Errorf("declare main queue: %w", err)
	}

	for _, src := range sources {
		if err := ch.QueueBind(MainQueue, src, MainExchange, false, nil); err != nil {
			return fmt.Errorf("bind main queue for %s: %w", src, err)
		}
		if err := ch.QueueBind(DeadQueue, src, DeadExchange, false, nil); err != nil {
			return fmt.Errorf("bind dead queue for %s: %w", src, err)
		}
	}
	return nil
}

func (b *AMQPBroker) Publish(ctx context.Context, msg Message) error {
	return b.publish(ctx, MainExchange, msg)
}

func (b *AMQPBroker) PublishDead(ctx context.Context, msg Message) error {
	return b.publish(ctx, DeadExchange, msg)
}

func (b *AMQPBroker) publish(ctx context.Context, exchange string, msg Message) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	err := b.pubCh.PublishWithContext(ctx, exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.MessageID,
		Body:         msg.Body,
		Headers: amqp.Table{
			retryCountHeader: int32(msg.RetryCount),
		},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", exchange, err)
	}
	return nil
}

// Consume opens a dedicated channel on the shared connection. Each call gets
// its own channel so multiple consumer instances ack independently.
func (b *AMQPBroker) Consume(ctx context.Context) (<-chan Delivery, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("amqp consume channel: %w", err)
	}
	if err := ch.Qos(b.prefetch, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, MainQueue, "", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer func() { _ = ch.Close() }()
		for d := range deliveries {
			select {
			case out <- &amqpDelivery{d: d}:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}()
	return out, nil
}

func (b *AMQPBroker) Close() error {
	return b.conn.Close()
}

type amqpDelivery struct {
	d amqp.Delivery
}

func (a *amqpDelivery) MessageID() string  { return a.d.MessageId }
func (a *amqpDelivery) RoutingKey() string { return a.d.RoutingKey }
func (a *amqpDelivery) Body() []byte       { return a.d.Body }

func (a *amqpDelivery) RetryCount() int {
	v, ok := a.d.Headers[retryCountHeader]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int32:
		return int(n)
	case int64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}

func (a *amqpDelivery) Ack() error    { return a.d.Ack(false) }
func (a *amqpDelivery) Reject() error { return a.d.Reject(false) }
