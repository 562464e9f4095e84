package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrConsumerClosed is returned when the broker closes the delivery stream.
var ErrConsumerClosed = errors.New("consumer channel closed")

// Applier receives each decoded fact. The consumer acknowledges a delivery
// only after Apply returns nil; delivery is therefore at-least-once end to
// end and Apply must be idempotent.
type Applier interface {
	Apply(ctx context.Context, fact UserCreated) error
}

// ApplierFunc adapts a function to the Applier interface.
type ApplierFunc func(ctx context.Context, fact UserCreated) error

// Apply calls the wrapped function.
func (f ApplierFunc) Apply(ctx context.Context, fact UserCreated) error {
	return f(ctx, fact)
}

// Consumer holds one long-lived subscription on an exclusive anonymous queue
// bound to user.created. Poison messages are retried a bounded number of
// times via republish with an incremented retry header, then logged and
// dropped; they are never blind-acked.
type Consumer struct {
	conn       *amqp.Connection
	channel    *amqp.Channel
	queue      string
	applier    Applier
	maxRetries int
	logger     *zap.Logger
}

// NewConsumer dials the broker, asserts the exchange, and binds a fresh
// exclusive queue to the user.created routing key.
func NewConsumer(url string, applier Applier, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("consumer dial: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consumer channel: %w", err)
	}

	if err := channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("consumer exchange declare: %w", err)
	}

	queue, err := channel.QueueDeclare("", false, false, true, false, nil)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("consumer queue declare: %w", err)
	}

	if err := channel.QueueBind(queue.Name, UserCreatedKey, Exchange, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("consumer queue bind: %w", err)
	}

	return &Consumer{
		conn:       conn,
		channel:    channel,
		queue:      queue.Name,
		applier:    applier,
		maxRetries: defaultMaxRetries,
		logger:     logger,
	}, nil
}

// Run consumes deliveries sequentially until the context is cancelled or the
// broker closes the stream. Acknowledgement happens only after the replica
// upsert durably completes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.channel.Consume(c.queue, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return ErrConsumerClosed
			}
			c.handle(ctx, delivery)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	var fact UserCreated
	applyErr := json.Unmarshal(delivery.Body, &fact)
	if applyErr == nil {
		applyErr = c.applier.Apply(ctx, fact)
	}

	if applyErr == nil {
		if err := delivery.Ack(false); err != nil {
			c.logger.Error("ack failed", zap.Error(err))
		}
		return
	}

	attempts := retryCount(delivery.Headers)
	if attempts >= c.maxRetries {
		c.logger.Error("dropping poison message after retries",
			zap.Int("attempts", attempts),
			zap.String("messageId", delivery.MessageId),
			zap.Error(applyErr),
		)
		if err := delivery.Ack(false); err != nil {
			c.logger.Error("ack failed", zap.Error(err))
		}
		return
	}

	if err := c.requeue(ctx, delivery, attempts+1); err != nil {
		c.logger.Error("requeue failed, leaving delivery unacked", zap.Error(err))
		// Unacked delivery returns to the queue when the channel drops.
		_ = delivery.Nack(false, true)
		return
	}

	c.logger.Warn("requeued failed message",
		zap.Int("attempt", attempts+1),
		zap.String("messageId", delivery.MessageId),
		zap.Error(applyErr),
	)
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("ack failed", zap.Error(err))
	}
}

// requeue republishes the original body with an incremented retry header so
// the bounded-retry count survives broker round trips. Going back through the
// exchange re-delivers the fact to every bound queue, not just this one;
// appliers must absorb the duplicate upsert. TODO: bind a per-service retry
// queue on a dedicated routing key to scope retries to the failing consumer.
func (c *Consumer) requeue(ctx context.Context, delivery amqp.Delivery, attempt int) error {
	headers := amqp.Table{}
	for k, v := range delivery.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(attempt)

	return c.channel.PublishWithContext(
		ctx,
		Exchange,
		delivery.RoutingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  delivery.ContentType,
			DeliveryMode: amqp.Persistent,
			MessageId:    delivery.MessageId,
			Headers:      headers,
			Body:         delivery.Body,
		},
	)
}

// Close tears down the subscription at process shutdown.
func (c *Consumer) Close() error {
	var errs []error
	if err := c.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := c.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
