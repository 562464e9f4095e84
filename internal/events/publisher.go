package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrPublishFailed wraps any broker fault during publish. Callers log it and
// move on: a failed publish never rolls back already-committed account state.
var ErrPublishFailed = errors.New("event publish failed")

// Publisher pushes account facts onto the durable topic exchange. It holds
// one long-lived connection and confirm-mode channel per process, opened at
// startup and closed only at shutdown, and waits for the broker confirmation
// before returning from Publish.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	timeout time.Duration
	logger  *zap.Logger
}

// NewPublisher dials the broker, asserts the exchange, and puts the channel
// in confirm mode. timeout bounds each publish round trip.
func NewPublisher(url string, timeout time.Duration, logger *zap.Logger) (*Publisher, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	if err := channel.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	if err := channel.Confirm(false); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	return &Publisher{conn: conn, channel: channel, timeout: timeout, logger: logger}, nil
}

// PublishUserCreated emits the account-created fact with routing key
// user.created and blocks until the broker confirms delivery or the timeout
// elapses.
func (p *Publisher) PublishUserCreated(ctx context.Context, fact UserCreated) error {
	body, err := json.Marshal(fact)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	confirmation, err := p.channel.PublishWithDeferredConfirmWithContext(
		ctx,
		Exchange,
		UserCreatedKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    fact.ID,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}
	if !acked {
		return fmt.Errorf("%w: broker nacked delivery", ErrPublishFailed)
	}

	p.logger.Info("published user.created", zap.String("id", fact.ID))
	return nil
}

// Close tears down the channel and connection at process shutdown.
func (p *Publisher) Close() error {
	var errs []error
	if err := p.channel.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.conn.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
