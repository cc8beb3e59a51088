// Package queue consumes trading signals from RabbitMQ and drives the
// processor, owning the acknowledge/retry policy.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"signal-trader/internal/domain"
	"signal-trader/internal/observability"
	"signal-trader/internal/processor"
)

// Consumer defaults.
const (
	DefaultQueue           = "trading_signals"
	DefaultPrefetch        = 8
	DefaultMaxRedeliveries = 5

	reconnectDelay    = 1 * time.Second
	maxReconnectDelay = 30 * time.Second

	retryDelay    = 1 * time.Second
	maxRetryDelay = 30 * time.Second
)

// Config configures the consumer.
type Config struct {
	URL             string
	Queue           string
	Prefetch        int
	MaxRedeliveries int
}

// Consumer is a long-running signal consumer. Messages are acknowledged only
// after the local transaction commits: a crash before commit causes
// redelivery, which the duplicate-rejection rules absorb.
type Consumer struct {
	config    Config
	processor *processor.Processor
	logger    *zap.Logger
	metrics   *observability.Metrics // optional
}

// NewConsumer creates a consumer. metrics may be nil.
func NewConsumer(config Config, proc *processor.Processor, logger *zap.Logger, metrics *observability.Metrics) *Consumer {
	if config.Queue == "" {
		config.Queue = DefaultQueue
	}
	if config.Prefetch <= 0 {
		config.Prefetch = DefaultPrefetch
	}
	if config.MaxRedeliveries <= 0 {
		config.MaxRedeliveries = DefaultMaxRedeliveries
	}
	return &Consumer{config: config, processor: proc, logger: logger, metrics: metrics}
}

// Run consumes until ctx is cancelled, redialing with capped backoff on
// connection loss.
func (c *Consumer) Run(ctx context.Context) error {
	delay := reconnectDelay

	for {
		err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.Warn("queue connection lost", zap.Error(err), zap.Duration("retry_in", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (c *Consumer) runOnce(ctx context.Context) error {
	conn, err := amqp.Dial(c.config.URL)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(c.config.Prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	// Durable classic queue, same declaration the producers use.
	if _, err := ch.QueueDeclare(c.config.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.config.Queue, err)
	}

	deliveries, err := ch.Consume(c.config.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.config.Queue, err)
	}

	c.logger.Info("consuming signals", zap.String("queue", c.config.Queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed")
			}
			c.handle(ctx, ch, d)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, ch *amqp.Channel, d amqp.Delivery) {
	if d.Redelivered && c.metrics != nil {
		c.metrics.Redeliveries.Inc()
	}

	signal, err := DecodeSignal(d.Body)
	if err != nil {
		// Malformed payloads can never succeed; drop without retry.
		c.logger.Warn("dropping undecodable signal message", zap.Error(err), zap.ByteString("body", d.Body))
		c.drop(d, "undecodable")
		return
	}

	outcome := c.processor.Process(ctx, signal)
	switch outcome.Kind {
	case processor.OutcomeAccepted, processor.OutcomeRejected:
		c.ack(d)

	case processor.OutcomeInvalid:
		c.drop(d, "invalid")

	case processor.OutcomeFailedTerminal:
		c.logger.Error("signal terminally failed",
			zap.String("symbol", signal.Symbol), zap.String("source", signal.Source), zap.Error(outcome.Err))
		c.drop(d, "terminal")

	case processor.OutcomeFailedTransient:
		attempt := retryCount(d)
		if attempt >= int64(c.config.MaxRedeliveries) {
			c.logger.Error("signal retries exhausted",
				zap.String("symbol", signal.Symbol), zap.String("source", signal.Source),
				zap.Int64("attempts", attempt), zap.Error(outcome.Err))
			c.drop(d, "retries_exhausted")
			return
		}
		c.logger.Warn("signal failed, requeueing",
			zap.String("symbol", signal.Symbol), zap.String("source", signal.Source),
			zap.Int64("attempt", attempt), zap.Error(outcome.Err))
		c.requeue(ctx, ch, d, attempt+1)

	case processor.OutcomeFatal:
		// Never requeue: the order is on the exchange and retrying would
		// double-execute. The processor already raised the alert.
		c.drop(d, "fatal")
	}
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		c.logger.Warn("ack failed", zap.Error(err))
	}
}

func (c *Consumer) drop(d amqp.Delivery, cause string) {
	if c.metrics != nil {
		c.metrics.DroppedSignals.WithLabelValues(cause).Inc()
	}
	c.ack(d)
}

// DecodeSignal parses a queue payload into a Signal. Amounts arrive as
// decimal strings or JSON numbers; both decode losslessly.
func DecodeSignal(body []byte) (domain.Signal, error) {
	var signal domain.Signal
	if err := json.Unmarshal(body, &signal); err != nil {
		return domain.Signal{}, fmt.Errorf("decode signal: %w", err)
	}
	return signal, nil
}

// retryHeader carries the retry attempt count across republishes. Plain
// Nack-requeue cannot bound retries on a classic queue, so the consumer
// republishes failed messages itself with an incremented counter.
const retryHeader = "x-retry-count"

func retryCount(d amqp.Delivery) int64 {
	switch v := d.Headers[retryHeader].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// retryBackoff returns the delay before republishing a transiently failed
// message, doubling with the attempt number and capped at maxRetryDelay.
func retryBackoff(attempt int64) time.Duration {
	delay := retryDelay
	for i := int64(1); i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}

// requeue republishes the message with an incremented retry counter and acks
// the original, waiting out a backoff first so retries do not hammer a
// downstream outage. If the publish fails or the context is cancelled, the
// original is nacked back to the queue instead so the signal is not lost.
func (c *Consumer) requeue(ctx context.Context, ch *amqp.Channel, d amqp.Delivery, attempt int64) {
	select {
	case <-ctx.Done():
		if err := d.Nack(false, true); err != nil {
			c.logger.Warn("nack failed", zap.Error(err))
		}
		return
	case <-time.After(retryBackoff(attempt)):
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryHeader] = attempt

	err := ch.PublishWithContext(ctx, "", c.config.Queue, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		c.logger.Warn("requeue publish failed, nacking instead", zap.Error(err))
		if err := d.Nack(false, true); err != nil {
			c.logger.Warn("nack failed", zap.Error(err))
		}
		return
	}
	c.ack(d)
}
