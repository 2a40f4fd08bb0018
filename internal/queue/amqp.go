package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// message is the body published by the submission service.
type message struct {
	SubmissionID string `json:"submission_id"`
}

func parseMessage(body []byte) (string, error) {
	var msg message
	if err := json.Unmarshal(body, &msg); err != nil {
		return "", fmt.Errorf("invalid message body: %w", err)
	}
	id := strings.TrimSpace(msg.SubmissionID)
	if id == "" {
		return "", errors.New("message without submission_id")
	}
	return id, nil
}

type ConsumerOptions struct {
	URL       string
	QueueName string
	Prefetch  int
	// DeliveryLimit is how often the broker delivers a message before
	// dead-lettering it to QueueName + ".dead".
	DeliveryLimit int
	// RetryDelay is the wait before a retryable failure is requeued; it
	// doubles with every redelivery up to MaxRetryDelay.
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	// DrainTimeout bounds how long shutdown waits for unsettled deliveries.
	DrainTimeout time.Duration
}

// Consumer feeds submission ids from a RabbitMQ queue into a Manager and
// settles each delivery once grading finishes.
type Consumer struct {
	opts      ConsumerOptions
	manager   *Manager
	retryable func(error) bool
	inflight  sync.WaitGroup
	logger    *zerolog.Logger
}

func NewConsumer(opts ConsumerOptions, manager *Manager, retryable func(error) bool, logger *zerolog.Logger) *Consumer {
	if opts.Prefetch < 1 {
		opts.Prefetch = 1
	}
	if opts.DeliveryLimit < 1 {
		opts.DeliveryLimit = 5
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 2 * time.Second
	}
	if opts.MaxRetryDelay < opts.RetryDelay {
		opts.MaxRetryDelay = max(opts.RetryDelay, time.Minute)
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = time.Minute
	}
	return &Consumer{
		opts:      opts,
		manager:   manager,
		retryable: retryable,
		logger:    logger,
	}
}

func (c *Consumer) deadLetterQueue() string {
	return c.opts.QueueName + ".dead"
}

func (c *Consumer) queueArgs() amqp.Table {
	return amqp.Table{
		"x-queue-type":              "quorum",
		"x-delivery-limit":          int32(c.opts.DeliveryLimit),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": c.deadLetterQueue(),
	}
}

// retryDelay grows with the broker's redelivery count of d.
func (c *Consumer) retryDelay(d amqp.Delivery) time.Duration {
	var count int64
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		count = v
	case int32:
		count = int64(v)
	case int:
		count = int64(v)
	}
	delay := c.opts.RetryDelay
	for i := int64(0); i < count && delay < c.opts.MaxRetryDelay; i++ {
		delay *= 2
	}
	return min(delay, c.opts.MaxRetryDelay)
}

// Run consumes until ctx is done, reconnecting with exponential backoff.
func (c *Consumer) Run(ctx context.Context) error {
	backoff := minBackoff
	for {
		err := c.consume(ctx)
		if ctx.Err() != nil {
			c.logger.Info().Str("queue", c.opts.QueueName).Msg("amqp consumer stopping")
			return nil
		}
		c.logger.Warn().Err(err).Dur("backoff", backoff).Msg("amqp consumer disconnected, retrying")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.opts.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()
	// deliveries can only be settled on the channel they arrived on
	defer c.waitInflight()

	if err := ch.Qos(c.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deadArgs := amqp.Table{"x-queue-type": "quorum"}
	if _, err := ch.QueueDeclare(c.deadLetterQueue(), true, false, false, false, deadArgs); err != nil {
		return fmt.Errorf("failed to declare dead-letter queue: %w", err)
	}
	if _, err := ch.QueueDeclare(c.opts.QueueName, true, false, false, false, c.queueArgs()); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	// not bound to ctx: cancelling the consumer must not close the channel
	// under deliveries that are still being graded
	deliveries, err := ch.Consume(c.opts.QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.logger.Info().
		Str("queue", c.opts.QueueName).
		Int("prefetch", c.opts.Prefetch).
		Int("delivery_limit", c.opts.DeliveryLimit).
		Msg("consuming grading requests")

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case amqpErr := <-closed:
			if amqpErr == nil {
				return errors.New("connection closed")
			}
			return amqpErr
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handle(ctx, d)
		}
	}
}

// handle queues one delivery. It is acked once grading ends unless the
// failure is retryable, in which case it goes back to the broker after a
// delay; the broker's delivery limit bounds the retries.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) {
	submissionID, err := parseMessage(d.Body)
	if err != nil {
		c.logger.Error().Err(err).Bytes("body", d.Body).Msg("dropping malformed grading request")
		c.settle(d.Nack(false, false))
		return
	}

	c.inflight.Add(1)
	job := NewJob(submissionID, func(err error) {
		if err != nil && c.retryable(err) {
			delay := c.retryDelay(d)
			c.logger.Warn().Err(err).Str("submission_id", submissionID).Dur("delay", delay).Msg("requeueing grading request")
			time.AfterFunc(delay, func() {
				defer c.inflight.Done()
				c.settle(d.Nack(false, true))
			})
			return
		}
		defer c.inflight.Done()
		c.settle(d.Ack(false))
	})

	if err := c.manager.Submit(ctx, job); err != nil {
		defer c.inflight.Done()
		c.settle(d.Nack(false, true))
	}
}

// waitInflight gives unsettled deliveries up to DrainTimeout to finish.
func (c *Consumer) waitInflight() {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(c.opts.DrainTimeout):
		c.logger.Warn().Dur("drain", c.opts.DrainTimeout).Msg("unsettled deliveries left to broker redelivery")
	}
}

func (c *Consumer) settle(err error) {
	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to settle delivery")
	}
}
