package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
)

// JobHandler processes one decoded job. A non-nil error schedules a retry.
type JobHandler func(ctx context.Context, job persist.Job) error

// retrier parks a failed delivery for a later attempt. *Publisher is the
// production implementation.
type retrier interface {
	publishRetry(ctx context.Context, body []byte, attempt int, msgID string) error
}

type ConsumerConfig struct {
	Queue       string
	Concurrency int
	MaxAttempts int
	JobTimeout  time.Duration
}

// Consumer drains the persistence queue with a bounded worker pool.
type Consumer struct {
	cfg     ConsumerConfig
	ch      *amqp.Channel
	retry   retrier
	handler JobHandler
	log     zerolog.Logger
}

func NewConsumer(conn *amqp.Connection, retry *Publisher, cfg ConsumerConfig, h JobHandler) (*Consumer, error) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.Concurrency > 50 {
		cfg.Concurrency = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("rabbit channel: %w", err)
	}
	// strict concurrency control
	if err := ch.Qos(cfg.Concurrency, 0, false); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}
	c := newConsumer(cfg, h)
	c.ch = ch
	if retry != nil {
		c.retry = retry
	}
	return c, nil
}

func newConsumer(cfg ConsumerConfig, h JobHandler) *Consumer {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 2 * time.Minute
	}
	return &Consumer{
		cfg:     cfg,
		handler: h,
		log:     logx.Component("consumer").With().Str("queue", cfg.Queue).Logger(),
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs.
func (c *Consumer) Run(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}
	defer c.ch.Close()

	c.log.Info().Int("concurrency", c.cfg.Concurrency).Msg("consumer started")

	deliveries := make(chan amqp.Delivery, c.cfg.Concurrency*2)
	var wg sync.WaitGroup
	wg.Add(c.cfg.Concurrency)
	for i := 0; i < c.cfg.Concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				c.handle(workerID, d)
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			c.log.Info().Msg("consumer shutting down")
			close(deliveries)
			wg.Wait()
			return nil
		case d, ok := <-msgs:
			if !ok {
				close(deliveries)
				wg.Wait()
				return fmt.Errorf("delivery channel closed")
			}
			deliveries <- d
		}
	}
}

func (c *Consumer) handle(workerID int, d amqp.Delivery) {
	l := c.log.With().Int("worker", workerID).Str("message_id", d.MessageId).Logger()

	var job persist.Job
	if err := json.Unmarshal(d.Body, &job); err != nil || job.Validate() != nil {
		l.Error().Err(err).Msg("bad message, dead-lettered")
		_ = d.Nack(false, false)
		return
	}

	// jobs outlive the consumer's shutdown signal; they get their own deadline
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JobTimeout)
	defer cancel()

	start := time.Now()
	err := c.handler(ctx, job)
	if err == nil {
		if err := d.Ack(false); err != nil {
			l.Warn().Err(err).Msg("ack failed")
		}
		return
	}

	attempt := attemptOf(d)
	l = l.With().Err(err).Int("attempt", attempt).Dur("cost", time.Since(start)).Logger()
	if attempt >= c.cfg.MaxAttempts || c.retry == nil {
		l.Error().Msg("job failed, dead-lettered")
		_ = d.Nack(false, false)
		return
	}
	if perr := c.retry.publishRetry(ctx, d.Body, attempt+1, d.MessageId); perr != nil {
		l.Error().AnErr("publish_err", perr).Msg("retry publish failed, requeueing")
		_ = d.Nack(false, true)
		return
	}
	l.Warn().Msg("job failed, scheduled retry")
	_ = d.Ack(false)
}

func attemptOf(d amqp.Delivery) int {
	switch v := d.Headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 1
	}
}
