package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
)

const attemptHeader = "x-attempt"

type Publisher struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	// amqp channels are not safe for concurrent publishing
	mu sync.Mutex
}

var _ persist.Publisher = (*Publisher)(nil)

func NewPublisher(url, queue string, retryDelay time.Duration) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareTopology(ch, queue, retryDelay); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

func (p *Publisher) PublishJob(ctx context.Context, job persist.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return p.publish(ctx, p.queue, body, 1, job.Turn.TurnID)
}

// publishRetry parks a failed delivery in the retry queue.
func (p *Publisher) publishRetry(ctx context.Context, body []byte, attempt int, msgID string) error {
	return p.publish(ctx, RetryQueue(p.queue), body, attempt, msgID)
}

func (p *Publisher) publish(ctx context.Context, routingKey string, body []byte, attempt int, msgID string) error {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(cctx,
		"",         // default exchange
		routingKey, // routing key = queue
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    msgID,
			Headers:      amqp.Table{attemptHeader: int32(attempt)},
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}
