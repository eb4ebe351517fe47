package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue names derived from the main queue.
func RetryQueue(queue string) string { return queue + ".retry" }
func DeadQueue(queue string) string  { return queue + ".dlq" }

// DeclareTopology declares main, retry and dead-letter queues. Messages parked
// in the retry queue expire after retryDelay and flow back to the main queue;
// messages rejected from the main queue go to the DLQ.
func DeclareTopology(ch *amqp.Channel, queue string, retryDelay time.Duration) error {
	if _, err := ch.QueueDeclare(DeadQueue(queue), true, false, false, false, nil); err != nil {
		return err
	}

	retryArgs := amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}
	if retryDelay > 0 {
		retryArgs["x-message-ttl"] = retryDelay.Milliseconds()
	}
	if _, err := ch.QueueDeclare(RetryQueue(queue), true, false, false, false, retryArgs); err != nil {
		return err
	}

	_, err := ch.QueueDeclare(queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadQueue(queue),
	})
	return err
}
