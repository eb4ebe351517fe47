package persist

import (
	"context"

	"github.com/rs/zerolog/log"
)

// Publisher hands a job to a durable transport.
type Publisher interface {
	PublishJob(ctx context.Context, job Job) error
}

// PublishHandler publishes each job and runs fallback when publishing fails,
// so a broker outage never drops a turn.
func PublishHandler(pub Publisher, fallback Handler) Handler {
	return func(ctx context.Context, job Job) {
		err := pub.PublishJob(ctx, job)
		if err == nil {
			return
		}
		log.Warn().Err(err).
			Str("component", "persist").
			Str("customer_key", job.Turn.CustomerKey).
			Str("turn_id", job.Turn.TurnID).
			Msg("publish failed, persisting in-process")
		fallback(ctx, job)
	}
}
