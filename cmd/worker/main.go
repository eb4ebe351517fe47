package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
	"github.com/suPer8Hu/chat-orchestrator/internal/app"
	"github.com/suPer8Hu/chat-orchestrator/internal/config"
	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
	"github.com/suPer8Hu/chat-orchestrator/internal/store/rabbitmq"
)

func main() {
	logx.Init()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logx.Init(cfg.Log)
	// the worker only ever consumes; force the shared redis lock
	cfg.Persist.Mode = "rabbitmq"

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := app.OpenDB(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	store := memory.NewRepo(gdb)

	locker, closeLocker := app.NewLocker(ctx, cfg)
	defer closeLocker()

	reg := ai.NewRegistryFromConfig(cfg.LLM)
	pipeline, err := app.NewPipeline(ctx, cfg, store, reg, locker)
	if err != nil {
		log.Fatal().Err(err).Msg("persistence pipeline")
	}

	// declares the topology and publishes retries
	retry, err := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue, cfg.Rabbit.RetryDelay)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit publisher")
	}
	defer retry.Close()

	conn, err := amqp.Dial(cfg.Rabbit.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit dial")
	}
	defer conn.Close()

	consumer, err := rabbitmq.NewConsumer(conn, retry, rabbitmq.ConsumerConfig{
		Queue:       cfg.Rabbit.Queue,
		Concurrency: cfg.Rabbit.Concurrency,
		MaxAttempts: cfg.Rabbit.MaxAttempts,
		JobTimeout:  cfg.Persist.JobTimeout,
	}, func(ctx context.Context, job persist.Job) error {
		return handleJob(ctx, pipeline, job)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit consumer")
	}

	if err := consumer.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("consumer stopped")
	}
	log.Info().Msg("worker stopped")
}

// handleJob fails only when the turn was not appended; a failed summary is
// retried by the policy on a later turn, not by redelivery.
func handleJob(ctx context.Context, p *persist.Pipeline, job persist.Job) error {
	start := time.Now()
	res, err := p.Process(ctx, job)
	total := time.Since(start)

	l := log.With().
		Str("component", "worker").
		Str("customer_key", job.Turn.CustomerKey).
		Str("turn_id", job.Turn.TurnID).
		Int("count", res.Count).
		Bool("summarized", res.Summarized).
		Dur("total", total).
		Logger()
	if err != nil {
		l.Error().Err(err).Msg("job_timing_failed")
		return err
	}
	if res.SummaryErr != nil {
		l.Warn().AnErr("summary_err", res.SummaryErr).Msg("job_timing")
	} else if total > 500*time.Millisecond {
		l.Info().Msg("job_timing")
	}
	return nil
}
