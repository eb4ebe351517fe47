package persist

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
)

var ErrQueueClosed = errors.New("persist queue closed")

// Handler processes one job. Its context is owned by the queue, not by the
// request that scheduled the job.
type Handler func(ctx context.Context, job Job)

// Queue is a set of unbounded FIFO shards, each drained by one goroutine.
// Jobs for the same customer always land on the same shard, so they run in
// the order they were scheduled.
type Queue struct {
	shards     []*shard
	handle     Handler
	jobTimeout time.Duration
	baseCtx    context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	log        zerolog.Logger

	mu     sync.Mutex
	closed bool
}

type shard struct {
	mu    sync.Mutex
	items []Job
	wake  chan struct{}
	done  bool
}

func NewQueue(shards int, jobTimeout time.Duration, handle Handler) *Queue {
	if shards <= 0 {
		shards = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		shards:     make([]*shard, shards),
		handle:     handle,
		jobTimeout: jobTimeout,
		baseCtx:    ctx,
		cancel:     cancel,
		log:        logx.Component("persist_queue"),
	}
	for i := range q.shards {
		s := &shard{wake: make(chan struct{}, 1)}
		q.shards[i] = s
		q.wg.Add(1)
		go q.run(s)
	}
	return q
}

// PipelineHandler adapts a Pipeline to a queue Handler that logs failures.
func PipelineHandler(p *Pipeline) Handler {
	return func(ctx context.Context, job Job) {
		if _, err := p.Process(ctx, job); err != nil {
			p.log.Error().Err(err).
				Str("customer_key", job.Turn.CustomerKey).
				Str("turn_id", job.Turn.TurnID).
				Msg("turn not persisted")
		}
	}
}

func (q *Queue) shardFor(key string) *shard {
	h := fnv.New32a()
	h.Write([]byte(key))
	return q.shards[h.Sum32()%uint32(len(q.shards))]
}

func (q *Queue) Schedule(job Job) {
	if err := q.TrySchedule(job); err != nil {
		q.log.Error().Err(err).Str("turn_id", job.Turn.TurnID).Msg("job dropped")
	}
}

func (q *Queue) TrySchedule(job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrQueueClosed
	}
	s := q.shardFor(job.Turn.CustomerKey)
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return ErrQueueClosed
	}
	s.items = append(s.items, job)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (q *Queue) run(s *shard) {
	defer q.wg.Done()
	for {
		s.mu.Lock()
		if len(s.items) == 0 {
			if s.done {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			continue
		}
		job := s.items[0]
		s.items[0] = Job{}
		s.items = s.items[1:]
		s.mu.Unlock()

		q.process(job)
	}
}

func (q *Queue) process(job Job) {
	ctx := q.baseCtx
	if q.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("turn_id", job.Turn.TurnID).Msg("persist job panicked")
		}
	}()
	q.handle(ctx, job)
}

// Pending counts queued jobs not yet started.
func (q *Queue) Pending() int {
	n := 0
	for _, s := range q.shards {
		s.mu.Lock()
		n += len(s.items)
		s.mu.Unlock()
	}
	return n
}

// Close stops accepting jobs and drains what is queued. If ctx ends first the
// in-flight jobs are cancelled and ctx.Err() is returned.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	for _, s := range q.shards {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}

	drained := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}
