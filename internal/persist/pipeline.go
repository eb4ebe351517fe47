package persist

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/summarize"
)

type Summarizer interface {
	Summarize(ctx context.Context, prior string, turns []memory.Turn) (string, error)
}

type Result struct {
	Count      int
	Summarized bool
	SummaryErr error
}

// Pipeline appends a turn and refreshes the customer summary when due. Every
// step for one customer runs under that customer's lock.
type Pipeline struct {
	store      memory.Store
	summarizer Summarizer
	locker     Locker
	policy     SummaryPolicy
	backoff    Backoff
	now        func() time.Time
	log        zerolog.Logger

	// OnStep, when set, receives step (append|summarize|upsert) outcomes.
	OnStep func(step, result string)

	// SessionGap is the inactivity gap that ends a session. When positive, a
	// freshly minted session joins the customer's latest session if that one
	// was active within the gap.
	SessionGap time.Duration
}

func NewPipeline(store memory.Store, s Summarizer, locker Locker, policy SummaryPolicy, backoff Backoff) *Pipeline {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Pipeline{
		store:      store,
		summarizer: s,
		locker:     locker,
		policy:     policy,
		backoff:    backoff,
		now:        func() time.Time { return time.Now().UTC() },
		log:        logx.Component("persist"),
	}
}

// Process returns an error wrapping contract.ErrPersistence only when the turn
// could not be appended. Summary failures are reported in Result.
func (p *Pipeline) Process(ctx context.Context, job Job) (Result, error) {
	if err := job.Validate(); err != nil {
		return Result{}, err
	}
	key := job.Turn.CustomerKey
	l := p.log.With().Str("customer_key", key).Str("turn_id", job.Turn.TurnID).Logger()

	unlock, err := p.locker.Lock(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("%w: lock %s: %v", contract.ErrPersistence, key, err)
	}
	defer unlock()

	var res Result
	turn := job.Turn
	if job.NewSession {
		if id := p.joinSession(ctx, turn); id != "" && id != turn.SessionID {
			l.Info().Str("minted", turn.SessionID).Str("session_id", id).Msg("turn joined the concurrent session")
			turn.SessionID = id
		}
	}
	err = p.backoff.Retry(ctx, func(ctx context.Context) error {
		n, err := p.store.AppendTurn(ctx, &turn)
		if err != nil {
			l.Warn().Err(err).Msg("append turn failed")
			return err
		}
		res.Count = n
		return nil
	})
	if err != nil {
		p.step("append", "error")
		return res, fmt.Errorf("%w: %v", contract.ErrPersistence, err)
	}
	p.step("append", "ok")
	if job.TurnIndex > 0 && job.TurnIndex != res.Count {
		l.Debug().Int("hinted", job.TurnIndex).Int("count", res.Count).Msg("turn index corrected by store")
	}

	mem, err := p.store.GetMemory(ctx, key)
	if err != nil {
		// retried on the next qualifying turn through staleness
		l.Warn().Err(err).Msg("read memory failed, summary skipped")
		res.SummaryErr = err
		return res, nil
	}
	if !p.policy.ShouldSummarize(res.Count, mem) {
		return res, nil
	}

	if err := p.summarize(ctx, key, mem); err != nil {
		l.Error().Err(err).Int("count", res.Count).Msg("summarization failed")
		res.SummaryErr = err
		return res, nil
	}
	res.Summarized = true
	l.Info().Int("count", res.Count).Msg("customer summary updated")
	return res, nil
}

// joinSession returns the customer's latest session id when the turn belongs
// to it, or "" to keep the turn's own id. Two first messages resolved before
// either was stored both mint a session; the second one to persist joins the
// first.
func (p *Pipeline) joinSession(ctx context.Context, turn memory.Turn) string {
	if p.SessionGap <= 0 {
		return ""
	}
	sessions, err := p.store.ListSessions(ctx, turn.CustomerKey, 1)
	if err != nil {
		p.log.Warn().Err(err).Str("customer_key", turn.CustomerKey).Msg("session lookup failed, keeping minted session")
		return ""
	}
	if len(sessions) == 0 {
		return ""
	}
	latest := sessions[0]
	since := turn.CreatedAt.Sub(latest.LastActivityAt)
	if since < 0 {
		since = -since
	}
	if since > p.SessionGap {
		return ""
	}
	return latest.SessionID
}

func (p *Pipeline) summarize(ctx context.Context, key string, prior *memory.CustomerMemory) error {
	turns, err := p.store.ListTurns(ctx, key)
	if err != nil {
		p.step("summarize", "error")
		return fmt.Errorf("list turns: %w", err)
	}
	priorText := ""
	if prior != nil {
		priorText = prior.SummaryText
	}
	summary, err := p.summarizer.Summarize(ctx, priorText, turns)
	if err != nil {
		p.step("summarize", "error")
		return err
	}
	p.step("summarize", "ok")

	m := summarize.Profile(key, turns, summary, p.now())
	if err := p.backoff.Retry(ctx, func(ctx context.Context) error {
		return p.store.UpsertMemory(ctx, m)
	}); err != nil {
		p.step("upsert", "error")
		return err
	}
	p.step("upsert", "ok")
	return nil
}

func (p *Pipeline) step(step, result string) {
	if p.OnStep != nil {
		p.OnStep(step, result)
	}
}
