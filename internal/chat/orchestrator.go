package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
	"github.com/suPer8Hu/chat-orchestrator/internal/assembler"
	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/generate"
	"github.com/suPer8Hu/chat-orchestrator/internal/intent"
	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
	"github.com/suPer8Hu/chat-orchestrator/internal/session"
)

const DefaultFallbackMessage = "Sorry, I'm having trouble answering right now. Please try again in a moment."

type PromptSource interface {
	Prompt(ctx context.Context, tenantID string) string
}

// Observer receives stage timings and failures. observability.Metrics
// satisfies it.
type Observer interface {
	ObserveStage(stage string, d time.Duration)
	StageFailed(stage, kind string)
	StrategySelected(strategy string)
}

type noopObserver struct{}

func (noopObserver) ObserveStage(string, time.Duration) {}
func (noopObserver) StageFailed(string, string)         {}
func (noopObserver) StrategySelected(string)            {}

type Deps struct {
	Sessions   *session.Manager
	Classifier *intent.Classifier
	Embedder   ai.Embedder
	Assembler  *assembler.Assembler
	Generator  *generate.Generator
	Prompts    PromptSource
	Scheduler  persist.Scheduler
	Observer   Observer
}

type Options struct {
	FallbackMessage       string
	DefaultTenant         string
	ClassificationTimeout time.Duration
	RetrievalTimeout      time.Duration
	GenerationTimeout     time.Duration
	RecordFailedTurns     bool
}

// Orchestrator runs one inbound message through memory resolution,
// classification, retrieval and generation, then hands the finished turn to
// the persistence scheduler without waiting for it.
type Orchestrator struct {
	d    Deps
	opts Options
	now  func() time.Time
	log  zerolog.Logger
}

func NewOrchestrator(d Deps, opts Options) *Orchestrator {
	if d.Observer == nil {
		d.Observer = noopObserver{}
	}
	if strings.TrimSpace(opts.FallbackMessage) == "" {
		opts.FallbackMessage = DefaultFallbackMessage
	}
	return &Orchestrator{
		d:    d,
		opts: opts,
		now:  func() time.Time { return time.Now().UTC() },
		log:  logx.Component("orchestrator"),
	}
}

// Handle returns a validation error for empty text and contract.ErrCanceled
// when ctx ends before an answer exists. Every other failure degrades: a
// failed generation yields the fallback message with Response.Fallback set.
func (o *Orchestrator) Handle(ctx context.Context, req Request) (Response, error) {
	req.Text = strings.TrimSpace(req.Text)
	req.CustomerKey = strings.TrimSpace(req.CustomerKey)
	if req.Text == "" {
		return Response{}, fmt.Errorf("%w: text is required", contract.ErrValidation)
	}
	if req.TenantID == "" {
		req.TenantID = o.opts.DefaultTenant
	}

	started := o.now()
	l := o.log.With().
		Str("customer_key", req.CustomerKey).
		Str("tenant_id", req.TenantID).
		Logger()
	l.Debug().Str("stage", string(StageReceived)).Msg("request received")

	// MEMORY_RESOLVED
	t := time.Now()
	res, err := o.d.Sessions.Resolve(ctx, req.CustomerKey, started)
	o.d.Observer.ObserveStage(string(StageMemoryResolved), time.Since(t))
	if err != nil {
		o.d.Observer.StageFailed(string(StageMemoryResolved), "store")
		l.Error().Err(err).Msg("memory fetch failed, continuing with a fresh session")
	}
	if err := o.canceled(ctx, StageMemoryResolved); err != nil {
		return Response{}, err
	}
	o.d.Observer.StrategySelected(string(res.Strategy))
	l = l.With().Str("session_id", res.SessionID).Int("turn_index", res.TurnIndex).Logger()

	// INTENT_CLASSIFIED
	t = time.Now()
	cls := o.classify(ctx, req.Text, history(res.Memory.RecentTurns), l)
	intents := cls.Intents
	o.d.Observer.ObserveStage(string(StageIntentClassified), time.Since(t))
	if err := o.canceled(ctx, StageIntentClassified); err != nil {
		return Response{}, err
	}

	// CONTEXT_ASSEMBLED
	t = time.Now()
	bundle := o.assemble(ctx, cls.Query, intents, l)
	o.d.Observer.ObserveStage(string(StageContextAssembled), time.Since(t))
	if err := o.canceled(ctx, StageContextAssembled); err != nil {
		return Response{}, err
	}

	// RESPONSE_GENERATED
	t = time.Now()
	gctx, cancel := withTimeout(ctx, o.opts.GenerationTimeout)
	answer, genErr := o.d.Generator.Generate(gctx, generate.Request{
		SystemPrompt: o.d.Prompts.Prompt(ctx, req.TenantID),
		Intents:      intents,
		Bundle:       bundle,
		Memory:       res.Memory,
		UserText:     req.Text,
	})
	cancel()
	o.d.Observer.ObserveStage(string(StageResponseGenerated), time.Since(t))

	failed := false
	if genErr != nil {
		if err := o.canceled(ctx, StageResponseGenerated); err != nil {
			return Response{}, err
		}
		failed = true
		answer = o.opts.FallbackMessage
		o.d.Observer.StageFailed(string(StageResponseGenerated), failureKind(genErr))
		l.Error().Err(genErr).
			Str("intents", intents.String()).
			Strs("sections", bundle.Labels()).
			Msg("generation failed, answering with fallback")
	}

	o.schedule(req, res, answer, failed, started, l)

	l.Info().
		Str("strategy", string(res.Strategy)).
		Str("intents", intents.String()).
		Bool("fallback", failed).
		Dur("latency", o.now().Sub(started)).
		Msg("request completed")

	return Response{
		Response:     answer,
		CustomerKey:  req.CustomerKey,
		SessionID:    res.SessionID,
		ContextDebug: bundle.Debug(),
		Fallback:     failed,
	}, nil
}

func (o *Orchestrator) classify(ctx context.Context, text string, prior []intent.Exchange, l zerolog.Logger) intent.Result {
	cctx, cancel := withTimeout(ctx, o.opts.ClassificationTimeout)
	defer cancel()
	res, err := o.d.Classifier.Classify(cctx, text, prior)
	if err != nil {
		o.d.Observer.StageFailed(string(StageIntentClassified), failureKind(err))
		l.Warn().Err(err).Str("intents", res.Intents.String()).Msg("classification degraded to default intents")
	} else if res.Query != text {
		l.Debug().Str("query", res.Query).Msg("retrieval query expanded")
	}
	return res
}

// history keeps the session's last exchanges for reference resolution.
func history(turns []memory.Turn) []intent.Exchange {
	if len(turns) > intent.HistoryWindow {
		turns = turns[len(turns)-intent.HistoryWindow:]
	}
	out := make([]intent.Exchange, 0, len(turns))
	for _, t := range turns {
		out = append(out, intent.Exchange{User: t.UserText, Assistant: t.AnswerText})
	}
	return out
}

// assemble embeds the query only when some intent needs retrieval. Embedding
// and lookups share the retrieval timeout.
func (o *Orchestrator) assemble(ctx context.Context, query string, set intent.Set, l zerolog.Logger) assembler.Bundle {
	if !needsRetrieval(set) {
		return assembler.Bundle{}
	}
	rctx, cancel := withTimeout(ctx, o.opts.RetrievalTimeout)
	defer cancel()

	emb, err := o.d.Embedder.Embed(rctx, query)
	if err != nil {
		o.d.Observer.StageFailed(string(StageContextAssembled), "embedding")
		l.Warn().Err(err).Msg("query embedding failed, answering without context")
		return assembler.Bundle{}
	}
	b, err := o.d.Assembler.Assemble(rctx, set, emb)
	if err != nil {
		o.d.Observer.StageFailed(string(StageContextAssembled), failureKind(err))
		l.Warn().Err(err).Msg("context unavailable, answering without context")
		return assembler.Bundle{}
	}
	return b
}

// schedule hands the turn to the persistence scheduler. Stateless requests and,
// unless configured, failed generations are never recorded.
func (o *Orchestrator) schedule(req Request, res session.Resolution, answer string, failed bool, started time.Time, l zerolog.Logger) {
	if res.Stateless || o.d.Scheduler == nil {
		return
	}
	if failed && !o.opts.RecordFailedTurns {
		return
	}
	job, err := turnJob(req, res, answer, failed, started, o.now())
	if err != nil {
		l.Error().Err(err).Msg("turn id generation failed, turn not scheduled")
		return
	}
	o.d.Scheduler.Schedule(job)
	l.Debug().Str("stage", string(StagePersisted)).Str("turn_id", job.Turn.TurnID).Msg("turn scheduled")
}

func (o *Orchestrator) canceled(ctx context.Context, stage Stage) error {
	if err := ctx.Err(); err != nil {
		o.d.Observer.StageFailed(string(stage), "canceled")
		return fmt.Errorf("%w: at %s: %v", contract.ErrCanceled, stage, err)
	}
	return nil
}

func needsRetrieval(set intent.Set) bool {
	for _, i := range set.Intents() {
		if assembler.CapabilityOf(i).Retrieval {
			return true
		}
	}
	return false
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, contract.ErrClassification):
		return "classification"
	case errors.Is(err, contract.ErrContextUnavailable):
		return "context_unavailable"
	case errors.Is(err, contract.ErrGeneration):
		return "generation"
	default:
		return "error"
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
