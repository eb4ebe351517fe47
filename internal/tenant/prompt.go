package tenant

import (
	"context"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
)

// DefaultSystemPrompt is used when a tenant has no prompt of its own.
const DefaultSystemPrompt = "You are a helpful customer service assistant.\n" +
	"Use the provided recent turns to resolve references (it/that/this).\n" +
	"Answer in ONE pass.\n" +
	"- Never invent facts not present in data. If info is insufficient, ask one short clarifying question.\n" +
	"- Be concise and friendly."

type PromptLoader interface {
	SystemPrompt(ctx context.Context, tenantID string) (string, error)
}

// PromptSource caches per-tenant system prompts and falls back to the default.
type PromptSource struct {
	loader   PromptLoader
	cache    *ristretto.Cache
	ttl      time.Duration
	fallback string
	log      zerolog.Logger
}

func NewPromptSource(loader PromptLoader, ttl time.Duration) (*PromptSource, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     4 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PromptSource{
		loader:   loader,
		cache:    cache,
		ttl:      ttl,
		fallback: DefaultSystemPrompt,
		log:      logx.Component("tenant"),
	}, nil
}

// Prompt never fails; lookup errors are logged and the default is used.
func (p *PromptSource) Prompt(ctx context.Context, tenantID string) string {
	if tenantID == "" || p.loader == nil {
		return p.fallback
	}
	if v, ok := p.cache.Get(tenantID); ok {
		if s, ok := v.(string); ok {
			return p.orDefault(s)
		}
	}

	s, err := p.loader.SystemPrompt(ctx, tenantID)
	if err != nil {
		p.log.Warn().Err(err).Str("tenant_id", tenantID).Msg("system prompt lookup failed, using default")
		return p.fallback
	}
	s = strings.TrimSpace(s)
	// empty prompts are cached too, so unknown tenants do not hit the DB every request
	p.cache.SetWithTTL(tenantID, s, int64(len(s)+1), p.ttl)
	return p.orDefault(s)
}

func (p *PromptSource) Invalidate(tenantID string) {
	p.cache.Del(tenantID)
}

func (p *PromptSource) Close() {
	p.cache.Close()
}

func (p *PromptSource) orDefault(s string) string {
	if s == "" {
		return p.fallback
	}
	return s
}
