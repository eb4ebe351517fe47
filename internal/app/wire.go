// Package app assembles the components shared by the server and worker binaries.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
	"github.com/suPer8Hu/chat-orchestrator/internal/config"
	"github.com/suPer8Hu/chat-orchestrator/internal/db"
	"github.com/suPer8Hu/chat-orchestrator/internal/knowledge"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
	"github.com/suPer8Hu/chat-orchestrator/internal/session"
	"github.com/suPer8Hu/chat-orchestrator/internal/store/redisstore"
	"github.com/suPer8Hu/chat-orchestrator/internal/summarize"
	"github.com/suPer8Hu/chat-orchestrator/internal/tenant"
)

// OpenDB connects and migrates every table the service owns.
func OpenDB(cfg config.DB) (*gorm.DB, error) {
	gdb, err := db.Open(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(gdb, append(memory.Models(), &tenant.Tenant{})...); err != nil {
		return nil, err
	}
	return gdb, nil
}

func SessionPolicy(cfg config.Session) session.Policy {
	return session.Policy{
		InactivityGap:      cfg.InactivityGap,
		RecentTurns:        cfg.RecentTurns,
		HybridFrom:         cfg.HybridFrom,
		AdvancedHybridFrom: cfg.AdvancedHybridFrom,
	}
}

// NewLocker returns the redis lock in rabbitmq mode so server fallbacks and
// workers share one writer per customer. Otherwise, or when redis is down, an
// in-process lock. The returned close func is never nil.
func NewLocker(ctx context.Context, cfg config.Config) (persist.Locker, func()) {
	if !strings.EqualFold(cfg.Persist.Mode, "rabbitmq") {
		return persist.NewKeyedMutex(), func() {}
	}
	rdb, err := redisstore.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Warn().Err(err).Msg("redis unavailable, per-customer lock is process-local")
		return persist.NewKeyedMutex(), func() {}
	}
	return redisstore.NewLocker(rdb, cfg.Persist.LockTTL), func() { _ = rdb.Close() }
}

// NewPipeline builds the persistence pipeline with the summary model.
func NewPipeline(ctx context.Context, cfg config.Config, store memory.Store, reg *ai.Registry, locker persist.Locker) (*persist.Pipeline, error) {
	llm, err := reg.Get(ctx, cfg.LLM.Provider, cfg.LLM.SummaryModel)
	if err != nil {
		return nil, fmt.Errorf("summary provider: %w", err)
	}
	p := persist.NewPipeline(store, summarize.New(llm), locker,
		persist.SummaryPolicy{
			StartAt:   cfg.Summary.StartAt,
			Cadence:   cfg.Summary.Cadence,
			Staleness: cfg.Summary.Staleness,
		},
		persist.Backoff{
			Base:     cfg.Persist.BackoffBase,
			Max:      cfg.Persist.BackoffMax,
			Attempts: cfg.Persist.RetryAttempts,
		},
	)
	p.SessionGap = cfg.Session.InactivityGap
	return p, nil
}

// NewRetriever opens the configured knowledge backend and loads the seed
// file into it when one is set.
func NewRetriever(ctx context.Context, cfg config.Knowledge, emb ai.Embedder) (knowledge.Retriever, func(), error) {
	var (
		r       knowledge.Retriever
		idx     knowledge.Indexer
		closeFn = func() {}
	)
	switch strings.ToLower(cfg.Backend) {
	case "pgvector":
		pg, err := knowledge.NewPGVectorRetriever(ctx, cfg.PostgresURL, cfg.Table)
		if err != nil {
			return nil, nil, err
		}
		r, idx, closeFn = pg, pg, pg.Close
	default:
		c := knowledge.NewChromemRetriever()
		r, idx = c, c
	}

	if cfg.SeedFile != "" {
		recs, err := knowledge.LoadSeedFile(cfg.SeedFile)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		n, err := knowledge.Seed(ctx, idx, emb, recs)
		if err != nil {
			closeFn()
			return nil, nil, err
		}
		log.Info().Str("component", "knowledge").Int("records", n).Str("backend", cfg.Backend).Msg("knowledge seeded")
	}
	return r, closeFn, nil
}
