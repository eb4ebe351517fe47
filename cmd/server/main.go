package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
	"github.com/suPer8Hu/chat-orchestrator/internal/app"
	"github.com/suPer8Hu/chat-orchestrator/internal/assembler"
	"github.com/suPer8Hu/chat-orchestrator/internal/chat"
	"github.com/suPer8Hu/chat-orchestrator/internal/config"
	"github.com/suPer8Hu/chat-orchestrator/internal/generate"
	"github.com/suPer8Hu/chat-orchestrator/internal/httpapi"
	"github.com/suPer8Hu/chat-orchestrator/internal/httpapi/handlers"
	"github.com/suPer8Hu/chat-orchestrator/internal/intent"
	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
	"github.com/suPer8Hu/chat-orchestrator/internal/observability"
	"github.com/suPer8Hu/chat-orchestrator/internal/persist"
	"github.com/suPer8Hu/chat-orchestrator/internal/session"
	"github.com/suPer8Hu/chat-orchestrator/internal/store/rabbitmq"
	"github.com/suPer8Hu/chat-orchestrator/internal/tenant"
)

func main() {
	logx.Init()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	logx.Init(cfg.Log)
	if !cfg.Log.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := app.OpenDB(cfg.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	store := memory.NewRepo(gdb)
	tenants := tenant.NewRepo(gdb)
	metrics := observability.NewMetrics(cfg.App.MetricsNS)

	// providers
	reg := ai.NewRegistryFromConfig(cfg.LLM)
	chatLLM, err := reg.Get(ctx, cfg.LLM.Provider, cfg.LLM.Model)
	if err != nil {
		log.Fatal().Err(err).Strs("available", reg.Names()).Msg("chat provider")
	}
	classifyLLM, err := reg.Get(ctx, cfg.LLM.Provider, cfg.LLM.ClassifyModel)
	if err != nil {
		log.Fatal().Err(err).Msg("classification provider")
	}
	embedder := ai.NewEmbedderFromConfig(cfg.LLM, cfg.Embed)

	// knowledge
	retriever, closeRetriever, err := app.NewRetriever(ctx, cfg.Knowledge, embedder)
	if err != nil {
		log.Fatal().Err(err).Msg("knowledge retriever")
	}
	defer closeRetriever()
	asm := assembler.New(retriever, cfg.Knowledge.SimilarityThreshold, cfg.Timeout.Retrieval)
	asm.OnDomain = func(r assembler.DomainResult) { metrics.DomainLookup(r.Domain, r.Err) }

	vocab, err := intent.NewVocabulary(cfg.Intent.Vocabulary, cfg.Intent.Default)
	if err != nil {
		log.Fatal().Err(err).Msg("intent vocabulary")
	}

	prompts, err := tenant.NewPromptSource(tenants, 5*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("prompt cache")
	}
	defer prompts.Close()

	// persistence
	locker, closeLocker := app.NewLocker(ctx, cfg)
	defer closeLocker()
	pipeline, err := app.NewPipeline(ctx, cfg, store, reg, locker)
	if err != nil {
		log.Fatal().Err(err).Msg("persistence pipeline")
	}
	pipeline.OnStep = metrics.PersistStep

	handle := persist.PipelineHandler(pipeline)
	if strings.EqualFold(cfg.Persist.Mode, "rabbitmq") {
		pub, err := rabbitmq.NewPublisher(cfg.Rabbit.URL, cfg.Rabbit.Queue, cfg.Rabbit.RetryDelay)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable, persisting in-process")
		} else {
			defer pub.Close()
			handle = persist.PublishHandler(pub, handle)
		}
	}
	queue := persist.NewQueue(cfg.Persist.Shards, cfg.Persist.JobTimeout, handle)
	metrics.TrackPending(cfg.App.MetricsNS, queue.Pending)

	orch := chat.NewOrchestrator(chat.Deps{
		Sessions:   session.NewManager(store, app.SessionPolicy(cfg.Session)),
		Classifier: intent.NewClassifier(intent.NewLLMCollaborator(classifyLLM), vocab),
		Embedder:   embedder,
		Assembler:  asm,
		Generator:  generate.New(chatLLM),
		Prompts:    prompts,
		Scheduler:  queue,
		Observer:   metrics,
	}, chat.Options{
		FallbackMessage:       cfg.App.FallbackMessage,
		DefaultTenant:         cfg.App.DefaultTenant,
		ClassificationTimeout: cfg.Timeout.Classification,
		RetrievalTimeout:      cfg.Timeout.Retrieval,
		GenerationTimeout:     cfg.Timeout.Generation,
		RecordFailedTurns:     cfg.Persist.RecordFailedTurns,
	})

	router := httpapi.NewRouter(&handlers.Handler{
		Orch:      orch,
		Memory:    store,
		Tenants:   tenants,
		JWTSecret: cfg.JWT.Secret,
		JWTTTL:    cfg.JWT.TTL,
	}, cfg, metrics.Handler())

	srv := &http.Server{
		Addr:              cfg.App.BindAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.App.BindAddr).Str("persist_mode", cfg.Persist.Mode).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	// responses already returned may still have turns queued
	if err := queue.Close(shCtx); err != nil {
		log.Error().Err(err).Int("pending", queue.Pending()).Msg("persistence queue not drained")
	}
	log.Info().Msg("bye")
}
