package persist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
)

func openTestRepo(t *testing.T) (*memory.Repo, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(memory.Models()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return memory.NewRepo(db), db
}

type fakeSummarizer struct {
	mu     sync.Mutex
	calls  int
	priors []string
	fail   bool
}

func (f *fakeSummarizer) Summarize(ctx context.Context, prior string, turns []memory.Turn) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.priors = append(f.priors, prior)
	if f.fail {
		return "", errors.New("llm down")
	}
	return fmt.Sprintf("summary of %d turns", len(turns)), nil
}

var fastBackoff = Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond, Attempts: 3}

func job(key string, i int, at time.Time) Job {
	return Job{
		Turn: memory.Turn{
			TurnID:      fmt.Sprintf("01J%023d", i),
			CustomerKey: key,
			SessionID:   "sess-1",
			UserText:    fmt.Sprintf("question %d", i),
			AnswerText:  fmt.Sprintf("answer %d", i),
			CreatedAt:   at,
		},
		TurnIndex: i,
	}
}

func TestPipeline_SixthTurnCreatesSummary(t *testing.T) {
	repo, _ := openTestRepo(t)
	sum := &fakeSummarizer{}
	p := NewPipeline(repo, sum, nil, DefaultSummaryPolicy(), fastBackoff)
	ctx := context.Background()
	key := "60123456789"
	base := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		res, err := p.Process(ctx, job(key, i, base.Add(time.Duration(i)*time.Minute)))
		if err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		if res.Count != i || res.Summarized {
			t.Fatalf("turn %d: unexpected result %+v", i, res)
		}
	}
	if m, _ := repo.GetMemory(ctx, key); m != nil {
		t.Fatalf("memory should be absent before turn 6, got %+v", m)
	}

	res, err := p.Process(ctx, job(key, 6, base.Add(6*time.Minute)))
	if err != nil {
		t.Fatalf("turn 6: %v", err)
	}
	if !res.Summarized || res.Count != 6 {
		t.Fatalf("turn 6 should summarize: %+v", res)
	}
	m, err := repo.GetMemory(ctx, key)
	if err != nil || m == nil {
		t.Fatalf("memory missing after turn 6: %v", err)
	}
	if m.SummaryText != "summary of 6 turns" || m.TotalConversations != 6 || m.CustomerType != memory.CustomerReturning {
		t.Fatalf("unexpected memory: %+v", m)
	}
	if m.InteractionFrequency != memory.FrequencyHigh {
		t.Fatalf("turns a minute apart should be high frequency, got %s", m.InteractionFrequency)
	}
	if sum.priors[0] != "" {
		t.Fatalf("first summary should have no prior, got %q", sum.priors[0])
	}
}

func TestPipeline_FailedSummaryRetriedOnNextTurn(t *testing.T) {
	repo, _ := openTestRepo(t)
	sum := &fakeSummarizer{fail: true}
	p := NewPipeline(repo, sum, nil, DefaultSummaryPolicy(), fastBackoff)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 1; i <= 6; i++ {
		if _, err := p.Process(ctx, job("k", i, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}
	if sum.calls != 1 {
		t.Fatalf("expected one failed summary attempt, got %d", sum.calls)
	}

	sum.fail = false
	res, err := p.Process(ctx, job("k", 7, now.Add(7*time.Second)))
	if err != nil {
		t.Fatalf("turn 7: %v", err)
	}
	if !res.Summarized {
		t.Fatalf("summary should be retried on turn 7")
	}
	m, _ := repo.GetMemory(ctx, "k")
	if m == nil || m.TotalConversations != 7 {
		t.Fatalf("unexpected memory after retry: %+v", m)
	}

	res, _ = p.Process(ctx, job("k", 8, now.Add(8*time.Second)))
	if res.Summarized {
		t.Fatalf("turn 8 should not summarize again")
	}
}

func TestPipeline_AppendOnlyAndReplaySafe(t *testing.T) {
	repo, db := openTestRepo(t)
	p := NewPipeline(repo, &fakeSummarizer{}, nil, DefaultSummaryPolicy(), fastBackoff)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 1; i <= 3; i++ {
		if _, err := p.Process(ctx, job("k", i, now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
		var n int64
		db.Model(&memory.Turn{}).Count(&n)
		if int(n) != i {
			t.Fatalf("turn log length %d after %d turns", n, i)
		}
	}

	replay := job("k", 2, now)
	replay.Turn.AnswerText = "rewritten"
	res, err := p.Process(ctx, replay)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("replayed job changed count to %d", res.Count)
	}
	turns, _ := repo.ListTurns(ctx, "k")
	if turns[1].AnswerText != "answer 2" {
		t.Fatalf("turn mutated by replay: %+v", turns[1])
	}
}

type flakyStore struct {
	memory.Store
	failures int32
}

func (f *flakyStore) AppendTurn(ctx context.Context, t *memory.Turn) (int, error) {
	if atomic.AddInt32(&f.failures, -1) >= 0 {
		return 0, fmt.Errorf("%w: deadlock", contract.ErrPersistence)
	}
	return f.Store.AppendTurn(ctx, t)
}

func TestPipeline_AppendRetriesWithBackoff(t *testing.T) {
	repo, _ := openTestRepo(t)
	store := &flakyStore{Store: repo, failures: 2}
	var steps []string
	p := NewPipeline(store, &fakeSummarizer{}, nil, DefaultSummaryPolicy(), fastBackoff)
	p.OnStep = func(step, result string) { steps = append(steps, step+":"+result) }

	res, err := p.Process(context.Background(), job("k", 1, time.Now()))
	if err != nil {
		t.Fatalf("expected success after retries: %v", err)
	}
	if res.Count != 1 || len(steps) != 1 || steps[0] != "append:ok" {
		t.Fatalf("unexpected result %+v steps %v", res, steps)
	}

	store.failures = 10
	_, err = p.Process(context.Background(), job("k", 2, time.Now()))
	if !errors.Is(err, contract.ErrPersistence) {
		t.Fatalf("expected ErrPersistence after exhausting retries, got %v", err)
	}
}

func TestQueue_SerialisesPerCustomer(t *testing.T) {
	repo, _ := openTestRepo(t)
	p := NewPipeline(repo, &fakeSummarizer{}, nil, DefaultSummaryPolicy(), fastBackoff)
	q := NewQueue(4, 5*time.Second, PipelineHandler(p))
	base := time.Now().UTC()

	const n = 20
	for i := 1; i <= n; i++ {
		q.Schedule(job("60123456789", i, base.Add(time.Duration(i)*time.Millisecond)))
		q.Schedule(job("60111111111", 100+i, base.Add(time.Duration(i)*time.Millisecond)))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}

	turns, err := repo.ListTurns(context.Background(), "60123456789")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(turns) != n {
		t.Fatalf("expected %d turns, got %d", n, len(turns))
	}
	for i, tr := range turns {
		if tr.UserText != fmt.Sprintf("question %d", i+1) {
			t.Fatalf("turn %d out of order: %q", i, tr.UserText)
		}
	}
	m, _ := repo.GetMemory(context.Background(), "60123456789")
	if m == nil || m.TotalConversations != 16 {
		t.Fatalf("expected last summary at turn 16, got %+v", m)
	}
	if err := q.TrySchedule(job("x", 1, base)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

type failingPublisher struct{ calls int32 }

func (f *failingPublisher) PublishJob(ctx context.Context, job Job) error {
	atomic.AddInt32(&f.calls, 1)
	return errors.New("broker unreachable")
}

func TestPublishHandler_FallsBackLocally(t *testing.T) {
	pub := &failingPublisher{}
	var fallback int32
	h := PublishHandler(pub, func(ctx context.Context, job Job) { atomic.AddInt32(&fallback, 1) })
	h(context.Background(), job("k", 1, time.Now()))
	if pub.calls != 1 || fallback != 1 {
		t.Fatalf("publish=%d fallback=%d", pub.calls, fallback)
	}
}

func TestPipeline_ConcurrentFirstMessagesShareSession(t *testing.T) {
	repo, _ := openTestRepo(t)
	p := NewPipeline(repo, &fakeSummarizer{}, nil, DefaultSummaryPolicy(), fastBackoff)
	p.SessionGap = 24 * time.Hour
	base := time.Now().UTC()

	first := job("60123456789", 1, base)
	first.Turn.SessionID, first.NewSession = "sess-a", true
	second := job("60123456789", 2, base.Add(300*time.Millisecond))
	second.Turn.SessionID, second.NewSession = "sess-b", true
	// a returning customer after the gap gets a session of its own
	later := job("60123456789", 3, base.Add(25*time.Hour))
	later.Turn.SessionID, later.NewSession = "sess-c", true

	for _, j := range []Job{first, second, second, later} {
		if _, err := p.Process(context.Background(), j); err != nil {
			t.Fatalf("process %s: %v", j.Turn.TurnID, err)
		}
	}

	turns, err := repo.ListTurns(context.Background(), "60123456789")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"sess-a", "sess-a", "sess-c"}
	if len(turns) != len(want) {
		t.Fatalf("got %d turns, want %d", len(turns), len(want))
	}
	for i, w := range want {
		if turns[i].SessionID != w {
			t.Fatalf("turn %d session = %s, want %s", i+1, turns[i].SessionID, w)
		}
	}
	sessions, err := repo.ListSessions(context.Background(), "60123456789", 10)
	if err != nil || len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %v (%v)", sessions, err)
	}
}

func TestPipeline_ResolvedSessionIsKept(t *testing.T) {
	repo, _ := openTestRepo(t)
	p := NewPipeline(repo, &fakeSummarizer{}, nil, DefaultSummaryPolicy(), fastBackoff)
	p.SessionGap = 24 * time.Hour
	base := time.Now().UTC()

	a := job("k", 1, base)
	a.Turn.SessionID = "sess-a"
	b := job("k", 2, base.Add(time.Second))
	b.Turn.SessionID = "sess-b" // not minted by the request path
	for _, j := range []Job{a, b} {
		if _, err := p.Process(context.Background(), j); err != nil {
			t.Fatalf("process: %v", err)
		}
	}
	turns, _ := repo.ListTurns(context.Background(), "k")
	if len(turns) != 2 || turns[1].SessionID != "sess-b" {
		t.Fatalf("unexpected turns %+v", turns)
	}
}
