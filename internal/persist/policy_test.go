package persist

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
)

func TestSummaryPolicy(t *testing.T) {
	p := DefaultSummaryPolicy()
	fresh := func(total int) *memory.CustomerMemory {
		return &memory.CustomerMemory{SummaryText: "s", TotalConversations: total}
	}
	cases := []struct {
		name  string
		count int
		mem   *memory.CustomerMemory
		want  bool
	}{
		{"before start", 5, nil, false},
		{"at start", 6, nil, true},
		{"between, up to date", 8, fresh(6), false},
		{"cadence 11", 11, fresh(6), true},
		{"cadence 16", 16, fresh(11), true},
		{"after start, no memory", 7, nil, true},
		{"placeholder memory", 7, &memory.CustomerMemory{SummaryText: memory.PlaceholderSummary, TotalConversations: 7}, true},
		{"stale", 12, fresh(6), true},
		{"not yet stale", 10, fresh(6), false},
	}
	for _, tc := range cases {
		if got := p.ShouldSummarize(tc.count, tc.mem); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestBackoff_RetryAndDelay(t *testing.T) {
	b := Backoff{Base: time.Millisecond, Max: 4 * time.Millisecond, Attempts: 4}
	p := b.policy(context.Background())
	want := []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond, backoff.Stop}
	for i, w := range want {
		if got := p.NextBackOff(); got != w {
			t.Fatalf("delay %d = %v, want %v", i+1, got, w)
		}
	}
	calls := 0
	err := b.Retry(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}

	calls = 0
	err = b.Retry(context.Background(), func(context.Context) error { calls++; return errors.New("permanent") })
	if err == nil || err.Error() != "permanent" || calls != 4 {
		t.Fatalf("expected 4 attempts and the last error, got %d, %v", calls, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	calls = 0
	err = b.Retry(ctx, func(context.Context) error { calls++; cancel(); return errors.New("db gone") })
	if err == nil || err.Error() != "db gone" || calls != 1 {
		t.Fatalf("a canceled context should stop retrying with the last error, got %d, %v", calls, err)
	}
}

func TestKeyedMutex_SerialisesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "k")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("lock allowed %d holders", maxInside)
	}
	if km.Len() != 0 {
		t.Fatalf("expected no leftover keys, got %d", km.Len())
	}
}

func TestKeyedMutex_ContextCancel(t *testing.T) {
	km := NewKeyedMutex()
	unlock, _ := km.Lock(context.Background(), "k")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := km.Lock(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	unlock()
	unlock()
	if km.Len() != 0 {
		t.Fatalf("expected no leftover keys, got %d", km.Len())
	}
}
