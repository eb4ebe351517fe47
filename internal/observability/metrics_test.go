package observability

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestMetrics_CountersAndHandler(t *testing.T) {
	m := NewMetrics("test")
	m.ObserveStage("generation", 120*time.Millisecond)
	m.StageFailed("classification", "timeout")
	m.StrategySelected("hybrid")
	m.StrategySelected("hybrid")
	m.DomainLookup("company", errors.New("down"))
	m.PersistStep("append", "ok")
	m.TrackPending("test", func() int { return 3 })

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		`test_stage_failures_total{kind="timeout",stage="classification"} 1`,
		`test_persist_pending_jobs 3`,
		`test_stage_latency_ms_count{stage="generation"} 1`,
		`test_memory_strategy_total{strategy="hybrid"} 2`,
		`test_retrieval_lookups_total{domain="company",result="error"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
