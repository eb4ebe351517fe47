package persist

import "github.com/suPer8Hu/chat-orchestrator/internal/memory"

// SummaryPolicy decides when the customer summary is recomputed.
//
// First at StartAt turns, then every Cadence turns after that. Staleness
// re-triggers when the memory row lags the turn count by that many turns,
// which also retries a summary that failed on an earlier qualifying turn.
type SummaryPolicy struct {
	StartAt   int
	Cadence   int
	Staleness int
}

func DefaultSummaryPolicy() SummaryPolicy {
	return SummaryPolicy{StartAt: 6, Cadence: 5, Staleness: 5}
}

func (p SummaryPolicy) ShouldSummarize(count int, mem *memory.CustomerMemory) bool {
	if p.StartAt <= 0 || count < p.StartAt {
		return false
	}
	if count == p.StartAt {
		return true
	}
	if p.Cadence > 0 && (count-p.StartAt)%p.Cadence == 0 {
		return true
	}
	if !mem.HasSummary() {
		return true
	}
	return p.Staleness > 0 && count-mem.TotalConversations >= p.Staleness
}
