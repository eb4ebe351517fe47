package summarize

import (
	"time"

	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
)

func CustomerType(totalTurns int) string {
	switch {
	case totalTurns >= 10:
		return memory.CustomerLoyal
	case totalTurns >= 3:
		return memory.CustomerReturning
	default:
		return memory.CustomerNew
	}
}

// InteractionFrequency looks at the gap between the two newest turns.
// turns must be oldest -> newest.
func InteractionFrequency(turns []memory.Turn) string {
	if len(turns) < 2 {
		return memory.FrequencyLow
	}
	gap := turns[len(turns)-1].CreatedAt.Sub(turns[len(turns)-2].CreatedAt)
	switch {
	case gap < 24*time.Hour:
		return memory.FrequencyHigh
	case gap < 168*time.Hour:
		return memory.FrequencyMedium
	default:
		return memory.FrequencyLow
	}
}

// Profile builds the memory row written after a successful summarisation.
// turns is the full history, oldest -> newest.
func Profile(customerKey string, turns []memory.Turn, summary string, now time.Time) memory.CustomerMemory {
	m := memory.CustomerMemory{
		CustomerKey:          customerKey,
		SummaryText:          summary,
		TotalConversations:   len(turns),
		CustomerType:         CustomerType(len(turns)),
		InteractionFrequency: InteractionFrequency(turns),
		UpdatedAt:            now,
	}
	if len(turns) > 0 {
		m.FirstInteractionAt = turns[0].CreatedAt
		m.LastInteractionAt = turns[len(turns)-1].CreatedAt
	}
	return m
}
