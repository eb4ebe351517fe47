package memory

import (
	"context"
	"time"
)

// Bundle is everything the request path needs about a customer, read at once.
type Bundle struct {
	// RecentTurns is oldest -> newest, at most the requested window.
	RecentTurns []Turn
	Memory      *CustomerMemory
	TotalTurns  int

	// Latest session, derived from the newest turn. Empty when TotalTurns == 0.
	LastSessionID    string
	SessionStartedAt time.Time
	LastActivityAt   time.Time
}

func (b Bundle) Empty() bool { return b.TotalTurns == 0 && b.Memory == nil }

type Store interface {
	// FetchBundle returns the newest window turns, the total turn count and the
	// customer memory in one read. Unknown customers yield an empty bundle.
	FetchBundle(ctx context.Context, customerKey string, window int) (Bundle, error)
	// AppendTurn writes t unless a turn with the same TurnID exists and returns
	// the customer's turn count afterwards.
	AppendTurn(ctx context.Context, t *Turn) (int, error)
	// UpsertMemory keeps the row with the newest UpdatedAt.
	UpsertMemory(ctx context.Context, m CustomerMemory) error

	ListTurns(ctx context.Context, customerKey string) ([]Turn, error)
	GetMemory(ctx context.Context, customerKey string) (*CustomerMemory, error)
	ListSessions(ctx context.Context, customerKey string, limit int) ([]Session, error)
}
