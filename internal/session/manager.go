package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chat-orchestrator/internal/logx"
	"github.com/suPer8Hu/chat-orchestrator/internal/memory"
)

// Payload is the strategy-selected memory handed to the generator.
type Payload struct {
	RecentTurns          []memory.Turn `json:"recent_turns,omitempty"`
	Summary              string        `json:"summary,omitempty"`
	CustomerType         string        `json:"customer_type,omitempty"`
	InteractionFrequency string        `json:"interaction_frequency,omitempty"`
}

func (p Payload) Empty() bool {
	return len(p.RecentTurns) == 0 && p.Summary == "" && p.CustomerType == ""
}

type Resolution struct {
	SessionID  string
	StartedAt  time.Time
	NewSession bool
	TurnIndex  int
	Strategy   Strategy
	Stateless  bool
	Memory     Payload

	// Prior memory row as read, nil when absent.
	CustomerMemory *memory.CustomerMemory
}

type Manager struct {
	store  memory.Store
	policy Policy
	log    zerolog.Logger
	newID  func() string
}

func NewManager(store memory.Store, policy Policy) *Manager {
	return &Manager{
		store:  store,
		policy: policy.normalized(),
		log:    logx.Component("session"),
		newID:  func() string { return uuid.NewString() },
	}
}

func (m *Manager) Policy() Policy { return m.policy }

// Resolve reads the customer's bundle and decides session, turn index and strategy.
// An empty customerKey resolves statelessly without touching the store.
// On a store error the returned Resolution is a fresh session with no memory.
func (m *Manager) Resolve(ctx context.Context, customerKey string, now time.Time) (Resolution, error) {
	customerKey = strings.TrimSpace(customerKey)
	if customerKey == "" {
		return m.Stateless(now), nil
	}
	b, err := m.store.FetchBundle(ctx, customerKey, m.policy.RecentTurns)
	if err != nil {
		return m.fresh(now), fmt.Errorf("resolve session for %s: %w", customerKey, err)
	}
	res := m.FromBundle(b, now)
	m.log.Debug().
		Str("customer_key", customerKey).
		Str("session_id", res.SessionID).
		Bool("new_session", res.NewSession).
		Int("turn_index", res.TurnIndex).
		Str("strategy", string(res.Strategy)).
		Msg("session resolved")
	return res, nil
}

func (m *Manager) Stateless(now time.Time) Resolution {
	r := m.fresh(now)
	r.Stateless = true
	return r
}

func (m *Manager) fresh(now time.Time) Resolution {
	return Resolution{
		SessionID:  m.newID(),
		StartedAt:  now,
		NewSession: true,
		TurnIndex:  1,
		Strategy:   RecentOnly,
	}
}

// FromBundle is the pure part of Resolve.
func (m *Manager) FromBundle(b memory.Bundle, now time.Time) Resolution {
	turnIndex := b.TotalTurns + 1
	res := Resolution{
		TurnIndex:      turnIndex,
		Strategy:       m.policy.SelectStrategy(turnIndex),
		CustomerMemory: b.Memory,
	}

	expired := b.TotalTurns == 0 || now.Sub(b.LastActivityAt) > m.policy.InactivityGap
	if expired {
		res.SessionID = m.newID()
		res.StartedAt = now
		res.NewSession = true
	} else {
		res.SessionID = b.LastSessionID
		res.StartedAt = b.SessionStartedAt
		for _, t := range b.RecentTurns {
			if t.SessionID == b.LastSessionID {
				res.Memory.RecentTurns = append(res.Memory.RecentTurns, t)
			}
		}
	}

	if res.Strategy.UsesSummary() && b.Memory != nil {
		res.Memory.Summary = FormatSummary(b.Memory, now)
	}
	if res.Strategy.UsesProfile() && b.Memory != nil {
		res.Memory.CustomerType = b.Memory.CustomerType
		res.Memory.InteractionFrequency = b.Memory.InteractionFrequency
	}
	return res
}

// FormatSummary prefixes the stored summary with a recency header.
// It returns "" for a missing or placeholder summary.
func FormatSummary(mem *memory.CustomerMemory, now time.Time) string {
	if !mem.HasSummary() {
		return ""
	}
	summary := strings.TrimSpace(mem.SummaryText)
	since := now.Sub(mem.LastInteractionAt)
	if since > 24*time.Hour {
		days := int(since / (24 * time.Hour))
		if days < 1 {
			days = 1
		}
		return fmt.Sprintf("Returning customer (last seen %d days ago, %d total conversations):\n\n%s",
			days, mem.TotalConversations, summary)
	}
	return fmt.Sprintf("Active customer (%d conversations):\n\n%s", mem.TotalConversations, summary)
}
