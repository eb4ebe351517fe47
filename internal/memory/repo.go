package memory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/suPer8Hu/chat-orchestrator/internal/contract"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

var _ Store = (*Repo)(nil)

// bundleRow is one turn joined with its session and the customer memory.
// The m_* and s_* columns are null when the joined row does not exist.
type bundleRow struct {
	Seq         uint64
	TurnID      string
	CustomerKey string
	SessionID   string
	TenantID    string
	UserText    string
	AnswerText  string
	LatencyMS   int64
	Failed      bool
	CreatedAt   time.Time
	TotalTurns  int

	SStartedAt *time.Time

	MCustomerKey          *string
	MSummaryText          *string
	MTotalConversations   *int
	MFirstInteractionAt   *time.Time
	MLastInteractionAt    *time.Time
	MCustomerType         *string
	MInteractionFrequency *string
	MUpdatedAt            *time.Time
}

func (r bundleRow) memory() *CustomerMemory {
	if r.MCustomerKey == nil {
		return nil
	}
	m := &CustomerMemory{CustomerKey: *r.MCustomerKey}
	if r.MSummaryText != nil {
		m.SummaryText = *r.MSummaryText
	}
	if r.MTotalConversations != nil {
		m.TotalConversations = *r.MTotalConversations
	}
	if r.MFirstInteractionAt != nil {
		m.FirstInteractionAt = *r.MFirstInteractionAt
	}
	if r.MLastInteractionAt != nil {
		m.LastInteractionAt = *r.MLastInteractionAt
	}
	if r.MCustomerType != nil {
		m.CustomerType = *r.MCustomerType
	}
	if r.MInteractionFrequency != nil {
		m.InteractionFrequency = *r.MInteractionFrequency
	}
	if r.MUpdatedAt != nil {
		m.UpdatedAt = *r.MUpdatedAt
	}
	return m
}

// FetchBundle runs a single windowed query over turns; COUNT(*) OVER () is
// evaluated before LIMIT so every row carries the full count.
func (r *Repo) FetchBundle(ctx context.Context, customerKey string, window int) (Bundle, error) {
	if window <= 0 {
		window = 5
	}

	var rows []bundleRow
	err := r.db.WithContext(ctx).
		Table("conversation_turns AS t").
		Select(`t.seq, t.turn_id, t.customer_key, t.session_id, t.tenant_id, t.user_text, t.answer_text,
			t.latency_ms, t.failed, t.created_at,
			COUNT(*) OVER () AS total_turns,
			s.started_at AS s_started_at,
			m.customer_key AS m_customer_key, m.summary_text AS m_summary_text,
			m.total_conversations AS m_total_conversations,
			m.first_interaction_at AS m_first_interaction_at, m.last_interaction_at AS m_last_interaction_at,
			m.customer_type AS m_customer_type, m.interaction_frequency AS m_interaction_frequency,
			m.updated_at AS m_updated_at`).
		Joins("LEFT JOIN conversation_sessions AS s ON s.session_id = t.session_id").
		Joins("LEFT JOIN customer_memories AS m ON m.customer_key = t.customer_key").
		Where("t.customer_key = ?", customerKey).
		Order("t.created_at DESC, t.seq DESC").
		Limit(window).
		Scan(&rows).Error
	if err != nil {
		return Bundle{}, fmt.Errorf("fetch bundle: %w", err)
	}

	if len(rows) == 0 {
		// No turns yet, but a memory row may still exist (imported or pruned history).
		mem, err := r.GetMemory(ctx, customerKey)
		if err != nil {
			return Bundle{}, err
		}
		return Bundle{Memory: mem}, nil
	}

	newest := rows[0]
	b := Bundle{
		Memory:         newest.memory(),
		TotalTurns:     newest.TotalTurns,
		LastSessionID:  newest.SessionID,
		LastActivityAt: newest.CreatedAt,
		RecentTurns:    make([]Turn, 0, len(rows)),
	}
	if newest.SStartedAt != nil {
		b.SessionStartedAt = *newest.SStartedAt
	} else {
		b.SessionStartedAt = newest.CreatedAt
	}

	// rows are newest -> oldest; reverse for prompt order
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		b.RecentTurns = append(b.RecentTurns, Turn{
			Seq:         row.Seq,
			TurnID:      row.TurnID,
			CustomerKey: row.CustomerKey,
			SessionID:   row.SessionID,
			TenantID:    row.TenantID,
			UserText:    row.UserText,
			AnswerText:  row.AnswerText,
			LatencyMS:   row.LatencyMS,
			Failed:      row.Failed,
			CreatedAt:   row.CreatedAt,
		})
	}
	return b, nil
}

func (r *Repo) AppendTurn(ctx context.Context, t *Turn) (int, error) {
	if t == nil || t.TurnID == "" || t.CustomerKey == "" || t.SessionID == "" {
		return 0, fmt.Errorf("%w: turn id, customer key and session id are required", contract.ErrValidation)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}

	var count int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&Turn{}).Where("turn_id = ?", t.TurnID).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 {
			if err := tx.Create(t).Error; err != nil {
				return err
			}
			s := Session{
				SessionID:      t.SessionID,
				CustomerKey:    t.CustomerKey,
				StartedAt:      t.CreatedAt,
				LastActivityAt: t.CreatedAt,
			}
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "session_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"last_activity_at"}),
			}).Create(&s).Error; err != nil {
				return err
			}
		}
		return tx.Model(&Turn{}).Where("customer_key = ?", t.CustomerKey).Count(&count).Error
	})
	if err != nil {
		return 0, fmt.Errorf("%w: append turn %s: %v", contract.ErrPersistence, t.TurnID, err)
	}
	return int(count), nil
}

func (r *Repo) UpsertMemory(ctx context.Context, m CustomerMemory) error {
	if m.CustomerKey == "" {
		return fmt.Errorf("%w: customer key is required", contract.ErrValidation)
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = time.Now().UTC()
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur CustomerMemory
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("customer_key = ?", m.CustomerKey).
			First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(&m).Error
		}
		if err != nil {
			return err
		}
		if cur.UpdatedAt.After(m.UpdatedAt) {
			// a newer summary already landed
			return nil
		}
		return tx.Model(&CustomerMemory{}).
			Where("customer_key = ?", m.CustomerKey).
			Updates(map[string]any{
				"summary_text":          m.SummaryText,
				"total_conversations":   m.TotalConversations,
				"first_interaction_at":  m.FirstInteractionAt,
				"last_interaction_at":   m.LastInteractionAt,
				"customer_type":         m.CustomerType,
				"interaction_frequency": m.InteractionFrequency,
				"updated_at":            m.UpdatedAt,
			}).Error
	})
	if err != nil {
		return fmt.Errorf("%w: upsert memory %s: %v", contract.ErrPersistence, m.CustomerKey, err)
	}
	return nil
}

// ListTurns returns the full history, oldest -> newest.
func (r *Repo) ListTurns(ctx context.Context, customerKey string) ([]Turn, error) {
	var turns []Turn
	if err := r.db.WithContext(ctx).
		Where("customer_key = ?", customerKey).
		Order("created_at ASC, seq ASC").
		Find(&turns).Error; err != nil {
		return nil, err
	}
	return turns, nil
}

// GetMemory returns nil, nil when the customer has no memory row.
func (r *Repo) GetMemory(ctx context.Context, customerKey string) (*CustomerMemory, error) {
	var m CustomerMemory
	err := r.db.WithContext(ctx).
		Where("customer_key = ?", customerKey).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListSessions returns sessions newest first.
func (r *Repo) ListSessions(ctx context.Context, customerKey string, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("customer_key = ?", customerKey).
		Order("last_activity_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountTurns(ctx context.Context, customerKey string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Turn{}).Where("customer_key = ?", customerKey).Count(&n).Error
	return n, err
}
