package memory

import (
	"strings"
	"time"
)

// Turn is one user message and the answer given to it. Rows are append-only.
type Turn struct {
	Seq         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	TurnID      string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"turn_id"`
	CustomerKey string    `gorm:"type:varchar(64);index:idx_turn_customer;not null" json:"customer_key"`
	SessionID   string    `gorm:"type:varchar(36);index;not null" json:"session_id"`
	TenantID    string    `gorm:"type:varchar(64);not null;default:''" json:"tenant_id,omitempty"`
	UserText    string    `gorm:"type:text;not null" json:"user_text"`
	AnswerText  string    `gorm:"type:text;not null" json:"answer_text"`
	LatencyMS   int64     `gorm:"not null;default:0" json:"latency_ms"`
	Failed      bool      `gorm:"not null;default:false" json:"failed,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false;not null" json:"created_at"`
}

func (Turn) TableName() string { return "conversation_turns" }

type Session struct {
	SessionID      string    `gorm:"type:varchar(36);primaryKey" json:"session_id"`
	CustomerKey    string    `gorm:"type:varchar(64);index;not null" json:"customer_key"`
	StartedAt      time.Time `gorm:"not null" json:"started_at"`
	LastActivityAt time.Time `gorm:"not null" json:"last_activity_at"`
}

func (Session) TableName() string { return "conversation_sessions" }

// Customer profile classifications, recomputed at summarisation time.
const (
	CustomerNew       = "new"
	CustomerReturning = "returning"
	CustomerLoyal     = "loyal"

	FrequencyHigh   = "high"
	FrequencyMedium = "medium"
	FrequencyLow    = "low"
)

// CustomerMemory is the long-term, per-customer summary. One row per customer key.
type CustomerMemory struct {
	CustomerKey          string    `gorm:"type:varchar(64);primaryKey" json:"customer_key"`
	SummaryText          string    `gorm:"type:text;not null" json:"summary_text"`
	TotalConversations   int       `gorm:"not null;default:0" json:"total_conversations"`
	FirstInteractionAt   time.Time `gorm:"not null" json:"first_interaction_at"`
	LastInteractionAt    time.Time `gorm:"not null" json:"last_interaction_at"`
	CustomerType         string    `gorm:"type:varchar(16);not null;default:'new'" json:"customer_type"`
	InteractionFrequency string    `gorm:"type:varchar(16);not null;default:'low'" json:"interaction_frequency"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime:false;not null" json:"updated_at"`
}

func (CustomerMemory) TableName() string { return "customer_memories" }

// PlaceholderSummary is the summary text of a memory row created before its
// first real summary. Rows written by older deployments still carry it.
const PlaceholderSummary = "New customer"

// HasSummary reports whether the row holds a real summary.
func (m *CustomerMemory) HasSummary() bool {
	if m == nil {
		return false
	}
	s := strings.TrimSpace(m.SummaryText)
	return s != "" && s != PlaceholderSummary
}

// Models lists every table owned by this package, for migrations.
func Models() []any {
	return []any{&Turn{}, &Session{}, &CustomerMemory{}}
}
