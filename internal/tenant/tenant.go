package tenant

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Tenant struct {
	ID           string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name         string    `gorm:"type:varchar(128);not null" json:"name"`
	APIKeyHash   string    `gorm:"type:varchar(100);not null" json:"-"`
	SystemPrompt string    `gorm:"type:text" json:"system_prompt,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

// Get returns gorm.ErrRecordNotFound for unknown tenants.
func (r *Repo) Get(ctx context.Context, id string) (*Tenant, error) {
	var t Tenant
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repo) Upsert(ctx context.Context, t *Tenant) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "api_key_hash", "system_prompt", "updated_at"}),
	}).Create(t).Error
}

// SystemPrompt returns "" when the tenant is unknown or has no prompt.
func (r *Repo) SystemPrompt(ctx context.Context, id string) (string, error) {
	t, err := r.Get(ctx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return t.SystemPrompt, nil
}
