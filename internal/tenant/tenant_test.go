package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := db.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&Tenant{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

type countingLoader struct {
	prompt string
	err    error
	calls  int
}

func (c *countingLoader) SystemPrompt(ctx context.Context, id string) (string, error) {
	c.calls++
	return c.prompt, c.err
}

func TestPromptSource_FallbackAndCache(t *testing.T) {
	loader := &countingLoader{prompt: "  You are Acme's assistant.  "}
	ps, err := NewPromptSource(loader, time.Minute)
	if err != nil {
		t.Fatalf("new prompt source: %v", err)
	}
	defer ps.Close()

	if got := ps.Prompt(context.Background(), ""); got != DefaultSystemPrompt {
		t.Fatalf("empty tenant should use default")
	}
	if got := ps.Prompt(context.Background(), "acme"); got != "You are Acme's assistant." {
		t.Fatalf("unexpected prompt %q", got)
	}
	// ristretto applies sets asynchronously
	ps.cache.Wait()
	ps.Prompt(context.Background(), "acme")
	if loader.calls != 1 {
		t.Fatalf("expected cached prompt, loader called %d times", loader.calls)
	}
}

func TestPromptSource_EmptyOrFailingUsesDefault(t *testing.T) {
	for _, l := range []*countingLoader{{prompt: "   "}, {err: errors.New("db down")}} {
		ps, err := NewPromptSource(l, time.Minute)
		if err != nil {
			t.Fatalf("new prompt source: %v", err)
		}
		if got := ps.Prompt(context.Background(), "t1"); got != DefaultSystemPrompt {
			t.Fatalf("expected default prompt, got %q", got)
		}
		ps.Close()
	}
}

func TestRepo_SystemPrompt(t *testing.T) {
	repo := NewRepo(openTestDB(t))
	ctx := context.Background()
	if err := repo.Upsert(ctx, &Tenant{ID: "acme", Name: "Acme", APIKeyHash: "x", SystemPrompt: "be brief"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := repo.Upsert(ctx, &Tenant{ID: "acme", Name: "Acme Inc", APIKeyHash: "y", SystemPrompt: "be very brief"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := repo.SystemPrompt(ctx, "acme")
	if err != nil || got != "be very brief" {
		t.Fatalf("unexpected prompt %q, %v", got, err)
	}
	missing, err := repo.SystemPrompt(ctx, "nobody")
	if err != nil || missing != "" {
		t.Fatalf("unknown tenant should give empty prompt, got %q, %v", missing, err)
	}
}
