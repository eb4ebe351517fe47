package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRegistry_UnknownProvider(t *testing.T) {
	reg := NewRegistry()
	reg.Register("Fake", func(ctx context.Context, model string) (Provider, error) { return nil, nil })
	if _, err := reg.Get(context.Background(), "missing", "m"); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := reg.Get(context.Background(), " fake ", "m"); err != nil {
		t.Fatalf("lookup should be case-insensitive: %v", err)
	}
}

func TestSplitSystem(t *testing.T) {
	sys, rest := splitSystem([]Message{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "b"},
	})
	if sys != "a\n\nb" || len(rest) != 1 || rest[0].Content != "hi" {
		t.Fatalf("unexpected split: %q %+v", sys, rest)
	}
}

func TestOllamaProvider_Chat(t *testing.T) {
	var got ollamaChatReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(ollamaChatResp{Message: ollamaMsg{Role: "assistant", Content: "pong"}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "llama3", Options{Temperature: 0.2})
	reply, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "ping"}})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if reply != "pong" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if got.Stream || got.Model != "llama3" || len(got.Messages) != 1 || got.Options == nil {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestOllamaProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nope", Options{})
	if _, err := p.Chat(context.Background(), []Message{{Role: RoleUser, Content: "x"}}); err == nil {
		t.Fatalf("expected error on 404")
	}
}

func TestHashEmbedder_DeterministicAndNormalized(t *testing.T) {
	e := NewHashEmbedder(64)
	a, _ := e.Embed(context.Background(), "Return policy for phones")
	b, _ := e.Embed(context.Background(), "Return policy for phones")
	if len(a) != 64 {
		t.Fatalf("unexpected dims %d", len(a))
	}
	var norm float32
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding not deterministic at %d", i)
		}
		norm += a[i] * a[i]
	}
	if norm < 0.99 || norm > 1.01 {
		t.Fatalf("expected unit vector, norm^2=%f", norm)
	}
	empty, _ := e.Embed(context.Background(), "")
	if empty[0] != 1 {
		t.Fatalf("empty text should map to a non-zero vector")
	}
}
