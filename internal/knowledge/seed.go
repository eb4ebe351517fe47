package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/suPer8Hu/chat-orchestrator/internal/ai"
)

// SeedRecord is one entry of a seed file:
//
//	[{"id": "p-1", "domain": "product", "content": "..."}]
type SeedRecord struct {
	ID      string `json:"id"`
	Domain  string `json:"domain"`
	Content string `json:"content"`
}

func LoadSeedFile(path string) ([]SeedRecord, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	var recs []SeedRecord
	if err := json.Unmarshal(b, &recs); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}
	return recs, nil
}

// Seed embeds the records and indexes them. It returns the number indexed.
func Seed(ctx context.Context, idx Indexer, emb ai.Embedder, recs []SeedRecord) (int, error) {
	docs := make([]Document, 0, len(recs))
	for i, r := range recs {
		content := strings.TrimSpace(r.Content)
		domain := strings.ToLower(strings.TrimSpace(r.Domain))
		if content == "" || domain == "" {
			return 0, fmt.Errorf("seed record %d: domain and content are required", i)
		}
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("%s-%d", domain, i)
		}
		vec, err := emb.Embed(ctx, content)
		if err != nil {
			return 0, fmt.Errorf("embed seed record %s: %w", id, err)
		}
		docs = append(docs, Document{ID: id, Domain: domain, Content: content, Embedding: vec})
	}
	if err := idx.Index(ctx, docs); err != nil {
		return 0, err
	}
	return len(docs), nil
}
