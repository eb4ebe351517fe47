package knowledge

import (
	"context"
	"fmt"
	"sync"

	"github.com/philippgille/chromem-go"
)

// ChromemRetriever keeps one in-process chromem collection per domain.
type ChromemRetriever struct {
	db *chromem.DB

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

func NewChromemRetriever() *ChromemRetriever {
	return &ChromemRetriever{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}
}

func (r *ChromemRetriever) collection(domain string, create bool) (*chromem.Collection, error) {
	r.mu.RLock()
	col, ok := r.collections[domain]
	r.mu.RUnlock()
	if ok || !create {
		return col, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if col, ok := r.collections[domain]; ok {
		return col, nil
	}
	// embeddings are always supplied by the caller
	col, err := r.db.GetOrCreateCollection("knowledge_"+domain, map[string]string{"domain": domain}, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection %s: %w", domain, err)
	}
	r.collections[domain] = col
	return col, nil
}

func (r *ChromemRetriever) Index(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		if len(d.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", d.ID)
		}
		col, err := r.collection(d.Domain, true)
		if err != nil {
			return err
		}
		if err := col.AddDocument(ctx, chromem.Document{
			ID:        d.ID,
			Content:   d.Content,
			Embedding: d.Embedding,
			Metadata:  map[string]string{"domain": d.Domain},
		}); err != nil {
			return fmt.Errorf("add document %s: %w", d.ID, err)
		}
	}
	return nil
}

func (r *ChromemRetriever) Search(ctx context.Context, domain string, embedding []float32, threshold float64) ([]Record, error) {
	col, err := r.collection(domain, false)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, nil
	}
	// chromem requires nResults <= Count()
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, embedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query %s: %w", domain, err)
	}

	out := make([]Record, 0, len(results))
	for _, res := range results {
		score := float64(res.Similarity)
		if score < threshold {
			continue
		}
		out = append(out, Record{ID: res.ID, Content: res.Content, Score: score})
	}
	return out, nil
}
