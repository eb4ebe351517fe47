package knowledge

import "context"

// Record is one retrieved knowledge snippet.
type Record struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Document is a record to index, with its embedding.
type Document struct {
	ID        string
	Domain    string
	Content   string
	Embedding []float32
}

// Retriever returns records of one domain with score >= threshold, best first.
// The result count is not capped.
type Retriever interface {
	Search(ctx context.Context, domain string, embedding []float32, threshold float64) ([]Record, error)
}

// Indexer adds documents to a retriever backend.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}
