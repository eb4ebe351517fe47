package knowledge

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PGVectorRetriever searches a pgvector table using cosine similarity.
type PGVectorRetriever struct {
	pool  *pgxpool.Pool
	table string
}

func NewPGVectorRetriever(ctx context.Context, databaseURL, table string) (*PGVectorRetriever, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid knowledge table name %q", table)
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	r := &PGVectorRetriever{pool: pool, table: table}
	if err := r.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return r, nil
}

func (r *PGVectorRetriever) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector;`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			domain TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding vector NOT NULL
		);`, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_domain ON %s (domain);`, r.table, r.table),
	}
	for _, stmt := range stmts {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (r *PGVectorRetriever) Search(ctx context.Context, domain string, embedding []float32, threshold float64) ([]Record, error) {
	vec := vectorLiteral(embedding)
	rows, err := r.pool.Query(ctx, fmt.Sprintf(
		`SELECT id, content, 1 - (embedding <=> $2::vector) AS score
		 FROM %s
		 WHERE domain = $1 AND 1 - (embedding <=> $2::vector) >= $3
		 ORDER BY score DESC`, r.table),
		domain, vec, threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("pgvector search %s: %w", domain, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.Content, &rec.Score)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan pgvector rows: %w", err)
	}
	return out, nil
}

func (r *PGVectorRetriever) Index(ctx context.Context, docs []Document) error {
	batch := &pgx.Batch{}
	for _, d := range docs {
		batch.Queue(fmt.Sprintf(
			`INSERT INTO %s (id, domain, content, embedding) VALUES ($1, $2, $3, $4::vector)
			 ON CONFLICT (id) DO UPDATE SET domain = EXCLUDED.domain, content = EXCLUDED.content, embedding = EXCLUDED.embedding`,
			r.table), d.ID, d.Domain, d.Content, vectorLiteral(d.Embedding))
	}
	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("index documents: %w", err)
	}
	return nil
}

func (r *PGVectorRetriever) Close() {
	r.pool.Close()
}

// vectorLiteral renders the pgvector text form, e.g. [0.1,0.2].
func vectorLiteral(v []float32) string {
	var sb strings.Builder
	sb.Grow(len(v) * 10)
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}
