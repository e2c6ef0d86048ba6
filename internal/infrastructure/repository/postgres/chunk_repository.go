package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// ChunkRepository serves both retrieval channels over the same chunk
// table: cosine distance via pgvector and trigram similarity via pg_trgm.
type ChunkRepository struct {
	db           *sql.DB
	embeddingDim int
}

func NewChunkRepository(db *sql.DB, embeddingDim int) *ChunkRepository {
	return &ChunkRepository{db: db, embeddingDim: embeddingDim}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across concurrent api startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083001)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	query := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE EXTENSION IF NOT EXISTS pg_trgm;

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	owner_id TEXT NOT NULL,
	filename TEXT NOT NULL,
	preview_url TEXT,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS document_chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	owner_id TEXT NOT NULL,
	ordinal INTEGER NOT NULL,
	page_number INTEGER,
	content TEXT NOT NULL,
	searchable_text TEXT NOT NULL,
	embedding vector(%d) NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunks_owner ON document_chunks(owner_id);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON document_chunks(document_id);
CREATE INDEX IF NOT EXISTS idx_chunks_embedding ON document_chunks USING ivfflat (embedding vector_cosine_ops);
CREATE INDEX IF NOT EXISTS idx_chunks_trgm ON document_chunks USING gin (searchable_text gin_trgm_ops);
`, r.embeddingDim)
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ChunkRepository) SearchSemantic(ctx context.Context, queryEmbedding []float32, scope domain.RetrievalScope, limit int) ([]domain.RankedCandidate, error) {
	args := []any{encodeVector(queryEmbedding), scope.OwnerID}
	query := `
SELECT c.id, c.document_id, c.content, c.page_number, c.ordinal,
	1 - (c.embedding <=> $1::vector) AS similarity
FROM document_chunks c
WHERE c.owner_id = $2`
	if len(scope.DocumentIDs) > 0 {
		args = append(args, encodeTextArray(scope.DocumentIDs))
		query += fmt.Sprintf(" AND c.document_id = ANY($%d::text[])", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY c.embedding <=> $1::vector LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("semantic search: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows, true)
}

func (r *ChunkRepository) SearchLexical(ctx context.Context, queryText string, scope domain.RetrievalScope, limit int) ([]domain.RankedCandidate, error) {
	args := []any{queryText, scope.OwnerID}
	query := `
SELECT c.id, c.document_id, c.content, c.page_number, c.ordinal,
	similarity(c.searchable_text, $1) AS lexical_score
FROM document_chunks c
WHERE c.owner_id = $2 AND c.searchable_text % $1`
	if len(scope.DocumentIDs) > 0 {
		args = append(args, encodeTextArray(scope.DocumentIDs))
		query += fmt.Sprintf(" AND c.document_id = ANY($%d::text[])", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY lexical_score DESC, c.id LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	return scanCandidates(rows, false)
}

func scanCandidates(rows *sql.Rows, semantic bool) ([]domain.RankedCandidate, error) {
	var out []domain.RankedCandidate
	for rows.Next() {
		var (
			c     domain.RankedCandidate
			page  sql.NullInt64
			score float64
		)
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Content, &page, &c.Ordinal, &score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if page.Valid {
			p := int(page.Int64)
			c.PageNumber = &p
		}
		if semantic {
			c.Similarity = score
		} else {
			c.LexicalScore = score
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return out, nil
}

// encodeVector renders a pgvector literal, e.g. [0.1,0.2,0.3].
func encodeVector(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

// encodeTextArray renders a Postgres text[] literal with quoted elements.
func encodeTextArray(items []string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i, s := range items {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String()
}
