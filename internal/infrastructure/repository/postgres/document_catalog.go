package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// DocumentCatalog resolves document ids to display metadata for the
// source list. Missing ids are simply absent from the result.
type DocumentCatalog struct {
	db *sql.DB
}

func NewDocumentCatalog(db *sql.DB) *DocumentCatalog {
	return &DocumentCatalog{db: db}
}

func (c *DocumentCatalog) Resolve(ctx context.Context, ids []string) (map[string]domain.DocumentRef, error) {
	if len(ids) == 0 {
		return map[string]domain.DocumentRef{}, nil
	}

	rows, err := c.db.QueryContext(ctx, `
SELECT id, filename, COALESCE(preview_url, '')
FROM documents
WHERE id = ANY($1::text[])
`, encodeTextArray(ids))
	if err != nil {
		return nil, fmt.Errorf("resolve documents: %w", err)
	}
	defer rows.Close()

	out := make(map[string]domain.DocumentRef, len(ids))
	for rows.Next() {
		var ref domain.DocumentRef
		if err := rows.Scan(&ref.ID, &ref.FileName, &ref.PreviewURL); err != nil {
			return nil, fmt.Errorf("scan document ref: %w", err)
		}
		out[ref.ID] = ref
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document refs: %w", err)
	}
	return out, nil
}
