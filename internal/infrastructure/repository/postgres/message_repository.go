package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// MessageRepository persists completed chat turns. It backs the consumer
// side of the turn-completed stream; the ask path itself never writes here.
type MessageRepository struct {
	db *sql.DB
}

func NewMessageRepository(db *sql.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

func (r *MessageRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026083002)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chat_turns (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	sources JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_turns_conversation ON chat_turns(conversation_id, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *MessageRepository) SaveTurn(ctx context.Context, turn domain.CompletedTurn) error {
	sourcesJSON, err := json.Marshal(turn.Sources)
	if err != nil {
		return fmt.Errorf("marshal sources: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO chat_turns (id, conversation_id, owner_id, question, answer, sources, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`,
		turn.TurnID, turn.ConversationID, turn.OwnerID, turn.Question, turn.Content, sourcesJSON, turn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert chat turn: %w", err)
	}
	return nil
}
