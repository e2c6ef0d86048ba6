package ports

import (
	"context"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// Embedder turns a query string into a fixed-length vector. The embedding
// model itself is hosted elsewhere; this is the gateway contract.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// ChunkSearcher issues one ranked query per retrieval channel over the
// same scoped candidate pool. Results come back ordered best-first with
// the channel's raw score filled in; ranks are assigned by the caller.
type ChunkSearcher interface {
	SearchSemantic(ctx context.Context, queryVector []float32, scope domain.RetrievalScope, limit int) ([]domain.RankedCandidate, error)
	SearchLexical(ctx context.Context, queryText string, scope domain.RetrievalScope, limit int) ([]domain.RankedCandidate, error)
}

// DocumentCatalog maps document ids to display metadata for source
// assembly. The catalog is owned by the document subsystem.
type DocumentCatalog interface {
	Resolve(ctx context.Context, documentIDs []string) (map[string]domain.DocumentRef, error)
}

// CompletionStreamer opens an incremental token stream for a grounding
// prompt. There is exactly one reader per returned stream.
type CompletionStreamer interface {
	StreamCompletion(ctx context.Context, prompt string) (CompletionStream, error)
}

// CompletionStream yields decoded fragments until io.EOF. Close releases
// the upstream connection and is safe to call more than once.
type CompletionStream interface {
	Recv() (domain.StreamFragment, error)
	Close() error
}

// TurnPublisher hands a completed turn off for downstream persistence.
// Publishing is fire-and-forget; a failure never fails the turn.
type TurnPublisher interface {
	PublishTurnCompleted(ctx context.Context, turn domain.CompletedTurn) error
}

// MessageStore is the external persistence contract for chat history.
// The core never persists messages itself; consumers of the completed-turn
// stream implement this.
type MessageStore interface {
	SaveTurn(ctx context.Context, turn domain.CompletedTurn) error
}
