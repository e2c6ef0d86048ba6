package ports

import (
	"context"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// StreamCallbacks receive the incremental output of one grounded answer.
// OnToken forwards each content delta exactly once, in display order.
// OnSources carries the captured source list, with its original indexes,
// each time the register is seeded or replaced; deltas keep the model's
// original markers, so these indexes are the ones the client resolves
// against mid-stream. OnDone fires once with the terminal stream state.
// Nil fields are skipped.
type StreamCallbacks struct {
	OnToken   func(delta string)
	OnSources func(sources []domain.Source)
	OnDone    func(state domain.StreamState)
}

// AskResult is the terminal outcome of one question: the final stream
// state and the renumbered view of the completed answer.
type AskResult struct {
	State     domain.StreamState
	View      domain.RenumberedView
	Retrieval domain.RetrievalReport
}

// ChatService is the inbound contract for streamed, citation-grounded
// question answering.
type ChatService interface {
	Ask(ctx context.Context, req domain.AskRequest, callbacks StreamCallbacks) (*AskResult, error)
}
