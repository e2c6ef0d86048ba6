package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
)

const defaultSourceExcerptChars = 700

// AskUseCase wires the full pipeline for one question: embed, retrieve
// both channels, fuse, stream the grounded answer, and renumber citations
// for the final view. All state is per-call.
type AskUseCase struct {
	embedder     ports.Embedder
	retriever    *DualRetriever
	catalog      ports.DocumentCatalog
	streamer     *AnswerStreamer
	policy       RetrievalPolicy
	excerptChars int
}

func NewAskUseCase(
	embedder ports.Embedder,
	retriever *DualRetriever,
	catalog ports.DocumentCatalog,
	streamer *AnswerStreamer,
	policy RetrievalPolicy,
	excerptChars int,
) *AskUseCase {
	if excerptChars <= 0 {
		excerptChars = defaultSourceExcerptChars
	}
	return &AskUseCase{
		embedder:     embedder,
		retriever:    retriever,
		catalog:      catalog,
		streamer:     streamer,
		policy:       policy.normalize(),
		excerptChars: excerptChars,
	}
}

func (uc *AskUseCase) Ask(ctx context.Context, req domain.AskRequest, callbacks ports.StreamCallbacks) (*ports.AskResult, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("question is required"))
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "ask", fmt.Errorf("owner id is required"))
	}

	limit := req.Limit
	if limit <= 0 {
		limit = uc.policy.TopK
	}

	queryVector, err := uc.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scope := domain.RetrievalScope{
		OwnerID:     req.OwnerID,
		DocumentIDs: req.DocumentIDs,
	}
	semantic, keyword, report, err := uc.retriever.Retrieve(ctx, question, queryVector, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	fused := fuseRRF(
		semantic, keyword,
		uc.policy.Weights,
		uc.policy.RRFK,
		limit,
		limit*uc.policy.OversampleFactor,
	)
	sources := uc.buildSources(ctx, fused)

	state, streamErr := uc.streamer.Stream(ctx, question, req.History, fused, sources, callbacks)

	result := &ports.AskResult{
		State:     *state,
		View:      Renumber(state.AccumulatedText, state.Sources),
		Retrieval: report,
	}
	if streamErr != nil {
		return result, streamErr
	}
	return result, nil
}

// buildSources projects fused results into the client-facing shape,
// resolving file names through the document catalog. A catalog failure
// degrades to unnamed sources rather than failing the turn.
func (uc *AskUseCase) buildSources(ctx context.Context, fused []domain.FusedResult) []domain.Source {
	if len(fused) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(fused))
	ids := make([]string, 0, len(fused))
	for _, f := range fused {
		if _, ok := seen[f.DocumentID]; ok {
			continue
		}
		seen[f.DocumentID] = struct{}{}
		ids = append(ids, f.DocumentID)
	}

	refs, err := uc.catalog.Resolve(ctx, ids)
	if err != nil {
		slog.Warn("catalog_resolve_failed", "documents", len(ids), "error", err)
		refs = nil
	}

	out := make([]domain.Source, 0, len(fused))
	for _, f := range fused {
		out = append(out, domain.Source{
			Index:      f.Index,
			DocumentID: f.DocumentID,
			FileName:   refs[f.DocumentID].FileName,
			PageNumber: f.PageNumber,
			Content:    trimExcerpt(f.Content, uc.excerptChars),
			Similarity: f.Similarity,
		})
	}
	return out
}

func trimExcerpt(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	return string(runes[:maxChars]) + "…"
}
