package httpadapter

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
)

const ownerIDHeader = "X-Owner-Id"

type askRequestBody struct {
	ConversationID string            `json:"conversation_id"`
	Question       string            `json:"question"`
	DocumentIDs    []string          `json:"document_ids"`
	Limit          int               `json:"limit"`
	History        []chatMessageBody `json:"history"`
}

type chatMessageBody struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (rt *Router) askChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ownerID := strings.TrimSpace(r.Header.Get(ownerIDHeader))
	if ownerID == "" {
		writeJSONError(w, http.StatusUnauthorized, "X-Owner-Id header is required")
		return
	}

	var body askRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(body.Question) == "" {
		writeJSONError(w, http.StatusBadRequest, "question is required")
		return
	}

	history := make([]domain.ChatMessage, 0, len(body.History))
	for _, msg := range body.History {
		history = append(history, domain.ChatMessage{Role: msg.Role, Content: msg.Content})
	}

	req := domain.AskRequest{
		OwnerID:        ownerID,
		ConversationID: strings.TrimSpace(body.ConversationID),
		Question:       body.Question,
		DocumentIDs:    body.DocumentIDs,
		Limit:          body.Limit,
		History:        history,
	}

	stream, err := newSSEWriter(w)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	callbacks := ports.StreamCallbacks{
		OnToken: func(delta string) {
			_ = stream.writeEvent(sseDeltaEvent{
				Choices: []sseChoice{{Delta: sseDelta{Content: delta}}},
			})
		},
		// The emitted list keeps the register's original indexes so the
		// markers inside deltas resolve against it mid-stream.
		OnSources: func(sources []domain.Source) {
			_ = stream.writeEvent(sseSourcesEvent{Sources: sources})
		},
	}

	start := time.Now()
	result, err := rt.chat.Ask(r.Context(), req, callbacks)
	rt.recordAskMetrics(result, time.Since(start))

	if err != nil {
		slog.Error("chat_ask_failed",
			"request_id", requestIDFromContext(r.Context()),
			"status", mapErrorToHTTPStatus(err),
			"error", err,
		)
		// The HTTP status is already committed; the error travels as a
		// terminal event and the [DONE] sentinel is withheld.
		_ = stream.writeEvent(sseErrorEvent{Error: err.Error()})
		return
	}

	if err := stream.writeDone(); err != nil {
		slog.Warn("chat_ask_done_write_failed", "error", err)
	}

	if result.State.Reason == domain.TerminationComplete {
		rt.publishTurn(r.Context(), req, result)
	}
}

// publishTurn hands the completed turn off for persistence. The client
// response is already finished; a publish failure only logs.
func (rt *Router) publishTurn(ctx context.Context, req domain.AskRequest, result *ports.AskResult) {
	if rt.publisher == nil {
		return
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	turn := domain.CompletedTurn{
		TurnID:         uuid.NewString(),
		ConversationID: conversationID,
		OwnerID:        req.OwnerID,
		Question:       req.Question,
		Content:        result.View.Content,
		Sources:        result.View.Sources,
		CreatedAt:      time.Now().UTC(),
	}

	publishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := rt.publisher.PublishTurnCompleted(publishCtx, turn); err != nil {
		slog.Warn("turn_publish_failed", "turn_id", turn.TurnID, "error", err)
	}
}

func (rt *Router) recordAskMetrics(result *ports.AskResult, duration time.Duration) {
	if rt.metrics == nil || result == nil {
		return
	}

	report := result.Retrieval
	rt.metrics.RecordRetrieval(serviceName, report.SemanticCandidates, report.KeywordCandidates, duration)
	if report.SemanticFailed {
		rt.metrics.RecordChannelFailure(serviceName, "semantic")
	}
	if report.KeywordFailed {
		rt.metrics.RecordChannelFailure(serviceName, "keyword")
	}
	rt.metrics.RecordChannelDegraded(serviceName, report.DegradedChannel)
	rt.metrics.RecordFusedResults(serviceName, len(result.State.Sources))
	rt.metrics.RecordStreamTermination(serviceName, string(result.State.Reason))
	rt.metrics.RecordCitedSources(serviceName, len(result.View.Sources))
}
