package httpadapter

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
	"github.com/kirillkom/docchat/internal/observability/logging"
	"github.com/kirillkom/docchat/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	// The access-log middleware writes through the default logger.
	slog.SetDefault(logging.NewNopLogger())
	os.Exit(m.Run())
}

type chatServiceFake struct {
	result *ports.AskResult
	err    error
	req    domain.AskRequest
	called bool
}

func (f *chatServiceFake) Ask(_ context.Context, req domain.AskRequest, callbacks ports.StreamCallbacks) (*ports.AskResult, error) {
	f.called = true
	f.req = req

	if f.err != nil {
		if f.result == nil {
			f.result = &ports.AskResult{}
		}
		return f.result, f.err
	}

	if callbacks.OnSources != nil {
		callbacks.OnSources(f.result.State.Sources)
	}
	if callbacks.OnToken != nil {
		for _, tok := range strings.Split(f.result.State.AccumulatedText, " ") {
			callbacks.OnToken(tok + " ")
		}
	}
	if callbacks.OnDone != nil {
		callbacks.OnDone(f.result.State)
	}
	return f.result, nil
}

type publisherFake struct {
	turns []domain.CompletedTurn
}

func (f *publisherFake) PublishTurnCompleted(_ context.Context, turn domain.CompletedTurn) error {
	f.turns = append(f.turns, turn)
	return nil
}

func completedResult() *ports.AskResult {
	return &ports.AskResult{
		State: domain.StreamState{
			AccumulatedText: "Answer [1].",
			Sources: []domain.Source{
				{Index: 1, DocumentID: "d1", FileName: "a.pdf", Content: "chunk"},
			},
			Terminated: true,
			Reason:     domain.TerminationComplete,
		},
		View: domain.RenumberedView{
			Content: "Answer [1].",
			Sources: []domain.Source{{Index: 1, DocumentID: "d1", FileName: "a.pdf", Content: "chunk"}},
		},
	}
}

func newTestRouter(chat ports.ChatService, publisher ports.TurnPublisher, traffic TrafficControl) http.Handler {
	return NewRouter(chat, publisher, metrics.NewHTTPServerMetrics("test"), traffic).Handler()
}

func postAsk(t *testing.T, handler http.Handler, body string, withOwner bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/ask", strings.NewReader(body))
	if withOwner {
		req.Header.Set(ownerIDHeader, "user-1")
	}
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	return res
}

func TestAskStreamsSourcesDeltasAndDone(t *testing.T) {
	chat := &chatServiceFake{result: completedResult()}
	publisher := &publisherFake{}
	handler := newTestRouter(chat, publisher, TrafficControl{})

	res := postAsk(t, handler, `{"question":"what?","conversation_id":"conv-1"}`, true)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
	if ct := res.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected SSE content type, got %q", ct)
	}

	body := res.Body.String()
	if !strings.Contains(body, `"sources"`) {
		t.Fatalf("expected sources event in stream:\n%s", body)
	}
	if !strings.Contains(body, `"delta":{"content":"Answer `) {
		t.Fatalf("expected delta events in stream:\n%s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Fatalf("expected [DONE] sentinel at end of stream:\n%s", body)
	}

	if chat.req.OwnerID != "user-1" {
		t.Fatalf("expected owner from header, got %q", chat.req.OwnerID)
	}
	if len(publisher.turns) != 1 {
		t.Fatalf("expected one published turn, got %d", len(publisher.turns))
	}
	turn := publisher.turns[0]
	if turn.ConversationID != "conv-1" || turn.Content != "Answer [1]." || turn.TurnID == "" {
		t.Fatalf("unexpected published turn: %+v", turn)
	}
}

func TestAskRequiresOwnerHeader(t *testing.T) {
	chat := &chatServiceFake{result: completedResult()}
	handler := newTestRouter(chat, &publisherFake{}, TrafficControl{})

	res := postAsk(t, handler, `{"question":"what?"}`, false)
	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", res.Code)
	}
	if chat.called {
		t.Fatalf("service must not run without an owner")
	}
}

func TestAskRejectsBlankQuestion(t *testing.T) {
	handler := newTestRouter(&chatServiceFake{result: completedResult()}, &publisherFake{}, TrafficControl{})

	res := postAsk(t, handler, `{"question":"  "}`, true)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAskRejectsInvalidJSON(t *testing.T) {
	handler := newTestRouter(&chatServiceFake{result: completedResult()}, &publisherFake{}, TrafficControl{})

	res := postAsk(t, handler, `{broken`, true)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", res.Code)
	}
}

func TestAskErrorEventWithoutDoneSentinel(t *testing.T) {
	chat := &chatServiceFake{
		err: domain.WrapError(domain.ErrRetrievalUnavailable, "retrieve", context.DeadlineExceeded),
	}
	publisher := &publisherFake{}
	handler := newTestRouter(chat, publisher, TrafficControl{})

	res := postAsk(t, handler, `{"question":"what?"}`, true)
	body := res.Body.String()
	if !strings.Contains(body, `"error"`) {
		t.Fatalf("expected error event in stream:\n%s", body)
	}
	if strings.Contains(body, "[DONE]") {
		t.Fatalf("error stream must not carry the [DONE] sentinel:\n%s", body)
	}
	if len(publisher.turns) != 0 {
		t.Fatalf("failed turn must not be published")
	}
}

func TestAskCancelledTurnIsNotPublished(t *testing.T) {
	result := completedResult()
	result.State.Reason = domain.TerminationCancelled
	chat := &chatServiceFake{result: result}
	publisher := &publisherFake{}
	handler := newTestRouter(chat, publisher, TrafficControl{})

	_ = postAsk(t, handler, `{"question":"what?"}`, true)
	if len(publisher.turns) != 0 {
		t.Fatalf("cancelled turn must not be published")
	}
}

func TestHealthz(t *testing.T) {
	handler := newTestRouter(&chatServiceFake{result: completedResult()}, &publisherFake{}, TrafficControl{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.Code)
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	handler := newTestRouter(&chatServiceFake{result: completedResult()}, &publisherFake{}, TrafficControl{
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	})

	req1 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res1 := httptest.NewRecorder()
	handler.ServeHTTP(res1, req1)
	if res1.Code != http.StatusOK {
		t.Fatalf("first request expected 200, got %d", res1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request expected 429, got %d", res2.Code)
	}
	if res2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header for 429 response")
	}
}

func TestBackpressureMiddlewareReturns503WhenSaturated(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan int, 1)

	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
	handler := backpressureMiddleware(base, 1, 20*time.Millisecond)

	go func() {
		req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		done <- res.Code
	}()

	<-started

	req2 := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res2 := httptest.NewRecorder()
	handler.ServeHTTP(res2, req2)
	if res2.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for saturated admission gate, got %d", res2.Code)
	}

	close(release)

	select {
	case code := <-done:
		if code != http.StatusNoContent {
			t.Fatalf("first request expected 204, got %d", code)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for first request completion")
	}
}
