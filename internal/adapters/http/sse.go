package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// Wire shapes of the ask stream. Content deltas mirror the OpenAI chunk
// layout so existing chat clients can consume them unchanged.
type sseSourcesEvent struct {
	Sources []domain.Source `json:"sources"`
}

type sseDeltaEvent struct {
	Choices []sseChoice `json:"choices"`
}

type sseChoice struct {
	Delta sseDelta `json:"delta"`
}

type sseDelta struct {
	Content string `json:"content"`
}

type sseErrorEvent struct {
	Error string `json:"error"`
}

type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming is not supported by response writer")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &sseWriter{w: w, flusher: flusher}, nil
}

func (s *sseWriter) writeEvent(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeDone terminates a successful stream. Never sent after an error
// event.
func (s *sseWriter) writeDone() error {
	if _, err := io.WriteString(s.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}
