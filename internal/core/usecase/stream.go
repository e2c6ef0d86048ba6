package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/kirillkom/docchat/internal/core/domain"
	"github.com/kirillkom/docchat/internal/core/ports"
)

// NoGroundingDisclaim answers from general knowledge behind an explicit
// disclaimer; NoGroundingDecline skips the model call and returns a fixed
// message. The choice is the caller's product policy, held in config.
const (
	NoGroundingDisclaim = "disclaim"
	NoGroundingDecline  = "decline"
)

type StreamOptions struct {
	// BufferSize bounds the internal emission buffer. A full buffer blocks
	// the upstream read, applying backpressure to a slow consumer.
	BufferSize int

	// FallbackMessage replaces a zero-content completion so the caller
	// never renders an empty bubble.
	FallbackMessage string

	NoGroundingMode string
	Disclaimer      string
	DeclineMessage  string
}

func (o StreamOptions) normalize() StreamOptions {
	out := o
	if out.BufferSize <= 0 {
		out.BufferSize = 64
	}
	if out.FallbackMessage == "" {
		out.FallbackMessage = "I was unable to generate a response. Please try again."
	}
	if out.NoGroundingMode == "" {
		out.NoGroundingMode = NoGroundingDisclaim
	}
	if out.Disclaimer == "" {
		out.Disclaimer = "No matching passages were found in your documents; the following is general knowledge, not grounded in your corpus."
	}
	if out.DeclineMessage == "" {
		out.DeclineMessage = "I could not find anything in your documents to answer that question."
	}
	return out
}

// AnswerStreamer drives one token-by-token completion over a fused
// grounding list, forwarding deltas as they arrive and re-emitting the
// captured source register whenever the upstream replaces it. Deltas
// carry the model's original markers, so the emitted register keeps its
// original indexes; renumbering happens once, on the completed text. One
// streamer instance is safe for concurrent use; all per-response state
// lives in the call.
type AnswerStreamer struct {
	llm  ports.CompletionStreamer
	opts StreamOptions
}

func NewAnswerStreamer(llm ports.CompletionStreamer, opts StreamOptions) *AnswerStreamer {
	return &AnswerStreamer{
		llm:  llm,
		opts: opts.normalize(),
	}
}

type streamEvent struct {
	delta   string
	sources []domain.Source
}

// Stream consumes the upstream completion for one question. The grounding
// slice is enumerated into the prompt in fusion-index order; sources is
// the client-facing projection of the same list and seeds the source
// register until the upstream replaces it (last write wins). Cancellation
// of ctx closes the upstream promptly and reports TerminationCancelled.
func (s *AnswerStreamer) Stream(
	ctx context.Context,
	question string,
	history []domain.ChatMessage,
	grounding []domain.FusedResult,
	sources []domain.Source,
	callbacks ports.StreamCallbacks,
) (*domain.StreamState, error) {
	state := &domain.StreamState{Sources: sources}

	if len(grounding) == 0 && s.opts.NoGroundingMode == NoGroundingDecline {
		state.AccumulatedText = s.opts.DeclineMessage
		state.Terminated = true
		state.Reason = domain.TerminationComplete
		if callbacks.OnToken != nil {
			callbacks.OnToken(s.opts.DeclineMessage)
		}
		s.finish(callbacks, state)
		return state, nil
	}

	prompt := buildGroundingPrompt(question, history, grounding, s.opts.Disclaimer)

	stream, err := s.llm.StreamCompletion(ctx, prompt)
	if err != nil {
		state.Terminated = true
		state.Reason = domain.TerminationUpstreamError
		state.UpstreamError = err.Error()
		s.finish(callbacks, state)
		return state, domain.WrapError(domain.ErrUpstreamStream, "open completion stream", err)
	}
	defer stream.Close()

	events := make(chan streamEvent, s.opts.BufferSize)
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		for ev := range events {
			if ev.delta != "" && callbacks.OnToken != nil {
				callbacks.OnToken(ev.delta)
			}
			if ev.sources != nil && callbacks.OnSources != nil {
				callbacks.OnSources(ev.sources)
			}
		}
	}()

	var streamErr error
	lastEmitted := ""
	s.emitSourcesIfChanged(ctx, state, events, &lastEmitted)

	for {
		if ctx.Err() != nil {
			state.Terminated = true
			state.Reason = domain.TerminationCancelled
			break
		}

		fragment, recvErr := stream.Recv()
		if recvErr != nil {
			state.Terminated = true
			switch {
			case ctx.Err() != nil:
				state.Reason = domain.TerminationCancelled
			case errors.Is(recvErr, io.EOF):
				s.terminateAtEnd(state, events)
			case state.AccumulatedText == "":
				// Connection dropped before any content: structurally fatal.
				state.Reason = domain.TerminationUpstreamError
				state.UpstreamError = recvErr.Error()
				streamErr = domain.WrapError(domain.ErrUpstreamStream, "read completion stream", recvErr)
			default:
				slog.Warn("completion_stream_truncated", "error", recvErr, "accumulated_bytes", len(state.AccumulatedText))
				state.Reason = domain.TerminationComplete
			}
			break
		}

		if fragment.ErrorMessage != "" {
			state.Terminated = true
			state.Reason = domain.TerminationUpstreamError
			state.UpstreamError = fragment.ErrorMessage
			streamErr = domain.WrapError(domain.ErrUpstreamStream, "completion stream", errors.New(fragment.ErrorMessage))
			break
		}

		if fragment.Sources != nil {
			// Last write wins: upstream services may resend metadata
			// mid-stream and the latest list is authoritative.
			state.Sources = fragment.Sources
			s.emitSourcesIfChanged(ctx, state, events, &lastEmitted)
		}

		if fragment.Content != "" {
			state.AccumulatedText += fragment.Content
			select {
			case events <- streamEvent{delta: fragment.Content}:
			case <-ctx.Done():
				state.Terminated = true
				state.Reason = domain.TerminationCancelled
			}
			if state.Terminated {
				break
			}
		}

		if fragment.Done {
			state.Terminated = true
			s.terminateAtEnd(state, events)
			break
		}
	}

	if state.Reason == domain.TerminationCancelled {
		// Close before draining so the upstream connection is released
		// promptly; partial text stays in the state for the caller's
		// discard-by-default policy.
		_ = stream.Close()
	}

	close(events)
	<-forwarderDone
	s.finish(callbacks, state)
	return state, streamErr
}

// terminateAtEnd classifies a normally ended stream: non-empty text is a
// completed answer, zero content becomes the fallback message.
func (s *AnswerStreamer) terminateAtEnd(state *domain.StreamState, events chan streamEvent) {
	state.Terminated = true
	if strings.TrimSpace(state.AccumulatedText) != "" {
		state.Reason = domain.TerminationComplete
		return
	}
	state.Reason = domain.TerminationEmptyResponse
	state.AccumulatedText = s.opts.FallbackMessage
	// Blocking send: the forwarder is still draining, so the fallback is
	// delivered even when the buffer is momentarily full.
	events <- streamEvent{delta: s.opts.FallbackMessage}
}

// emitSourcesIfChanged forwards the current source register, original
// indexes intact, skipping emissions when the list is unchanged. The
// client resolves the bracket markers in deltas against this list.
func (s *AnswerStreamer) emitSourcesIfChanged(ctx context.Context, state *domain.StreamState, events chan streamEvent, lastEmitted *string) {
	if len(state.Sources) == 0 {
		return
	}
	fingerprint := sourcesFingerprint(state.Sources)
	if fingerprint == *lastEmitted {
		return
	}
	*lastEmitted = fingerprint
	select {
	case events <- streamEvent{sources: state.Sources}:
	case <-ctx.Done():
	}
}

func sourcesFingerprint(sources []domain.Source) string {
	var b strings.Builder
	for _, s := range sources {
		fmt.Fprintf(&b, "%d:%s;", s.Index, s.DocumentID)
	}
	return b.String()
}

func (s *AnswerStreamer) finish(callbacks ports.StreamCallbacks, state *domain.StreamState) {
	if callbacks.OnDone != nil {
		callbacks.OnDone(*state)
	}
}

// buildGroundingPrompt enumerates sources as "[1] ..." in exactly the
// fusion ranker's index order so the model's bracket references line up
// with the source list the client receives.
func buildGroundingPrompt(question string, history []domain.ChatMessage, grounding []domain.FusedResult, disclaimer string) string {
	var b strings.Builder

	if len(grounding) == 0 {
		b.WriteString("Answer the user question from general knowledge.\n")
		b.WriteString("Start your answer with this exact disclaimer: ")
		b.WriteString(disclaimer)
		b.WriteString("\n\n")
	} else {
		b.WriteString("Answer the user question only from the numbered sources below.\n")
		b.WriteString("Cite every claim with the matching source number in square brackets, for example [2].\n")
		b.WriteString("If the sources are insufficient, say so directly.\n\nSources:\n")
		for _, g := range grounding {
			fmt.Fprintf(&b, "[%d] file=%s", g.Index, g.DocumentID)
			if g.PageNumber != nil {
				fmt.Fprintf(&b, " page=%d", *g.PageNumber)
			}
			b.WriteString("\n")
			b.WriteString(g.Content)
			b.WriteString("\n\n")
		}
	}

	if len(history) > 0 {
		b.WriteString("Conversation so far:\n")
		for _, msg := range history {
			content := strings.TrimSpace(msg.Content)
			if content == "" {
				continue
			}
			fmt.Fprintf(&b, "%s: %s\n", msg.Role, content)
		}
		b.WriteString("\n")
	}

	b.WriteString("Question:\n")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}
