package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/docchat/internal/core/ports"
	"github.com/kirillkom/docchat/internal/infrastructure/resilience"
)

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	httpClient *http.Client
	executor   *resilience.Executor

	// onSkippedFragments reports undecodable stream lines when a stream
	// closes. Optional.
	onSkippedFragments func(count int)
}

func New(baseURL, genModel, embedModel string, executor *resilience.Executor) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		// Streaming responses hold the connection open for the whole
		// generation; the context carries the real deadline.
		httpClient: &http.Client{Timeout: 0},
		executor:   executor,
	}
}

func (c *Client) SetSkippedFragmentsHook(fn func(count int)) {
	c.onSkippedFragments = fn
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	request := map[string]any{
		"model": e.client.embedModel,
		"input": []string{text},
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	embedCtx, cancel := embedContext(ctx)
	defer cancel()

	err := e.client.executor.Run(embedCtx, "ollama_embed", classifyOllamaError, func(ctx context.Context) error {
		return e.client.postJSON(ctx, "/api/embed", request, &response, "embed")
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded("embed", err)
	}
	if len(response.Embeddings) == 0 || len(response.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("empty embedding result")
	}
	return response.Embeddings[0], nil
}

// StreamingGenerator opens incremental completions against /api/generate.
// Retries cover opening the stream only; once the first byte arrives the
// stream is single-shot.
type StreamingGenerator struct {
	client *Client
}

func NewStreamingGenerator(client *Client) *StreamingGenerator {
	return &StreamingGenerator{client: client}
}

func (g *StreamingGenerator) StreamCompletion(ctx context.Context, prompt string) (ports.CompletionStream, error) {
	request := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": true,
	}

	var stream *generateStream
	err := g.client.executor.Run(ctx, "ollama_generate_stream", classifyOllamaError, func(ctx context.Context) error {
		body, err := g.client.openStream(ctx, "/api/generate", request, "generate")
		if err != nil {
			return err
		}
		stream = newGenerateStream(body, g.client.onSkippedFragments)
		return nil
	})
	if err != nil {
		return nil, wrapTemporaryIfNeeded("generate", err)
	}
	return stream, nil
}

// deadline for a single embed call; generation has no fixed bound.
const embedTimeout = 60 * time.Second

func embedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, embedTimeout)
}
