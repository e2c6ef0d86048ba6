package ollama

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"sync"

	"github.com/kirillkom/docchat/internal/core/domain"
)

// chunk of the NDJSON body of a streaming /api/generate response. One
// object per line; the final object carries done=true.
type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

type generateStream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	done    bool
	skipped int

	closeOnce sync.Once
	onSkipped func(count int)
}

func newGenerateStream(body io.ReadCloser, onSkipped func(count int)) *generateStream {
	return &generateStream{
		body: body,
		// Single fragments occasionally exceed the default buffer when
		// the model emits long runs without newlines in one chunk.
		reader:    bufio.NewReaderSize(body, 64*1024),
		onSkipped: onSkipped,
	}
}

func (s *generateStream) Recv() (domain.StreamFragment, error) {
	if s.done {
		return domain.StreamFragment{}, io.EOF
	}

	for {
		line, err := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			var chunk generateChunk
			if jsonErr := json.Unmarshal(line, &chunk); jsonErr != nil {
				// A torn line must not kill the stream; count it and
				// move on to the next frame.
				s.skipped++
				slog.Warn("ollama_stream_skipped_fragment", "error", jsonErr, "bytes", len(line))
				if err != nil {
					s.done = true
					return domain.StreamFragment{}, normalizeReadError(err)
				}
				continue
			}

			switch {
			case chunk.Error != "":
				s.done = true
				return domain.StreamFragment{ErrorMessage: chunk.Error}, nil
			case chunk.Done:
				s.done = true
				return domain.StreamFragment{Content: chunk.Response, Done: true}, nil
			default:
				return domain.StreamFragment{Content: chunk.Response}, nil
			}
		}

		if err != nil {
			s.done = true
			return domain.StreamFragment{}, normalizeReadError(err)
		}
	}
}

func normalizeReadError(err error) error {
	if err == io.ErrUnexpectedEOF {
		return io.EOF
	}
	return err
}

func (s *generateStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
		if s.onSkipped != nil && s.skipped > 0 {
			s.onSkipped(s.skipped)
		}
	})
	return err
}

// Skipped reports how many undecodable lines were dropped so far.
func (s *generateStream) Skipped() int {
	return s.skipped
}
