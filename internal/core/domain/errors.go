package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput              = errors.New("invalid input")
	ErrInvalidEmbeddingDimension = errors.New("invalid embedding dimension")
	ErrRetrievalUnavailable      = errors.New("retrieval unavailable")
	ErrUpstreamStream            = errors.New("upstream stream error")
	ErrEmptyResponse             = errors.New("empty response")
	ErrTemporary                 = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
