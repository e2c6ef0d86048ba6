package httpadapter

import (
	"net/http"

	"github.com/kirillkom/docchat/internal/core/domain"
)

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput),
		domain.IsKind(err, domain.ErrInvalidEmbeddingDimension):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrRetrievalUnavailable),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case domain.IsKind(err, domain.ErrUpstreamStream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
