package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/scriptorium/internal/library"
)

// statusOf maps the error taxonomy onto a status code and a message safe to
// return to clients.
func statusOf(err error) (int, string) {
	var (
		ingest   *library.IngestionError
		retrieve *library.RetrievalError
		cfg      *library.ConfigError
		provider *library.ProviderError
		index    *library.IndexError
		he       *echo.HTTPError
	)
	switch {
	case errors.As(err, &he):
		return he.Code, fmt.Sprint(he.Message)
	case errors.Is(err, library.ErrDocumentExists):
		return http.StatusConflict, err.Error()
	case errors.Is(err, library.ErrDocumentNotFound):
		return http.StatusNotFound, "document not found"
	case errors.As(err, &ingest), errors.As(err, &retrieve), errors.As(err, &cfg),
		errors.Is(err, library.ErrInvalidArgument), errors.Is(err, library.ErrInvalidConfig):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &provider):
		return http.StatusBadGateway, err.Error()
	case errors.As(err, &index):
		return http.StatusInternalServerError, "the document could not be indexed; nothing was stored"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "request timed out"
	case errors.Is(err, context.Canceled):
		return 499, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}
