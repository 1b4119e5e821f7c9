// Package handler exposes the HTTP API over net/http.
package handler

import (
	"errors"
	"net/http"

	"github.com/zzxtbeta/rag-demo/internal/domain"
	"github.com/zzxtbeta/rag-demo/internal/httputil"
)

// handleError converts domain errors to HTTP responses.
func handleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		httputil.RespondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		httputil.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrCursorExpired):
		httputil.RespondError(w, http.StatusGone, err.Error())
	case errors.Is(err, domain.ErrAppendConflict):
		httputil.RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		httputil.RespondError(w, http.StatusServiceUnavailable, "store temporarily unavailable")
	default:
		httputil.RespondError(w, http.StatusInternalServerError, "internal server error")
	}
}
