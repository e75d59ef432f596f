package server

import (
	"errors"
	"net/http"

	"github.com/hyperjump/mistri/internal/models"
	"github.com/hyperjump/mistri/internal/retrieval"
	"github.com/hyperjump/mistri/internal/store"
)

// statusFor maps a retrieval error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrDimensionMismatch),
		errors.Is(err, store.ErrIncompatible):
		return http.StatusConflict
	case errors.Is(err, models.ErrEmptyQuery),
		errors.Is(err, models.ErrInvalidTopK),
		errors.Is(err, models.ErrUnknownCategory):
		return http.StatusBadRequest
	case errors.Is(err, retrieval.ErrQueryEmbedding):
		return http.StatusBadGateway
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
