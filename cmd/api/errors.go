package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/llm4vc/backend/engine/ingest"
	"github.com/llm4vc/backend/engine/semantic"
	"github.com/llm4vc/backend/pkg/resilience"
)

// statusFor maps an error from the collection, loader or embedding client to
// an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, semantic.ErrInvalidRequest),
		errors.Is(err, ingest.ErrInvalidName),
		errors.Is(err, ingest.ErrEmpty),
		errors.Is(err, ingest.ErrMalformed):
		return http.StatusBadRequest
	case errors.Is(err, ingest.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
