package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")

	// Chunking
	ErrInvalidChunkSize = errors.New("invalid chunk size")
	ErrEmptyAudience    = errors.New("audience is empty")

	// Expansion and delivery
	ErrMissingFields = errors.New("missing required fields")

	// Outbound channel
	ErrCircuitOpen        = errors.New("circuit breaker open")
	ErrConnLost           = errors.New("channel connection lost")
	ErrChannelShutdown    = errors.New("channel shutting down")
	ErrReconnectExhausted = errors.New("max reconnect attempts reached")
)
