package adapter

import (
	"context"
	"time"
)

// OutboundChannel is the resilient delivery channel owned by the send worker.
// Send blocks while the underlying connection is down (the request is queued
// and delivered on reconnect) and fails only on delivery error, ctx
// cancellation, or channel shutdown.
type OutboundChannel interface {
	Send(ctx context.Context, to, text string) error
	Connected() bool
	Info() ChannelInfo
}

// ChannelInfo is a point-in-time snapshot of connection state, exposed on the
// ops endpoints.
type ChannelInfo struct {
	Phase             string    `json:"phase"`
	ReconnectAttempts int       `json:"reconnect_attempts"`
	QueuedMessages    int       `json:"queued_messages"`
	CircuitOpen       bool      `json:"circuit_open"`
	CircuitFailures   int       `json:"circuit_failures"`
	LastActivity      time.Time `json:"last_activity"`
	Fatal             bool      `json:"fatal"`
}
