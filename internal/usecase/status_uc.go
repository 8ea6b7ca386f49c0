package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"campaign-delivery/internal/domain"
	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/repository"
	"campaign-delivery/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// AggregatorStats is a point-in-time counter snapshot for the ops endpoints.
type AggregatorStats struct {
	Applied     int64 `json:"applied"`
	ParseErrors int64 `json:"parse_errors"`
	Errors      int64 `json:"errors"`
}

// StatusAggregator consumes status updates and applies them to the recipient
// log. Application is idempotent: redelivered updates and updates that would
// move a log backwards are no-ops at the store.
type StatusAggregator struct {
	logs repository.RecipientLogRepository
	log  *zerolog.Logger

	applied     atomic.Int64
	parseErrors atomic.Int64
	errors      atomic.Int64
}

func NewStatusAggregator(logs repository.RecipientLogRepository, logger *zerolog.Logger) *StatusAggregator {
	compLog := logger.With().Str("component", "StatusAggregator").Logger()
	return &StatusAggregator{logs: logs, log: &compLog}
}

// HandleMessage is the bus consumer entry point for the status-updates topic.
// A malformed update is counted and dropped, never redelivered.
func (a *StatusAggregator) HandleMessage(ctx context.Context, _, value []byte) {
	var update model.StatusUpdate
	if err := json.Unmarshal(value, &update); err != nil {
		a.parseErrors.Add(1)
		metrics.IncError("status_aggregator")
		a.log.Warn().Err(err).Msg("invalid status update payload, skipping")
		return
	}
	if err := a.Apply(ctx, update); err != nil {
		a.errors.Add(1)
		metrics.IncError("status_aggregator")
		a.log.Error().Err(err).Str("send_id", update.SendID).Msg("failed to apply status update")
	}
}

// Apply writes one status update to the log store.
func (a *StatusAggregator) Apply(ctx context.Context, update model.StatusUpdate) error {
	if update.SendID == "" {
		a.parseErrors.Add(1)
		a.log.Warn().Msg("status update missing send_id, skipping")
		return nil
	}
	status, ok := model.ParseDeliveryStatus(update.Status)
	if !ok {
		a.parseErrors.Add(1)
		a.log.Warn().Str("send_id", update.SendID).Str("status", update.Status).Msg("unknown delivery status, skipping")
		return nil
	}

	if err := a.logs.UpdateStatus(ctx, update.SendID, status, update.Attempt, update.Error); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The log row may not exist yet on out-of-order delivery; the
			// update is dropped and the terminal status will arrive again
			// only if the sender resends.
			a.log.Warn().Str("send_id", update.SendID).Msg("no recipient log for status update")
			return nil
		}
		return err
	}

	a.applied.Add(1)
	metrics.IncStatusApplied(string(status))
	a.log.Debug().
		Str("send_id", update.SendID).
		Str("status", string(status)).
		Int("attempt", update.Attempt).
		Msg("status update applied")
	return nil
}

func (a *StatusAggregator) Stats() AggregatorStats {
	return AggregatorStats{
		Applied:     a.applied.Load(),
		ParseErrors: a.parseErrors.Load(),
		Errors:      a.errors.Load(),
	}
}
