package repository

import (
	"context"

	"campaign-delivery/internal/domain/model"
)

type RecipientLogRepository interface {
	Create(ctx context.Context, log *model.RecipientLog) error

	// UpdateStatus applies a delivery outcome to the row keyed by sendID.
	// Rows already in a terminal state are left untouched unless the update
	// re-applies the same status (idempotent overwrite). attempt updates
	// attempt_count monotonically; errMsg=="" clears nothing and stores NULL.
	UpdateStatus(ctx context.Context, sendID string, status model.DeliveryStatus, attempt int, errMsg string) error

	FindBySendID(ctx context.Context, sendID string) (*model.RecipientLog, error)
}
