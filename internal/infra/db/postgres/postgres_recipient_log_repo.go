package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"campaign-delivery/internal/domain"
	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/repository"
)

var _ repository.RecipientLogRepository = (*recipientLogRepo)(nil)

type recipientLogRepo struct {
	pool *pgxpool.Pool
}

func NewRecipientLogRepo(pool *pgxpool.Pool) repository.RecipientLogRepository {
	return &recipientLogRepo{pool: pool}
}

func (r *recipientLogRepo) Create(ctx context.Context, log *model.RecipientLog) error {
	const q = `
INSERT INTO recipient_logs (send_id, campaign_id, recipient_id, status, attempt_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, q,
		log.SendID, log.CampaignID, log.RecipientID,
		string(log.Status), log.AttemptCount, log.CreatedAt, log.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert recipient log: %w", err)
	}
	return nil
}

// UpdateStatus enforces the status state machine in SQL: a terminal row is
// only touched when the update re-applies the same status, so redelivered
// and out-of-order updates never move a log backwards. attempt_count only
// grows.
func (r *recipientLogRepo) UpdateStatus(ctx context.Context, sendID string, status model.DeliveryStatus, attempt int, errMsg string) error {
	const q = `
UPDATE recipient_logs
SET status = $2,
    attempt_count = GREATEST(attempt_count, $3),
    error = COALESCE($4, error),
    updated_at = now()
WHERE send_id = $1
  AND (status NOT IN ('DELIVERED', 'FAILED') OR status = $2)`

	var errVal sql.NullString
	if errMsg != "" {
		errVal = sql.NullString{String: errMsg, Valid: true}
	}
	tag, err := r.pool.Exec(ctx, q, sendID, string(status), attempt, errVal)
	if err != nil {
		return fmt.Errorf("update recipient log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either the row does not exist or it is terminal and the update was
		// a disallowed transition; tell the two apart for the caller.
		exists, err := r.exists(ctx, sendID)
		if err != nil {
			return err
		}
		if !exists {
			return domain.ErrNotFound
		}
		// Disallowed transition on a terminal row is a silent no-op.
	}
	return nil
}

func (r *recipientLogRepo) exists(ctx context.Context, sendID string) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM recipient_logs WHERE send_id = $1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, q, sendID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check recipient log: %w", err)
	}
	return exists, nil
}

func (r *recipientLogRepo) FindBySendID(ctx context.Context, sendID string) (*model.RecipientLog, error) {
	const q = `
SELECT send_id, campaign_id, recipient_id, status, attempt_count, COALESCE(error, ''), created_at, updated_at
FROM recipient_logs
WHERE send_id = $1`

	var (
		log    model.RecipientLog
		status string
	)
	err := r.pool.QueryRow(ctx, q, sendID).Scan(
		&log.SendID, &log.CampaignID, &log.RecipientID, &status,
		&log.AttemptCount, &log.Error, &log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	log.Status = model.DeliveryStatus(status)
	return &log, nil
}
