package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/repository"
)

var _ repository.RecipientRepository = (*recipientRepo)(nil)

type recipientRepo struct {
	pool *pgxpool.Pool
}

func NewRecipientRepo(pool *pgxpool.Pool) repository.RecipientRepository {
	return &recipientRepo{pool: pool}
}

func (r *recipientRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
SELECT id, name, destinations, attributes, created_at
FROM recipients
WHERE id = ANY($1)`

	rows, err := r.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("query recipients: %w", err)
	}
	defer rows.Close()

	out := make([]*model.Recipient, 0, len(ids))
	for rows.Next() {
		var (
			rec   model.Recipient
			attrs []byte
		)
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Destinations, &attrs, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &rec.Attributes); err != nil {
				return nil, fmt.Errorf("decode attributes for %s: %w", rec.ID, err)
			}
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
