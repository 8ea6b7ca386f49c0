package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"campaign-delivery/internal/domain"
	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/repository"
)

var _ repository.CampaignRepository = (*campaignRepo)(nil)

type campaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) repository.CampaignRepository {
	return &campaignRepo{pool: pool}
}

func (r *campaignRepo) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	const q = `
SELECT id, name, message_template, status, created_at
FROM campaigns
WHERE id = $1`

	var c model.Campaign
	err := r.pool.QueryRow(ctx, q, id).Scan(&c.ID, &c.Name, &c.MessageTemplate, &c.Status, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}
