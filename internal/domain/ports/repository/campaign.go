package repository

import (
	"context"

	"campaign-delivery/internal/domain/model"
)

type CampaignRepository interface {
	// FindByID returns domain.ErrNotFound when the campaign does not exist
	// (it may have been deleted after chunking).
	FindByID(ctx context.Context, id string) (*model.Campaign, error)
}
