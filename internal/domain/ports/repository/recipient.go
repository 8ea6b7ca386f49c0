package repository

import (
	"context"

	"campaign-delivery/internal/domain/model"
)

type RecipientRepository interface {
	// FindByIDs bulk-loads recipients. Unknown ids are simply absent from the
	// result; callers must not assume len(result) == len(ids).
	FindByIDs(ctx context.Context, ids []string) ([]*model.Recipient, error)
}
