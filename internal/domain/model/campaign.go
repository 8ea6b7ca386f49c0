package model

import (
	"time"

	"campaign-delivery/internal/domain"
)

// Campaign carries the message template that gets personalized per recipient.
// The REST surface that creates campaigns lives outside this service; the
// pipeline only ever reads them.
type Campaign struct {
	ID              string
	Name            string
	MessageTemplate string
	Status          string
	CreatedAt       time.Time
}

func NewCampaign(id, name, template string) (*Campaign, error) {
	if id == "" || name == "" {
		return nil, domain.ErrInvalidArgument
	}
	return &Campaign{
		ID:              id,
		Name:            name,
		MessageTemplate: template,
		Status:          "ACTIVE",
		CreatedAt:       time.Now(),
	}, nil
}
