package model

import "time"

// DeliveryStatus is the per-recipient delivery outcome. Transitions move only
// forward:
//
//	PENDING -> SENT -> DELIVERED
//	PENDING -> FAILED
//	SENT    -> FAILED
//
// DELIVERED and FAILED are terminal.
type DeliveryStatus string

const (
	StatusPending   DeliveryStatus = "PENDING"
	StatusSent      DeliveryStatus = "SENT"
	StatusDelivered DeliveryStatus = "DELIVERED"
	StatusFailed    DeliveryStatus = "FAILED"
)

// ParseDeliveryStatus validates a wire status value.
func ParseDeliveryStatus(s string) (DeliveryStatus, bool) {
	switch DeliveryStatus(s) {
	case StatusPending, StatusSent, StatusDelivered, StatusFailed:
		return DeliveryStatus(s), true
	}
	return "", false
}

func (s DeliveryStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusFailed
}

// CanAdvanceTo reports whether the state machine permits moving to next.
// Re-applying the current state is permitted (idempotent overwrite).
func (s DeliveryStatus) CanAdvanceTo(next DeliveryStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusSent || next == StatusFailed
	case StatusSent:
		return next == StatusDelivered || next == StatusFailed
	}
	return false
}

// RecipientLog is the durable system of record for one delivery attempt
// series, keyed by the send id carried on every SendJob attempt.
type RecipientLog struct {
	SendID       string
	CampaignID   string
	RecipientID  string
	Status       DeliveryStatus
	AttemptCount int
	Error        string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func NewRecipientLog(sendID, campaignID, recipientID string) *RecipientLog {
	now := time.Now()
	return &RecipientLog{
		SendID:      sendID,
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
