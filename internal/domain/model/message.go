package model

import "time"

// Bus message schemas. All topics carry JSON.

// ChunkJob is one bounded slice of a campaign audience, published by the
// chunk producer and consumed by the job expander. Immutable once published.
type ChunkJob struct {
	JobID        string    `json:"job_id"`
	CampaignID   string    `json:"campaign_id"`
	RecipientIDs []string  `json:"recipient_ids"`
	CreatedAt    time.Time `json:"created_at"`
}

// SendJob is one recipient's personalized delivery attempt. SendID is stable
// across retries of the same logical delivery (it keys the recipient log);
// Attempt increments on each retry.
type SendJob struct {
	SendID      string    `json:"send_id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	To          string    `json:"destination_address"`
	Message     string    `json:"message_text"`
	Attempt     int       `json:"attempt"`
	CreatedAt   time.Time `json:"created_at"`
}

// StatusUpdate reports a delivery outcome back to the status aggregator.
type StatusUpdate struct {
	SendID      string    `json:"send_id"`
	CampaignID  string    `json:"campaign_id"`
	RecipientID string    `json:"recipient_id"`
	Status      string    `json:"status"`
	Attempt     int       `json:"attempt"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}
