package redis

import (
	"context"
	"time"

	"campaign-delivery/internal/usecase"
)

const dedupKeyPrefix = "dedup:chunk:"

var _ usecase.Deduper = (*DedupGuard)(nil)

// DedupGuard claims chunk job ids with SETNX so a bus redelivery expands a
// job at most once. The claim expires after ttl: dedup is a redelivery
// guard, not a permanent record (the recipient log is the system of record).
type DedupGuard struct {
	client RedisClient
	ttl    time.Duration
}

func NewDedupGuard(client RedisClient, ttl time.Duration) *DedupGuard {
	return &DedupGuard{client: client, ttl: ttl}
}

// Claim reports whether this process won the claim for jobID.
func (d *DedupGuard) Claim(ctx context.Context, jobID string) (bool, error) {
	return d.client.SetNX(ctx, dedupKeyPrefix+jobID, 1, d.ttl)
}
