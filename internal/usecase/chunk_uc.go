package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"campaign-delivery/internal/domain"
	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

// ChunkProducer splits a campaign audience into bounded chunk jobs and
// publishes them to the chunk-jobs topic. It never touches recipient data;
// callers hand it the already-computed audience id list.
type ChunkProducer interface {
	Chunk(recipientIDs []string, chunkSize int) ([][]string, error)
	Publish(ctx context.Context, campaignID string, recipientIDs []string, chunkSize int) ([]model.ChunkJob, error)
}

type chunkProducer struct {
	bus         adapter.BusPublisher
	topic       string
	defaultSize int
	maxSize     int
	log         *zerolog.Logger
}

func NewChunkProducer(bus adapter.BusPublisher, topic string, defaultSize, maxSize int, logger *zerolog.Logger) ChunkProducer {
	compLog := logger.With().Str("component", "ChunkProducer").Logger()
	return &chunkProducer{
		bus:         bus,
		topic:       topic,
		defaultSize: defaultSize,
		maxSize:     maxSize,
		log:         &compLog,
	}
}

// Chunk partitions recipientIDs into contiguous, order-preserving slices of
// chunkSize (the last chunk may be shorter). chunkSize<=0 deliberately means
// "use the configured default" rather than an error, so callers can pass zero
// for "pick for me"; anything above the configured maximum is rejected.
func (p *chunkProducer) Chunk(recipientIDs []string, chunkSize int) ([][]string, error) {
	if len(recipientIDs) == 0 {
		return nil, domain.ErrEmptyAudience
	}
	size := chunkSize
	if size <= 0 {
		size = p.defaultSize
	}
	if size <= 0 || size > p.maxSize {
		return nil, fmt.Errorf("%w: %d (max %d)", domain.ErrInvalidChunkSize, size, p.maxSize)
	}

	chunks := make([][]string, 0, (len(recipientIDs)+size-1)/size)
	for i := 0; i < len(recipientIDs); i += size {
		end := i + size
		if end > len(recipientIDs) {
			end = len(recipientIDs)
		}
		chunks = append(chunks, recipientIDs[i:end])
	}
	return chunks, nil
}

// Publish chunks the audience and emits one ChunkJob per chunk, in chunk
// order, keyed by campaign id. The returned jobs mirror what went on the bus.
func (p *chunkProducer) Publish(ctx context.Context, campaignID string, recipientIDs []string, chunkSize int) ([]model.ChunkJob, error) {
	if campaignID == "" {
		return nil, domain.ErrInvalidArgument
	}
	chunks, err := p.Chunk(recipientIDs, chunkSize)
	if err != nil {
		return nil, err
	}

	jobs := make([]model.ChunkJob, 0, len(chunks))
	for i, chunk := range chunks {
		job := model.ChunkJob{
			JobID:        newJobID(campaignID, i),
			CampaignID:   campaignID,
			RecipientIDs: chunk,
			CreatedAt:    time.Now().UTC(),
		}
		value, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal chunk job: %w", err)
		}
		if err := p.bus.Publish(ctx, p.topic, adapter.BusMessage{Key: campaignID, Value: value}); err != nil {
			return nil, fmt.Errorf("publish chunk %d/%d: %w", i+1, len(chunks), err)
		}
		jobs = append(jobs, job)
	}

	p.log.Info().
		Str("campaign_id", campaignID).
		Int("recipients", len(recipientIDs)).
		Int("chunks", len(jobs)).
		Msg("chunk jobs published")
	return jobs, nil
}

// newJobID builds a job id unique across campaigns and repeated publishes of
// the same campaign: campaign id + chunk index + wall clock + random suffix.
func newJobID(campaignID string, index int) string {
	return fmt.Sprintf("job-%s-%d-%d-%s", campaignID, index, time.Now().UnixMilli(), randSuffix(6))
}

const suffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func randSuffix(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = suffixAlphabet[rand.Intn(len(suffixAlphabet))]
	}
	return string(b)
}

// ChunkStats summarizes a chunk partition. Advisory only; nothing in the
// pipeline branches on it.
type ChunkStats struct {
	Count       int
	Total       int
	AverageSize float64
}

func StatsFor(chunks [][]string) ChunkStats {
	s := ChunkStats{Count: len(chunks)}
	for _, c := range chunks {
		s.Total += len(c)
	}
	if s.Count > 0 {
		s.AverageSize = float64(s.Total) / float64(s.Count)
	}
	return s
}

// OptimalChunkSize is a heuristic for callers picking a chunk size from the
// audience size. Small audiences go out in one chunk; large ones aim for
// around 10 chunks, clamped to [10, 200].
func OptimalChunkSize(audienceSize int) int {
	switch {
	case audienceSize <= 0:
		return 0
	case audienceSize <= 100:
		return audienceSize
	default:
		size := audienceSize / 10
		if size < 10 {
			size = 10
		}
		if size > 200 {
			size = 200
		}
		return size
	}
}
