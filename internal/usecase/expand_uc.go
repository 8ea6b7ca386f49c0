package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	"campaign-delivery/internal/domain"
	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/adapter"
	"campaign-delivery/internal/domain/ports/repository"
	"campaign-delivery/internal/infra/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Deduper claims a chunk job id so a bus redelivery is expanded at most once.
// A nil Deduper disables the guard.
type Deduper interface {
	Claim(ctx context.Context, jobID string) (bool, error)
}

// ExpanderStats is a point-in-time counter snapshot for the ops endpoints.
type ExpanderStats struct {
	ProcessedJobs       int64 `json:"processed_jobs"`
	ProcessedRecipients int64 `json:"processed_recipients"`
	SkippedJobs         int64 `json:"skipped_jobs"`
	Errors              int64 `json:"errors"`
}

// JobExpander turns one ChunkJob into per-recipient send jobs: it loads the
// campaign, personalizes the template per recipient, creates the PENDING
// recipient log, and bulk-publishes SendJobs sub-batch by sub-batch.
type JobExpander struct {
	campaigns  repository.CampaignRepository
	recipients repository.RecipientRepository
	logs       repository.RecipientLogRepository
	bus        adapter.BusPublisher
	dedup      Deduper
	sendTopic  string
	maxPerJob  int
	batchSize  int
	log        *zerolog.Logger

	processedJobs       atomic.Int64
	processedRecipients atomic.Int64
	skippedJobs         atomic.Int64
	errors              atomic.Int64
}

func NewJobExpander(
	campaigns repository.CampaignRepository,
	recipients repository.RecipientRepository,
	logs repository.RecipientLogRepository,
	bus adapter.BusPublisher,
	dedup Deduper,
	sendTopic string,
	maxPerJob, batchSize int,
	logger *zerolog.Logger,
) *JobExpander {
	compLog := logger.With().Str("component", "JobExpander").Logger()
	return &JobExpander{
		campaigns:  campaigns,
		recipients: recipients,
		logs:       logs,
		bus:        bus,
		dedup:      dedup,
		sendTopic:  sendTopic,
		maxPerJob:  maxPerJob,
		batchSize:  batchSize,
		log:        &compLog,
	}
}

// HandleMessage is the bus consumer entry point. A bad message is logged and
// dropped; nothing here may take the consumer down.
func (e *JobExpander) HandleMessage(ctx context.Context, _, value []byte) {
	var job model.ChunkJob
	if err := json.Unmarshal(value, &job); err != nil {
		e.errors.Add(1)
		metrics.IncChunkJob("malformed")
		e.log.Warn().Err(err).Msg("invalid chunk job payload, skipping")
		return
	}
	if err := e.ProcessJob(ctx, job); err != nil {
		e.errors.Add(1)
		metrics.IncChunkJob("error")
		metrics.IncError("job_expander")
		e.log.Error().Err(err).Str("job_id", job.JobID).Msg("chunk job processing failed")
	}
}

// ProcessJob expands one chunk job. Validation failures skip the job (they
// are not errors: the job is simply not expandable); only infrastructure
// failures that abort expansion entirely return an error.
func (e *JobExpander) ProcessJob(ctx context.Context, job model.ChunkJob) error {
	if !e.validate(job) {
		e.skippedJobs.Add(1)
		metrics.IncChunkJob("skipped")
		return nil
	}

	if e.dedup != nil {
		claimed, err := e.dedup.Claim(ctx, job.JobID)
		if err != nil {
			// Dedup is best-effort: losing Redis must not stall the pipeline.
			e.log.Warn().Err(err).Str("job_id", job.JobID).Msg("dedup claim failed, proceeding anyway")
		} else if !claimed {
			e.skippedJobs.Add(1)
			metrics.IncChunkJob("duplicate")
			e.log.Info().Str("job_id", job.JobID).Msg("chunk job already claimed, skipping redelivery")
			return nil
		}
	}

	campaign, err := e.campaigns.FindByID(ctx, job.CampaignID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.skippedJobs.Add(1)
			metrics.IncChunkJob("skipped")
			e.log.Warn().Str("campaign_id", job.CampaignID).Str("job_id", job.JobID).Msg("campaign not found, skipping job")
			return nil
		}
		return err
	}

	normalized := e.normalizeIDs(job.RecipientIDs)
	if len(normalized) == 0 {
		e.skippedJobs.Add(1)
		metrics.IncChunkJob("skipped")
		e.log.Warn().Str("job_id", job.JobID).Msg("no valid recipient ids after normalization, skipping job")
		return nil
	}

	expanded := 0
	for start := 0; start < len(normalized); start += e.batchSize {
		end := start + e.batchSize
		if end > len(normalized) {
			end = len(normalized)
		}
		n, err := e.processBatch(ctx, campaign, normalized[start:end])
		if err != nil {
			// One sub-batch failing (bulk fetch or publish) must not abort the
			// remaining sub-batches.
			e.errors.Add(1)
			metrics.IncError("job_expander")
			e.log.Error().Err(err).Str("job_id", job.JobID).Int("batch_start", start).Msg("sub-batch failed, continuing")
			continue
		}
		expanded += n
	}

	e.processedJobs.Add(1)
	e.processedRecipients.Add(int64(expanded))
	metrics.IncChunkJob("ok")
	metrics.AddRecipientsExpanded(expanded)
	e.log.Info().
		Str("job_id", job.JobID).
		Str("campaign_id", campaign.ID).
		Int("expanded", expanded).
		Int("requested", len(job.RecipientIDs)).
		Msg("chunk job expanded")
	return nil
}

func (e *JobExpander) validate(job model.ChunkJob) bool {
	if job.CampaignID == "" {
		e.log.Warn().Str("job_id", job.JobID).Msg("invalid job: missing campaign_id")
		return false
	}
	if len(job.RecipientIDs) == 0 {
		e.log.Warn().Str("job_id", job.JobID).Msg("invalid job: empty recipient_ids")
		return false
	}
	if len(job.RecipientIDs) > e.maxPerJob {
		e.log.Warn().
			Str("job_id", job.JobID).
			Int("recipients", len(job.RecipientIDs)).
			Int("limit", e.maxPerJob).
			Msg("job too large, skipping")
		return false
	}
	return true
}

// normalizeIDs canonicalizes recipient ids to the store's UUID form. Invalid
// ids are dropped individually; the job proceeds with the rest.
func (e *JobExpander) normalizeIDs(ids []string) []string {
	normalized := make([]string, 0, len(ids))
	for _, id := range ids {
		parsed, err := uuid.Parse(id)
		if err != nil {
			e.log.Warn().Str("recipient_id", id).Msg("invalid recipient id, dropping")
			continue
		}
		normalized = append(normalized, parsed.String())
	}
	return normalized
}

// processBatch bulk-fetches one sub-batch of recipients and emits their send
// jobs as a single bulk publish. The PENDING log row is created before the
// job is built so every published SendJob has a log row behind it; if the
// publish then fails, those rows are flipped to FAILED rather than left
// PENDING forever.
func (e *JobExpander) processBatch(ctx context.Context, campaign *model.Campaign, ids []string) (int, error) {
	recips, err := e.recipients.FindByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}
	if len(recips) == 0 {
		e.log.Warn().Str("campaign_id", campaign.ID).Msg("no recipients found for sub-batch")
		return 0, nil
	}

	msgs := make([]adapter.BusMessage, 0, len(recips))
	sendIDs := make([]string, 0, len(recips))
	for _, r := range recips {
		msg, sendID, ok := e.buildSendJob(ctx, campaign, r)
		if !ok {
			continue
		}
		msgs = append(msgs, msg)
		sendIDs = append(sendIDs, sendID)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := e.bus.Publish(ctx, e.sendTopic, msgs...); err != nil {
		for _, sendID := range sendIDs {
			if uerr := e.logs.UpdateStatus(ctx, sendID, model.StatusFailed, 0, "publish failed: "+err.Error()); uerr != nil {
				e.log.Error().Err(uerr).Str("send_id", sendID).Msg("failed to mark log FAILED after publish failure")
			}
		}
		return 0, err
	}
	return len(msgs), nil
}

// buildSendJob handles one recipient. Any per-recipient problem (no
// destination, log creation failure) skips that recipient only.
func (e *JobExpander) buildSendJob(ctx context.Context, campaign *model.Campaign, r *model.Recipient) (adapter.BusMessage, string, bool) {
	to := r.Destination()
	if to == "" {
		e.log.Warn().Str("recipient_id", r.ID).Msg("recipient has no destination address, skipping")
		return adapter.BusMessage{}, "", false
	}

	text := Personalize(campaign.MessageTemplate, r)
	sendID := uuid.NewString()

	if err := e.logs.Create(ctx, model.NewRecipientLog(sendID, campaign.ID, r.ID)); err != nil {
		e.errors.Add(1)
		e.log.Error().Err(err).Str("recipient_id", r.ID).Msg("failed to create recipient log, skipping recipient")
		return adapter.BusMessage{}, "", false
	}

	job := model.SendJob{
		SendID:      sendID,
		CampaignID:  campaign.ID,
		RecipientID: r.ID,
		To:          to,
		Message:     text,
		Attempt:     1,
		CreatedAt:   time.Now().UTC(),
	}
	value, err := json.Marshal(job)
	if err != nil {
		e.log.Error().Err(err).Str("send_id", sendID).Msg("failed to marshal send job, skipping recipient")
		return adapter.BusMessage{}, "", false
	}
	return adapter.BusMessage{Key: r.ID, Value: value}, sendID, true
}

func (e *JobExpander) Stats() ExpanderStats {
	return ExpanderStats{
		ProcessedJobs:       e.processedJobs.Load(),
		ProcessedRecipients: e.processedRecipients.Load(),
		SkippedJobs:         e.skippedJobs.Load(),
		Errors:              e.errors.Load(),
	}
}
