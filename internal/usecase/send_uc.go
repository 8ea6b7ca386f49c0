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

	"github.com/rs/zerolog"
)

// RateLimiter gates outbound sends. Allow reports whether one more send fits
// in the current window; when it does not, retryAfter is how long until the
// window resets. Record counts a send that actually went out.
type RateLimiter interface {
	Allow() (ok bool, retryAfter time.Duration)
	Record()
}

// Scheduler runs a task after a delay. It is how retries and rate-limit
// deferrals get back onto the bus without blocking the consumer loop.
type Scheduler interface {
	Schedule(delay time.Duration, task func(ctx context.Context))
}

// SendWorkerStats is a point-in-time counter snapshot for the ops endpoints.
type SendWorkerStats struct {
	Sent     int64 `json:"sent"`
	Failed   int64 `json:"failed"`
	Retried  int64 `json:"retried"`
	Deferred int64 `json:"deferred"`
	Errors   int64 `json:"errors"`
}

// SendWorker consumes send jobs, pushes them through the outbound channel
// under the rate limit, and reports the outcome as status updates. Terminal
// outcomes are also written to the recipient log directly: when the bus is
// the thing that failed, a status update would never arrive.
type SendWorker struct {
	channel     adapter.OutboundChannel
	bus         adapter.BusPublisher
	logs        repository.RecipientLogRepository
	limiter     RateLimiter
	scheduler   Scheduler
	sendTopic   string
	statusTopic string
	maxAttempts int
	retryBase   time.Duration
	retryCap    time.Duration
	log         *zerolog.Logger

	sent     atomic.Int64
	failed   atomic.Int64
	retried  atomic.Int64
	deferred atomic.Int64
	errors   atomic.Int64
}

func NewSendWorker(
	channel adapter.OutboundChannel,
	bus adapter.BusPublisher,
	logs repository.RecipientLogRepository,
	limiter RateLimiter,
	scheduler Scheduler,
	sendTopic, statusTopic string,
	maxAttempts int,
	retryBase time.Duration,
	logger *zerolog.Logger,
) *SendWorker {
	compLog := logger.With().Str("component", "SendWorker").Logger()
	return &SendWorker{
		channel:     channel,
		bus:         bus,
		logs:        logs,
		limiter:     limiter,
		scheduler:   scheduler,
		sendTopic:   sendTopic,
		statusTopic: statusTopic,
		maxAttempts: maxAttempts,
		retryBase:   retryBase,
		retryCap:    60 * time.Second,
		log:         &compLog,
	}
}

// HandleMessage is the bus consumer entry point for the send-jobs topic.
func (w *SendWorker) HandleMessage(ctx context.Context, _, value []byte) {
	var job model.SendJob
	if err := json.Unmarshal(value, &job); err != nil {
		w.errors.Add(1)
		metrics.IncError("send_worker")
		w.log.Warn().Err(err).Msg("invalid send job payload, skipping")
		return
	}
	w.Process(ctx, job)
}

// Process delivers one send job. The outcome is always reported as a status
// update: SENT on success, FAILED once the job is abandoned. Transient
// failures and rate-limit hits requeue the job instead.
func (w *SendWorker) Process(ctx context.Context, job model.SendJob) {
	log := w.log.With().
		Str("send_id", job.SendID).
		Str("campaign_id", job.CampaignID).
		Int("attempt", job.Attempt).
		Logger()

	if job.SendID == "" || job.CampaignID == "" || job.RecipientID == "" || job.To == "" {
		// Malformed jobs are abandoned immediately: retrying cannot fix a
		// missing field.
		log.Warn().Msg("send job missing required fields, failing without retry")
		w.fail(ctx, job, domain.ErrMissingFields.Error())
		return
	}

	if ok, retryAfter := w.limiter.Allow(); !ok {
		w.deferred.Add(1)
		metrics.IncRateLimitDeferral()
		log.Info().Dur("retry_after", retryAfter).Msg("rate limit exhausted, deferring send")
		w.requeue(job, retryAfter, log)
		return
	}

	if err := w.channel.Send(ctx, job.To, job.Message); err != nil {
		log.Warn().Err(err).Msg("send failed")
		w.handleFailure(ctx, job, err, log)
		return
	}

	w.limiter.Record()
	w.sent.Add(1)
	metrics.IncMessageSent()
	w.updateLog(ctx, job.SendID, model.StatusSent, job.Attempt, "", log)
	w.publishStatus(ctx, model.StatusUpdate{
		SendID:      job.SendID,
		CampaignID:  job.CampaignID,
		RecipientID: job.RecipientID,
		Status:      string(model.StatusSent),
		Attempt:     job.Attempt,
		Timestamp:   time.Now().UTC(),
	}, log)
	log.Info().Str("to", job.To).Msg("message sent")
}

func (w *SendWorker) handleFailure(ctx context.Context, job model.SendJob, sendErr error, log zerolog.Logger) {
	if job.Attempt >= w.maxAttempts {
		log.Warn().Int("max_attempts", w.maxAttempts).Msg("retry budget exhausted, failing")
		w.fail(ctx, job, sendErr.Error())
		return
	}

	next := job
	next.Attempt++
	delay := w.retryDelay(job.Attempt)
	w.retried.Add(1)
	metrics.IncSendRetry()
	log.Info().Dur("delay", delay).Int("next_attempt", next.Attempt).Msg("scheduling retry")
	w.requeue(next, delay, log)
}

// retryDelay is base*2^(attempt-1), capped. attempt is the attempt that just
// failed, so the first retry waits exactly the base delay.
func (w *SendWorker) retryDelay(attempt int) time.Duration {
	delay := w.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= w.retryCap {
			return w.retryCap
		}
	}
	if delay > w.retryCap {
		delay = w.retryCap
	}
	return delay
}

// requeue republishes the job to the send-jobs topic after the delay. If the
// republish itself fails the job is abandoned as FAILED: a job we cannot put
// back on the bus would otherwise vanish without a trace.
func (w *SendWorker) requeue(job model.SendJob, delay time.Duration, log zerolog.Logger) {
	w.scheduler.Schedule(delay, func(ctx context.Context) {
		value, err := json.Marshal(job)
		if err != nil {
			w.errors.Add(1)
			metrics.IncError("send_worker")
			log.Error().Err(err).Msg("failed to marshal requeued job")
			w.fail(ctx, job, "requeue marshal failed: "+err.Error())
			return
		}
		if err := w.bus.Publish(ctx, w.sendTopic, adapter.BusMessage{Key: job.RecipientID, Value: value}); err != nil {
			w.errors.Add(1)
			metrics.IncError("send_worker")
			log.Error().Err(err).Msg("failed to republish job, abandoning")
			w.fail(ctx, job, "requeue failed: "+err.Error())
		}
	})
}

func (w *SendWorker) fail(ctx context.Context, job model.SendJob, reason string) {
	w.failed.Add(1)
	metrics.IncMessageFailed()
	log := w.log.With().Str("send_id", job.SendID).Logger()
	w.updateLog(ctx, job.SendID, model.StatusFailed, job.Attempt, reason, log)
	w.publishStatus(ctx, model.StatusUpdate{
		SendID:      job.SendID,
		CampaignID:  job.CampaignID,
		RecipientID: job.RecipientID,
		Status:      string(model.StatusFailed),
		Attempt:     job.Attempt,
		Error:       reason,
		Timestamp:   time.Now().UTC(),
	}, log)
}

// updateLog writes the outcome to the recipient log row. sendID may be empty
// for jobs that failed field validation; those have no row to transition.
func (w *SendWorker) updateLog(ctx context.Context, sendID string, status model.DeliveryStatus, attempt int, errMsg string, log zerolog.Logger) {
	if sendID == "" {
		return
	}
	if err := w.logs.UpdateStatus(ctx, sendID, status, attempt, errMsg); err != nil && !errors.Is(err, domain.ErrNotFound) {
		w.errors.Add(1)
		metrics.IncError("send_worker")
		log.Error().Err(err).Str("status", string(status)).Msg("failed to update recipient log")
	}
}

func (w *SendWorker) publishStatus(ctx context.Context, update model.StatusUpdate, log zerolog.Logger) {
	value, err := json.Marshal(update)
	if err != nil {
		w.errors.Add(1)
		log.Error().Err(err).Msg("failed to marshal status update")
		return
	}
	if err := w.bus.Publish(ctx, w.statusTopic, adapter.BusMessage{Key: update.SendID, Value: value}); err != nil {
		w.errors.Add(1)
		metrics.IncError("send_worker")
		log.Error().Err(err).Str("status", update.Status).Msg("failed to publish status update")
	}
}

func (w *SendWorker) Stats() SendWorkerStats {
	return SendWorkerStats{
		Sent:     w.sent.Load(),
		Failed:   w.failed.Load(),
		Retried:  w.retried.Load(),
		Deferred: w.deferred.Load(),
		Errors:   w.errors.Load(),
	}
}
