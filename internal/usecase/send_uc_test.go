package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/adapter"

	"github.com/google/uuid"
)

func testSendJob(attempt int) model.SendJob {
	return model.SendJob{
		SendID:      uuid.NewString(),
		CampaignID:  uuid.NewString(),
		RecipientID: uuid.NewString(),
		To:          "1001",
		Message:     "Hi Ann!",
		Attempt:     attempt,
	}
}

type sendWorkerFixture struct {
	worker    *SendWorker
	channel   *mockChannel
	bus       *mockBus
	logs      *memLogRepo
	limiter   *stubLimiter
	scheduler *stubScheduler
}

func newSendWorkerFixture() *sendWorkerFixture {
	f := &sendWorkerFixture{
		channel:   &mockChannel{},
		bus:       &mockBus{},
		logs:      newMemLogRepo(),
		limiter:   &stubLimiter{},
		scheduler: &stubScheduler{},
	}
	f.worker = NewSendWorker(f.channel, f.bus, f.logs, f.limiter, f.scheduler,
		"send-jobs", "status-updates", 3, 2*time.Second, testLogger())
	return f
}

// seedLog creates the PENDING row the expander would have written for job.
func (f *sendWorkerFixture) seedLog(t *testing.T, job model.SendJob) {
	t.Helper()
	if err := f.logs.Create(context.Background(), model.NewRecipientLog(job.SendID, job.CampaignID, job.RecipientID)); err != nil {
		t.Fatalf("seed log: %v", err)
	}
}

func (f *sendWorkerFixture) logRow(t *testing.T, sendID string) *model.RecipientLog {
	t.Helper()
	row, err := f.logs.FindBySendID(context.Background(), sendID)
	if err != nil {
		t.Fatalf("log row %s: %v", sendID, err)
	}
	return row
}

func (f *sendWorkerFixture) statuses(t *testing.T) []model.StatusUpdate {
	t.Helper()
	msgs := f.bus.published("status-updates")
	out := make([]model.StatusUpdate, len(msgs))
	for i, m := range msgs {
		if err := json.Unmarshal(m.Value, &out[i]); err != nil {
			t.Fatalf("message %d is not a StatusUpdate: %v", i, err)
		}
	}
	return out
}

func TestSendWorkerProcess(t *testing.T) {
	ctx := context.Background()

	t.Run("successful send reports SENT and consumes rate budget", func(t *testing.T) {
		f := newSendWorkerFixture()
		job := testSendJob(1)
		f.seedLog(t, job)
		f.worker.Process(ctx, job)

		if f.channel.sentCount() != 1 {
			t.Fatalf("channel sent %d messages, want 1", f.channel.sentCount())
		}
		if f.limiter.recordedCount() != 1 {
			t.Fatal("successful send did not consume rate budget")
		}
		statuses := f.statuses(t)
		if len(statuses) != 1 {
			t.Fatalf("published %d statuses, want 1", len(statuses))
		}
		if statuses[0].SendID != job.SendID || statuses[0].Status != string(model.StatusSent) || statuses[0].Attempt != 1 {
			t.Fatalf("unexpected status: %+v", statuses[0])
		}
		if row := f.logRow(t, job.SendID); row.Status != model.StatusSent {
			t.Fatalf("log status = %s, want SENT written directly", row.Status)
		}
	})

	t.Run("missing fields fail immediately with no retry", func(t *testing.T) {
		f := newSendWorkerFixture()
		job := testSendJob(1)
		job.To = ""
		f.worker.Process(ctx, job)

		if f.channel.sentCount() != 0 {
			t.Fatal("malformed job reached the channel")
		}
		if f.scheduler.pending() != 0 {
			t.Fatal("malformed job was scheduled for retry")
		}
		statuses := f.statuses(t)
		if len(statuses) != 1 || statuses[0].Status != string(model.StatusFailed) || statuses[0].Error == "" {
			t.Fatalf("statuses = %+v, want one FAILED with an error", statuses)
		}
	})

	t.Run("rate limit exhaustion requeues the same attempt", func(t *testing.T) {
		f := newSendWorkerFixture()
		f.limiter.AllowFunc = func() (bool, time.Duration) { return false, 17 * time.Second }
		job := testSendJob(2)
		f.worker.Process(ctx, job)

		if f.channel.sentCount() != 0 {
			t.Fatal("deferred job was sent anyway")
		}
		task, ok := f.scheduler.pop()
		if !ok {
			t.Fatal("no requeue scheduled")
		}
		if task.Delay != 17*time.Second {
			t.Fatalf("requeue delay = %v, want 17s", task.Delay)
		}
		task.Task(ctx)

		msgs := f.bus.published("send-jobs")
		if len(msgs) != 1 {
			t.Fatalf("republished %d jobs, want 1", len(msgs))
		}
		var requeued model.SendJob
		json.Unmarshal(msgs[0].Value, &requeued)
		if requeued.Attempt != 2 || requeued.SendID != job.SendID {
			t.Fatalf("requeued job = %+v, want same attempt and send id", requeued)
		}
		if len(f.statuses(t)) != 0 {
			t.Fatal("deferral must not publish a status update")
		}
	})

	t.Run("transient failure retries with doubled delay", func(t *testing.T) {
		f := newSendWorkerFixture()
		f.channel.SendFunc = func(context.Context, string, string) error {
			return errors.New("flood control")
		}
		job := testSendJob(2)
		f.worker.Process(ctx, job)

		task, ok := f.scheduler.pop()
		if !ok {
			t.Fatal("no retry scheduled")
		}
		// Attempt 2 failed: delay is base*2^(2-1) = 4s.
		if task.Delay != 4*time.Second {
			t.Fatalf("retry delay = %v, want 4s", task.Delay)
		}
		task.Task(ctx)

		msgs := f.bus.published("send-jobs")
		if len(msgs) != 1 {
			t.Fatalf("republished %d jobs, want 1", len(msgs))
		}
		var requeued model.SendJob
		json.Unmarshal(msgs[0].Value, &requeued)
		if requeued.Attempt != 3 {
			t.Fatalf("requeued attempt = %d, want 3", requeued.Attempt)
		}
	})

	t.Run("final attempt failure is terminal", func(t *testing.T) {
		f := newSendWorkerFixture()
		f.channel.SendFunc = func(context.Context, string, string) error {
			return errors.New("flood control")
		}
		job := testSendJob(3) // maxAttempts is 3
		f.seedLog(t, job)
		f.worker.Process(ctx, job)

		if f.scheduler.pending() != 0 {
			t.Fatal("exhausted job was scheduled for another retry")
		}
		statuses := f.statuses(t)
		if len(statuses) != 1 || statuses[0].Status != string(model.StatusFailed) {
			t.Fatalf("statuses = %+v, want one FAILED", statuses)
		}
		if statuses[0].Error == "" {
			t.Fatal("terminal FAILED should carry the send error")
		}
		row := f.logRow(t, job.SendID)
		if row.Status != model.StatusFailed || row.Error == "" {
			t.Fatalf("log row = %+v, want FAILED with error written directly", row)
		}
	})

	t.Run("terminal failure marks the log even when the bus is down", func(t *testing.T) {
		f := newSendWorkerFixture()
		f.channel.SendFunc = func(context.Context, string, string) error {
			return errors.New("flood control")
		}
		f.bus.PublishFunc = func(context.Context, string, ...adapter.BusMessage) error {
			return errors.New("broker down")
		}
		job := testSendJob(3)
		f.seedLog(t, job)
		f.worker.Process(ctx, job)

		// No status update could be delivered; the row must not stay PENDING.
		row := f.logRow(t, job.SendID)
		if row.Status != model.StatusFailed {
			t.Fatalf("log status = %s, want FAILED despite bus outage", row.Status)
		}
		if row.AttemptCount != 3 {
			t.Fatalf("attempt_count = %d, want 3", row.AttemptCount)
		}
	})

	t.Run("republish failure abandons the job as FAILED", func(t *testing.T) {
		f := newSendWorkerFixture()
		f.channel.SendFunc = func(context.Context, string, string) error {
			return errors.New("flood control")
		}
		f.bus.PublishFunc = func(_ context.Context, topic string, _ ...adapter.BusMessage) error {
			if topic == "send-jobs" {
				return errors.New("broker down")
			}
			return nil
		}
		job := testSendJob(1)
		f.seedLog(t, job)
		f.worker.Process(ctx, job)

		task, ok := f.scheduler.pop()
		if !ok {
			t.Fatal("no retry scheduled")
		}
		task.Task(ctx)

		statuses := f.statuses(t)
		if len(statuses) != 1 || statuses[0].Status != string(model.StatusFailed) {
			t.Fatalf("statuses = %+v, want one terminal FAILED", statuses)
		}
		if row := f.logRow(t, job.SendID); row.Status != model.StatusFailed {
			t.Fatalf("log status = %s, want FAILED written directly", row.Status)
		}
	})

	t.Run("stats track outcomes", func(t *testing.T) {
		f := newSendWorkerFixture()
		f.worker.Process(ctx, testSendJob(1))
		bad := testSendJob(1)
		bad.SendID = ""
		f.worker.Process(ctx, bad)

		s := f.worker.Stats()
		if s.Sent != 1 || s.Failed != 1 {
			t.Fatalf("stats = %+v, want sent=1 failed=1", s)
		}
	})
}

func TestRetryDelayCap(t *testing.T) {
	f := newSendWorkerFixture()
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, 60 * time.Second},
		{20, 60 * time.Second},
	}
	for _, tc := range cases {
		if got := f.worker.retryDelay(tc.attempt); got != tc.want {
			t.Errorf("retryDelay(%d) = %v, want %v", tc.attempt, got, tc.want)
		}
	}
}

func TestSendWorkerHandleMessage(t *testing.T) {
	f := newSendWorkerFixture()
	f.worker.HandleMessage(context.Background(), nil, []byte("{not json"))
	if f.channel.sentCount() != 0 {
		t.Fatal("malformed payload reached the channel")
	}
	if f.worker.Stats().Errors != 1 {
		t.Fatalf("stats = %+v, want 1 error", f.worker.Stats())
	}
}
