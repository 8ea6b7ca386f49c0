package usecase

import (
	"context"
	"testing"

	"campaign-delivery/internal/domain/model"

	"github.com/google/uuid"
)

func TestStatusAggregatorApply(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) (*memLogRepo, *model.RecipientLog) {
		t.Helper()
		logs := newMemLogRepo()
		log := model.NewRecipientLog(uuid.NewString(), uuid.NewString(), uuid.NewString())
		if err := logs.Create(ctx, log); err != nil {
			t.Fatalf("seed log: %v", err)
		}
		return logs, log
	}

	t.Run("applies SENT to a pending log", func(t *testing.T) {
		logs, log := seed(t)
		a := NewStatusAggregator(logs, testLogger())

		update := model.StatusUpdate{SendID: log.SendID, Status: "SENT", Attempt: 1}
		if err := a.Apply(ctx, update); err != nil {
			t.Fatalf("Apply() = %v", err)
		}
		got, _ := logs.FindBySendID(ctx, log.SendID)
		if got.Status != model.StatusSent || got.AttemptCount != 1 {
			t.Fatalf("log = %+v, want SENT attempt 1", got)
		}
		if a.Stats().Applied != 1 {
			t.Fatalf("stats = %+v", a.Stats())
		}
	})

	t.Run("redelivered update is idempotent", func(t *testing.T) {
		logs, log := seed(t)
		a := NewStatusAggregator(logs, testLogger())

		update := model.StatusUpdate{SendID: log.SendID, Status: "SENT", Attempt: 1}
		a.Apply(ctx, update)
		if err := a.Apply(ctx, update); err != nil {
			t.Fatalf("second Apply() = %v", err)
		}
		got, _ := logs.FindBySendID(ctx, log.SendID)
		if got.Status != model.StatusSent {
			t.Fatalf("log = %+v after redelivery", got)
		}
	})

	t.Run("terminal status never regresses", func(t *testing.T) {
		logs, log := seed(t)
		a := NewStatusAggregator(logs, testLogger())

		a.Apply(ctx, model.StatusUpdate{SendID: log.SendID, Status: "FAILED", Attempt: 3, Error: "boom"})
		// A stale SENT arriving after the terminal FAILED must not win.
		a.Apply(ctx, model.StatusUpdate{SendID: log.SendID, Status: "SENT", Attempt: 2})

		got, _ := logs.FindBySendID(ctx, log.SendID)
		if got.Status != model.StatusFailed || got.Error != "boom" {
			t.Fatalf("terminal log changed: %+v", got)
		}
	})

	t.Run("unknown status is counted and dropped", func(t *testing.T) {
		logs, log := seed(t)
		a := NewStatusAggregator(logs, testLogger())

		if err := a.Apply(ctx, model.StatusUpdate{SendID: log.SendID, Status: "EXPLODED"}); err != nil {
			t.Fatalf("Apply() = %v, want nil", err)
		}
		if a.Stats().ParseErrors != 1 {
			t.Fatalf("stats = %+v, want 1 parse error", a.Stats())
		}
		got, _ := logs.FindBySendID(ctx, log.SendID)
		if got.Status != model.StatusPending {
			t.Fatalf("log changed by unknown status: %+v", got)
		}
	})

	t.Run("missing send id is counted and dropped", func(t *testing.T) {
		logs, _ := seed(t)
		a := NewStatusAggregator(logs, testLogger())
		if err := a.Apply(ctx, model.StatusUpdate{Status: "SENT"}); err != nil {
			t.Fatalf("Apply() = %v, want nil", err)
		}
		if a.Stats().ParseErrors != 1 {
			t.Fatalf("stats = %+v", a.Stats())
		}
	})

	t.Run("update for an unknown log is not an error", func(t *testing.T) {
		a := NewStatusAggregator(newMemLogRepo(), testLogger())
		if err := a.Apply(ctx, model.StatusUpdate{SendID: uuid.NewString(), Status: "DELIVERED"}); err != nil {
			t.Fatalf("Apply() = %v, want nil", err)
		}
	})
}

func TestStatusAggregatorHandleMessage(t *testing.T) {
	a := NewStatusAggregator(newMemLogRepo(), testLogger())
	a.HandleMessage(context.Background(), nil, []byte("{not json"))
	if a.Stats().ParseErrors != 1 {
		t.Fatalf("stats = %+v, want 1 parse error", a.Stats())
	}
}
