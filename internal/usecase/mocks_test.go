package usecase

import (
	"context"
	"sync"
	"time"

	"campaign-delivery/internal/domain"
	"campaign-delivery/internal/domain/model"
	"campaign-delivery/internal/domain/ports/adapter"

	"github.com/rs/zerolog"
)

func testLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// --- bus ---

type publishedBatch struct {
	Topic string
	Msgs  []adapter.BusMessage
}

type mockBus struct {
	mu      sync.Mutex
	batches []publishedBatch

	PublishFunc func(ctx context.Context, topic string, msgs ...adapter.BusMessage) error
}

func (b *mockBus) Publish(ctx context.Context, topic string, msgs ...adapter.BusMessage) error {
	if b.PublishFunc != nil {
		if err := b.PublishFunc(ctx, topic, msgs...); err != nil {
			return err
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.batches = append(b.batches, publishedBatch{Topic: topic, Msgs: msgs})
	return nil
}

func (b *mockBus) published(topic string) []adapter.BusMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []adapter.BusMessage
	for _, batch := range b.batches {
		if batch.Topic == topic {
			out = append(out, batch.Msgs...)
		}
	}
	return out
}

// --- repositories ---

type memCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[string]*model.Campaign

	FindByIDFunc func(ctx context.Context, id string) (*model.Campaign, error)
}

func newMemCampaignRepo(campaigns ...*model.Campaign) *memCampaignRepo {
	repo := &memCampaignRepo{campaigns: make(map[string]*model.Campaign)}
	for _, c := range campaigns {
		repo.campaigns[c.ID] = c
	}
	return repo
}

func (r *memCampaignRepo) FindByID(ctx context.Context, id string) (*model.Campaign, error) {
	if r.FindByIDFunc != nil {
		return r.FindByIDFunc(ctx, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c, nil
}

type memRecipientRepo struct {
	mu         sync.Mutex
	recipients map[string]*model.Recipient

	FindByIDsFunc func(ctx context.Context, ids []string) ([]*model.Recipient, error)
}

func newMemRecipientRepo(recipients ...*model.Recipient) *memRecipientRepo {
	repo := &memRecipientRepo{recipients: make(map[string]*model.Recipient)}
	for _, r := range recipients {
		repo.recipients[r.ID] = r
	}
	return repo
}

func (r *memRecipientRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Recipient, error) {
	if r.FindByIDsFunc != nil {
		return r.FindByIDsFunc(ctx, ids)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.Recipient, 0, len(ids))
	for _, id := range ids {
		if rec, ok := r.recipients[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

type memLogRepo struct {
	mu   sync.Mutex
	logs map[string]*model.RecipientLog

	CreateFunc       func(ctx context.Context, log *model.RecipientLog) error
	UpdateStatusFunc func(ctx context.Context, sendID string, status model.DeliveryStatus, attempt int, errMsg string) error
}

func newMemLogRepo() *memLogRepo {
	return &memLogRepo{logs: make(map[string]*model.RecipientLog)}
}

func (r *memLogRepo) Create(ctx context.Context, log *model.RecipientLog) error {
	if r.CreateFunc != nil {
		return r.CreateFunc(ctx, log)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *log
	r.logs[log.SendID] = &cp
	return nil
}

func (r *memLogRepo) UpdateStatus(_ context.Context, sendID string, status model.DeliveryStatus, attempt int, errMsg string) error {
	if r.UpdateStatusFunc != nil {
		return r.UpdateStatusFunc(context.Background(), sendID, status, attempt, errMsg)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.logs[sendID]
	if !ok {
		return domain.ErrNotFound
	}
	if !log.Status.CanAdvanceTo(status) {
		return nil
	}
	log.Status = status
	if attempt > log.AttemptCount {
		log.AttemptCount = attempt
	}
	if errMsg != "" {
		log.Error = errMsg
	}
	log.UpdatedAt = time.Now()
	return nil
}

func (r *memLogRepo) FindBySendID(_ context.Context, sendID string) (*model.RecipientLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	log, ok := r.logs[sendID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *log
	return &cp, nil
}

func (r *memLogRepo) all() []*model.RecipientLog {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*model.RecipientLog, 0, len(r.logs))
	for _, log := range r.logs {
		cp := *log
		out = append(out, &cp)
	}
	return out
}

// --- dedup ---

type stubDedup struct {
	ClaimFunc func(ctx context.Context, jobID string) (bool, error)
}

func (d *stubDedup) Claim(ctx context.Context, jobID string) (bool, error) {
	if d.ClaimFunc != nil {
		return d.ClaimFunc(ctx, jobID)
	}
	return true, nil
}

// --- outbound channel ---

type mockChannel struct {
	mu   sync.Mutex
	sent []string

	SendFunc func(ctx context.Context, to, text string) error
}

func (c *mockChannel) Send(ctx context.Context, to, text string) error {
	if c.SendFunc != nil {
		if err := c.SendFunc(ctx, to, text); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, to+":"+text)
	return nil
}

func (c *mockChannel) Connected() bool           { return true }
func (c *mockChannel) Info() adapter.ChannelInfo { return adapter.ChannelInfo{Phase: "CONNECTED"} }

func (c *mockChannel) sentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// --- rate limiter ---

type stubLimiter struct {
	mu       sync.Mutex
	recorded int

	AllowFunc func() (bool, time.Duration)
}

func (l *stubLimiter) Allow() (bool, time.Duration) {
	if l.AllowFunc != nil {
		return l.AllowFunc()
	}
	return true, 0
}

func (l *stubLimiter) Record() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.recorded++
}

func (l *stubLimiter) recordedCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.recorded
}

// --- scheduler ---

type scheduledTask struct {
	Delay time.Duration
	Task  func(ctx context.Context)
}

// stubScheduler captures scheduled tasks so tests control when (and whether)
// they fire.
type stubScheduler struct {
	mu    sync.Mutex
	tasks []scheduledTask
}

func (s *stubScheduler) Schedule(delay time.Duration, task func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, scheduledTask{Delay: delay, Task: task})
}

func (s *stubScheduler) pop() (scheduledTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.tasks) == 0 {
		return scheduledTask{}, false
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	return task, true
}

func (s *stubScheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
