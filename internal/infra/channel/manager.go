// Package channel implements the resilient outbound delivery channel: a
// connection manager with reconnect backoff, a connect circuit breaker, a
// heartbeat watchdog, bounded in-flight sends, and an ordered offline queue.
package channel

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"campaign-delivery/internal/domain"
	"campaign-delivery/internal/domain/ports/adapter"
	"campaign-delivery/internal/infra/metrics"

	"github.com/rs/zerolog"
)

// Transport dials the underlying messaging service. Implementations wrap a
// concrete client (Telegram in production, fakes in tests).
type Transport interface {
	Dial(ctx context.Context) (Conn, error)
}

// Conn is one live connection. Send must wrap connection-level failures with
// domain.ErrConnLost so the manager can tell a dead connection from a
// per-message rejection.
type Conn interface {
	Send(ctx context.Context, to, text string) error
	Close() error
}

const (
	phaseDisconnected = "DISCONNECTED"
	phaseConnecting   = "CONNECTING"
	phaseConnected    = "CONNECTED"
)

var phaseGauge = map[string]int{
	phaseDisconnected: 0,
	phaseConnecting:   1,
	phaseConnected:    2,
}

const (
	dialTimeout   = 30 * time.Second
	maxRetryDelay = 60 * time.Second
	maxJitter     = time.Second
)

// pending is a send waiting in the offline queue. done is buffered so the
// drain loop never blocks on a caller that gave up.
type pending struct {
	to       string
	text     string
	done     chan error
	canceled atomic.Bool
}

// Options carries the manager's tunables.
type Options struct {
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	CircuitMaxFailures   int
	CircuitResetTimeout  time.Duration
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration
	SendConcurrency      int
}

// Manager owns the connection lifecycle. Sends made while disconnected are
// queued in order and drained on reconnect, before any newer send is
// admitted. Repeated dial failures open a circuit breaker; exhausting the
// reconnect budget marks the channel fatal, which the health endpoint
// surfaces.
type Manager struct {
	transport Transport
	opts      Options
	log       *zerolog.Logger

	mu                sync.Mutex
	phase             string
	conn              Conn
	queue             []*pending
	reconnectAttempts int
	circuitFailures   int
	circuitOpenedAt   time.Time
	lastActivity      time.Time
	fatal             bool
	closed            bool
	reconnectTimer    *time.Timer

	inflight chan struct{}
	fatalCh  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	now func() time.Time
}

var _ adapter.OutboundChannel = (*Manager)(nil)

func NewManager(transport Transport, opts Options, logger *zerolog.Logger) *Manager {
	if opts.SendConcurrency <= 0 {
		opts.SendConcurrency = 1
	}
	compLog := logger.With().Str("component", "ConnectionManager").Logger()
	return &Manager{
		transport: transport,
		opts:      opts,
		log:       &compLog,
		phase:     phaseDisconnected,
		inflight:  make(chan struct{}, opts.SendConcurrency),
		fatalCh:   make(chan struct{}),
		now:       time.Now,
	}
}

// Start makes the first connect attempt and launches the heartbeat watchdog.
// A failed first attempt is not an error: the reconnect loop takes over.
func (m *Manager) Start(ctx context.Context) {
	m.ctx, m.cancel = context.WithCancel(ctx)
	if m.opts.HeartbeatInterval > 0 {
		go m.heartbeatLoop()
	}
	if err := m.connect(); err != nil {
		m.log.Warn().Err(err).Msg("initial connect failed, reconnect scheduled")
	}
}

// Send delivers one message, queueing it if the connection is down. It
// returns once the message was handed to the transport, the ctx expired, or
// the channel shut down.
func (m *Manager) Send(ctx context.Context, to, text string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.ErrChannelShutdown
	}
	if m.fatal {
		m.mu.Unlock()
		return domain.ErrReconnectExhausted
	}

	// Queued messages keep their place: a new send goes behind the queue
	// even if the connection just came back.
	if m.phase != phaseConnected || len(m.queue) > 0 {
		p := &pending{to: to, text: text, done: make(chan error, 1)}
		m.queue = append(m.queue, p)
		metrics.SetChannelQueued(len(m.queue))
		m.mu.Unlock()

		select {
		case err := <-p.done:
			return err
		case <-ctx.Done():
			p.canceled.Store(true)
			return ctx.Err()
		}
	}

	conn := m.conn
	m.mu.Unlock()

	select {
	case m.inflight <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-m.inflight }()

	return m.doSend(ctx, conn, to, text)
}

func (m *Manager) doSend(ctx context.Context, conn Conn, to, text string) error {
	err := conn.Send(ctx, to, text)
	if err == nil {
		m.mu.Lock()
		m.lastActivity = m.now()
		m.mu.Unlock()
		return nil
	}
	if errors.Is(err, domain.ErrConnLost) {
		m.handleDrop(conn)
	}
	return err
}

// handleDrop tears down a connection that a send or the watchdog found dead.
// The conn argument guards against racing a reconnect that already swapped
// in a fresh connection.
func (m *Manager) handleDrop(conn Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != conn || m.closed {
		return
	}
	_ = conn.Close()
	m.conn = nil
	m.setPhaseLocked(phaseDisconnected)
	m.log.Warn().Msg("connection lost")
	m.scheduleReconnectLocked()
}

func (m *Manager) connect() error {
	m.mu.Lock()
	if m.closed || m.fatal || m.phase != phaseDisconnected {
		m.mu.Unlock()
		return nil
	}
	if remaining, open := m.circuitCooldownLocked(); open {
		m.log.Warn().Dur("cooldown", remaining).Msg("circuit open, refusing to dial")
		m.retryAfterLocked(remaining)
		m.mu.Unlock()
		return domain.ErrCircuitOpen
	}
	m.setPhaseLocked(phaseConnecting)
	m.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(m.ctx, dialTimeout)
	conn, err := m.transport.Dial(dialCtx)
	cancel()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		return domain.ErrChannelShutdown
	}
	if err != nil {
		m.circuitFailures++
		if m.opts.CircuitMaxFailures > 0 && m.circuitFailures == m.opts.CircuitMaxFailures {
			m.circuitOpenedAt = m.now()
			metrics.IncChannelCircuitOpen()
			m.log.Error().Int("failures", m.circuitFailures).Msg("circuit breaker opened")
		} else if m.circuitFailures > m.opts.CircuitMaxFailures && m.opts.CircuitMaxFailures > 0 {
			// Half-open attempt failed: restart the cooldown.
			m.circuitOpenedAt = m.now()
		}
		m.setPhaseLocked(phaseDisconnected)
		m.log.Warn().Err(err).Int("consecutive_failures", m.circuitFailures).Msg("connect failed")
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return fmt.Errorf("dial: %w", err)
	}

	m.conn = conn
	m.circuitFailures = 0
	m.circuitOpenedAt = time.Time{}
	m.lastActivity = m.now()
	m.log.Info().Msg("connected")
	m.mu.Unlock()

	m.drainQueue()
	return nil
}

// drainQueue flushes the offline queue in order. The phase stays CONNECTING
// until the queue is empty so concurrent Sends keep queueing behind it.
func (m *Manager) drainQueue() {
	for {
		m.mu.Lock()
		if m.closed || m.conn == nil {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 {
			m.setPhaseLocked(phaseConnected)
			m.reconnectAttempts = 0
			metrics.SetChannelQueued(0)
			m.mu.Unlock()
			return
		}
		p := m.queue[0]
		m.queue = m.queue[1:]
		metrics.SetChannelQueued(len(m.queue))
		conn := m.conn
		m.mu.Unlock()

		if p.canceled.Load() {
			continue
		}
		err := conn.Send(m.ctx, p.to, p.text)
		if err == nil {
			m.mu.Lock()
			m.lastActivity = m.now()
			m.mu.Unlock()
		}
		p.done <- err
		if err != nil && errors.Is(err, domain.ErrConnLost) {
			// The rest of the queue survives for the next reconnect.
			m.handleDrop(conn)
			return
		}
	}
}

// circuitCooldownLocked reports whether the breaker currently refuses dials.
// Once the cooldown elapses a single half-open attempt is allowed through.
func (m *Manager) circuitCooldownLocked() (time.Duration, bool) {
	if m.opts.CircuitMaxFailures <= 0 || m.circuitFailures < m.opts.CircuitMaxFailures {
		return 0, false
	}
	elapsed := m.now().Sub(m.circuitOpenedAt)
	if elapsed >= m.opts.CircuitResetTimeout {
		return 0, false
	}
	return m.opts.CircuitResetTimeout - elapsed, true
}

func (m *Manager) scheduleReconnectLocked() {
	if m.closed || m.fatal || m.reconnectTimer != nil {
		return
	}
	if m.opts.MaxReconnectAttempts > 0 && m.reconnectAttempts >= m.opts.MaxReconnectAttempts {
		m.fatal = true
		close(m.fatalCh)
		m.log.Error().
			Int("attempts", m.reconnectAttempts).
			Msg("reconnect budget exhausted, channel is down for good")
		return
	}
	m.reconnectAttempts++
	delay := backoffDelay(m.opts.ReconnectBaseDelay, m.reconnectAttempts)
	metrics.IncChannelReconnect()
	m.log.Info().Int("attempt", m.reconnectAttempts).Dur("delay", delay).Msg("scheduling reconnect")
	m.reconnectTimer = time.AfterFunc(delay, m.reconnectFire)
}

// retryAfterLocked schedules a connect retry without burning a reconnect
// attempt, used while the circuit cooldown runs out.
func (m *Manager) retryAfterLocked(delay time.Duration) {
	if m.closed || m.fatal || m.reconnectTimer != nil {
		return
	}
	m.reconnectTimer = time.AfterFunc(delay, m.reconnectFire)
}

func (m *Manager) reconnectFire() {
	m.mu.Lock()
	m.reconnectTimer = nil
	m.mu.Unlock()
	if err := m.connect(); err != nil {
		m.log.Debug().Err(err).Msg("reconnect attempt failed")
	}
}

// backoffDelay is base*2^(attempt-1) plus up to a second of jitter, capped.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			delay = maxRetryDelay
			break
		}
	}
	delay += time.Duration(rand.Int63n(int64(maxJitter)))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (m *Manager) heartbeatLoop() {
	ticker := time.NewTicker(m.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.checkHeartbeat()
		}
	}
}

// checkHeartbeat drops a connection whose last activity is older than the
// heartbeat timeout. A stuck TCP session looks connected forever otherwise.
func (m *Manager) checkHeartbeat() {
	m.mu.Lock()
	if m.phase != phaseConnected || m.conn == nil {
		m.mu.Unlock()
		return
	}
	idle := m.now().Sub(m.lastActivity)
	if idle < m.opts.HeartbeatTimeout {
		m.mu.Unlock()
		return
	}
	conn := m.conn
	m.mu.Unlock()

	metrics.IncChannelHeartbeatReset()
	m.log.Warn().Dur("idle", idle).Msg("heartbeat timeout, recycling connection")
	m.handleDrop(conn)
}

// Shutdown closes the channel. It is idempotent; queued sends fail with
// ErrChannelShutdown.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	conn := m.conn
	m.conn = nil
	queue := m.queue
	m.queue = nil
	m.setPhaseLocked(phaseDisconnected)
	metrics.SetChannelQueued(0)
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	for _, p := range queue {
		p.done <- domain.ErrChannelShutdown
	}
	m.log.Info().Msg("channel shut down")
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == phaseConnected
}

// Fatal is closed when the reconnect budget is exhausted.
func (m *Manager) Fatal() <-chan struct{} {
	return m.fatalCh
}

func (m *Manager) Info() adapter.ChannelInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, circuitOpen := m.circuitCooldownLocked()
	return adapter.ChannelInfo{
		Phase:             m.phase,
		ReconnectAttempts: m.reconnectAttempts,
		QueuedMessages:    len(m.queue),
		CircuitOpen:       circuitOpen,
		CircuitFailures:   m.circuitFailures,
		LastActivity:      m.lastActivity,
		Fatal:             m.fatal,
	}
}

func (m *Manager) setPhaseLocked(phase string) {
	m.phase = phase
	metrics.SetChannelPhase(phaseGauge[phase])
}
