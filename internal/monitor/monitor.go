// Package monitor streams the program log feed and turns creation events
// into reactor calls.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"pumpsniper/internal/discovery"
	"pumpsniper/internal/domain"
	"pumpsniper/internal/logging"
	"pumpsniper/internal/observability"
	"pumpsniper/internal/solana"
)

// ErrAlreadyRunning is returned by Start while the monitor is running.
var ErrAlreadyRunning = errors.New("monitor already running")

// Default configuration values.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultCommitment     = solana.CommitmentProcessed
)

// Reactor receives decoded creation events.
type Reactor interface {
	HandleEvent(ctx context.Context, ev *domain.CreationEvent) error
}

// ReactorFunc adapts a function to Reactor.
type ReactorFunc func(ctx context.Context, ev *domain.CreationEvent) error

// HandleEvent calls f.
func (f ReactorFunc) HandleEvent(ctx context.Context, ev *domain.CreationEvent) error {
	return f(ctx, ev)
}

// Session is one subscription-capable connection.
type Session interface {
	SubscribeLogs(ctx context.Context, filter solana.LogsFilter, commitment solana.Commitment) (int64, error)
	ReadNotification() (solana.LogNotification, error)
	Unsubscribe(subscriptionID int64) error
	Close() error
}

// Dialer opens a Session.
type Dialer func(ctx context.Context, endpoint string, cfg *solana.WSClientConfig) (Session, error)

// DialWS is the default Dialer.
func DialWS(ctx context.Context, endpoint string, cfg *solana.WSClientConfig) (Session, error) {
	s, err := solana.DialWS(ctx, endpoint, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Options configures the monitor.
type Options struct {
	// Endpoint is the websocket RPC URL.
	Endpoint string
	// Commitment is sent with logsSubscribe. Default processed.
	Commitment solana.Commitment
	// WS tunes the underlying websocket session. Nil uses solana.DefaultWSConfig.
	WS *solana.WSClientConfig
	// ReconnectDelay is the fixed wait between connection attempts.
	ReconnectDelay time.Duration
	// MaxRetries caps consecutive failed attempts. Zero retries for as long
	// as the monitor is running.
	MaxRetries int
	// Dial opens sessions. Default DialWS.
	Dial Dialer
	// Now returns the detection timestamp. Default time.Now.
	Now func() time.Time

	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Monitor owns one log subscription and delivers decoded events to reactors.
type Monitor struct {
	opts Options
	log  *zap.Logger

	// ctlMu serializes Start and Stop.
	ctlMu   sync.Mutex
	running atomic.Bool

	reactorsMu sync.RWMutex
	reactors   []Reactor

	// mu guards everything below. The run loop is the only writer of state.
	mu      sync.Mutex
	state   domain.MonitorState
	session Session
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a stopped monitor.
func New(opts Options) *Monitor {
	if opts.Commitment == "" {
		opts.Commitment = DefaultCommitment
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.Dial == nil {
		opts.Dial = DialWS
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	m := &Monitor{
		opts: opts,
		log:  logging.OrNop(opts.Logger).Named("monitor"),
		state: domain.MonitorState{
			Phase:      domain.MonitorStopped,
			Commitment: string(opts.Commitment),
		},
	}
	opts.Metrics.SetMonitorPhase(domain.MonitorStopped.String())
	return m
}

// AddReactor registers r. Reactors are called in registration order.
func (m *Monitor) AddReactor(r Reactor) {
	m.reactorsMu.Lock()
	defer m.reactorsMu.Unlock()
	m.reactors = append(m.reactors, r)
}

// Start launches the background stream loop for programID and returns
// immediately. Returns ErrAlreadyRunning if the loop is active.
func (m *Monitor) Start(ctx context.Context, programID string) error {
	if programID == "" {
		return fmt.Errorf("start monitor: empty program id")
	}

	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	if m.running.Load() {
		return ErrAlreadyRunning
	}

	// a loop that gave up on its own may still be unwinding
	m.wait()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.cancel = cancel
	m.done = done
	m.state = domain.MonitorState{
		Running:    true,
		Phase:      domain.MonitorConnecting,
		ProgramID:  programID,
		Commitment: string(m.opts.Commitment),
	}
	m.mu.Unlock()
	m.running.Store(true)
	m.opts.Metrics.SetMonitorPhase(domain.MonitorConnecting.String())

	m.log.Info("monitor starting",
		zap.String("program", programID),
		zap.String("commitment", string(m.opts.Commitment)))

	go m.run(loopCtx, programID, done)
	return nil
}

// Stop ends the stream loop and waits for it to exit. The live subscription,
// if any, is unsubscribed best-effort. Safe to call on a stopped monitor.
func (m *Monitor) Stop() {
	m.ctlMu.Lock()
	defer m.ctlMu.Unlock()

	if !m.running.CompareAndSwap(true, false) {
		m.wait()
		return
	}

	m.mu.Lock()
	sess := m.session
	subID := m.state.SubscriptionID
	cancel := m.cancel
	m.mu.Unlock()

	if sess != nil {
		if subID != 0 {
			if err := sess.Unsubscribe(subID); err != nil {
				m.log.Warn("unsubscribe failed", zap.Int64("subscription", subID), zap.Error(err))
			}
		}
		if err := sess.Close(); err != nil {
			m.log.Debug("close session", zap.Error(err))
		}
	}
	if cancel != nil {
		cancel()
	}

	m.wait()
	m.log.Info("monitor stopped")
}

// IsRunning reports whether the stream loop is active.
func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}

// State returns a snapshot of the monitor state.
func (m *Monitor) State() domain.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.state
	s.Running = m.running.Load()
	return s
}

// Done returns a channel closed when the current loop exits, or nil if the
// monitor was never started.
func (m *Monitor) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Monitor) wait() {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done != nil {
		<-done
	}
}

// run is the connect/stream/reconnect loop. The running flag is checked at
// the top of every iteration.
func (m *Monitor) run(ctx context.Context, programID string, done chan struct{}) {
	defer close(done)
	defer func() {
		m.update(func(s *domain.MonitorState) {
			s.Phase = domain.MonitorStopped
			s.SubscriptionID = 0
		})
	}()

	for m.running.Load() {
		err := m.stream(ctx, programID)
		if !m.running.Load() {
			return
		}

		var retries int
		m.update(func(s *domain.MonitorState) {
			s.Phase = domain.MonitorReconnecting
			s.SubscriptionID = 0
			s.RetryCount++
			s.Reconnects++
			if err != nil {
				s.LastError = err.Error()
			}
			retries = s.RetryCount
		})
		m.opts.Metrics.RecordReconnect()

		if m.opts.MaxRetries > 0 && retries >= m.opts.MaxRetries {
			m.log.Error("giving up after consecutive failures",
				zap.Int("retries", retries), zap.Error(err))
			m.running.Store(false)
			return
		}

		m.log.Warn("stream failed, reconnecting",
			zap.Error(err),
			zap.Int("retry", retries),
			zap.Duration("backoff", m.opts.ReconnectDelay))

		select {
		case <-ctx.Done():
			return
		case <-time.After(m.opts.ReconnectDelay):
		}
	}
}

// stream runs one connection attempt until it fails.
func (m *Monitor) stream(ctx context.Context, programID string) error {
	m.update(func(s *domain.MonitorState) { s.Phase = domain.MonitorConnecting })

	sess, err := m.opts.Dial(ctx, m.opts.Endpoint, m.opts.WS)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	m.mu.Lock()
	if !m.running.Load() {
		m.mu.Unlock()
		sess.Close()
		return nil
	}
	m.session = sess
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.session == sess {
			m.session = nil
		}
		m.mu.Unlock()
		sess.Close()
	}()

	filter := solana.LogsFilter{Mentions: []string{programID}}
	subID, err := sess.SubscribeLogs(ctx, filter, m.opts.Commitment)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	m.update(func(s *domain.MonitorState) {
		s.Phase = domain.MonitorSubscribed
		s.SubscriptionID = subID
		s.RetryCount = 0
		s.LastError = ""
	})
	m.log.Info("subscribed", zap.String("program", programID), zap.Int64("subscription", subID))
	m.update(func(s *domain.MonitorState) { s.Phase = domain.MonitorStreaming })

	for m.running.Load() {
		n, err := sess.ReadNotification()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		m.dispatch(ctx, n)
	}
	return nil
}

// dispatch decodes one notification and invokes every reactor in order.
func (m *Monitor) dispatch(ctx context.Context, n solana.LogNotification) {
	now := m.opts.Now()
	m.opts.Metrics.RecordNotification(now)

	if n.Failed() {
		return
	}

	ev, err := discovery.ParseLogs(n.Signature, n.Slot, n.Logs, now)
	if err != nil {
		m.opts.Metrics.RecordDecodeError()
		m.log.Debug("skipping undecodable payload", zap.String("signature", n.Signature), zap.Error(err))
		return
	}
	if ev == nil {
		return
	}

	m.update(func(s *domain.MonitorState) { s.EventsSeen++ })
	m.log.Info("creation event",
		zap.String("mint", ev.Mint),
		zap.String("name", ev.Name),
		zap.String("symbol", ev.Symbol),
		zap.String("signature", ev.Signature))

	m.reactorsMu.RLock()
	reactors := make([]Reactor, len(m.reactors))
	copy(reactors, m.reactors)
	m.reactorsMu.RUnlock()

	for i, r := range reactors {
		m.invoke(ctx, i, r, ev)
	}
}

func (m *Monitor) invoke(ctx context.Context, idx int, r Reactor, ev *domain.CreationEvent) {
	defer func() {
		if p := recover(); p != nil {
			m.opts.Metrics.RecordReactorError()
			m.log.Error("reactor panicked",
				zap.Int("reactor", idx),
				zap.String("mint", ev.Mint),
				zap.Any("panic", p))
		}
	}()

	if err := r.HandleEvent(ctx, ev); err != nil {
		m.opts.Metrics.RecordReactorError()
		m.log.Warn("reactor failed",
			zap.Int("reactor", idx),
			zap.String("mint", ev.Mint),
			zap.Error(err))
	}
}

func (m *Monitor) update(fn func(s *domain.MonitorState)) {
	m.mu.Lock()
	prev := m.state.Phase
	fn(&m.state)
	phase := m.state.Phase
	m.mu.Unlock()

	if phase != prev {
		m.opts.Metrics.SetMonitorPhase(phase.String())
	}
}
