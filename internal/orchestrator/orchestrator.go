// Package orchestrator runs the sniper: it reacts to creation events by
// fanning buys out across wallets and scheduling the follow-up sells.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pumpsniper/internal/config"
	"pumpsniper/internal/discovery"
	"pumpsniper/internal/domain"
	"pumpsniper/internal/executor"
	"pumpsniper/internal/idhash"
	"pumpsniper/internal/logging"
	"pumpsniper/internal/monitor"
	"pumpsniper/internal/observability"
	"pumpsniper/internal/storage"
)

var (
	// ErrAlreadyRunning is returned by Start while the sniper is running.
	ErrAlreadyRunning = errors.New("sniper already running")

	// ErrNotRunning is returned by Stop while the sniper is idle.
	ErrNotRunning = errors.New("sniper not running")
)

// DefaultTransientRetryPause is the wait before retrying a transient trade failure.
const DefaultTransientRetryPause = 2 * time.Second

// Status is the sniper run state.
type Status string

// Status values.
const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

// AccountDirectory lists trading wallets and resolves their signing keys.
type AccountDirectory interface {
	List(ctx context.Context) ([]string, error)
	Resolve(ctx context.Context, id string) (solanago.PrivateKey, error)
}

// TradeExecutor submits buys and sells and returns transaction signatures.
type TradeExecutor interface {
	Buy(ctx context.Context, mint string, signer solanago.PrivateKey, amountSOL decimal.Decimal, slippageBps int) (string, error)
	Sell(ctx context.Context, mint string, signer solanago.PrivateKey, percentage decimal.Decimal, slippageBps int) (string, error)
}

// priorityFeeSetter is implemented by executors with a tunable compute unit price.
type priorityFeeSetter interface {
	SetPriorityFee(decimal.Decimal)
}

// EventSource delivers creation events to registered reactors.
type EventSource interface {
	AddReactor(r monitor.Reactor)
	Start(ctx context.Context, programID string) error
	Stop()
	State() domain.MonitorState
	Done() <-chan struct{}
}

// Options configures the orchestrator.
type Options struct {
	Source   EventSource
	Accounts AccountDirectory
	Executor TradeExecutor
	Config   config.Provider
	Store    storage.OutcomeStore

	// ProgramID pins the watched program to the one the executor trades
	// against. Empty reads it from each Start's config snapshot.
	ProgramID string
	// Detector dedupes events across reconnects. Default: discovery.NewDetector(0).
	Detector *discovery.Detector
	// TransientRetryPause is the wait before the single retry of an
	// executor.ErrTransient failure. Default DefaultTransientRetryPause.
	TransientRetryPause time.Duration
	// SubscriberBuffer sizes each Subscribe channel. Default 64.
	SubscriberBuffer int

	NewID   func() string    // default uuid.NewString
	Now     func() time.Time // default time.Now
	Logger  *zap.Logger
	Metrics *observability.Metrics
}

// Orchestrator is the sniper control loop.
type Orchestrator struct {
	opts Options
	log  *zap.Logger

	mu         sync.Mutex // guards Start/Stop and generation
	running    atomic.Bool
	generation uint64
	register   sync.Once

	trades       sync.WaitGroup
	tradeCtx     context.Context
	cancelTrades context.CancelFunc

	subsMu  sync.Mutex
	subs    map[int]chan domain.TradeOutcome
	nextSub int
}

// New creates an idle orchestrator.
func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("event source is required")
	case opts.Accounts == nil:
		return nil, errors.New("account directory is required")
	case opts.Executor == nil:
		return nil, errors.New("trade executor is required")
	case opts.Config == nil:
		return nil, errors.New("config provider is required")
	case opts.Store == nil:
		return nil, errors.New("outcome store is required")
	}
	if opts.Detector == nil {
		opts.Detector = discovery.NewDetector(0)
	}
	if opts.TransientRetryPause <= 0 {
		opts.TransientRetryPause = DefaultTransientRetryPause
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	tradeCtx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		opts:         opts,
		log:          logging.OrNop(opts.Logger).Named("orchestrator"),
		tradeCtx:     tradeCtx,
		cancelTrades: cancel,
		subs:         make(map[int]chan domain.TradeOutcome),
	}, nil
}

// Start registers the reactor and starts the event source on the
// configured program. Returns ErrAlreadyRunning if already running.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running.Load() {
		return ErrAlreadyRunning
	}

	snap, err := o.opts.Config.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	program := snap.ProgramID
	if o.opts.ProgramID != "" {
		if program != "" && program != o.opts.ProgramID {
			o.log.Warn("config program id differs from the running executor, keeping startup value",
				zap.String("config", program), zap.String("program", o.opts.ProgramID))
		}
		program = o.opts.ProgramID
	}

	o.register.Do(func() { o.opts.Source.AddReactor(o) })

	if err := o.opts.Source.Start(ctx, program); err != nil {
		return fmt.Errorf("start monitor: %w", err)
	}

	o.generation++
	o.running.Store(true)
	o.opts.Metrics.SetSniperRunning(true)
	go o.watch(o.generation, o.opts.Source.Done())

	o.log.Info("sniper started", zap.String("program", program))
	return nil
}

// Stop stops the event source. In-flight trades and pending sells keep
// running; Wait drains them and Close abandons them. Returns ErrNotRunning if idle.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running.Load() {
		return ErrNotRunning
	}

	o.generation++
	o.running.Store(false)
	o.opts.Source.Stop()
	o.opts.Metrics.SetSniperRunning(false)

	o.log.Info("sniper stopped")
	return nil
}

// watch flips the sniper to idle if the source gives up on its own.
func (o *Orchestrator) watch(gen uint64, done <-chan struct{}) {
	if done == nil {
		return
	}
	<-done

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != gen || !o.running.Load() {
		return
	}
	o.generation++
	o.running.Store(false)
	o.opts.Metrics.SetSniperRunning(false)
	o.log.Warn("monitor exited, sniper is idle", zap.String("last_error", o.opts.Source.State().LastError))
}

// Status reports whether the sniper is running. It never blocks on I/O.
func (o *Orchestrator) Status() Status {
	if o.running.Load() {
		return StatusRunning
	}
	return StatusIdle
}

// MonitorState returns the event source state snapshot.
func (o *Orchestrator) MonitorState() domain.MonitorState {
	return o.opts.Source.State()
}

// Wait blocks until every dispatched buy and sell has finished.
func (o *Orchestrator) Wait() {
	o.trades.Wait()
}

// Close stops the sniper if running, abandons pending sells and waits for
// in-flight trades to return.
func (o *Orchestrator) Close() {
	if err := o.Stop(); err != nil && !errors.Is(err, ErrNotRunning) {
		o.log.Warn("stop on close", zap.Error(err))
	}
	o.cancelTrades()
	o.trades.Wait()
}

// Subscribe returns a channel receiving every recorded outcome and a
// function that cancels the subscription. Slow subscribers miss outcomes.
func (o *Orchestrator) Subscribe() (<-chan domain.TradeOutcome, func()) {
	ch := make(chan domain.TradeOutcome, o.opts.SubscriberBuffer)

	o.subsMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.subsMu.Lock()
			delete(o.subs, id)
			o.subsMu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) publish(out domain.TradeOutcome) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- out:
		default:
		}
	}
}

// HandleEvent plans and dispatches the trades for one creation event. It
// returns once the buys are dispatched.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev *domain.CreationEvent) error {
	log := o.log.With(
		zap.String("mint", ev.Mint),
		zap.String("symbol", ev.Symbol),
		zap.String("signature", ev.Signature),
	)

	snap, err := o.opts.Config.Snapshot(ctx)
	if err != nil {
		o.opts.Metrics.RecordEventSkipped("config")
		return fmt.Errorf("load config: %w", err)
	}
	if !snap.Allowed(ev.Mint) {
		o.opts.Metrics.RecordEventSkipped("allowlist")
		log.Info("mint not in allow-list", zap.String("allow_list", snap.AllowListSetBy))
		return nil
	}

	wallets, err := o.opts.Accounts.List(ctx)
	if err != nil {
		o.opts.Metrics.RecordEventSkipped("accounts")
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(wallets) == 0 {
		o.opts.Metrics.RecordEventSkipped("no_accounts")
		log.Warn("no accounts available")
		return nil
	}

	// Marked seen only once the event can trade, so a failed read does not
	// swallow a replayed notification.
	eventID := idhash.ComputeEventID(ev.Signature, ev.Mint)
	if !o.opts.Detector.FirstSeen(eventID) {
		o.opts.Metrics.RecordEventSkipped("duplicate")
		log.Debug("duplicate event")
		return nil
	}
	o.opts.Metrics.RecordEventDetected()

	intents, err := PlanBuys(ev, eventID, snap.Trade, wallets, o.opts.NewID)
	if err != nil {
		o.opts.Metrics.RecordEventSkipped("plan")
		log.Warn("cannot plan buys", zap.Error(err))
		return nil
	}

	if setter, ok := o.opts.Executor.(priorityFeeSetter); ok {
		setter.SetPriorityFee(snap.Trade.PriorityFee)
	}

	log.Info("token detected, dispatching buys",
		zap.String("name", ev.Name),
		zap.String("mode", string(snap.Trade.Mode)),
		zap.Int("wallets", len(intents)),
	)
	for _, intent := range intents {
		o.trades.Add(1)
		go o.runBuy(o.tradeCtx, ev, intent, snap.Trade)
	}
	return nil
}

func (o *Orchestrator) runBuy(ctx context.Context, ev *domain.CreationEvent, intent domain.TradeIntent, tc domain.TradeConfig) {
	defer o.trades.Done()

	out := o.execute(ctx, ev, intent, func(signer solanago.PrivateKey) (string, error) {
		return o.opts.Executor.Buy(ctx, intent.Mint, signer, intent.Amount, intent.SlippageBps)
	})
	if !out.Succeeded() || tc.SellDelay <= 0 {
		return
	}

	sell := SellIntent(intent, tc, o.opts.NewID())
	o.trades.Add(1)
	o.opts.Metrics.AddPendingSells(1)
	go o.runSell(ctx, ev, sell)
}

func (o *Orchestrator) runSell(ctx context.Context, ev *domain.CreationEvent, intent domain.TradeIntent) {
	defer o.trades.Done()
	defer o.opts.Metrics.AddPendingSells(-1)

	if !sleep(ctx, intent.Delay) {
		return
	}

	o.execute(ctx, ev, intent, func(signer solanago.PrivateKey) (string, error) {
		return o.opts.Executor.Sell(ctx, intent.Mint, signer, intent.Percentage, intent.SlippageBps)
	})
}

// execute resolves the signer, runs fn with one retry on a transient
// failure, then records the outcome.
func (o *Orchestrator) execute(ctx context.Context, ev *domain.CreationEvent, intent domain.TradeIntent, fn func(solanago.PrivateKey) (string, error)) domain.TradeOutcome {
	log := o.log.With(
		zap.String("side", string(intent.Side)),
		zap.String("mint", intent.Mint),
		zap.String("wallet", intent.Wallet),
	)

	start := time.Now()
	attempts := 0
	var (
		sig string
		err error
	)

	signer, err := o.opts.Accounts.Resolve(ctx, intent.Wallet)
	if err == nil {
		for {
			attempts++
			sig, err = fn(signer)
			if err == nil || attempts > 1 || !errors.Is(err, executor.ErrTransient) {
				break
			}
			log.Info("transient failure, retrying", zap.Error(err), zap.Duration("pause", o.opts.TransientRetryPause))
			if !sleep(ctx, o.opts.TransientRetryPause) {
				err = ctx.Err()
				break
			}
		}
	} else {
		err = fmt.Errorf("resolve wallet: %w", err)
	}

	out := domain.TradeOutcome{
		ID:          o.opts.NewID(),
		IntentID:    intent.ID,
		EventID:     intent.EventID,
		Side:        intent.Side,
		Mint:        intent.Mint,
		TokenName:   ev.Name,
		TokenSymbol: ev.Symbol,
		Wallet:      intent.Wallet,
		Amount:      intent.Amount,
		Percentage:  intent.Percentage,
		Attempts:    attempts,
		CreatedAt:   o.opts.Now().UnixMilli(),
	}
	if err != nil {
		out.Status = domain.StatusFailed
		out.Error = err.Error()
		log.Warn("trade failed", zap.Int("attempts", attempts), zap.Error(err))
	} else {
		out.Status = domain.StatusSuccess
		out.TxSignature = sig
		log.Info("trade landed", zap.String("signature", sig), zap.Int("attempts", attempts))
	}
	o.opts.Metrics.RecordTrade(string(out.Side), string(out.Status), time.Since(start))

	if err := o.opts.Store.Insert(context.WithoutCancel(ctx), &out); err != nil {
		log.Error("record outcome", zap.Error(err))
	}
	o.publish(out)
	return out
}

// sleep waits d or until ctx is done. Reports whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Compile-time interface check.
var _ monitor.Reactor = (*Orchestrator)(nil)
