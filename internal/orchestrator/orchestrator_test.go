package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpsniper/internal/accounts"
	"pumpsniper/internal/config"
	"pumpsniper/internal/discovery"
	"pumpsniper/internal/domain"
	"pumpsniper/internal/executor"
	"pumpsniper/internal/monitor"
	"pumpsniper/internal/storage"
	"pumpsniper/internal/storage/memory"
)

const testMint = "HAReKWhADs64eS18eB75LiU8UhkBkLmsauS475kjpump"

// fakeSource records reactors and start/stop calls.
type fakeSource struct {
	mu       sync.Mutex
	reactors []monitor.Reactor
	starts   int
	stops    int
	program  string
	done     chan struct{}
}

func (s *fakeSource) AddReactor(r monitor.Reactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reactors = append(s.reactors, r)
}

func (s *fakeSource) Start(_ context.Context, programID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.program = programID
	s.done = make(chan struct{})
	return nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

// exit simulates the monitor giving up on its own.
func (s *fakeSource) exit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		close(s.done)
		s.done = nil
	}
}

func (s *fakeSource) State() domain.MonitorState { return domain.MonitorState{} }

func (s *fakeSource) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

type call struct {
	side   domain.Side
	wallet string
	amount decimal.Decimal
}

// fakeExecutor returns errors chosen per call by fail.
type fakeExecutor struct {
	mu    sync.Mutex
	calls []call
	fail  func(c call, n int) error // n counts prior calls with the same side and wallet
	fee   decimal.Decimal
}

func (e *fakeExecutor) record(c call) (int, error) {
	e.mu.Lock()
	n := 0
	for _, prev := range e.calls {
		if prev.side == c.side && prev.wallet == c.wallet {
			n++
		}
	}
	e.calls = append(e.calls, c)
	fail := e.fail
	e.mu.Unlock()

	if fail != nil {
		if err := fail(c, n); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (e *fakeExecutor) Buy(_ context.Context, mint string, signer solanago.PrivateKey, amount decimal.Decimal, _ int) (string, error) {
	c := call{side: domain.SideBuy, wallet: signer.PublicKey().String(), amount: amount}
	n, err := e.record(c)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("buy-%s-%d", c.wallet[:4], n), nil
}

func (e *fakeExecutor) Sell(_ context.Context, mint string, signer solanago.PrivateKey, pct decimal.Decimal, _ int) (string, error) {
	c := call{side: domain.SideSell, wallet: signer.PublicKey().String(), amount: pct}
	n, err := e.record(c)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sell-%s-%d", c.wallet[:4], n), nil
}

func (e *fakeExecutor) SetPriorityFee(fee decimal.Decimal) {
	e.mu.Lock()
	e.fee = fee
	e.mu.Unlock()
}

func (e *fakeExecutor) callsFor(side domain.Side) []call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []call
	for _, c := range e.calls {
		if c.side == side {
			out = append(out, c)
		}
	}
	return out
}

type harness struct {
	orch    *Orchestrator
	source  *fakeSource
	exec    *fakeExecutor
	store   *memory.OutcomeStore
	cfg     *config.StaticProvider
	wallets []string
}

func newHarness(t *testing.T, nWallets int, tc domain.TradeConfig) *harness {
	t.Helper()

	keys := make([]solanago.PrivateKey, nWallets)
	for i := range keys {
		keys[i] = solanago.NewWallet().PrivateKey
	}
	dir := accounts.NewStatic(keys...)
	wallets, err := dir.List(context.Background())
	require.NoError(t, err)

	h := &harness{
		source:  &fakeSource{},
		exec:    &fakeExecutor{},
		store:   memory.NewOutcomeStore(),
		cfg:     config.NewStaticProvider(config.Snapshot{Trade: tc, ProgramID: discovery.PumpFun}),
		wallets: wallets,
	}
	h.orch, err = New(Options{
		Source:              h.source,
		Accounts:            dir,
		Executor:            h.exec,
		Config:              h.cfg,
		Store:               h.store,
		TransientRetryPause: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) outcomes(t *testing.T, side domain.Side) []*domain.TradeOutcome {
	t.Helper()
	out, err := h.store.List(context.Background(), storage.OutcomeFilter{Side: side})
	require.NoError(t, err)
	return out
}

func tradeConfig(mode domain.RunMode, amount string, delay time.Duration) domain.TradeConfig {
	return domain.TradeConfig{
		Mode:           mode,
		AmountPerTrade: decimal.RequireFromString(amount),
		SellDelay:      delay,
		SellPercentage: decimal.NewFromInt(100),
		SlippageBps:    500,
		PriorityFee:    decimal.NewFromInt(2),
	}
}

func testEvent(sig string) *domain.CreationEvent {
	return &domain.CreationEvent{Name: "Test", Symbol: "TST", Mint: testMint, Signature: sig, Slot: 1}
}

func TestOrchestrator_StartStop(t *testing.T) {
	h := newHarness(t, 1, tradeConfig(domain.RunModeSingle, "0.1", 0))
	ctx := context.Background()

	assert.Equal(t, StatusIdle, h.orch.Status())
	assert.ErrorIs(t, h.orch.Stop(), ErrNotRunning)

	require.NoError(t, h.orch.Start(ctx))
	assert.Equal(t, StatusRunning, h.orch.Status())
	assert.ErrorIs(t, h.orch.Start(ctx), ErrAlreadyRunning)
	assert.Equal(t, discovery.PumpFun, h.source.program)

	require.NoError(t, h.orch.Stop())
	assert.Equal(t, StatusIdle, h.orch.Status())
	assert.ErrorIs(t, h.orch.Stop(), ErrNotRunning)

	require.NoError(t, h.orch.Start(ctx))
	assert.Equal(t, 2, h.source.starts)
	assert.Len(t, h.source.reactors, 1, "reactor registered once")
}

func TestOrchestrator_PinnedProgramID(t *testing.T) {
	source := &fakeSource{}
	orch, err := New(Options{
		Source:   source,
		Accounts: accounts.NewStatic(solanago.NewWallet().PrivateKey),
		Executor: &fakeExecutor{},
		Config: config.NewStaticProvider(config.Snapshot{
			Trade:     tradeConfig(domain.RunModeSingle, "0.1", 0),
			ProgramID: "11111111111111111111111111111111",
		}),
		Store:     memory.NewOutcomeStore(),
		ProgramID: discovery.PumpFun,
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	require.NoError(t, orch.Start(context.Background()))
	assert.Equal(t, discovery.PumpFun, source.program, "config edits do not move the watched program")
}

func TestOrchestrator_SourceExitGoesIdle(t *testing.T) {
	h := newHarness(t, 1, tradeConfig(domain.RunModeSingle, "0.1", 0))
	require.NoError(t, h.orch.Start(context.Background()))

	h.source.exit()
	require.Eventually(t, func() bool { return h.orch.Status() == StatusIdle }, time.Second, 5*time.Millisecond)

	require.NoError(t, h.orch.Start(context.Background()), "restart after exit")
}

func TestOrchestrator_MultiModeWithFailingWallet(t *testing.T) {
	h := newHarness(t, 3, tradeConfig(domain.RunModeMulti, "0.3", 10*time.Millisecond))
	failing := h.wallets[1]
	h.exec.fail = func(c call, _ int) error {
		if c.side == domain.SideBuy && c.wallet == failing {
			return errors.New("insufficient funds")
		}
		return nil
	}

	require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
	h.orch.Wait()

	buys := h.outcomes(t, domain.SideBuy)
	require.Len(t, buys, 3)
	var succeeded []string
	for _, b := range buys {
		assert.True(t, b.Amount.Equal(decimal.RequireFromString("0.1")), "split amount %s", b.Amount)
		assert.Equal(t, "TST", b.TokenSymbol)
		if b.Succeeded() {
			succeeded = append(succeeded, b.Wallet)
			continue
		}
		assert.Equal(t, failing, b.Wallet)
		assert.Contains(t, b.Error, "insufficient funds")
		assert.Equal(t, 1, b.Attempts)
	}
	require.Len(t, succeeded, 2)

	sells := h.outcomes(t, domain.SideSell)
	require.Len(t, sells, 2)
	var sold []string
	for _, s := range sells {
		assert.True(t, s.Succeeded())
		assert.True(t, s.Percentage.Equal(decimal.NewFromInt(100)))
		sold = append(sold, s.Wallet)
	}
	sort.Strings(succeeded)
	sort.Strings(sold)
	assert.Equal(t, succeeded, sold, "sells only for landed buys")

	assert.True(t, h.exec.fee.Equal(decimal.NewFromInt(2)), "priority fee forwarded")
}

func TestOrchestrator_AllowListMismatch(t *testing.T) {
	h := newHarness(t, 2, tradeConfig(domain.RunModeMulti, "0.2", 0))
	snap, _ := h.cfg.Snapshot(context.Background())
	snap.AllowList = []string{"SomeOtherMint1111111111111111111111111111111"}
	h.cfg.Set(snap)

	require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
	h.orch.Wait()

	assert.Empty(t, h.outcomes(t, ""))
	assert.Empty(t, h.exec.callsFor(domain.SideBuy))
}

func TestOrchestrator_SingleModeNoSell(t *testing.T) {
	h := newHarness(t, 3, tradeConfig(domain.RunModeSingle, "0.5", 0))

	require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
	h.orch.Wait()

	buys := h.outcomes(t, domain.SideBuy)
	require.Len(t, buys, 1)
	assert.Equal(t, h.wallets[0], buys[0].Wallet)
	assert.True(t, buys[0].Amount.Equal(decimal.RequireFromString("0.5")))
	assert.Empty(t, h.outcomes(t, domain.SideSell))
}

func TestOrchestrator_TransientRetriedOnce(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		h := newHarness(t, 1, tradeConfig(domain.RunModeSingle, "0.1", time.Millisecond))
		h.exec.fail = func(c call, n int) error {
			if c.side == domain.SideSell && n == 0 {
				return fmt.Errorf("%w: no token account", executor.ErrTransient)
			}
			return nil
		}

		require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
		h.orch.Wait()

		sells := h.outcomes(t, domain.SideSell)
		require.Len(t, sells, 1)
		assert.True(t, sells[0].Succeeded())
		assert.Equal(t, 2, sells[0].Attempts)
	})

	t.Run("gives up", func(t *testing.T) {
		h := newHarness(t, 1, tradeConfig(domain.RunModeSingle, "0.1", 0))
		h.exec.fail = func(call, int) error { return executor.ErrTransient }

		require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
		h.orch.Wait()

		buys := h.outcomes(t, domain.SideBuy)
		require.Len(t, buys, 1)
		assert.False(t, buys[0].Succeeded())
		assert.Equal(t, 2, buys[0].Attempts)
		assert.Len(t, h.exec.callsFor(domain.SideBuy), 2)
	})

	t.Run("permanent not retried", func(t *testing.T) {
		h := newHarness(t, 1, tradeConfig(domain.RunModeSingle, "0.1", 0))
		h.exec.fail = func(call, int) error { return executor.ErrCurveComplete }

		require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
		h.orch.Wait()

		assert.Len(t, h.exec.callsFor(domain.SideBuy), 1)
	})
}

func TestOrchestrator_DuplicateEventIgnored(t *testing.T) {
	h := newHarness(t, 1, tradeConfig(domain.RunModeSingle, "0.1", 0))
	ctx := context.Background()

	require.NoError(t, h.orch.HandleEvent(ctx, testEvent("sig1")))
	require.NoError(t, h.orch.HandleEvent(ctx, testEvent("sig1")))
	require.NoError(t, h.orch.HandleEvent(ctx, testEvent("sig2")))
	h.orch.Wait()

	assert.Len(t, h.outcomes(t, domain.SideBuy), 2)
}

// flakyConfig fails the first n snapshots.
type flakyConfig struct {
	config.Provider
	failures atomic.Int32
}

func (f *flakyConfig) Snapshot(ctx context.Context) (config.Snapshot, error) {
	if f.failures.Add(-1) >= 0 {
		return config.Snapshot{}, errors.New("redis unavailable")
	}
	return f.Provider.Snapshot(ctx)
}

func TestOrchestrator_EventRetriedAfterConfigFailure(t *testing.T) {
	cfg := &flakyConfig{
		Provider: config.NewStaticProvider(config.Snapshot{
			Trade:     tradeConfig(domain.RunModeSingle, "0.1", 0),
			ProgramID: discovery.PumpFun,
		}),
	}
	cfg.failures.Store(1)

	store := memory.NewOutcomeStore()
	orch, err := New(Options{
		Source:              &fakeSource{},
		Accounts:            accounts.NewStatic(solanago.NewWallet().PrivateKey),
		Executor:            &fakeExecutor{},
		Config:              cfg,
		Store:               store,
		TransientRetryPause: time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(orch.Close)

	ctx := context.Background()
	err = orch.HandleEvent(ctx, testEvent("sig1"))
	require.Error(t, err)

	// the same notification delivered again still trades
	require.NoError(t, orch.HandleEvent(ctx, testEvent("sig1")))
	orch.Wait()

	out, err := store.List(ctx, storage.OutcomeFilter{Side: domain.SideBuy})
	require.NoError(t, err)
	assert.Len(t, out, 1)

	// and a third delivery is a duplicate
	require.NoError(t, orch.HandleEvent(ctx, testEvent("sig1")))
	orch.Wait()
	out, err = store.List(ctx, storage.OutcomeFilter{Side: domain.SideBuy})
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestOrchestrator_NoAccounts(t *testing.T) {
	h := newHarness(t, 0, tradeConfig(domain.RunModeMulti, "0.1", 0))

	require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
	h.orch.Wait()
	assert.Empty(t, h.outcomes(t, ""))
}

func TestOrchestrator_Subscribe(t *testing.T) {
	h := newHarness(t, 2, tradeConfig(domain.RunModeMulti, "0.2", 0))
	ch, cancel := h.orch.Subscribe()

	require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
	h.orch.Wait()

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case o := <-ch:
			assert.Equal(t, domain.SideBuy, o.Side)
			got[o.Wallet] = true
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for outcome")
		}
	}
	assert.Len(t, got, 2)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open, "channel closed after cancel")
}

func TestOrchestrator_CloseAbandonsPendingSells(t *testing.T) {
	h := newHarness(t, 1, tradeConfig(domain.RunModeSingle, "0.1", time.Hour))

	require.NoError(t, h.orch.HandleEvent(context.Background(), testEvent("sig1")))
	require.Eventually(t, func() bool { return len(h.outcomes(t, domain.SideBuy)) == 1 }, time.Second, 5*time.Millisecond)

	closed := make(chan struct{})
	go func() {
		h.orch.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("Close did not abandon the pending sell")
	}
	assert.Empty(t, h.outcomes(t, domain.SideSell))
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}
