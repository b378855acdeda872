// Package executor builds, signs and submits pump.fun bonding curve trades.
package executor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"pumpsniper/internal/logging"
	"pumpsniper/internal/observability"
	"pumpsniper/internal/solana"
)

var (
	// ErrTransient marks failures a caller may retry after a short pause,
	// such as a token account that has not landed yet.
	ErrTransient = errors.New("transient trade failure")

	// ErrCurveComplete is returned when the bonding curve has migrated.
	ErrCurveComplete = errors.New("bonding curve complete")

	// ErrCurveNotFound is returned when the bonding curve account is not visible yet.
	ErrCurveNotFound = errors.New("bonding curve not found")

	// ErrInvalidAmount is returned for non-positive trade sizes.
	ErrInvalidAmount = errors.New("invalid trade amount")
)

// Defaults.
const (
	DefaultComputeUnits    uint32 = 100_000
	DefaultUnitPrice       uint64 = 333_333 // micro-lamports per compute unit
	DefaultMaxSellAttempts        = 3
	DefaultRetryBackoff           = 500 * time.Millisecond
)

// Options configures Executor.
type Options struct {
	RPC             solana.RPCClient
	ProgramID       string          // default: DefaultProgramID
	ComputeUnits    uint32          // default: DefaultComputeUnits
	UnitPrice       uint64          // default: DefaultUnitPrice
	PriorityFee     decimal.Decimal // unit price multiplier; zero means 1
	MaxSellAttempts int             // default: DefaultMaxSellAttempts
	RetryBackoff    time.Duration   // initial sell retry backoff, doubled per attempt
	SkipPreflight   bool
	Logger          *zap.Logger
	Metrics         *observability.Metrics
}

// Executor trades on the pump.fun bonding curve.
type Executor struct {
	rpc             solana.RPCClient
	programID       string
	computeUnits    uint32
	unitPrice       uint64
	maxSellAttempts int
	retryBackoff    time.Duration
	skipPreflight   bool
	logger          *zap.Logger
	metrics         *observability.Metrics

	mu          sync.RWMutex
	priorityFee decimal.Decimal
}

// New creates an Executor.
func New(opts Options) (*Executor, error) {
	if opts.RPC == nil {
		return nil, errors.New("rpc client is required")
	}
	if opts.ProgramID == "" {
		opts.ProgramID = DefaultProgramID
	}
	if opts.ComputeUnits == 0 {
		opts.ComputeUnits = DefaultComputeUnits
	}
	if opts.UnitPrice == 0 {
		opts.UnitPrice = DefaultUnitPrice
	}
	if opts.PriorityFee.IsZero() {
		opts.PriorityFee = decimal.NewFromInt(1)
	}
	if opts.MaxSellAttempts <= 0 {
		opts.MaxSellAttempts = DefaultMaxSellAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}

	return &Executor{
		rpc:             opts.RPC,
		programID:       opts.ProgramID,
		computeUnits:    opts.ComputeUnits,
		unitPrice:       opts.UnitPrice,
		maxSellAttempts: opts.MaxSellAttempts,
		retryBackoff:    opts.RetryBackoff,
		skipPreflight:   opts.SkipPreflight,
		logger:          logging.OrNop(opts.Logger).Named("executor"),
		metrics:         opts.Metrics,
		priorityFee:     opts.PriorityFee,
	}, nil
}

// SetPriorityFee updates the compute unit price multiplier for later trades.
func (e *Executor) SetPriorityFee(fee decimal.Decimal) {
	if fee.Sign() <= 0 {
		return
	}
	e.mu.Lock()
	e.priorityFee = fee
	e.mu.Unlock()
}

func (e *Executor) computeUnitPrice() uint64 {
	e.mu.RLock()
	fee := e.priorityFee
	e.mu.RUnlock()
	return uint64(decimal.NewFromInt(int64(e.unitPrice)).Mul(fee).IntPart())
}

// Buy spends amountSOL on mint and returns the transaction signature.
func (e *Executor) Buy(ctx context.Context, mint string, signer solanago.PrivateKey, amountSOL decimal.Decimal, slippageBps int) (string, error) {
	lamports := amountSOL.Shift(9).IntPart()
	if lamports <= 0 {
		return "", fmt.Errorf("%w: %s SOL", ErrInvalidAmount, amountSOL)
	}

	curve, err := e.bondingCurve(ctx, mint)
	if err != nil {
		return "", err
	}

	owner := signer.PublicKey().String()
	userATA, err := solana.AssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", fmt.Errorf("derive user token account: %w", err)
	}
	ataInfo, err := e.getAccountInfo(ctx, userATA)
	if err != nil {
		return "", fmt.Errorf("get user token account: %w", err)
	}

	tokens, maxCost := BuyQuote(curve, uint64(lamports), slippageBps)
	if tokens == 0 {
		return "", fmt.Errorf("%w: quote is zero tokens", ErrInvalidAmount)
	}

	ixs, err := e.budgetInstructions()
	if err != nil {
		return "", err
	}
	if ataInfo == nil {
		ix, err := createATAIdempotent(owner, userATA, mint)
		if err != nil {
			return "", err
		}
		ixs = append(ixs, ix)
	}
	swap, err := e.swapInstruction(true, mint, curve, userATA, owner, swapData(buyDiscriminator, tokens, maxCost))
	if err != nil {
		return "", err
	}
	ixs = append(ixs, swap)

	sig, err := e.submit(ctx, "buy", signer, ixs)
	if err != nil {
		return "", err
	}

	e.logger.Info("buy submitted",
		zap.String("mint", mint),
		zap.String("wallet", owner),
		zap.Int64("lamports", lamports),
		zap.Uint64("tokens", tokens),
		zap.Uint64("max_cost", maxCost),
		zap.String("signature", sig),
	)
	return sig, nil
}

// Sell sells percentage (0..100] of the signer's mint balance.
// The build and send path is retried up to MaxSellAttempts.
func (e *Executor) Sell(ctx context.Context, mint string, signer solanago.PrivateKey, percentage decimal.Decimal, slippageBps int) (string, error) {
	if percentage.Sign() <= 0 || percentage.GreaterThan(decimal.NewFromInt(100)) {
		return "", fmt.Errorf("%w: %s%%", ErrInvalidAmount, percentage)
	}

	backoff := e.retryBackoff
	var lastErr error
	for attempt := 1; attempt <= e.maxSellAttempts; attempt++ {
		sig, err := e.sellOnce(ctx, mint, signer, percentage, slippageBps)
		if err == nil {
			return sig, nil
		}
		if !retryableSell(err) {
			return "", err
		}
		lastErr = err

		e.logger.Warn("sell attempt failed",
			zap.String("mint", mint),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == e.maxSellAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return "", fmt.Errorf("sell failed after %d attempts: %w", e.maxSellAttempts, lastErr)
}

func (e *Executor) sellOnce(ctx context.Context, mint string, signer solanago.PrivateKey, percentage decimal.Decimal, slippageBps int) (string, error) {
	curve, err := e.bondingCurve(ctx, mint)
	if err != nil {
		return "", err
	}

	owner := signer.PublicKey().String()
	accounts, err := e.rpc.GetTokenAccountsByOwner(ctx, owner, mint)
	if err != nil {
		return "", fmt.Errorf("get token accounts: %w", err)
	}
	if len(accounts) == 0 {
		return "", fmt.Errorf("%w: no token account for %s", ErrTransient, mint)
	}
	balance := accounts[0].Amount
	if balance == 0 {
		return "", fmt.Errorf("%w: zero token balance for %s", ErrTransient, mint)
	}

	amount := uint64(decimal.NewFromInt(int64(balance)).Mul(percentage).Div(decimal.NewFromInt(100)).IntPart())
	if amount == 0 {
		return "", fmt.Errorf("%w: sell amount rounds to zero", ErrInvalidAmount)
	}
	minOut := SellQuote(curve, amount, slippageBps)

	userATA, err := solana.AssociatedTokenAddress(owner, mint)
	if err != nil {
		return "", fmt.Errorf("derive user token account: %w", err)
	}

	ixs, err := e.budgetInstructions()
	if err != nil {
		return "", err
	}
	swap, err := e.swapInstruction(false, mint, curve, userATA, owner, swapData(sellDiscriminator, amount, minOut))
	if err != nil {
		return "", err
	}
	ixs = append(ixs, swap)

	sig, err := e.submit(ctx, "sell", signer, ixs)
	if err != nil {
		return "", err
	}

	e.logger.Info("sell submitted",
		zap.String("mint", mint),
		zap.String("wallet", owner),
		zap.Uint64("amount", amount),
		zap.Uint64("min_out", minOut),
		zap.String("signature", sig),
	)
	return sig, nil
}

// retryableSell excludes failures a resend cannot fix.
func retryableSell(err error) bool {
	switch {
	case errors.Is(err, ErrTransient),
		errors.Is(err, ErrCurveComplete),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrMalformedCurve),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// bondingCurve loads and decodes mint's curve. A missing account is transient.
func (e *Executor) bondingCurve(ctx context.Context, mint string) (BondingCurve, error) {
	addr, err := BondingCurveAddress(mint, e.programID)
	if err != nil {
		return BondingCurve{}, err
	}
	info, err := e.getAccountInfo(ctx, addr)
	if err != nil {
		return BondingCurve{}, fmt.Errorf("get bonding curve: %w", err)
	}
	if info == nil {
		return BondingCurve{}, fmt.Errorf("%w: %w", ErrTransient, ErrCurveNotFound)
	}
	data, err := decodeAccountData(info)
	if err != nil {
		return BondingCurve{}, err
	}
	curve, err := DecodeBondingCurve(data)
	if err != nil {
		return BondingCurve{}, err
	}
	if curve.Complete {
		return BondingCurve{}, ErrCurveComplete
	}
	curve.Address = addr
	if curve.AssociatedBondingCurve, err = solana.AssociatedTokenAddress(addr, mint); err != nil {
		return BondingCurve{}, fmt.Errorf("derive curve token account: %w", err)
	}
	return curve, nil
}

func (e *Executor) getAccountInfo(ctx context.Context, addr string) (*solana.AccountInfo, error) {
	start := time.Now()
	info, err := e.rpc.GetAccountInfo(ctx, addr)
	e.metrics.RecordRPCLatency("getAccountInfo", time.Since(start))
	return info, err
}

func (e *Executor) budgetInstructions() ([]solanago.Instruction, error) {
	program, err := solanago.PublicKeyFromBase58(solana.ComputeBudgetProgramID)
	if err != nil {
		return nil, err
	}

	limit := make([]byte, 0, 5)
	limit = append(limit, 2) // SetComputeUnitLimit
	limit = binary.LittleEndian.AppendUint32(limit, e.computeUnits)

	price := make([]byte, 0, 9)
	price = append(price, 3) // SetComputeUnitPrice
	price = binary.LittleEndian.AppendUint64(price, e.computeUnitPrice())

	return []solanago.Instruction{
		solanago.NewInstruction(program, solanago.AccountMetaSlice{}, limit),
		solanago.NewInstruction(program, solanago.AccountMetaSlice{}, price),
	}, nil
}

func createATAIdempotent(owner, ata, mint string) (solanago.Instruction, error) {
	keys, err := publicKeys(owner, ata, mint, solana.SystemProgramID, solana.TokenProgramID, solana.AssociatedTokenProgramID)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(keys[0], true, true),   // payer
		solanago.NewAccountMeta(keys[1], true, false),  // associated token account
		solanago.NewAccountMeta(keys[0], false, false), // wallet
		solanago.NewAccountMeta(keys[2], false, false), // mint
		solanago.NewAccountMeta(keys[3], false, false), // system program
		solanago.NewAccountMeta(keys[4], false, false), // token program
	}
	return solanago.NewInstruction(keys[5], accounts, []byte{1}), nil
}

// swapInstruction builds the pump.fun buy or sell instruction. Both share
// the first seven accounts; buy then takes rent and sell takes the
// associated token program.
func (e *Executor) swapInstruction(buy bool, mint string, curve BondingCurve, userATA, owner string, data []byte) (solanago.Instruction, error) {
	keys, err := publicKeys(
		GlobalAccount, FeeRecipient, mint, curve.Address, curve.AssociatedBondingCurve, userATA, owner,
		solana.SystemProgramID, solana.TokenProgramID, solana.RentSysvarID, solana.AssociatedTokenProgramID,
		EventAuthority, e.programID,
	)
	if err != nil {
		return nil, err
	}
	accounts := solanago.AccountMetaSlice{
		solanago.NewAccountMeta(keys[0], false, false), // global
		solanago.NewAccountMeta(keys[1], true, false),  // fee recipient
		solanago.NewAccountMeta(keys[2], false, false), // mint
		solanago.NewAccountMeta(keys[3], true, false),  // bonding curve
		solanago.NewAccountMeta(keys[4], true, false),  // associated bonding curve
		solanago.NewAccountMeta(keys[5], true, false),  // associated user
		solanago.NewAccountMeta(keys[6], true, true),   // user
		solanago.NewAccountMeta(keys[7], false, false), // system program
	}
	if buy {
		accounts = append(accounts,
			solanago.NewAccountMeta(keys[8], false, false), // token program
			solanago.NewAccountMeta(keys[9], false, false), // rent
		)
	} else {
		accounts = append(accounts,
			solanago.NewAccountMeta(keys[10], false, false), // associated token program
			solanago.NewAccountMeta(keys[8], false, false),  // token program
		)
	}
	accounts = append(accounts,
		solanago.NewAccountMeta(keys[11], false, false), // event authority
		solanago.NewAccountMeta(keys[12], false, false), // program
	)
	return solanago.NewInstruction(keys[12], accounts, data), nil
}

// submit signs ixs with signer as fee payer and sends the transaction.
func (e *Executor) submit(ctx context.Context, side string, signer solanago.PrivateKey, ixs []solanago.Instruction) (string, error) {
	start := time.Now()
	blockhash, err := e.rpc.GetLatestBlockhash(ctx)
	e.metrics.RecordRPCLatency("getLatestBlockhash", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w", err)
	}
	hash, err := solanago.HashFromBase58(blockhash)
	if err != nil {
		return "", fmt.Errorf("parse blockhash: %w", err)
	}

	payer := signer.PublicKey()
	tx, err := solanago.NewTransaction(ixs, hash, solanago.TransactionPayer(payer))
	if err != nil {
		return "", fmt.Errorf("build %s transaction: %w", side, err)
	}
	if _, err := tx.Sign(func(key solanago.PublicKey) *solanago.PrivateKey {
		if key.Equals(payer) {
			return &signer
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("sign %s transaction: %w", side, err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("serialize %s transaction: %w", side, err)
	}

	start = time.Now()
	sig, err := e.rpc.SendTransaction(ctx, raw, &solana.SendOpts{
		SkipPreflight:       e.skipPreflight,
		PreflightCommitment: string(solana.CommitmentProcessed),
	})
	e.metrics.RecordRPCLatency("sendTransaction", time.Since(start))
	if err != nil {
		return "", fmt.Errorf("send %s transaction: %w", side, err)
	}
	return sig, nil
}

func publicKeys(addrs ...string) ([]solanago.PublicKey, error) {
	out := make([]solanago.PublicKey, len(addrs))
	for i, a := range addrs {
		pk, err := solanago.PublicKeyFromBase58(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		out[i] = pk
	}
	return out, nil
}
