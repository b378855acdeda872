package orchestrator

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"pumpsniper/internal/domain"
)

// ErrAmountTooSmall is returned when the per-wallet share rounds to zero lamports.
var ErrAmountTooSmall = errors.New("per-wallet amount rounds to zero")

// lamportDecimals is the SOL precision.
const lamportDecimals = 9

// PlanBuys builds the buy intents for ev. Single mode buys the full amount
// on the first wallet; multi mode splits it evenly across all wallets,
// rounded down to whole lamports.
func PlanBuys(ev *domain.CreationEvent, eventID string, tc domain.TradeConfig, wallets []string, newID func() string) ([]domain.TradeIntent, error) {
	if len(wallets) == 0 {
		return nil, nil
	}

	targets := wallets
	amount := tc.AmountPerTrade
	switch tc.Mode {
	case domain.RunModeSingle:
		targets = wallets[:1]
	case domain.RunModeMulti:
		amount = SplitAmount(tc.AmountPerTrade, len(wallets))
	default:
		return nil, fmt.Errorf("unknown run mode %q", tc.Mode)
	}
	if amount.Sign() <= 0 {
		return nil, ErrAmountTooSmall
	}

	intents := make([]domain.TradeIntent, len(targets))
	for i, w := range targets {
		intents[i] = domain.TradeIntent{
			ID:          newID(),
			EventID:     eventID,
			Mint:        ev.Mint,
			TokenName:   ev.Name,
			TokenSymbol: ev.Symbol,
			Wallet:      w,
			Side:        domain.SideBuy,
			Amount:      amount,
			SlippageBps: tc.SlippageBps,
		}
	}
	return intents, nil
}

// SplitAmount divides total SOL into n equal shares rounded down to lamports.
func SplitAmount(total decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	lamports := total.Shift(lamportDecimals).IntPart() / int64(n)
	return decimal.New(lamports, -lamportDecimals)
}

// SellIntent derives the delayed sell for a landed buy.
func SellIntent(buy domain.TradeIntent, tc domain.TradeConfig, id string) domain.TradeIntent {
	return domain.TradeIntent{
		ID:          id,
		EventID:     buy.EventID,
		Mint:        buy.Mint,
		TokenName:   buy.TokenName,
		TokenSymbol: buy.TokenSymbol,
		Wallet:      buy.Wallet,
		Side:        domain.SideSell,
		Percentage:  tc.SellPercentage,
		SlippageBps: tc.SlippageBps,
		Delay:       tc.SellDelay,
	}
}
