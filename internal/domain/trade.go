package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeIntent is one buy or sell to be executed on one wallet.
// Created per wallet per event; discarded after execution.
type TradeIntent struct {
	ID          string          // uuid
	EventID     string          // source CreationEvent id
	Mint        string          // token mint address
	TokenName   string          // copied from the event for display
	TokenSymbol string          // copied from the event for display
	Wallet      string          // wallet public key
	Side        Side            // buy | sell
	Amount      decimal.Decimal // SOL spent (buy only)
	Percentage  decimal.Decimal // share of holdings sold, 0..100 (sell only)
	SlippageBps int             // tolerated slippage in basis points
	Delay       time.Duration   // wait before executing (sell only)
}

// TradeOutcome is the append-only result of executing a TradeIntent.
// Corresponds to trade_outcomes table.
type TradeOutcome struct {
	ID          string          `json:"id"`                     // uuid
	IntentID    string          `json:"intent_id"`              // TradeIntent.ID
	EventID     string          `json:"event_id"`               // source CreationEvent id
	Side        Side            `json:"side"`                   // buy | sell
	Mint        string          `json:"mint"`                   // token mint address
	TokenName   string          `json:"token_name"`             // token name
	TokenSymbol string          `json:"token_symbol"`           // token symbol
	Wallet      string          `json:"wallet"`                 // wallet public key
	Amount      decimal.Decimal `json:"amount"`                 // SOL amount (buy)
	Percentage  decimal.Decimal `json:"percentage"`             // percentage (sell)
	Status      Status          `json:"status"`                 // success | failed
	TxSignature string          `json:"tx_signature,omitempty"` // set when Status is success
	Error       string          `json:"error,omitempty"`        // set when Status is failed
	Attempts    int             `json:"attempts"`               // executor invocations, including retries
	CreatedAt   int64           `json:"created_at"`             // Unix timestamp in milliseconds
}

// Succeeded reports whether the trade landed.
func (o *TradeOutcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

// TradeConfig is the per-event trading configuration snapshot.
type TradeConfig struct {
	Mode           RunMode         // single | multi
	AmountPerTrade decimal.Decimal // SOL per event (split across wallets in multi mode)
	SellDelay      time.Duration   // zero disables the scheduled sell
	SellPercentage decimal.Decimal // 0..100
	SlippageBps    int             // basis points
	PriorityFee    decimal.Decimal // multiplier on the compute unit price
}
