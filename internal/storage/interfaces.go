package storage

import (
	"context"

	"pumpsniper/internal/domain"
)

// DefaultListLimit caps List results when no limit is given.
const DefaultListLimit = 100

// OutcomeFilter narrows OutcomeStore.List. Zero fields match everything.
type OutcomeFilter struct {
	Mint   string
	Wallet string
	Side   domain.Side
	Limit  int // <= 0 means DefaultListLimit
}

// Matches reports whether o passes the filter.
func (f OutcomeFilter) Matches(o *domain.TradeOutcome) bool {
	if f.Mint != "" && o.Mint != f.Mint {
		return false
	}
	if f.Wallet != "" && o.Wallet != f.Wallet {
		return false
	}
	if f.Side != "" && o.Side != f.Side {
		return false
	}
	return true
}

// EffectiveLimit returns the limit List should apply.
func (f OutcomeFilter) EffectiveLimit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// OutcomeStore provides access to trade_outcomes storage.
type OutcomeStore interface {
	// Insert appends an outcome. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, o *domain.TradeOutcome) error

	// GetByID retrieves an outcome by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.TradeOutcome, error)

	// List returns outcomes matching filter, newest first.
	List(ctx context.Context, filter OutcomeFilter) ([]*domain.TradeOutcome, error)
}

// ValidateOutcome checks the fields every store requires.
func ValidateOutcome(o *domain.TradeOutcome) error {
	if o == nil || o.ID == "" || o.Mint == "" || o.Wallet == "" {
		return ErrInvalidInput
	}
	if !o.Side.IsValid() || !o.Status.IsValid() {
		return ErrInvalidInput
	}
	return nil
}
