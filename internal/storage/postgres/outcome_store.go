package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"pumpsniper/internal/domain"
	"pumpsniper/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using PostgreSQL.
type OutcomeStore struct {
	pool *Pool
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(pool *Pool) *OutcomeStore {
	return &OutcomeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

const outcomeColumns = `
	id, intent_id, event_id, side, mint, token_name, token_symbol, wallet,
	amount::text, percentage::text, status, tx_signature, error, attempts, created_at`

// Insert appends an outcome. Returns ErrDuplicateKey if id exists.
func (s *OutcomeStore) Insert(ctx context.Context, o *domain.TradeOutcome) error {
	if err := storage.ValidateOutcome(o); err != nil {
		return err
	}

	query := `
		INSERT INTO trade_outcomes (
			id, intent_id, event_id, side, mint, token_name, token_symbol, wallet,
			amount, percentage, status, tx_signature, error, attempts, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8,
			$9, $10, $11, $12, $13, $14, $15
		)
	`

	_, err := s.pool.Exec(ctx, query,
		o.ID, o.IntentID, o.EventID, string(o.Side), o.Mint, o.TokenName, o.TokenSymbol, o.Wallet,
		o.Amount.String(), o.Percentage.String(), string(o.Status), o.TxSignature, o.Error, o.Attempts, o.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert trade outcome: %w", err)
	}
	return nil
}

// GetByID retrieves an outcome by its ID. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (*domain.TradeOutcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM trade_outcomes WHERE id = $1`

	row := s.pool.QueryRow(ctx, query, id)
	o, err := scanOutcome(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get trade outcome: %w", err)
	}
	return o, nil
}

// List returns outcomes matching filter, newest first.
func (s *OutcomeStore) List(ctx context.Context, filter storage.OutcomeFilter) ([]*domain.TradeOutcome, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Mint != "" {
		args = append(args, filter.Mint)
		where = append(where, fmt.Sprintf("mint = $%d", len(args)))
	}
	if filter.Wallet != "" {
		args = append(args, filter.Wallet)
		where = append(where, fmt.Sprintf("wallet = $%d", len(args)))
	}
	if filter.Side != "" {
		args = append(args, string(filter.Side))
		where = append(where, fmt.Sprintf("side = $%d", len(args)))
	}

	query := `SELECT ` + outcomeColumns + ` FROM trade_outcomes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, filter.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trade outcomes: %w", err)
	}
	defer rows.Close()

	var result []*domain.TradeOutcome
	for rows.Next() {
		o, err := scanOutcome(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trade outcome: %w", err)
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade outcomes: %w", err)
	}
	return result, nil
}

func scanOutcome(row pgx.Row) (*domain.TradeOutcome, error) {
	var (
		o                  domain.TradeOutcome
		side, status       string
		amount, percentage string
	)
	err := row.Scan(
		&o.ID, &o.IntentID, &o.EventID, &side, &o.Mint, &o.TokenName, &o.TokenSymbol, &o.Wallet,
		&amount, &percentage, &status, &o.TxSignature, &o.Error, &o.Attempts, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	o.Side = domain.Side(side)
	o.Status = domain.Status(status)
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	if o.Percentage, err = decimal.NewFromString(percentage); err != nil {
		return nil, fmt.Errorf("parse percentage: %w", err)
	}
	return &o, nil
}
