package clickhouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"pumpsniper/internal/domain"
	"pumpsniper/internal/storage"
)

// OutcomeStore implements storage.OutcomeStore using ClickHouse.
// MergeTree does not enforce uniqueness, so Insert checks for an existing id first.
type OutcomeStore struct {
	conn *Conn
}

// NewOutcomeStore creates a new OutcomeStore.
func NewOutcomeStore(conn *Conn) *OutcomeStore {
	return &OutcomeStore{conn: conn}
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

const outcomeColumns = `
	id, intent_id, event_id, side, mint, token_name, token_symbol, wallet,
	amount, percentage, status, tx_signature, error, attempts, created_at`

// Insert appends an outcome. Returns ErrDuplicateKey if id exists.
func (s *OutcomeStore) Insert(ctx context.Context, o *domain.TradeOutcome) error {
	if err := storage.ValidateOutcome(o); err != nil {
		return err
	}

	exists, err := s.exists(ctx, o.ID)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if exists {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO trade_outcomes (`+outcomeColumns+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	err = batch.Append(
		o.ID, o.IntentID, o.EventID, string(o.Side), o.Mint, o.TokenName, o.TokenSymbol, o.Wallet,
		o.Amount, o.Percentage, string(o.Status), o.TxSignature, o.Error, uint16(o.Attempts), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("append to batch: %w", err)
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByID retrieves an outcome by its ID. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(ctx context.Context, id string) (*domain.TradeOutcome, error) {
	query := `SELECT ` + outcomeColumns + ` FROM trade_outcomes WHERE id = ? LIMIT 1`

	rows, err := s.conn.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query by id: %w", err)
	}
	defer rows.Close()

	outcomes, err := scanOutcomes(rows)
	if err != nil {
		return nil, err
	}
	if len(outcomes) == 0 {
		return nil, storage.ErrNotFound
	}
	return outcomes[0], nil
}

// List returns outcomes matching filter, newest first.
func (s *OutcomeStore) List(ctx context.Context, filter storage.OutcomeFilter) ([]*domain.TradeOutcome, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.Mint != "" {
		where = append(where, "mint = ?")
		args = append(args, filter.Mint)
	}
	if filter.Wallet != "" {
		where = append(where, "wallet = ?")
		args = append(args, filter.Wallet)
	}
	if filter.Side != "" {
		where = append(where, "side = ?")
		args = append(args, string(filter.Side))
	}

	query := `SELECT ` + outcomeColumns + ` FROM trade_outcomes`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, filter.EffectiveLimit())

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list trade outcomes: %w", err)
	}
	defer rows.Close()

	return scanOutcomes(rows)
}

// exists checks if an outcome with the given id exists.
func (s *OutcomeStore) exists(ctx context.Context, id string) (bool, error) {
	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM trade_outcomes WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanOutcomes(rows chRows) ([]*domain.TradeOutcome, error) {
	var result []*domain.TradeOutcome

	for rows.Next() {
		var (
			o                  domain.TradeOutcome
			side, status       string
			amount, percentage decimal.Decimal
			attempts           uint16
		)
		err := rows.Scan(
			&o.ID, &o.IntentID, &o.EventID, &side, &o.Mint, &o.TokenName, &o.TokenSymbol, &o.Wallet,
			&amount, &percentage, &status, &o.TxSignature, &o.Error, &attempts, &o.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan trade outcome: %w", err)
		}
		o.Side = domain.Side(side)
		o.Status = domain.Status(status)
		o.Amount = amount
		o.Percentage = percentage
		o.Attempts = int(attempts)
		result = append(result, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trade outcomes: %w", err)
	}
	return result, nil
}
