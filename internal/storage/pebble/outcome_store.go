// Package pebble is an embedded storage.OutcomeStore for single-node deployments.
package pebble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"pumpsniper/internal/domain"
	"pumpsniper/internal/storage"
)

// keys: id/<id> -> outcome key, outcome/<20-digit created_at>/<id> -> outcome JSON
var (
	outcomePrefix      = []byte("outcome/")
	outcomePrefixUpper = []byte("outcome0")
)

func idKey(id string) []byte { return append([]byte("id/"), id...) }

func outcomeKey(createdAt int64, id string) []byte {
	return []byte(fmt.Sprintf("outcome/%020d/%s", createdAt, id))
}

// OutcomeStore implements storage.OutcomeStore on a Pebble database.
type OutcomeStore struct {
	mu sync.Mutex // serializes the duplicate check with the write
	db *pebble.DB
}

// Compile-time interface check.
var _ storage.OutcomeStore = (*OutcomeStore)(nil)

// Open opens (or creates) the store at path.
func Open(path string) (*OutcomeStore, error) {
	return OpenWithOptions(path, &pebble.Options{})
}

// OpenWithOptions opens the store with explicit Pebble options.
func OpenWithOptions(path string, opts *pebble.Options) (*OutcomeStore, error) {
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &OutcomeStore{db: db}, nil
}

// Close flushes and closes the database.
func (s *OutcomeStore) Close() error { return s.db.Close() }

// Insert appends an outcome. Returns ErrDuplicateKey if id exists.
func (s *OutcomeStore) Insert(_ context.Context, o *domain.TradeOutcome) error {
	if err := storage.ValidateOutcome(o); err != nil {
		return err
	}

	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal trade outcome: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, closer, err := s.db.Get(idKey(o.ID))
	if err == nil {
		closer.Close()
		return storage.ErrDuplicateKey
	}
	if !errors.Is(err, pebble.ErrNotFound) {
		return fmt.Errorf("check exists: %w", err)
	}

	tk := outcomeKey(o.CreatedAt, o.ID)
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(idKey(o.ID), tk, nil); err != nil {
		return fmt.Errorf("stage id key: %w", err)
	}
	if err := batch.Set(tk, data, nil); err != nil {
		return fmt.Errorf("stage outcome: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit trade outcome: %w", err)
	}
	return nil
}

// GetByID retrieves an outcome by its ID. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(_ context.Context, id string) (*domain.TradeOutcome, error) {
	tk, closer, err := s.db.Get(idKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get id key: %w", err)
	}
	key := append([]byte(nil), tk...)
	closer.Close()

	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trade outcome: %w", err)
	}
	defer closer.Close()

	return decode(data)
}

// List returns outcomes matching filter, newest first.
func (s *OutcomeStore) List(ctx context.Context, filter storage.OutcomeFilter) ([]*domain.TradeOutcome, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: outcomePrefix,
		UpperBound: outcomePrefixUpper,
	})
	if err != nil {
		return nil, fmt.Errorf("open iterator: %w", err)
	}
	defer iter.Close()

	limit := filter.EffectiveLimit()
	var result []*domain.TradeOutcome
	for iter.Last(); iter.Valid() && len(result) < limit; iter.Prev() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		o, err := decode(iter.Value())
		if err != nil {
			return nil, err
		}
		if filter.Matches(o) {
			result = append(result, o)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate trade outcomes: %w", err)
	}
	return result, nil
}

func decode(data []byte) (*domain.TradeOutcome, error) {
	var o domain.TradeOutcome
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("unmarshal trade outcome: %w", err)
	}
	return &o, nil
}
