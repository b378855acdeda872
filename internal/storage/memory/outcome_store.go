package memory

import (
	"context"
	"sort"
	"sync"

	"pumpsniper/internal/domain"
	"pumpsniper/internal/storage"
)

// OutcomeStore is an in-memory implementation of storage.OutcomeStore.
type OutcomeStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.TradeOutcome // keyed by id
	order []string                        // insertion order
}

// NewOutcomeStore creates a new in-memory outcome store.
func NewOutcomeStore() *OutcomeStore {
	return &OutcomeStore{
		data: make(map[string]*domain.TradeOutcome),
	}
}

// Insert appends an outcome. Returns ErrDuplicateKey if id exists.
func (s *OutcomeStore) Insert(_ context.Context, o *domain.TradeOutcome) error {
	if err := storage.ValidateOutcome(o); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *o
	s.data[o.ID] = &copy
	s.order = append(s.order, o.ID)
	return nil
}

// GetByID retrieves an outcome by its ID. Returns ErrNotFound if not exists.
func (s *OutcomeStore) GetByID(_ context.Context, id string) (*domain.TradeOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *o
	return &copy, nil
}

// List returns outcomes matching filter, newest first.
// Ties on created_at keep reverse insertion order.
func (s *OutcomeStore) List(_ context.Context, filter storage.OutcomeFilter) ([]*domain.TradeOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.TradeOutcome
	for i := len(s.order) - 1; i >= 0; i-- {
		o := s.data[s.order[i]]
		if filter.Matches(o) {
			copy := *o
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt > result[j].CreatedAt
	})

	if limit := filter.EffectiveLimit(); len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Len returns the number of stored outcomes.
func (s *OutcomeStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.OutcomeStore = (*OutcomeStore)(nil)
