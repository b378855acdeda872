package pebble

import (
	"context"
	"testing"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pumpsniper/internal/domain"
	"pumpsniper/internal/storage"
)

func newMemStore(t *testing.T) *OutcomeStore {
	t.Helper()
	store, err := OpenWithOptions("", &pebble.Options{FS: vfs.NewMem()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testOutcome(id string, side domain.Side, mint, wallet string, createdAt int64) *domain.TradeOutcome {
	return &domain.TradeOutcome{
		ID:          id,
		IntentID:    "intent-" + id,
		EventID:     "event-1",
		Side:        side,
		Mint:        mint,
		Wallet:      wallet,
		Amount:      decimal.RequireFromString("0.1"),
		Status:      domain.StatusSuccess,
		TxSignature: "sig-" + id,
		Attempts:    1,
		CreatedAt:   createdAt,
	}
}

func TestOutcomeStore_InsertAndGet(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	o := testOutcome("o1", domain.SideBuy, "mintA", "w1", 1000)
	require.NoError(t, store.Insert(ctx, o))

	got, err := store.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, o.TxSignature, got.TxSignature)
	assert.True(t, got.Amount.Equal(o.Amount))
	assert.Equal(t, domain.SideBuy, got.Side)
}

func TestOutcomeStore_DuplicateKey(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testOutcome("o1", domain.SideBuy, "mintA", "w1", 1000)))

	// same id with a different timestamp is still a duplicate
	err := store.Insert(ctx, testOutcome("o1", domain.SideBuy, "mintA", "w1", 5000))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestOutcomeStore_GetNotFound(t *testing.T) {
	store := newMemStore(t)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOutcomeStore_ListNewestFirst(t *testing.T) {
	store := newMemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testOutcome("a", domain.SideBuy, "mintA", "w1", 1000)))
	require.NoError(t, store.Insert(ctx, testOutcome("b", domain.SideSell, "mintA", "w1", 30000)))
	require.NoError(t, store.Insert(ctx, testOutcome("c", domain.SideBuy, "mintB", "w2", 2000)))

	all, err := store.List(ctx, storage.OutcomeFilter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, ids(all))

	byMint, err := store.List(ctx, storage.OutcomeFilter{Mint: "mintA", Side: domain.SideBuy})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(byMint))

	limited, err := store.List(ctx, storage.OutcomeFilter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, ids(limited))
}

func TestOutcomeStore_Reopen(t *testing.T) {
	fs := vfs.NewMem()
	ctx := context.Background()

	store, err := OpenWithOptions("db", &pebble.Options{FS: fs})
	require.NoError(t, err)
	require.NoError(t, store.Insert(ctx, testOutcome("o1", domain.SideBuy, "mintA", "w1", 1000)))
	require.NoError(t, store.Close())

	store, err = OpenWithOptions("db", &pebble.Options{FS: fs})
	require.NoError(t, err)
	defer store.Close()

	got, err := store.GetByID(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, "w1", got.Wallet)
}

func ids(outcomes []*domain.TradeOutcome) []string {
	out := make([]string, len(outcomes))
	for i, o := range outcomes {
		out[i] = o.ID
	}
	return out
}
