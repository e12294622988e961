package pebble

import (
	"context"
	"sync"
	"testing"

	"github.com/defistate/defistate-amm-go/ledger"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStore_PoolsAndBalances(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	usd := ledger.TokenAsset(1)
	eth := ledger.TokenAsset(2)

	pool := cpamm.Pool{ID: 300, Key: cpamm.DeriveKey(1), TokenX: 1, TokenY: 2, ReserveX: 10, ReserveY: 20, ShareSupply: 5, FeeBps: 30}
	require.NoError(t, s.Commit(ctx, ledger.Changeset{
		Pools: []cpamm.Pool{pool, {ID: 1, TokenX: 1, TokenY: 2}},
		Movements: []ledger.Movement{
			{To: "alice", Asset: usd, Amount: 1_000},
			{To: "alice", Asset: eth, Amount: 7},
		},
	}))

	loaded, err := s.LoadPool(ctx, 300)
	require.NoError(t, err)
	assert.Equal(t, pool, loaded)

	_, err = s.LoadPool(ctx, 2)
	assert.ErrorIs(t, err, ledger.ErrPoolNotFound)

	pools, err := s.Pools(ctx)
	require.NoError(t, err)
	require.Len(t, pools, 2)
	assert.Equal(t, uint64(1), pools[0].ID, "pools iterate in ID order")
	assert.Equal(t, uint64(300), pools[1].ID)

	balance, err := s.Balance(ctx, "alice", usd)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000), balance)

	balance, err = s.Balance(ctx, "nobody", usd)
	require.NoError(t, err)
	assert.Zero(t, balance)

	t.Run("failed commit writes nothing", func(t *testing.T) {
		updated := pool
		updated.ReserveX = 11
		err := s.Commit(ctx, ledger.Changeset{
			Pools: []cpamm.Pool{updated},
			Movements: []ledger.Movement{
				{From: "alice", To: "bob", Asset: usd, Amount: 1},
				{From: "alice", To: "bob", Asset: eth, Amount: 8},
			},
		})
		assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)

		loaded, err := s.LoadPool(ctx, 300)
		require.NoError(t, err)
		assert.Equal(t, uint64(10), loaded.ReserveX)
		bob, err := s.Balance(ctx, "bob", usd)
		require.NoError(t, err)
		assert.Zero(t, bob)
	})

	t.Run("balances drained to zero are removed", func(t *testing.T) {
		require.NoError(t, s.Commit(ctx, ledger.Changeset{
			Movements: []ledger.Movement{{From: "alice", Asset: eth, Amount: 7}},
		}))
		balance, err := s.Balance(ctx, "alice", eth)
		require.NoError(t, err)
		assert.Zero(t, balance)
	})

	t.Run("closed store", func(t *testing.T) {
		require.NoError(t, s.Close())
		require.NoError(t, s.Close(), "closing twice is harmless")
		_, err := s.LoadPool(ctx, 300)
		assert.ErrorIs(t, err, ledger.ErrClosed)
		_, err = s.Pools(ctx)
		assert.ErrorIs(t, err, ledger.ErrClosed)
		_, err = s.Balance(ctx, "alice", usd)
		assert.ErrorIs(t, err, ledger.ErrClosed)
		assert.ErrorIs(t, s.Commit(ctx, ledger.Changeset{}), ledger.ErrClosed)
	})
}

func TestStore_ReadsRacingClose(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)
	asset := ledger.TokenAsset(1)
	require.NoError(t, s.Commit(ctx, ledger.Changeset{
		Pools:     []cpamm.Pool{{ID: 1, TokenX: 1, TokenY: 2}},
		Movements: []ledger.Movement{{To: "alice", Asset: asset, Amount: 5}},
	}))

	reads := []struct {
		name string
		read func() error
	}{
		{"pools", func() error { _, err := s.Pools(ctx); return err }},
		{"load pool", func() error { _, err := s.LoadPool(ctx, 1); return err }},
		{"balance", func() error { _, err := s.Balance(ctx, "alice", asset); return err }},
	}

	var wg sync.WaitGroup
	start := make(chan struct{})
	for _, r := range reads {
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for i := 0; i < 200; i++ {
					if err := r.read(); err != nil {
						assert.ErrorIs(t, err, ledger.ErrClosed, r.name)
						return
					}
				}
			}()
		}
	}
	close(start)
	require.NoError(t, s.Close())
	wg.Wait()
}

func TestStore_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx, ledger.Changeset{
		Pools:     []cpamm.Pool{{ID: 1, TokenX: 1, TokenY: 2, FeeBps: 30}},
		Movements: []ledger.Movement{{To: "alice", Asset: ledger.ShareAsset(1), Amount: 42}},
	}))
	require.NoError(t, s.Close())

	reopened, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer reopened.Close()

	pool, err := reopened.LoadPool(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, uint16(30), pool.FeeBps)
	shares, err := reopened.Balance(ctx, "alice", ledger.ShareAsset(1))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), shares)
}
