package cpamm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePool(t *testing.T) {
	testCases := []struct {
		name        string
		params      CreateParams
		maxFeeBps   uint16
		expectedErr error
	}{
		{name: "fee at 30 bps", params: CreateParams{ID: 1, Seed: 7, TokenX: 1, TokenY: 2, FeeBps: 30}, maxFeeBps: DefaultMaxFeeBps},
		{name: "zero fee", params: CreateParams{ID: 2, Seed: 8, TokenX: 1, TokenY: 2}, maxFeeBps: DefaultMaxFeeBps},
		{name: "fee exactly at ceiling", params: CreateParams{ID: 3, Seed: 9, TokenX: 1, TokenY: 2, FeeBps: 1_000}, maxFeeBps: DefaultMaxFeeBps},
		{name: "fee above ceiling", params: CreateParams{ID: 4, TokenX: 1, TokenY: 2, FeeBps: 1_001}, maxFeeBps: DefaultMaxFeeBps, expectedErr: ErrInvalidFeePercentage},
		{name: "ceiling above 100%", params: CreateParams{ID: 5, TokenX: 1, TokenY: 2, FeeBps: 30}, maxFeeBps: 10_001, expectedErr: ErrInvalidFeePercentage},
		{name: "same asset twice", params: CreateParams{ID: 6, TokenX: 3, TokenY: 3, FeeBps: 30}, maxFeeBps: DefaultMaxFeeBps, expectedErr: ErrInvalidAmount},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			pool, err := CreatePool(tc.params, tc.maxFeeBps)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Equal(t, Pool{}, pool)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.params.ID, pool.ID)
			assert.Equal(t, tc.params.FeeBps, pool.FeeBps)
			assert.Equal(t, DeriveKey(tc.params.Seed), pool.Key)
			assert.Zero(t, pool.ReserveX)
			assert.Zero(t, pool.ReserveY)
			assert.Zero(t, pool.ShareSupply)
			assert.False(t, pool.Locked)
			assert.True(t, pool.IsEmpty())
			assert.NoError(t, pool.Validate())
		})
	}
}

func TestLockUnlock(t *testing.T) {
	pool, err := CreatePool(CreateParams{ID: 1, TokenX: 1, TokenY: 2, FeeBps: 30}, DefaultMaxFeeBps)
	require.NoError(t, err)

	locked := pool.Lock()
	assert.True(t, locked.Locked)
	assert.False(t, pool.Locked, "Lock must not modify the receiver")

	t.Run("locking twice is a no-op", func(t *testing.T) {
		assert.Equal(t, locked, locked.Lock())
	})

	t.Run("unlocking an unlocked pool is a no-op", func(t *testing.T) {
		assert.Equal(t, pool, pool.Unlock())
	})

	t.Run("unlock restores the original pool", func(t *testing.T) {
		assert.Equal(t, pool, locked.Unlock())
	})
}

func TestFeePolicy(t *testing.T) {
	for _, policy := range []FeePolicy{FeeRetained, FeeToSink} {
		text, err := policy.MarshalText()
		require.NoError(t, err)

		var parsed FeePolicy
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, policy, parsed)
	}

	p, err := ParseFeePolicy("")
	require.NoError(t, err)
	assert.Equal(t, FeeRetained, p)

	_, err = ParseFeePolicy("burn")
	assert.Error(t, err)
}
