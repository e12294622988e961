package calculator

import (
	"math"
	"math/big"
	"math/rand"
	"testing"

	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeposit(t *testing.T) {
	steady := cpamm.Pool{ID: 1, ReserveX: 1_000, ReserveY: 2_000, ShareSupply: 1_000, FeeBps: 30}

	testCases := []struct {
		name        string
		pool        cpamm.Pool
		params      DepositParams
		opts        Options
		expected    DepositResult
		expectedErr error
	}{
		{
			name:     "bootstrap takes the max amounts as-is",
			pool:     cpamm.Pool{ID: 1, FeeBps: 30},
			params:   DepositParams{Shares: 1_000, MaxX: 500, MaxY: 2_000},
			expected: DepositResult{AmountX: 500, AmountY: 2_000, Shares: 1_000, Bootstrap: true},
		},
		{
			name:     "steady state is proportional",
			pool:     steady,
			params:   DepositParams{Shares: 10, MaxX: 10, MaxY: 20},
			expected: DepositResult{AmountX: 10, AmountY: 20, Shares: 10},
		},
		{
			name:     "steady state truncates by default",
			pool:     cpamm.Pool{ReserveX: 1_000, ReserveY: 2_001, ShareSupply: 1_000},
			params:   DepositParams{Shares: 1, MaxX: 10, MaxY: 10},
			expected: DepositResult{AmountX: 1, AmountY: 2, Shares: 1},
		},
		{
			name:     "steady state rounds up when configured",
			pool:     cpamm.Pool{ReserveX: 1_000, ReserveY: 2_001, ShareSupply: 1_000},
			params:   DepositParams{Shares: 1, MaxX: 10, MaxY: 10},
			opts:     Options{DepositRounding: RoundUp},
			expected: DepositResult{AmountX: 1, AmountY: 3, Shares: 1},
		},
		{name: "locked pool", pool: steady.Lock(), params: DepositParams{Shares: 10, MaxX: 10, MaxY: 20}, expectedErr: cpamm.ErrPoolLocked},
		{name: "zero shares", pool: steady, params: DepositParams{MaxX: 10, MaxY: 20}, expectedErr: cpamm.ErrInvalidAmount},
		{name: "bootstrap missing an asset", pool: cpamm.Pool{}, params: DepositParams{Shares: 10, MaxX: 10}, expectedErr: cpamm.ErrInvalidAmount},
		{name: "max x too low", pool: steady, params: DepositParams{Shares: 10, MaxX: 9, MaxY: 20}, expectedErr: cpamm.ErrSlippageExceeded},
		{name: "max y too low", pool: steady, params: DepositParams{Shares: 10, MaxX: 10, MaxY: 19}, expectedErr: cpamm.ErrSlippageExceeded},
		{
			name:        "leg rounds to zero",
			pool:        cpamm.Pool{ReserveX: 1_000, ReserveY: 3, ShareSupply: 1_000},
			params:      DepositParams{Shares: 1, MaxX: 10, MaxY: 10},
			expectedErr: cpamm.ErrInvalidAmount,
		},
		{
			name:        "reserve overflow",
			pool:        cpamm.Pool{ReserveX: math.MaxUint64/2 + 1, ReserveY: 10, ShareSupply: 10},
			params:      DepositParams{Shares: 10, MaxX: math.MaxUint64, MaxY: 100},
			expectedErr: cpamm.ErrOverflow,
		},
		{
			name:        "corrupt pool",
			pool:        cpamm.Pool{ReserveX: 5},
			params:      DepositParams{Shares: 10, MaxX: 10, MaxY: 10},
			expectedErr: cpamm.ErrInvalidState,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, next, err := Deposit(tc.pool, tc.params, tc.opts)
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Equal(t, cpamm.Pool{}, next)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
			assert.Equal(t, tc.pool.ReserveX+result.AmountX, next.ReserveX)
			assert.Equal(t, tc.pool.ReserveY+result.AmountY, next.ReserveY)
			assert.Equal(t, tc.pool.ShareSupply+tc.params.Shares, next.ShareSupply)
			assert.NoError(t, next.Validate())
		})
	}
}

func TestWithdraw(t *testing.T) {
	steady := cpamm.Pool{ID: 1, ReserveX: 1_000, ReserveY: 2_000, ShareSupply: 1_000, FeeBps: 30}

	testCases := []struct {
		name        string
		pool        cpamm.Pool
		params      WithdrawParams
		expected    WithdrawResult
		expectedErr error
	}{
		{
			name:     "partial withdrawal is proportional",
			pool:     steady,
			params:   WithdrawParams{Shares: 100, MinX: 100, MinY: 200, Balance: 100},
			expected: WithdrawResult{AmountX: 100, AmountY: 200, Shares: 100},
		},
		{
			name:     "partial withdrawal truncates",
			pool:     cpamm.Pool{ReserveX: 1_000, ReserveY: 2_001, ShareSupply: 1_000},
			params:   WithdrawParams{Shares: 1, Balance: 1},
			expected: WithdrawResult{AmountX: 1, AmountY: 2, Shares: 1},
		},
		{name: "locked pool", pool: steady.Lock(), params: WithdrawParams{Shares: 1, Balance: 1}, expectedErr: cpamm.ErrPoolLocked},
		{name: "zero shares", pool: steady, params: WithdrawParams{Balance: 1}, expectedErr: cpamm.ErrInvalidAmount},
		{name: "more than the caller holds", pool: steady, params: WithdrawParams{Shares: 2, Balance: 1}, expectedErr: cpamm.ErrInvalidAmount},
		{name: "empty pool", pool: cpamm.Pool{}, params: WithdrawParams{Shares: 1, Balance: 1}, expectedErr: cpamm.ErrNoLiquidityInPool},
		{name: "more than the supply", pool: steady, params: WithdrawParams{Shares: 1_001, Balance: 2_000}, expectedErr: cpamm.ErrInvalidAmount},
		{name: "min x too high", pool: steady, params: WithdrawParams{Shares: 100, MinX: 101, Balance: 100}, expectedErr: cpamm.ErrSlippageExceeded},
		{name: "min y too high", pool: steady, params: WithdrawParams{Shares: 100, MinY: 201, Balance: 100}, expectedErr: cpamm.ErrSlippageExceeded},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			result, next, err := Withdraw(tc.pool, tc.params, DefaultOptions())
			if tc.expectedErr != nil {
				assert.ErrorIs(t, err, tc.expectedErr)
				assert.Equal(t, cpamm.Pool{}, next)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, result)
			assert.Equal(t, tc.pool.ReserveX-result.AmountX, next.ReserveX)
			assert.Equal(t, tc.pool.ReserveY-result.AmountY, next.ReserveY)
			assert.Equal(t, tc.pool.ShareSupply-tc.params.Shares, next.ShareSupply)
		})
	}
}

func TestWithdraw_FullDrainRestoresBootstrap(t *testing.T) {
	pool := scenarioPool()
	_, pool, err := Swap(pool, SwapParams{XForY: true, AmountIn: 10_000}, DefaultOptions())
	require.NoError(t, err)

	result, next, err := Withdraw(pool, WithdrawParams{Shares: pool.ShareSupply, Balance: pool.ShareSupply}, DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, pool.ReserveX, result.AmountX)
	assert.Equal(t, pool.ReserveY, result.AmountY)
	assert.True(t, next.IsEmpty())
	assert.NoError(t, next.Validate())

	// The drained pool bootstraps again at whatever ratio the next provider picks.
	deposit, next, err := Deposit(next, DepositParams{Shares: 50, MaxX: 7, MaxY: 9}, DefaultOptions())
	require.NoError(t, err)
	assert.True(t, deposit.Bootstrap)
	assert.Equal(t, uint64(7), next.ReserveX)
	assert.Equal(t, uint64(50), next.ShareSupply)
}

// legWithinOneUnit asserts leg == floor or ceil of reserve*shares/supply.
func legWithinOneUnit(t *testing.T, leg, reserve, shares, supply uint64) {
	t.Helper()
	exact := new(big.Int).Mul(new(big.Int).SetUint64(reserve), new(big.Int).SetUint64(shares))
	lower := new(big.Int).Mul(new(big.Int).SetUint64(leg), new(big.Int).SetUint64(supply))
	upper := new(big.Int).Add(lower, new(big.Int).SetUint64(supply))
	require.True(t, lower.Cmp(exact) <= 0 && exact.Cmp(upper) < 0, "leg %d is not floor(%d*%d/%d)", leg, reserve, shares, supply)
}

func TestLiquidity_ProportionalityAndRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 1000; i++ {
		pool := cpamm.Pool{
			ReserveX:    1 + rng.Uint64()%1_000_000_000_000,
			ReserveY:    1 + rng.Uint64()%1_000_000_000_000,
			ShareSupply: 1 + rng.Uint64()%1_000_000_000_000,
		}
		shares := 1 + rng.Uint64()%pool.ShareSupply

		deposit, afterDeposit, err := Deposit(pool, DepositParams{Shares: shares, MaxX: math.MaxUint64, MaxY: math.MaxUint64}, DefaultOptions())
		if err != nil {
			require.ErrorIs(t, err, cpamm.ErrInvalidAmount, "only zero-leg deposits may fail here")
			continue
		}
		legWithinOneUnit(t, deposit.AmountX, pool.ReserveX, shares, pool.ShareSupply)
		legWithinOneUnit(t, deposit.AmountY, pool.ReserveY, shares, pool.ShareSupply)

		withdrawal, afterWithdraw, err := Withdraw(afterDeposit, WithdrawParams{Shares: shares, Balance: shares}, DefaultOptions())
		require.NoError(t, err)
		legWithinOneUnit(t, withdrawal.AmountX, afterDeposit.ReserveX, shares, afterDeposit.ShareSupply)
		legWithinOneUnit(t, withdrawal.AmountY, afterDeposit.ReserveY, shares, afterDeposit.ShareSupply)

		require.LessOrEqual(t, withdrawal.AmountX, deposit.AmountX, "round-trip must never pay out more than was deposited")
		require.LessOrEqual(t, withdrawal.AmountY, deposit.AmountY)
		require.Equal(t, pool.ShareSupply, afterWithdraw.ShareSupply)
		require.GreaterOrEqual(t, afterWithdraw.ReserveX, pool.ReserveX)
		require.GreaterOrEqual(t, afterWithdraw.ReserveY, pool.ReserveY)
	}
}

func TestLiquidity_ShareConservation(t *testing.T) {
	balances := map[string]uint64{}
	pool := cpamm.Pool{ID: 1, FeeBps: 30}
	opts := DefaultOptions()

	deposit := func(who string, shares uint64) {
		t.Helper()
		result, next, err := Deposit(pool, DepositParams{Shares: shares, MaxX: 1_000_000_000, MaxY: 1_000_000_000}, opts)
		require.NoError(t, err)
		balances[who] += result.Shares
		pool = next
	}
	withdraw := func(who string, shares uint64) {
		t.Helper()
		result, next, err := Withdraw(pool, WithdrawParams{Shares: shares, Balance: balances[who]}, opts)
		require.NoError(t, err)
		balances[who] -= result.Shares
		pool = next
	}
	swap := func(xForY bool, amountIn uint64) {
		t.Helper()
		_, next, err := Swap(pool, SwapParams{XForY: xForY, AmountIn: amountIn}, opts)
		require.NoError(t, err)
		pool = next
	}
	supplyMatches := func() {
		t.Helper()
		var total uint64
		for _, b := range balances {
			total += b
		}
		require.Equal(t, pool.ShareSupply, total)
	}

	_, bootstrapped, err := Deposit(pool, DepositParams{Shares: 1_000_000, MaxX: 1_000_000, MaxY: 4_000_000}, opts)
	require.NoError(t, err)
	balances["alice"] = 1_000_000
	pool = bootstrapped
	supplyMatches()

	deposit("bob", 250_000)
	swap(true, 50_000)
	deposit("carol", 12_345)
	swap(false, 300_000)
	withdraw("alice", 400_000)
	supplyMatches()
	swap(true, 7_777)
	withdraw("bob", 250_000)
	withdraw("carol", 12_345)
	withdraw("alice", 600_000)
	supplyMatches()

	assert.True(t, pool.IsEmpty(), "withdrawing every share drains both reserves")
}
