package main

import (
	"bytes"
	"testing"

	"github.com/defistate/defistate-amm-go/cmd/client/config"
	"github.com/defistate/defistate-amm-go/engine"
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/defistate/defistate-amm-go/streams/jsonrpc/stateops"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderTestState() *engine.State {
	tokens := []tokenregistry.Token{
		{ID: 1, Address: common.HexToAddress("0x01"), Symbol: "WETH", Decimals: 18},
		{ID: 2, Address: common.HexToAddress("0x02"), Symbol: "USDC", Decimals: 6},
		{ID: 3, Address: common.HexToAddress("0x03"), Symbol: "DAI", Decimals: 18},
	}
	pools := []cpamm.Pool{
		{
			ID: 1, Key: cpamm.DeriveKey(1), Seed: 1, TokenX: 1, TokenY: 2,
			ReserveX: 2_000_000_000_000_000_000, ReserveY: 6_000_000_000,
			ShareSupply: 1_000, FeeBps: 30,
		},
		{ID: 2, Key: cpamm.DeriveKey(2), Seed: 2, TokenX: 2, TokenY: 3, FeeBps: 5, Locked: true},
	}
	return &engine.State{
		Checkpoint: engine.Checkpoint{Sequence: 42, Root: common.HexToHash("0xabcd")},
		Protocols: map[engine.ProtocolID]engine.ProtocolState{
			stateops.TokensProtocolID: {Schema: tokenregistry.Schema, Data: tokens},
			stateops.PoolsProtocolID:  {Schema: cpamm.Schema, Data: pools},
		},
	}
}

func TestRenderPools(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderPools(&buf, renderTestState(), nil))

	out := buf.String()
	assert.Contains(t, out, "Sequence:"+Reset+" 42")
	assert.Contains(t, out, common.HexToHash("0xabcd").Hex())
	assert.Contains(t, out, "Pools (2)")
	assert.Contains(t, out, "WETH/USDC")
	assert.Contains(t, out, "0.30%")
	assert.Contains(t, out, "6000")
	assert.Contains(t, out, "3000")
	assert.Contains(t, out, "USDC/DAI")
	assert.Contains(t, out, "0.05%")
	assert.Contains(t, out, "locked")
}

func TestRenderPoolsWithFilter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderPools(&buf, renderTestState(), &PairFilter{SymbolA: "USDC", SymbolB: "WETH"}))

	out := buf.String()
	assert.Contains(t, out, "Pools (1)")
	assert.Contains(t, out, "WETH/USDC")
	assert.NotContains(t, out, "USDC/DAI")

	buf.Reset()
	require.NoError(t, renderPools(&buf, renderTestState(), &PairFilter{SymbolA: "WETH", SymbolB: "DAI"}))
	assert.Contains(t, buf.String(), "no pools")
}

func TestRenderPoolsErrors(t *testing.T) {
	var buf bytes.Buffer
	err := renderPools(&buf, renderTestState(), &PairFilter{SymbolA: "WETH", SymbolB: "BTC"})
	assert.ErrorContains(t, err, `unknown token "BTC"`)

	state := renderTestState()
	delete(state.Protocols, stateops.TokensProtocolID)
	assert.ErrorContains(t, renderPools(&buf, state, nil), "no \"tokens\" protocol")

	state = renderTestState()
	state.Protocols[stateops.PoolsProtocolID] = engine.ProtocolState{Schema: cpamm.Schema, Data: "garbage"}
	assert.ErrorContains(t, renderPools(&buf, state, nil), "unexpected data type string")

	state = renderTestState()
	state.Protocols[stateops.PoolsProtocolID] = engine.ProtocolState{Schema: cpamm.Schema, Error: "boom"}
	assert.ErrorContains(t, renderPools(&buf, state, nil), "boom")
}

func TestPrice(t *testing.T) {
	weth := tokenregistry.Token{Symbol: "WETH", Decimals: 18}
	usdc := tokenregistry.Token{Symbol: "USDC", Decimals: 6}

	testCases := []struct {
		name string
		pool cpamm.Pool
		want string
	}{
		{"empty", cpamm.Pool{}, "-"},
		{"even", cpamm.Pool{ReserveX: 1_000_000_000_000_000_000, ReserveY: 2_500_000_000}, "2500"},
		{"rounded", cpamm.Pool{ReserveX: 3_000_000_000_000_000_000, ReserveY: 1_000_000}, "0.333333"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, price(weth, usdc, tc.pool))
		})
	}
}

func TestPairFilter(t *testing.T) {
	f, err := pairFilter(&config.ClientConfig{})
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = pairFilter(&config.ClientConfig{Pair: "WETH/USDC"})
	require.NoError(t, err)
	assert.Equal(t, &PairFilter{SymbolA: "WETH", SymbolB: "USDC"}, f)
}
