package indexer

import (
	"testing"

	tokenregistry "github.com/defistate/defistate-amm-go/protocols/tokenregistry"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexableTokenSystem(t *testing.T) {
	wethAddress := common.HexToAddress("0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2")
	usdcAddress := common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")

	testTokens := []tokenregistry.Token{
		{ID: 1, Address: wethAddress, Name: "Wrapped Ether", Symbol: "WETH", Decimals: 18},
		{ID: 2, Address: usdcAddress, Name: "USD Coin", Symbol: "USDC", Decimals: 6},
		{ID: 3, Address: common.HexToAddress("0x03"), Name: "Fake USD Coin", Symbol: "usdc", Decimals: 6},
	}

	indexer := New().Index(testTokens)
	require.NotNil(t, indexer)

	t.Run("Successful Lookups", func(t *testing.T) {
		weth, found := indexer.GetByID(1)
		assert.True(t, found)
		assert.Equal(t, "WETH", weth.Symbol)

		usdc, found := indexer.GetByAddress(usdcAddress)
		assert.True(t, found)
		assert.Equal(t, uint64(2), usdc.ID)
	})

	t.Run("Symbol Lookups Ignore Case And Keep The First Match", func(t *testing.T) {
		usdc, found := indexer.GetBySymbol("Usdc")
		assert.True(t, found)
		assert.Equal(t, uint64(2), usdc.ID)

		_, found = indexer.GetBySymbol("DAI")
		assert.False(t, found)
	})

	t.Run("Not Found Lookups", func(t *testing.T) {
		_, found := indexer.GetByID(999)
		assert.False(t, found)
		_, found = indexer.GetByAddress(common.HexToAddress("0x1111111111111111111111111111111111111111"))
		assert.False(t, found)
	})

	t.Run("All Method", func(t *testing.T) {
		all := indexer.All()
		assert.Len(t, all, 3)
		all[0].Symbol = "MODIFIED"
		weth, _ := indexer.GetByID(1)
		assert.Equal(t, "WETH", weth.Symbol, "Modifying the returned slice should not affect the internal state")
	})
}
