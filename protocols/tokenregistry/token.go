package tokenregistry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Schema identifies token views inside engine.State.
const Schema = "defistate/tokenregistry/tokenView@v1"

// Token describes an asset that pools can hold. Amounts are always kept in
// base units; Decimals is only used for display.
type Token struct {
	ID       uint64         `json:"id"`
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// FormatAmount renders a base-unit amount as a decimal string, e.g. 1500000
// with 6 decimals becomes "1.5".
func (t Token) FormatAmount(amount uint64) string {
	return decimal.NewFromUint64(amount).Shift(-int32(t.Decimals)).String()
}

// ParseAmount converts a decimal string into base units. Values with more
// fractional digits than the token supports, negative values and values that
// do not fit in 64 bits are rejected.
func (t Token) ParseAmount(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("token %s: %w", t.Symbol, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("token %s: negative amount %s", t.Symbol, s)
	}
	base := d.Shift(int32(t.Decimals))
	if !base.Equal(base.Truncate(0)) {
		return 0, fmt.Errorf("token %s: %s has more than %d decimals", t.Symbol, s, t.Decimals)
	}
	bi := base.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("token %s: %s overflows 64 bits", t.Symbol, s)
	}
	return bi.Uint64(), nil
}
