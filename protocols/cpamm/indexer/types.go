package indexer

import (
	"github.com/defistate/defistate-amm-go/protocols/cpamm"
	"github.com/ethereum/go-ethereum/common"
)

// IndexedCPAMM defines the methods for accessing indexed constant-product pool data.
type IndexedCPAMM interface {
	GetByID(id uint64) (cpamm.Pool, bool)
	GetByKey(key common.Address) (cpamm.Pool, bool)
	GetByPair(tokenA, tokenB uint64) []cpamm.Pool
	All() []cpamm.Pool
}
